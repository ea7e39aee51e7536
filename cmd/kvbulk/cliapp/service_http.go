package cliapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/ankur-anand/kvbulk/cmd/kvbulk/config"
	"github.com/ankur-anand/kvbulk/internal/middleware"
	"github.com/ankur-anand/kvbulk/internal/services/httpapi"
	"github.com/ankur-anand/kvbulk/pkg/umetrics"
	"github.com/gorilla/mux"
)

// HTTPService serves the store API and the metrics endpoint.
type HTTPService struct {
	server    *http.Server
	logger    *slog.Logger
	addr      string
	boundAddr string
	ready     chan struct{}
}

func (h *HTTPService) Name() string {
	return "http"
}

func (h *HTTPService) Setup(ctx context.Context, deps *Dependencies) error {
	h.ready = make(chan struct{})
	h.logger = deps.Logger

	limiter, err := config.BuildLimiter(deps.Config.Server.Limiter)
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}
	if deps.Config.Server.PprofEnable {
		router.HandleFunc("/debug/pprof/", pprof.Index)
		router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	api := router.NewRoute().Subrouter()
	api.Use(middleware.RequestID,
		middleware.Telemetry(umetrics.GetScope("http"), deps.Logger),
		middleware.RateLimit(limiter))
	httpapi.NewService(deps.Config.Store.Backend, deps.Conn).RegisterRoutes(api)

	deps.Logger.Info("[kvbulk.cliapp]",
		slog.String("event_type", "HTTP.API.registered"),
		slog.String("backend", deps.Config.Store.Backend),
		slog.Bool("rate_limited", limiter != nil),
	)

	h.addr = deps.Config.ListenAddr()
	h.server = &http.Server{
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      router,
	}
	return nil
}

func (h *HTTPService) Run(ctx context.Context) error {
	var lis net.ListenConfig
	l, err := lis.Listen(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("http listen error: %w", err)
	}

	h.boundAddr = l.Addr().String()
	close(h.ready)

	h.logger.Info("[kvbulk.cliapp]",
		slog.String("event_type", "HTTP.server.started"),
		slog.String("addr", h.boundAddr),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.Serve(l)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (h *HTTPService) Close(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	h.logger.Info("[kvbulk.cliapp]", slog.String("event_type", "stopping.HTTP.server"))
	if err := h.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	return nil
}

func (h *HTTPService) BoundAddr() string {
	return h.boundAddr
}

func (h *HTTPService) Ready() <-chan struct{} {
	return h.ready
}
