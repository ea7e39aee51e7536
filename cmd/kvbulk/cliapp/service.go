package cliapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ankur-anand/kvbulk/cmd/kvbulk/config"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"golang.org/x/sync/errgroup"
)

// Dependencies are shared by every service of a Server.
type Dependencies struct {
	Config config.Config
	Conn   kvstore.Connection
	// Metrics serves /metrics. Nil disables the endpoint.
	Metrics http.Handler
	Logger  *slog.Logger
}

type Service interface {
	Name() string
	Setup(ctx context.Context, deps *Dependencies) error
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

type PortReporter interface {
	Service
	BoundAddr() string
	Ready() <-chan struct{}
}

// Server runs a set of services over shared dependencies.
type Server struct {
	deps     *Dependencies
	services []Service
}

func NewServer(deps *Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

// Register adds a service to the server.
// Services are setup in registration order and closed in reverse order.
func (ms *Server) Register(svc Service) {
	ms.services = append(ms.services, svc)
}

func (ms *Server) SetupServices(ctx context.Context) error {
	for _, svc := range ms.services {
		ms.deps.Logger.Info("[kvbulk.cliapp]",
			slog.String("event_type", "service.setup.started"),
			slog.String("service", svc.Name()))

		if err := svc.Setup(ctx, ms.deps); err != nil {
			return fmt.Errorf("service %s setup failed: %w", svc.Name(), err)
		}
	}
	return nil
}

// RunServices blocks until ctx is done or a service fails.
func (ms *Server) RunServices(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)

	for _, svc := range ms.services {
		g.Go(func() error {
			ms.deps.Logger.Info("[kvbulk.cliapp]",
				slog.String("event_type", "service.run.started"),
				slog.String("service", svc.Name()))

			err := svc.Run(groupCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				ms.deps.Logger.Error("[kvbulk.cliapp]",
					slog.String("event_type", "service.run.error"),
					slog.String("service", svc.Name()),
					slog.Any("error", err))
			}
			return err
		})
	}
	return g.Wait()
}

// CloseServices shuts down all services in reverse order.
func (ms *Server) CloseServices(ctx context.Context) error {
	var errs []error
	for i := len(ms.services) - 1; i >= 0; i-- {
		svc := ms.services[i]
		ms.deps.Logger.Info("[kvbulk.cliapp]",
			slog.String("event_type", "service.close.started"),
			slog.String("service", svc.Name()))
		if err := svc.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("service %s close failed: %w", svc.Name(), err))
		}
	}
	return errors.Join(errs...)
}
