package cliapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ankur-anand/kvbulk/cmd/kvbulk/config"
	"github.com/ankur-anand/kvbulk/internal/metrics"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/backends"
	"github.com/ankur-anand/kvbulk/pkg/umetrics"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promreporter "github.com/uber-go/tally/v4/prometheus"
)

const shutdownTimeout = 10 * time.Second

var (
	ErrRemoteBackend = errors.New("serve needs an embedded backend")
	ErrDataDirInUse  = errors.New("data path is locked by another process")
)

// LockStore takes an exclusive file lock next to the store path. The mem
// backend has nothing on disk and gets a no-op unlock.
func LockStore(cfg kvstore.Config) (unlock func() error, err error) {
	if cfg.Backend == kvstore.BackendMemory {
		return func() error { return nil }, nil
	}
	fl := flock.New(cfg.Path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDataDirInUse, cfg.Path)
	}
	return fl.Unlock, nil
}

// OpenStore dials the embedded store and creates the configured tables that
// do not exist yet.
func OpenStore(ctx context.Context, cfg config.Config) (kvstore.Connection, error) {
	if cfg.Store.Backend == kvstore.BackendHTTP {
		return nil, ErrRemoteBackend
	}
	conn, err := backends.Dial(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	for _, name := range cfg.Server.Tables {
		err := conn.CreateTable(ctx, name)
		if err != nil && !errors.Is(err, kvstore.ErrTableExists) {
			_ = conn.Close()
			return nil, fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return conn, nil
}

// NewMetricsRegistry returns a registry with the runtime collectors and the
// process io collector.
func NewMetricsRegistry(logger *slog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)
	iostat, err := metrics.NewIOStatsCollector()
	if err != nil {
		logger.Warn("[kvbulk.cliapp] io stats collector disabled", "error", err)
		return reg
	}
	if err := reg.Register(iostat); err != nil {
		logger.Warn("[kvbulk.cliapp] io stats collector disabled", "error", err)
	}
	return reg
}

// InitMetrics routes the process-wide tally scope into reg and returns the
// /metrics handler.
func InitMetrics(reg *prometheus.Registry) (http.Handler, io.Closer, error) {
	reporter := promreporter.NewReporter(promreporter.Options{Registerer: reg})
	closer, err := umetrics.Initialize(umetrics.Options{
		Prefix:         "kvbulk",
		Reporter:       reporter,
		ReportInterval: time.Second,
	})
	if err != nil {
		return nil, nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), closer, nil
}

// Serve exposes the configured embedded store over HTTP until ctx is done.
func Serve(ctx context.Context, cfg config.Config, logger *slog.Logger, banner bool) error {
	if cfg.Store.Backend == kvstore.BackendHTTP {
		return ErrRemoteBackend
	}
	unlock, err := LockStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(); err != nil {
			logger.Warn("[kvbulk.cliapp] unlock failed", "error", err)
		}
	}()

	handler, closer, err := InitMetrics(NewMetricsRegistry(logger))
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	conn, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if banner {
		PrintBanner(cfg.Store.Backend, cfg.ListenAddr())
	}

	srv := NewServer(&Dependencies{Config: cfg, Conn: conn, Metrics: handler, Logger: logger})
	srv.Register(&HTTPService{})
	if err := srv.SetupServices(ctx); err != nil {
		return err
	}

	runErr := srv.RunServices(ctx)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, srv.CloseServices(closeCtx))
}
