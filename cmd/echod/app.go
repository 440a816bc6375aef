package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/fluxorio/echod/pkg/core"
	"github.com/fluxorio/echod/pkg/core/concurrency"
	"github.com/fluxorio/echod/pkg/echo"
	otelobs "github.com/fluxorio/echod/pkg/observability/otel"
	promobs "github.com/fluxorio/echod/pkg/observability/prometheus"
	"github.com/fluxorio/echod/pkg/tcp"
	"github.com/fluxorio/echod/pkg/wsecho"
)

// app owns every long-lived component of the process
type app struct {
	cfg    *AppConfig
	logger core.Logger

	pool  *concurrency.WorkerPool
	tcp   *tcp.TCPServer
	ws    *wsecho.Server
	admin *promobs.AdminServer

	metrics  *promobs.Metrics
	registry *prometheus.Registry
	tracing  bool
}

func newApp(ctx context.Context, cfg *AppConfig, logger core.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Tracing.Enabled {
		if err := otelobs.Initialize(ctx, cfg.Tracing); err != nil {
			return nil, err
		}
		a.tracing = true
		logger.Infof("OpenTelemetry tracing enabled (exporter=%s)", cfg.Tracing.Exporter)
	}

	poolOpts := []concurrency.Option{
		concurrency.WithLogger(logger.WithFields(map[string]interface{}{"component": "pool"})),
	}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = promobs.NewMetrics(prometheus.WrapRegistererWith(prometheus.Labels{"service": "echod"}, a.registry))
		poolOpts = append(poolOpts, concurrency.WithObserver(promobs.NewPoolObserver(a.metrics)))
	}
	a.pool = concurrency.NewWorkerPool(cfg.Pool.Workers, poolOpts...)

	tlsConfig, err := loadTLSConfig(cfg.Server)
	if err != nil {
		a.pool.Close()
		return nil, err
	}
	a.tcp = tcp.NewTCPServer(a.pool, &tcp.TCPServerConfig{
		Addr:      cfg.Server.Addr,
		TLSConfig: tlsConfig,
		Logger:    logger,
	})
	a.tcp.Use(tcp.Chain(a.connMiddlewares()...))
	a.tcp.SetHandler(echo.Handler(echo.Config{
		BufferSize:  cfg.Echo.BufferSize,
		IdleTimeout: cfg.Echo.IdleTimeout,
	}))

	if cfg.WebSocket.Enabled {
		wsCfg := wsecho.Config{
			Addr:           cfg.WebSocket.Addr,
			Path:           cfg.WebSocket.Path,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			IdleTimeout:    cfg.Echo.IdleTimeout,
			Logger:         logger,
		}
		if a.metrics != nil {
			wsCfg.Recorder = a.metrics
		}
		a.ws = wsecho.NewServer(a.pool, wsCfg)
	}

	if cfg.Metrics.Enabled {
		a.admin = promobs.NewAdminServer(promobs.AdminConfig{Addr: cfg.Metrics.Addr, Logger: logger}, a.registry)
		a.admin.AddReadinessCheck("pool", func() error {
			if a.pool.Stats().Closed {
				return errors.New("worker pool closed")
			}
			return nil
		})
		a.admin.AddReadinessCheck("tcp", func() error {
			if !a.tcp.IsStarted() || a.tcp.IsStopped() || a.tcp.ListeningAddr() == "" {
				return errors.New("not accepting connections")
			}
			return nil
		})
		a.admin.SetStats(func() interface{} {
			stats := map[string]interface{}{
				"pool": a.pool.Stats(),
				"tcp":  a.tcp.Metrics(),
			}
			if a.ws != nil {
				stats["websocket"] = a.ws.Stats()
			}
			return stats
		})
	}

	return a, nil
}

// connMiddlewares lists the per-connection middlewares, outermost first
func (a *app) connMiddlewares() []tcp.Middleware {
	var mws []tcp.Middleware
	if a.tracing {
		mws = append(mws, otelobs.TCPMiddleware())
	}
	if a.metrics != nil {
		mws = append(mws, promobs.TCPMiddleware(a.metrics))
	}
	return append(mws, tcp.Logging())
}

// Run serves until ctx is done or a listener fails, then shuts everything
// down in order: listeners, worker pool, admin endpoint, tracing.
func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.tcp.Start)
	if a.ws != nil {
		g.Go(a.ws.Start)
	}
	if a.admin != nil {
		g.Go(a.admin.Start)

		stop := make(chan struct{})
		g.Go(func() error {
			a.metrics.RunPoolStatsUpdater(a.pool, a.cfg.Metrics.UpdateInterval, stop)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			close(stop)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *app) shutdown() error {
	a.logger.Info("Shutting down gracefully...")

	var errs []error
	if err := a.tcp.Stop(); err != nil {
		errs = append(errs, err)
	}
	if a.ws != nil {
		if err := a.ws.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	// Running connections have been told to finish; Close waits for them.
	a.pool.Close()

	if a.admin != nil {
		if err := a.admin.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if a.tracing {
		ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if err := otelobs.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) shutdownTimeout() time.Duration {
	if a.cfg.ShutdownTimeout > 0 {
		return a.cfg.ShutdownTimeout
	}
	return 30 * time.Second
}
