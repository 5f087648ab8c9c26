// Command foreman-server exposes the orchestration engine over HTTP: SSE for
// request streams, a websocket for status watchers, plus health and metrics.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"foreman/internal/approval"
	"foreman/internal/config"
	"foreman/internal/di"
	"foreman/internal/logging"
	"foreman/internal/observability"
	serverhttp "foreman/internal/server/http"
)

func main() {
	slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	logger := logging.FromSlog(slogger, "server")

	cfg, err := config.Load(os.Getenv("FOREMAN_CONFIG"))
	if err != nil {
		logger.Error("load config: %v", err)
		os.Exit(1)
	}

	broadcaster := serverhttp.NewBroadcaster(logging.FromSlog(slogger, "broadcast"))

	// The server has no operator at a terminal, so dangerous batches are
	// rejected rather than queued.
	container, err := di.BuildContainer(cfg, di.Options{
		Approver: approval.AutoReject{},
		Listener: broadcaster,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("build container: %v", err)
		os.Exit(1)
	}
	defer func() { _ = container.Close(context.Background()) }()

	server := serverhttp.New(serverhttp.Options{
		Coordinator:    container.Coordinator,
		Broadcaster:    broadcaster,
		Gatherer:       container.Prometheus,
		Logger:         logging.FromSlog(slogger, "http"),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     server.Handler(),
		ReadTimeout: 30 * time.Second,
		// SSE streams stay open as long as a request runs.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stopMetrics func() error
	if cfg.Observability.MetricsEnabled {
		stopMetrics = observability.ServeMetrics(cfg.Observability.MetricsPort, container.Prometheus, logger)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if stopMetrics != nil {
			_ = stopMetrics()
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server: %v", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
