package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"omnigate/internal/bus"
	"omnigate/internal/config"
	"omnigate/internal/gateway"
	"omnigate/internal/metrics"
	"omnigate/internal/relay"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long:  "Connects every autoConnect instance and serves the relay and metrics endpoints when enabled. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// openGateway loads the config and opens the gateway over a fresh bus.
func openGateway(ctx context.Context) (*config.Config, *bus.EventBus, *gateway.Gateway, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := os.MkdirAll(cfg.General.DataDir, 0o700); err != nil {
		return nil, nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	eb := bus.NewEventBus(logger, 0)
	gw, err := gateway.Open(ctx, cfg, eb, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, eb, gw, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, eb, gw, err := openGateway(ctx)
	if err != nil {
		return err
	}

	if err := gw.Start(ctx); err != nil {
		logger.Warn("some instances failed to connect", "err", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	metricsMounted := false
	if cfg.Relay.Enabled {
		rc := relay.Config{
			Host:   cfg.Relay.Host,
			Port:   cfg.Relay.Port,
			Path:   cfg.Relay.Path,
			Bus:    eb,
			Sender: gw,
			Logger: logger,
		}
		if cfg.Metrics.Enabled {
			rc.Routes = map[string]http.Handler{cfg.Metrics.Endpoint: metrics.Collector.Handler()}
			metricsMounted = true
		}
		srv := relay.New(rc)
		g.Go(func() error { return srv.Start(gctx) })
	}
	if cfg.Metrics.Enabled && !metricsMounted {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics) })
	}

	logger.Info("gateway started", "instances", len(cfg.Instances), "relay", cfg.Relay.Enabled, "metrics", cfg.Metrics.Enabled)
	for _, st := range gw.Status() {
		logger.Info("instance", "instance", st.InstanceID, "platform", st.Platform, "state", st.State)
	}

	<-gctx.Done()
	logger.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := gw.Shutdown(shutdownCtx)
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("shutdown timed out, forcing exit")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	logger.Info("shutdown complete")
	return nil
}

func serveMetrics(ctx context.Context, mc config.MetricsConfig) error {
	mux := http.NewServeMux()
	mux.Handle(mc.Endpoint, metrics.Collector.Handler())
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(mc.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("metrics server starting", "addr", srv.Addr, "path", mc.Endpoint)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics listen: %w", err)
	}
}
