// cmd/mbbridge/run.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/modbus-bridge/internal/bridge"
	"github.com/tamzrod/modbus-bridge/internal/config"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run every configured device until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBridges(ctx, args[0])
		},
	}
}

func runBridges(ctx context.Context, path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, nil)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := bridge.NewMetrics(reg)

	bridges, closeAll, err := buildBridges(cfg, logger, metrics, bridge.Build)
	if err != nil {
		return err
	}
	defer closeAll()

	g, ctx := errgroup.WithContext(ctx)
	for _, b := range bridges {
		b := b
		g.Go(func() error { return b.Run(ctx) })
	}

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info().Str("listen", cfg.Metrics.Listen).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info().Int("devices", len(cfg.Devices)).Msg("mbbridge started")
	return g.Wait()
}

type buildFunc func(d config.DeviceConfig, strict bool, logger zerolog.Logger, m *bridge.Metrics) (*bridge.Bridge, func() error, error)

// buildBridges builds every device before any of them starts.
// On failure the bridges built so far are closed.
func buildBridges(cfg *config.Config, logger zerolog.Logger, m *bridge.Metrics, build buildFunc) ([]*bridge.Bridge, func(), error) {
	var (
		bridges []*bridge.Bridge
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	for _, d := range cfg.Devices {
		b, closeFn, err := build(d, cfg.Strict, logger, m)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("bridge build failed (device=%s): %w", d.ID, err)
		}
		bridges = append(bridges, b)
		closers = append(closers, closeFn)
	}
	return bridges, closeAll, nil
}
