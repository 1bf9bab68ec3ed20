package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/klyr/edgerewrite/internal/config"
	"github.com/klyr/edgerewrite/internal/gateway"
	"github.com/klyr/edgerewrite/internal/logging"
	"github.com/klyr/edgerewrite/internal/observability"
	"github.com/klyr/edgerewrite/internal/rules"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the rewriting proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, newOverrides(cmd.Flags()))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runGateway(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	overrideFlags(cmd.Flags())

	return cmd
}

func runGateway(ctx context.Context, cfg *config.Config) error {
	log, closeLog, err := logging.NewLogger(cfg.Logging, cfg.ResolvePath, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	registry, err := rules.Build(cfg)
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg, registry)
	if err != nil {
		return err
	}
	gw.SetLogger(log)

	if cfg.Logging.AccessLog != "" {
		access, closer, err := logging.OpenAccessLog(cfg.ResolvePath(cfg.Logging.AccessLog))
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()
		gw.SetAccessLogger(access)
	}

	metricsSrv := startMetricsServer(cfg, gw, log)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           gw,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLS.Enabled {
			serverErr <- srv.ListenAndServeTLS(cfg.ResolvePath(cfg.Server.TLS.CertFile), cfg.ResolvePath(cfg.Server.TLS.KeyFile))
			return
		}
		serverErr <- srv.ListenAndServe()
	}()
	log.WithFields(logrus.Fields{
		"listen": cfg.Server.Listen,
		"site":   cfg.Site,
		"rules":  registry.Len(),
	}).Info("edgerewrite started")

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-signalCtx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func startMetricsServer(cfg *config.Config, gw *gateway.Gateway, log logrus.FieldLogger) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	gw.SetMetrics(metrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}
