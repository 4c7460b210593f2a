package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cardctl/pkg/api"
	"cardctl/pkg/auth"
	"cardctl/pkg/cards"
	"cardctl/pkg/config"
	"cardctl/pkg/controls"
	"cardctl/pkg/ledger"
	"cardctl/pkg/lifecycle"
	"cardctl/pkg/lock"
	"cardctl/pkg/logging"
	"cardctl/pkg/metrics"
	promMetrics "cardctl/pkg/metrics/prometheus"
	"cardctl/pkg/model"
	"cardctl/pkg/spend"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the cardd HTTP API.

Examples:
  cardd serve
  cardd serve --config cardd.yaml --addr :9090
  CARDD_STORE_BACKEND=bolt cardd serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logger.Info("starting cardd",
		zap.String("version", Version),
		zap.String("backend", cfg.Store.Backend),
	)

	var (
		collector      metrics.Collector = metrics.NoOpCollector{}
		registry       *prometheus.Registry
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		pc := promMetrics.NewPrometheusCollector(cfg.Metrics.Namespace)
		if err := pc.Register(registry); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		collector = pc
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	store, err := openStore(ctx, cfg.Store, collector, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	repo := ledger.NewRepository(store)
	locks := lock.NewLocks(cfg.Cards.LockStripes)
	evaluator := controls.NewEvaluator(spend.NewLedgerAggregator(repo), model.SystemClock)

	deps := api.Deps{
		Cards: cards.NewService(repo, cards.Options{
			Locks:        locks,
			Metrics:      collector,
			Logger:       logger,
			ShareLinkTTL: cfg.Cards.ShareLinkTTL,
		}),
		Lifecycle: lifecycle.NewManager(repo, evaluator, lifecycle.Options{
			Locks:   locks,
			Metrics: collector,
			Logger:  logger,
		}),
		Auth:           auth.NewDirectory(cfg.Auth, model.SystemClock),
		Logger:         logger,
		MetricsHandler: metricsHandler,
	}
	if registry != nil {
		deps.Registerer = registry
	}

	server, err := api.NewServer(deps, api.ServerConfig{
		Address:      cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MetricsPath:  cfg.Metrics.Path,
	})
	if err != nil {
		return fmt.Errorf("build api: %w", err)
	}
	if err := server.Start(); err != nil {
		return err
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("server exited")
	return nil
}
