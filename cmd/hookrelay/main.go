package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ericfisherdev/hookrelay/internal/adapter/driven/github"
	sqliteadapter "github.com/ericfisherdev/hookrelay/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/hookrelay/internal/adapter/driving/http"
	webhandler "github.com/ericfisherdev/hookrelay/internal/adapter/driving/web"
	"github.com/ericfisherdev/hookrelay/internal/application"
	"github.com/ericfisherdev/hookrelay/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"public_url", cfg.PublicURL,
		"config_glob", cfg.ConfigFileGlob,
		"dispatch_concurrency", cfg.DispatchConcurrency,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()
	logger.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	logger.Info("migrations complete")

	// 5. Wire adapters.
	hookStore := sqliteadapter.NewHookRepo(db)
	ledger := sqliteadapter.NewRunLedgerRepo(db)
	gh := githubadapter.NewClient(cfg.GitHubToken, logger)

	// 6. Wire application services.
	configSvc := application.NewConfigService(gh, hookStore, cfg.ConfigFileGlob, logger)
	matcher := application.NewHookMatcher(hookStore, logger)
	dispatcher := application.NewDispatcher(gh, gh, ledger, cfg.WorkflowFileExt, cfg.DispatchConcurrency, logger)
	aggregator := application.NewCheckAggregator(gh, gh, ledger, cfg.PublicURL, cfg.DispatchConcurrency, logger)
	eventSvc := application.NewEventService(
		gh,
		gh,
		ledger,
		configSvc,
		matcher,
		dispatcher,
		aggregator,
		application.MergePolling{Attempts: cfg.MergeablePollAttempts, Interval: cfg.MergeablePollInterval},
		logger,
	)

	// 7. Start the reconciler for aggregates whose deliveries were lost.
	reconciler := application.NewReconcileService(aggregator, ledger, cfg.ReconcileInterval, cfg.ReconcileStaleAfter, logger)
	go reconciler.Start(ctx)

	// 8. Metrics registry.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := httphandler.NewMetrics(reg)

	// 9. Webhook receiver, API and status pages.
	webhook := httphandler.NewWebhookReceiver(httphandler.WebhookConfig{
		Secret:        cfg.WebhookSecret,
		DeliveryTTL:   cfg.DeliveryCacheTTL,
		MaxConcurrent: cfg.WebhookWorkers,
		RatePerMinute: cfg.WebhookRatePerMin,
	}, eventSvc, metrics, logger)

	mux := http.NewServeMux()
	httphandler.RegisterAPIRoutes(mux, httphandler.NewHandler(ledger, reconciler, logger), webhook, reg)

	webhandler.RegisterRoutes(mux, webhandler.NewHandler(ledger, reconciler, logger))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.ApplyMiddleware(mux, metrics, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	logger.Info("hookrelay started", "listen_addr", cfg.ListenAddr)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	// 11. Stop accepting requests, then drain in-flight webhook deliveries.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := webhook.Wait(shutdownCtx); err != nil {
		logger.Warn("webhook deliveries still running at shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
