// Package main provides the main entry point for the txflow application.
// It initializes and coordinates all services using the service registry pattern.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/dmorse17/txflow/internal/api"
	"github.com/dmorse17/txflow/internal/broadcast"
	"github.com/dmorse17/txflow/internal/confirm"
	"github.com/dmorse17/txflow/internal/form"
	"github.com/dmorse17/txflow/internal/prepare"
	"github.com/dmorse17/txflow/internal/storage"
	"github.com/dmorse17/txflow/internal/wallet"
	"github.com/dmorse17/txflow/pkg/config"
	"github.com/dmorse17/txflow/pkg/logging"
	"github.com/dmorse17/txflow/pkg/metrics"
	"github.com/dmorse17/txflow/pkg/service"
)

// main initializes configuration, wires together the form manager,
// broadcaster, confirmation watcher and API server, starts them in
// dependency order via the service registry, and handles graceful shutdown.
func main() {
	configFile := pflag.String("config", "", "Path to configuration file")
	logLevel := pflag.String("log-level", "", "Log level (debug, info, warn, error)")
	pflag.Parse()

	opts := config.DefaultLoadOptions()
	if *configFile != "" {
		opts.ConfigFile = *configFile
	}

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override log level if specified via command line
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := logging.New(logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      os.Stdout,
		ServiceName: "txflow",
		Environment: cfg.Log.Environment,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The signing wallet. An operator-provided key keeps the sender address
	// stable across restarts; without one a fresh wallet is generated.
	var w *wallet.Wallet
	if key := os.Getenv("TXFLOW_WALLET_KEY"); key != "" {
		w, err = wallet.Import(key)
		if err != nil {
			logger.Fatal("Failed to import wallet key", "error", err)
		}
	} else {
		w, err = wallet.New()
		if err != nil {
			logger.Fatal("Failed to generate wallet", "error", err)
		}
		logger.Warn("No TXFLOW_WALLET_KEY set, generated ephemeral wallet", "address", w.Address)
	}
	logger.Info("Wallet ready", "address", w.Address)

	store, err := storage.NewRedisTxStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}

	// Seed the gas price snapshot so the first preparations do not have to
	// fall back to the configured default.
	if err := store.SetGasPrice(ctx, cfg.Fees.DefaultGas); err != nil {
		logger.Warn("Failed to seed gas price snapshot", "error", err)
	}

	broadcaster, err := broadcast.NewBroadcaster(cfg.Kafka.Brokers, store, w, cfg.Kafka.SubmitTopic, logger)
	if err != nil {
		logger.Fatal("Failed to initialize broadcaster", "error", err)
	}
	defer broadcaster.Close()

	watcher, err := confirm.NewWatcher(
		cfg.Kafka.Brokers,
		cfg.Kafka.ConsumerGroup,
		cfg.Kafka.ConfirmedTopic,
		cfg.Kafka.FailedTopic,
		store,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize confirmation watcher", "error", err)
	}

	preparer := prepare.NewService(store, cfg.Fees, logger)

	formMetrics := metrics.New(metrics.Config{
		Namespace:   cfg.Metrics.Namespace,
		ServiceName: "form-manager",
	})

	manager := form.NewManager(form.ManagerConfig{
		Debounce:    cfg.Form.DebounceWindow,
		SessionTTL:  cfg.Form.SessionTTL,
		MaxSessions: cfg.Form.MaxSessions,
		Preparer:    preparer,
		Submitter:   broadcaster,
		Watcher:     watcher,
		Logger:      logger,
		Metrics:     formMetrics,
	})

	registry := service.NewRegistry(logger)

	logger.Info("Initializing services")

	if err := registry.Register(confirm.NewWatcherService(watcher)); err != nil {
		logger.Fatal("Failed to register confirmation watcher service", "error", err)
	}
	if err := registry.Register(form.NewManagerService(manager)); err != nil {
		logger.Fatal("Failed to register form manager service", "error", err)
	}
	if err := registry.Register(api.NewAPIService(cfg, manager, store)); err != nil {
		logger.Fatal("Failed to register API service", "error", err)
	}

	logger.Info("Starting all services")
	if err := registry.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start services", "error", err)
	}
	logger.Info("All services started successfully")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("Shutting down gracefully")
	cancel()

	if err := registry.StopAll(context.Background()); err != nil {
		logger.Error("Error during shutdown", "error", err)
	}

	if err := store.Close(); err != nil {
		logger.Error("Error closing Redis connection", "error", err)
	}

	logger.Info("Shutdown complete")
}
