package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hostsentry/internal/alerts"
	"hostsentry/internal/api"
	"hostsentry/internal/config"
	"hostsentry/internal/engine"
	"hostsentry/internal/gateway"
	"hostsentry/internal/ingest"
	"hostsentry/internal/logging"
	"hostsentry/internal/model"
	"hostsentry/internal/storage"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hostsentry:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to yaml or json config file")
	flag.Parse()

	var (
		cfgManager *config.Manager
		err        error
	)
	if *configPath != "" {
		cfgManager, err = config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfgManager = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := cfgManager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting hostsentry", "version", version, "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = store.Init(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	recent, err := store.ListAlerts(warmCtx, cfg.Alerts.StoreLimit)
	cancel()
	if err != nil {
		logger.Warn("warm alerts from storage", "err", err)
	} else {
		alertsStore.WarmFromHistory(recent)
	}

	eng := engine.NewEngine(cfg, logger, alertsStore, store)

	eventCh := make(chan model.EventRecord, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, eventCh)
	ingest.StartKafka(ctx, cfgManager, eventCh, logger)

	if _, err := gateway.Start(ctx, cfgManager, eng, store, logger); err != nil {
		return err
	}
	api.Start(ctx, cfgManager, alertsStore, eng, logger, version)

	if cfgManager.Path() != "" {
		go cfgManager.Watch(3*time.Second,
			func(next *config.Config) {
				logger.Info("config reloaded")
				eng.UpdateConfig(next)
			},
			func(err error) {
				logger.Warn("config reload failed", "err", err)
			},
			ctx.Done(),
		)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
