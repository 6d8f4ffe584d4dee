package main

import (
	"context"
	"errors"
	"os"
	"time"

	"twilioreport/internal/amqp"
	"twilioreport/internal/backend"
	"twilioreport/internal/cli"
	applog "twilioreport/internal/log"
	"twilioreport/internal/services"
	"twilioreport/internal/twilio"
	"twilioreport/internal/usage"
	"twilioreport/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting export-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	store := cli.OpenStore(context.Background(), logger, cfg)

	writer, err := backend.NewReportWriter(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize report writer", applog.FieldError, err.Error())
		os.Exit(1)
	}

	opts := usage.DefaultOptions()
	opts.Concurrency = cfg.UsageFetchConcurrency
	opts.CacheTTL = 0
	reporter := usage.NewReporter(twilio.NewClient(cfg.ProviderTimeout, logger), opts, logger)

	exports := services.NewExportService(services.ExportDeps{
		Jobs:     store.Store,
		Accounts: store.Store,
		History:  reporter,
		Writer:   writer,
		Logger:   logger,
	})
	exportWorker := worker.NewExportWorker(exports, cfg.SyncBatchSize, logger)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err.Error())
			os.Exit(1)
		}
	} else {
		logger.Warn("AMQP_URL not set, only the periodic sweep will run")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("Failed to close AMQP client", applog.FieldError, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store", applog.FieldError, err.Error())
		}
	})

	logger.Info("Performing startup export check...")
	if err := exportWorker.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup export check", applog.FieldError, err.Error())
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeExportRequests(ctx, exportWorker.HandleMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", applog.FieldError, err.Error())
			}
		}()
	}

	go exportWorker.RunSweeper(ctx, cfg.SyncInterval)

	logger.Info("Export worker running",
		"amqp", amqpClient != nil,
		"sheets", cfg.SheetsEnabled(),
		"sweep_interval", cfg.SyncInterval.String())

	cli.WaitForShutdown(ctx, done)
	logger.Info("Export worker stopped gracefully")
}
