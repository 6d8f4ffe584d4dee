package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"twilioreport/internal/cache"
	"twilioreport/internal/cli"
	apphttp "twilioreport/internal/http"
	applog "twilioreport/internal/log"
	"twilioreport/internal/services"
	"twilioreport/internal/twilio"
	"twilioreport/internal/usage"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	store := cli.OpenStore(context.Background(), logger, cfg)

	opts := usage.DefaultOptions()
	opts.Concurrency = cfg.UsageFetchConcurrency
	opts.CacheTTL = cfg.UsageCacheTTL
	reporter := usage.NewReporter(twilio.NewClient(cfg.ProviderTimeout, logger), opts, logger)

	cacheManager := cache.NewManager(logger.Logger)
	cacheManager.Register(reporter.Cache())
	cacheManager.StartCleanup(time.Minute)

	var publisher services.ExportPublisher
	amqpClient, err := backendPublisher(cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to the broker", applog.FieldError, err.Error())
		os.Exit(1)
	}
	if amqpClient != nil {
		publisher = amqpClient
	}

	hashKey, blockKey, err := cfg.SessionKeys()
	if err != nil {
		logger.Error("Invalid session keys", applog.FieldError, err.Error())
		os.Exit(1)
	}
	if hashKey == nil {
		logger.Warn("SESSION_HASH_KEY not set, sessions will not survive a restart")
	}

	// Without a broker or Sheets nothing would ever process a job.
	var exports *services.ExportService
	if cfg.ExportsEnabled() {
		exports = services.NewExportService(services.ExportDeps{
			Jobs:      store.Store,
			Accounts:  store.Store,
			Publisher: publisher,
			Logger:    logger,
		})
	} else {
		logger.Warn("Sheets export disabled, set AMQP_URL or Google Sheets credentials to enable it")
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Auth:        services.NewAuthService(store.Store, logger),
		Accounts:    services.NewAccountService(store.Store, logger),
		Exports:     exports,
		Usage:       reporter,
		Store:       store.Store,
		Sessions:    apphttp.NewSessionManager(hashKey, blockKey, cfg.SecureCookies),
		UsageCache:  reporter.Cache(),
		Logger:      logger,
		HistoryDays: cfg.UsageHistoryDays,
	})

	// History requests fan out to the provider, so writes get more room.
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err.Error())
		}
		cacheManager.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("Failed to close AMQP client", applog.FieldError, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store", applog.FieldError, err.Error())
		}
	})

	logger.Info("Starting twilioreport server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp", amqpClient != nil,
		"exports", exports != nil,
		"history_days", cfg.UsageHistoryDays)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
