package main

import (
	"twilioreport/internal/amqp"
	"twilioreport/internal/backend"
	"twilioreport/internal/config"
	applog "twilioreport/internal/log"
)

// backendPublisher connects to the broker when one is configured. Without
// it, export jobs wait for the worker's pending sweep.
func backendPublisher(cfg *config.Config, logger *applog.Logger) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP_URL not set, exports rely on the pending sweep")
	}
	return backend.NewPublisher(cfg, logger)
}
