// Package main runs the compensation engine worker: the session scheduler,
// the monthly fund distributions and the daily ledger reconciliation.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"compengine/internal/config"
	"compengine/internal/di"
	"compengine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("timezone", cfg.Timezone).
		Msg("Starting compensation engine")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	if err := container.RegisterJobs(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down")
}
