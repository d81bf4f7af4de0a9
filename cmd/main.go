package main

import (
	"log"

	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/logging"
	"github.com/chungtau/ledger-payments/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.DevMode)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("initializing server")
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	if err := srv.Run(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
