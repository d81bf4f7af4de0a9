// Command audit consumes transaction events from Kafka and indexes them into
// Elasticsearch. Rejected documents go to the dead-letter topic.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/audit"
	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/dlq"
	"github.com/chungtau/ledger-payments/internal/elasticsearch"
	"github.com/chungtau/ledger-payments/internal/logging"
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

	if len(cfg.KafkaBrokers) == 0 || cfg.ElasticsearchURL == "" {
		logger.Fatal("KAFKA_BROKERS and ELASTICSEARCH_URL are required for the audit consumer")
	}

	deadLetter := dlq.NewProducer(cfg.KafkaBrokers, cfg.DeadLetterTopic, logger)
	defer deadLetter.Close()

	indexer, err := elasticsearch.NewIndexer(elasticsearch.Config{
		URL:        cfg.ElasticsearchURL,
		Index:      cfg.ElasticsearchIndex,
		Source:     cfg.KafkaTopic,
		DeadLetter: deadLetter,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("failed to start audit indexer", zap.Error(err))
	}

	reader := audit.NewReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.AuditGroupID)
	consumer := audit.NewConsumer(reader, indexer, deadLetter, cfg.KafkaTopic, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting audit consumer",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group", cfg.AuditGroupID),
	)
	runErr := consumer.Run(ctx)

	if err := consumer.Close(); err != nil {
		logger.Error("failed to close reader", zap.Error(err))
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := indexer.Close(closeCtx); err != nil {
		logger.Error("failed to flush audit indexer", zap.Error(err))
	}

	if runErr != nil {
		logger.Fatal("audit consumer stopped", zap.Error(runErr))
	}
	logger.Info("audit consumer stopped gracefully")
}
