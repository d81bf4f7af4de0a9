// Package server wires configuration, storage, workflows and transports into
// a running service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/chungtau/ledger-payments/internal/auth"
	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/elasticsearch"
	"github.com/chungtau/ledger-payments/internal/event"
	"github.com/chungtau/ledger-payments/internal/handler"
	"github.com/chungtau/ledger-payments/internal/kafka"
	"github.com/chungtau/ledger-payments/internal/storage/memory"
	"github.com/chungtau/ledger-payments/internal/storage/postgres"
	"github.com/chungtau/ledger-payments/internal/storage/sqlite"
	"github.com/chungtau/ledger-payments/internal/workflow"
)

// Server represents the HTTP and gRPC servers with all their dependencies
type Server struct {
	cfg          *config.Config
	logger       *zap.Logger
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	store        Store
	redisClient  *redis.Client
	publisher    *kafka.Publisher
	indexer      *elasticsearch.Indexer
}

// New creates a new server instance
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.store = store

	notifier, err := s.openSinks()
	if err != nil {
		s.closeAll(context.Background())
		return nil, err
	}

	logger.Info("connecting to redis", zap.String("addr", cfg.RedisAddr))
	s.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis connection failed, rate limiting and idempotency disabled", zap.Error(err))
		_ = s.redisClient.Close()
		s.redisClient = nil
	}

	opts := []workflow.Option{
		workflow.WithBaseCurrency(cfg.Currency()),
		workflow.WithNotifier(notifier),
		workflow.WithLogger(logger),
	}
	optional := make(map[string]handler.Pinger)
	if s.publisher != nil {
		optional["kafka"] = s.publisher
	}
	router := SetupRouter(Dependencies{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Transfers: workflow.NewTransferWorkflow(store, opts...),
		Payments:  workflow.NewPaymentWorkflow(store, opts...),
		Resolver:  auth.NewJWTResolver(cfg.JWTSecret),
		Redis:     s.redisClient,
		Optional:  optional,
	})

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.GatewayPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.grpcServer, s.healthServer = newGRPCServer()

	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		logger.Info("opening sqlite store", zap.String("path", cfg.SQLitePath))
		store, err := sqlite.Open(cfg.SQLitePath, nil)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.StorePostgres:
		logger.Info("opening postgres store")
		store, err := postgres.Open(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		logger.Info("using in-memory store with demo accounts", zap.String("owner", cfg.DemoClientID))
		return memory.New(memory.WithAccounts(memory.DemoAccounts(cfg.DemoClientID)...)), nil
	}
}

// openSinks publishes to Kafka when brokers are configured; the audit consumer
// indexes from there. Without Kafka, events go straight to Elasticsearch.
func (s *Server) openSinks() (event.Publisher, error) {
	var sinks event.Fanout

	if len(s.cfg.KafkaBrokers) > 0 {
		writer := kafka.NewWriter(s.cfg.KafkaBrokers, s.cfg.KafkaTopic)
		s.publisher = kafka.NewPublisher(writer, s.cfg.KafkaTopic, s.logger, kafka.DefaultBreakerSettings)
		sinks = append(sinks, s.publisher)
		s.logger.Info("publishing events to kafka",
			zap.Strings("brokers", s.cfg.KafkaBrokers),
			zap.String("topic", s.cfg.KafkaTopic),
		)
	} else if s.cfg.ElasticsearchURL != "" {
		indexer, err := elasticsearch.NewIndexer(elasticsearch.Config{
			URL:    s.cfg.ElasticsearchURL,
			Index:  s.cfg.ElasticsearchIndex,
			Source: "ledger-payments",
			Logger: s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open audit indexer: %w", err)
		}
		s.indexer = indexer
		sinks = append(sinks, indexer)
	}

	if len(sinks) == 0 {
		s.logger.Info("no event sinks configured")
		return nil, nil
	}
	return sinks, nil
}

// Run starts both servers and handles graceful shutdown
func (s *Server) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchHealth(ctx, s.store, s.healthServer, 10*time.Second, s.logger)

	lis, err := net.Listen("tcp", ":"+s.cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen on grpc port %s: %w", s.cfg.GRPCPort, err)
	}
	go func() {
		s.logger.Info("starting gRPC health server", zap.String("port", s.cfg.GRPCPort))
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	go func() {
		s.logger.Info("starting payments API",
			zap.String("port", s.cfg.GatewayPort),
			zap.String("store", s.cfg.StoreDriver),
			zap.Bool("dev_mode", s.cfg.DevMode),
		)
		if s.cfg.DevMode {
			s.logger.Info("dev token endpoint available at POST /auth/dev/token")
		}
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case runErr = <-errChan:
		s.logger.Error("server error, shutting down", zap.Error(runErr))
	case sig := <-sigChan:
		s.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	s.healthServer.Shutdown()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", zap.Error(err))
	}
	s.grpcServer.GracefulStop()
	s.closeAll(shutdownCtx)

	s.logger.Info("server gracefully stopped")
	return runErr
}

// closeAll releases sinks before the store so in-flight events are flushed.
func (s *Server) closeAll(ctx context.Context) {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("kafka publisher close error", zap.Error(err))
		}
	}
	if s.indexer != nil {
		if err := s.indexer.Close(ctx); err != nil {
			s.logger.Error("audit indexer close error", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("redis client close error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close error", zap.Error(err))
		}
	}
}
