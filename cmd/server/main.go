package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-service/config"
	"market-service/internal/api"
	"market-service/internal/broker"
	"market-service/internal/entity"
	"market-service/internal/fixtures"
	"market-service/internal/kv"
	"market-service/internal/models"
	"market-service/internal/service"
	"market-service/internal/util"
	"market-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting market service")

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer("market-service", cfg.Observ.JaegerEndpoint, cfg.Server.Env)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer closeStore()
	logger.Info("Store connected", zap.String("backend", cfg.Store.Backend))

	stores := fixtures.Stores{
		Users:    entity.NewStore[models.User](store, entity.UserKind),
		Listings: entity.NewStore[models.Listing](store, entity.ListingKind),
		Orders:   entity.NewStore[models.Order](store, entity.OrderKind),
	}
	ledger := service.NewLedgerService(entity.NewStore[models.Transaction](store, entity.TransactionKind))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var publisher service.EventPublisher
	var ledgerWorker *worker.LedgerWorker
	if cfg.Kafka.Enabled() {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		ledgerWorker = worker.NewLedgerWorker(consumer, ledger)
		go func() {
			if err := ledgerWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Ledger worker error", zap.Error(err))
			}
		}()
	} else {
		publisher = worker.NewInlineLedger(ledger)
		logger.Info("Kafka disabled, applying ledger entries inline")
	}

	workflow := service.NewOrderWorkflow(stores.Orders, stores.Listings, store, publisher, service.WorkflowConfig{
		FeeRate:        &cfg.Business.FeeRate,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
	})
	users := service.NewUserService(stores.Users, store, service.UserConfig{
		KYCReviewDelay: cfg.Business.KYCReviewDelay,
		SessionTTL:     cfg.Business.SessionTTL,
	})

	var seed func(context.Context) error
	if cfg.Business.SeedFixtures {
		seed = func(ctx context.Context) error {
			return fixtures.Seed(ctx, stores, cfg.Business.FeeRate)
		}
		seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := seed(seedCtx); err != nil {
			logger.Warn("Failed to seed fixtures at startup", zap.Error(err))
		}
		cancel()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(workflow, users, ledger, api.Options{
		Seed:             seed,
		Ready:            readiness(store),
		TrustActorHeader: cfg.Server.TrustActorHeader,
	})
	handler.SetupRoutes(router)
	if cfg.Server.TrustActorHeader {
		logger.Warn("Trusting X-Actor-ID header as caller identity")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if ledgerWorker != nil {
		if err := ledgerWorker.Stop(); err != nil {
			logger.Error("Error stopping ledger worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// openStore connects the configured key-value backend
func openStore(cfg *config.Config) (kv.KeyValueStore, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return kv.NewMemory(), func() {}, nil
	case "redis":
		r, err := kv.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Store.Namespace)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case "postgres":
		p, err := kv.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// readiness probes the store with a read of a key that never exists
func readiness(store kv.KeyValueStore) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_, err := store.Get(ctx, "readiness:probe")
		if err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
			return err
		}
		return nil
	}
}
