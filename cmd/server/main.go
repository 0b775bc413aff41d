package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-service/config"
	"auction-service/internal/api"
	"auction-service/internal/broker"
	"auction-service/internal/redisclient"
	"auction-service/internal/service"
	"auction-service/internal/store"
	"auction-service/internal/store/memory"
	"auction-service/internal/util"
	"auction-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// backend is what both store implementations provide
type backend interface {
	service.Repository
	service.EventLedger
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting auction service")

	tp, err := util.InitTracer("auction-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	var (
		codes     service.CodeStore = service.NewLocalCodeStore()
		rateCache service.RateCache
		sweepLock worker.SweepLock
	)
	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		codes, rateCache, sweepLock = redisClient, redisClient, redisClient
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	producer, subscriber, err := openBus(cfg.Events)
	if err != nil {
		log.Fatalf("Failed to initialize event bus: %v", err)
	}
	defer producer.Close()
	logger.Info("Event bus initialized", zap.String("bus", cfg.Events.Bus))

	eventPublisher := broker.NewEventPublisher(producer)

	converter := service.NewCurrencyConverter(
		service.NewHTTPRateSource(cfg.Currency.RatesURL), rateCache, cfg.Currency.CacheTTL)
	resolver := service.NewResolver(db, eventPublisher, cfg.Auction.SweepBatchSize)
	auctionService := service.NewAuctionService(db, resolver, converter,
		service.NewLocalImageStore(cfg.Auction.ImageDir), eventPublisher, cfg.Auction.BaseCurrency)
	biddingEngine := service.NewBiddingEngine(db, eventPublisher)
	postSaleService := service.NewPostSaleService(db, codes, eventPublisher, service.PostSaleConfig{
		RequireDeliveryCode: cfg.Auction.RequireDeliveryCode,
		DeliveryCodeTTL:     cfg.Auction.DeliveryCodeTTL,
		MaxCodeAttempts:     int64(cfg.Auction.MaxCodeAttempts),
	})
	notifier := service.NewNotifier(db, service.NewLogSender())

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	expiryWorker := worker.NewExpiryWorker(resolver, sweepLock, cfg.Auction.SweepInterval, cfg.Auction.SweepLockTTL)
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil {
			log.Printf("Expiry worker error: %v", err)
		}
	}()

	notificationWorker := worker.NewNotificationWorker(subscriber, notifier)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(auctionService, biddingEngine, postSaleService, cfg.Auth.JWTSecret)
	handler.AddReadinessCheck("database", db)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	expiryWorker.Stop()
	notificationWorker.Stop()

	log.Println("Server exited")
}

func openStore(cfg *config.Config) (backend, error) {
	switch cfg.Database.Driver {
	case "memory":
		return memory.NewStore(cfg.Auction.BidLockTimeout), nil
	case "postgres", "":
		return store.NewStore(cfg.Database, cfg.Auction.BidLockTimeout)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.Database.Driver)
	}
}

// openBus returns the producer and the subscriber for the configured bus.
// For NATS and the local bus they are the same connection.
func openBus(cfg config.EventsConfig) (broker.Producer, broker.Subscriber, error) {
	switch cfg.Bus {
	case "kafka", "":
		producer := broker.NewKafkaProducer(cfg.KafkaBrokers, cfg.Topic)
		consumer := broker.NewKafkaConsumer(cfg.KafkaBrokers, cfg.Topic, cfg.ConsumerGroup)
		return producer, consumer, nil
	case "nats":
		bus, err := broker.NewNATSBus(cfg.NatsURL, cfg.NatsSubject)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus, nil
	case "local":
		bus := broker.NewLocalBus(1024)
		return bus, bus, nil
	default:
		return nil, nil, fmt.Errorf("unknown EVENT_BUS %q", cfg.Bus)
	}
}
