package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jetsetgo/travelpay/config"
	"github.com/jetsetgo/travelpay/internal/bootstrap"
	"github.com/jetsetgo/travelpay/internal/cache"
	"github.com/jetsetgo/travelpay/internal/gateway/arcpay"
	"github.com/jetsetgo/travelpay/internal/kafka"
	"github.com/jetsetgo/travelpay/internal/provider/amadeus"
	"github.com/jetsetgo/travelpay/internal/repository"
	"github.com/jetsetgo/travelpay/internal/service/cancellation"
	"github.com/jetsetgo/travelpay/internal/service/checkout"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Payments.SessionTTLMinutes)*time.Minute)
	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	gatewayClient := arcpay.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.MerchantID, cfg.Gateway.Password(), logger)
	providerClient := amadeus.NewClient(cfg.Provider.BaseURL, cfg.Provider.ClientID, cfg.Provider.Secret(), logger)

	paymentRepo := repository.NewPaymentRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)

	checkoutService := checkout.NewCheckoutService(
		paymentRepo,
		bookingRepo,
		gatewayClient,
		providerClient,
		redisCache,
		producer,
		cfg.Kafka.PaymentsTopic,
		cfg.Payments.Currencies,
		logger,
		checkout.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
		checkout.WithCallbackLockTTL(time.Duration(cfg.Payments.CallbackLockSeconds)*time.Second),
		checkout.WithStuckThreshold(time.Duration(cfg.Payments.StuckAfterMinutes)*time.Minute),
	)
	cancellationService := cancellation.NewCancellationService(
		bookingRepo,
		paymentRepo,
		gatewayClient,
		providerClient,
		producer,
		cfg.Kafka.PaymentsTopic,
		logger,
		cancellation.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
	)

	if err := bootstrap.Run(ctx, cfg, checkoutService, cancellationService, bookingRepo); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
