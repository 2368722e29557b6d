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
	"github.com/jetsetgo/travelpay/internal/cache"
	"github.com/jetsetgo/travelpay/internal/email"
	"github.com/jetsetgo/travelpay/internal/gateway/arcpay"
	"github.com/jetsetgo/travelpay/internal/kafka"
	"github.com/jetsetgo/travelpay/internal/provider/amadeus"
	"github.com/jetsetgo/travelpay/internal/repository"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Payments.SessionTTLMinutes)*time.Minute)

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
		checkout.WithStuckThreshold(time.Duration(cfg.Payments.StuckAfterMinutes)*time.Minute),
	)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, logger)
	defer consumer.Close()

	emailSender := email.NewSender()

	go func() {
		if err := consumer.Consume(ctx, emailSender.Send); err != nil {
			log.Printf("consumer stopped: %v", err)
		}
	}()

	sweepTicker := time.NewTicker(time.Duration(cfg.Worker.ReconcileSweepMinutes) * time.Minute)
	defer sweepTicker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sweepTicker.C:
			reports, err := checkoutService.ReconcileStuck(ctx)
			if err != nil {
				log.Printf("reconcile sweep error: %v", err)
				continue
			}
			if len(reports) > 0 {
				log.Printf("reconciled %d stuck payments", len(reports))
			}
		case s := <-sig:
			log.Printf("received signal %v, shutting down", s)
			return
		}
	}
}
