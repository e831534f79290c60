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

	"giftshop-service/config"
	"giftshop-service/internal/api"
	"giftshop-service/internal/blob"
	"giftshop-service/internal/broker"
	"giftshop-service/internal/gateway"
	"giftshop-service/internal/redisclient"
	"giftshop-service/internal/service"
	"giftshop-service/internal/store"
	"giftshop-service/internal/util"
	"giftshop-service/internal/webhook"
	"giftshop-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting giftshop service")

	tp, err := util.InitTracer("giftshop-service", cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewPostgres(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	stripeGateway, err := gateway.NewStripe(gateway.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Currency:      cfg.Stripe.Currency,
		CallTimeout:   cfg.Stripe.CallTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize payment gateway: %v", err)
	}

	storage, err := blob.NewStorage(context.Background(), blob.Config{
		Endpoint:  cfg.Blob.Endpoint,
		Region:    cfg.Blob.Region,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		Bucket:    cfg.Blob.Bucket,
	})
	if err != nil {
		log.Fatalf("Failed to initialize blob storage: %v", err)
	}

	orderService := service.NewOrderService(db, stripeGateway, eventPublisher, redisClient)
	paymentMethodService := service.NewPaymentMethodService(db, stripeGateway)
	subscriptionService := service.NewSubscriptionService(db, stripeGateway)
	reconciler := webhook.NewReconciler(db, stripeGateway, redisClient)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	statsConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	statsWorker := worker.NewStatsWorker(statsConsumer, orderService)
	go func() {
		if err := statsWorker.Start(workerCtx); err != nil {
			log.Printf("Stats worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orderService, paymentMethodService, subscriptionService, reconciler, storage)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
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
	statsWorker.Stop()

	log.Println("Server exited")
}
