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

	"staybroker/config"
	"staybroker/internal/api"
	"staybroker/internal/broker"
	"staybroker/internal/pms"
	"staybroker/internal/redisclient"
	"staybroker/internal/service"
	"staybroker/internal/store"
	"staybroker/internal/util"
	"staybroker/internal/webhook"
	"staybroker/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting stay broker")

	tp, err := util.InitTracer("staybroker", cfg.Server.Env, cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
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

	db, err := store.NewStore(cfg.Database.URL)
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

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	tokenBroker := pms.NewTokenBroker(
		cfg.PMS.BaseURL+cfg.PMS.TokenPath,
		cfg.PMS.RefreshToken,
		cfg.PMS.TokenSafetyMargin,
		cfg.PMS.RequestTimeout,
	)
	pmsClient := pms.NewClient(cfg.PMS.BaseURL, tokenBroker, cfg.PMS.RequestTimeout)
	proxyGate := pms.NewProxyGate(pmsClient)

	bookingService := service.NewBookingService(
		db, redisClient, cfg.Booking.IdempotencyTTL, eventPublisher, pmsClient)
	flagCache := service.NewFlagCache(redisClient, 30*time.Second)

	pipeline := webhook.NewPipeline(
		db, cfg.Webhook.Secret, cfg.Webhook.MaxRetries,
		cfg.Webhook.BackoffBase, cfg.Webhook.BackoffCap)
	webhook.NewHandlers(db, pmsClient, eventPublisher).RegisterAll(pipeline)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	webhookWorker := worker.NewWebhookWorker(pipeline, cfg.Webhook.PollInterval, cfg.Webhook.Workers)
	go func() {
		if err := webhookWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Printf("Webhook worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(bookingService, proxyGate, pipeline, flagCache, db)
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
	webhookWorker.Stop()

	log.Println("Server exited")
}
