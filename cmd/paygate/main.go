package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eventtix/paygate/internal/config"
	"github.com/eventtix/paygate/internal/dedup"
	"github.com/eventtix/paygate/internal/events"
	"github.com/eventtix/paygate/internal/handlers"
	"github.com/eventtix/paygate/internal/interfaces"
	"github.com/eventtix/paygate/internal/locks"
	"github.com/eventtix/paygate/internal/provider"
	"github.com/eventtix/paygate/internal/quickpay"
	"github.com/eventtix/paygate/internal/repository"
	"github.com/eventtix/paygate/internal/telemetry"
)

func main() {
	if err := telemetry.InitTelemetry("paygate"); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Paygate")

	cfg := config.Load()

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	store := repository.NewPostgres(db)
	if err := store.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer redisClient.Close()

	// Connect to Kafka
	var publisher interfaces.Publisher = events.NoopPublisher{}
	if cfg.KafkaBrokers != "" {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		telemetry.Logger.Info("KAFKA_BROKERS not set, state-change events disabled")
	}

	// Connect to NATS
	var reviews interfaces.ReviewNotifier = events.NoopNotifier{}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		reviews = events.NewNATSNotifier(nc)
	} else {
		telemetry.Logger.Info("NATS_URL not set, review alerts disabled")
	}

	svc := provider.NewService(store, locks.NewRedis(redisClient), publisher, reviews,
		func(apiKey string) provider.Gateway {
			return quickpay.NewClient(cfg.GatewayAPIURL, apiKey)
		},
		cfg.BaseURL+"/pay", telemetry.Logger)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "paygate"})
	})

	h := handlers.New(store, svc, dedup.NewRedis(redisClient), cfg.OrderBaseURL, telemetry.Logger)
	h.RegisterRoutes(r)

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Paygate starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
