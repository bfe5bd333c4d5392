package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/aggregation"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/config"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/consumer"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/dispatch"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/domain"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/handler"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/logger"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/metrics"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/payload"
	payloads3 "github.com/RedHatInsights/notifications-backend-sub014/internal/payload/s3"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/processor"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/queue/sqs"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/recipients"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/repository/clickhouse"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/repository/postgres"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/service"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/transport"
)

const shutdownTimeout = 30 * time.Second

// @title Notifications Engine API
// @version 1.0
// @description API for publishing events and reading their delivery history
// @host localhost:8080
// @BasePath /
// @schemes http https
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting notification engine",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.HTTPPort))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// History sink
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	historyRepo := clickhouse.NewRepository(chClient, log)
	if err := historyRepo.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("History schema initialized")

	// Endpoint and preference read model
	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	endpointRepo := postgres.NewEndpointRepository(db, log)
	preferenceRepo := postgres.NewPreferenceRepository(db)

	// Aggregation store
	var store aggregation.Store
	switch cfg.Aggregation.Backend {
	case "redis":
		redisClient, err := aggregation.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error("Failed to close Redis client", zap.Error(err))
			}
		}()
		store = aggregation.NewRedisStore(redisClient, log)
	case "memory":
		store = aggregation.NewMemoryStore()
	default:
		log.Fatal("Unknown aggregation backend", zap.String("backend", cfg.Aggregation.Backend))
	}

	// Recipients
	resolver := recipients.NewResolver(
		recipients.NewHTTPIdentityClient(cfg.Recipients, log),
		preferenceRepo,
		cfg.Recipients.PageSize,
		log,
	)

	// Processors
	policy := processor.NewRetryPolicy(cfg.Webhook)
	resolutionPolicy := processor.NewResolutionPolicy(cfg.Recipients)
	httpClient := transport.NewHTTPClient(cfg.Webhook.RequestTimeout, log)

	webhookProcessor := processor.NewWebhookProcessor(httpClient, policy, m, log)
	emailProcessor := processor.NewEmailProcessor(
		transport.NewSMTPClient(cfg.SMTP, log),
		resolver,
		store,
		processor.EmailConfig{
			SingleEmailPerUser: cfg.Email.SingleEmailPerUser,
			Window:             cfg.Aggregation.Window,
			Resolution:         resolutionPolicy,
		},
		policy, m, log,
	)

	processors := dispatch.NewRegistry().
		Register(domain.EndpointTypeWebhook, webhookProcessor).
		Register(domain.EndpointTypeAnsible, webhookProcessor).
		Register(domain.EndpointTypeEmailSubscription, emailProcessor)

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := transport.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatal("Failed to create Kafka producer", zap.Error(err))
		}
		defer func(producer sarama.SyncProducer) {
			if err := producer.Close(); err != nil {
				log.Error("Failed to close Kafka producer", zap.Error(err))
			}
		}(producer)

		drawer := transport.NewKafkaPublisher(producer, cfg.Kafka.DrawerTopic, log)
		camel := transport.NewKafkaPublisher(producer, cfg.Kafka.CamelTopic, log)

		processors.
			Register(domain.EndpointTypeDrawer, processor.NewDrawerProcessor(drawer, resolver, policy, resolutionPolicy, m, log)).
			Register(domain.EndpointTypeCamel, processor.NewCamelProcessor(camel, policy, m, log))
	} else {
		log.Warn("No Kafka brokers configured, drawer and camel endpoints are unsupported")
	}
	processors.RegisterSubType(domain.EndpointTypeCamel, domain.SlackSubType,
		processor.NewSlackProcessor(transport.NewSlackClient(httpClient), policy, m, log))

	engine := dispatch.NewEngine(processors, dispatch.OptionsFromConfig(cfg.Dispatch), m, log)

	flusher := aggregation.NewFlusher(store, engine, historyRepo, aggregation.FlusherConfig{
		Window:   cfg.Aggregation.Window,
		Interval: cfg.Aggregation.FlushInterval,
	}, m, log)

	// Payload offload
	var fetcher payload.Fetcher
	if cfg.S3.Bucket != "" {
		s3Client, err := payloads3.NewClient(ctx, cfg.S3, log)
		if err != nil {
			log.Fatal("Failed to create S3 client", zap.Error(err))
		}
		fetcher = payloads3.NewFetcher(s3Client, cfg.S3.Bucket, log)
	}

	// Inbound queue
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	c := consumer.NewConsumer(cfg, sqsClient, engine, endpointRepo, fetcher, historyRepo, log)

	h := handler.NewHandler(
		service.NewEventService(sqsClient, log),
		service.NewHistoryService(historyRepo, flusher, cfg.Aggregation.Window, log),
		historyRepo,
		registry,
		log,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Service.HTTPPort),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The final aggregation flush must not start before the consumer has
	// stopped adding digest entries.
	flushCtx, cancelFlush := context.WithCancel(context.Background())
	defer cancelFlush()

	var wg sync.WaitGroup
	wg.Add(2)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		log.Info("Consumer starting")
		if err := c.Start(ctx); err != nil {
			log.Error("Consumer error", zap.Error(err))
		}
	}()

	go func() {
		defer wg.Done()
		flusher.Start(flushCtx)
	}()

	go func() {
		defer wg.Done()
		log.Info("HTTP server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down notification engine gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}

	<-consumerDone
	cancelFlush()
	wg.Wait()
	log.Info("Notification engine stopped")
}
