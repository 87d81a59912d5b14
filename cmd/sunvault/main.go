package main

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"sunvault/internal/handlers"
	"sunvault/internal/ledger"
	"sunvault/internal/payments"
	"sunvault/pkg/auth"
	"sunvault/pkg/config"
	"sunvault/pkg/database"
	"sunvault/pkg/kafka"
	"sunvault/pkg/logging"
	"sunvault/pkg/monitoring"
	"sunvault/pkg/server"
	"sunvault/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("sunvault")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting SunVault (Credit Ledger API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	stripeSecretKey := config.GetEnv("STRIPE_SECRET_KEY", "")
	stripeWebhookSecret := config.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("sunvault", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("sunvault", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":          dbURL,
		"JWT_SECRET":            jwtSecret,
		"STRIPE_WEBHOOK_SECRET": stripeWebhookSecret,
	}))

	// Create custom ledger metrics
	metrics := &handlers.LedgerMetrics{
		OperationsApplied: metricsCollector.NewCounter("ledger_operations_total", "Balance operations applied", []string{"op_type", "status"}),
		WebhooksReceived:  metricsCollector.NewCounter("webhooks_received_total", "Payment webhooks received", []string{"provider", "event_type"}),
		ReportsProcessed:  metricsCollector.NewCounter("consumption_reports_total", "Consumption reports processed", []string{"status"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Optional Kafka producer for downstream ledger events
	var producer *kafka.KafkaProducer
	if config.GetEnv("KAFKA_EVENTS_ENABLED", "true") == "true" {
		brokers := strings.Split(config.GetEnv("KAFKA_BROKERS", "kafka:9092"), ",")
		clusterID := config.GetEnv("KAFKA_CLUSTER_ID", "local")
		kLogger := logrus.New() // Adapt logger
		var err error
		producer, err = kafka.NewKafkaProducer(brokers, clusterID, kLogger)
		if err != nil {
			logger.WithError(err).Warn("Failed to create Kafka producer, ledger events disabled")
			producer = nil
		} else {
			defer producer.Close()
			healthChecker.AddCheck("kafka_producer", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
		}
	}

	// Initialize handlers
	engine := ledger.NewEngine(db, logger)
	stripeClient := payments.NewStripeClient(stripeSecretKey, logger)
	handlers.Init(db, logger, engine, stripeClient, producer, metrics)

	// Initialize and start JobManager for the metering consumer
	jobManager := handlers.NewJobManager(db, logger, engine)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	logger.Info("JobManager started - metering consumer active")

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "sunvault", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/credits/ prefix)
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/credits", handlers.GetBalance)
			protected.POST("/credits", handlers.ApplyCreditOperation)
			protected.GET("/credits/history", handlers.GetCreditHistory)
			protected.POST("/credits/checkout", handlers.CreateTopupCheckout)

			// Admin endpoints
			admin := protected.Group("/admin")
			admin.Use(auth.AdminOnlyMiddleware())
			{
				admin.POST("/adjust-balance", handlers.AdminAdjustBalance)
			}
		}

		// Webhook endpoints (no auth required, signature-verified)
		router.POST("/webhooks/stripe", handlers.HandleStripeWebhook)

		// Metering ingestion endpoints (service-to-service)
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/metering/ingest", handlers.IngestConsumptionReport)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("sunvault", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
