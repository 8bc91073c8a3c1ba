package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/config"
	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/handler"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/amqp"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/cache"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/docstore"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/mail"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/observability"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/repository"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/sqlite"
	"github.com/boddenberg/splitly-bfa-go/internal/port"
	"github.com/boddenberg/splitly-bfa-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("report_timezone", cfg.ReportTimezone),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Bool("mail_configured", cfg.MailConfigured()),
		zap.Bool("amqp_configured", cfg.AMQPURL != ""),
		zap.Bool("dev_endpoints", cfg.DevEndpoints),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "splitly-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Document store ---
	var store port.DocumentStore
	var sqliteStore *sqlite.Store
	health := map[string]handler.Pinger{}

	switch cfg.StoreBackend {
	case "rest":
		logger.Info("using remote document API", zap.String("store_url", cfg.StoreURL))
		client := docstore.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.StoreURL,
			cfg.StoreAPIKey,
			resilience.NewCircuitBreaker("docstore"),
			logger,
		)
		store = client
		health["docstore"] = client
	case "sqlite":
		logger.Info("using embedded sqlite store", zap.String("path", cfg.SQLitePath))
		sqliteStore, err = sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			logger.Fatal("failed to open sqlite store", zap.Error(err))
		}
		defer sqliteStore.Close()
		store = sqliteStore
		health["sqlite"] = sqliteStore
	default:
		logger.Fatal("unknown STORE_BACKEND", zap.String("store_backend", cfg.StoreBackend))
	}

	users := repository.NewUsers(store)
	expenses := repository.NewExpenses(store)

	// --- Mail ---
	smtpMailer, err := mail.NewSMTPMailer(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		Timeout:  cfg.HTTPTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create mailer", zap.Error(err))
	}
	var mailer port.Mailer
	if smtpMailer != nil {
		mailer = smtpMailer
	} else {
		logger.Warn("mail: SMTP not configured, notifications will be skipped")
	}

	// --- Services ---
	resolver := service.NewPeriodResolver(loc, nil)
	reportCache := cache.New[*domain.SpendingReport](cfg.CacheTTL)
	defer reportCache.Close()

	reportSvc := service.NewReportService(expenses, resolver, reportCache, metrics, logger, service.ReportConfig{
		TopN:          cfg.TopExpensesN,
		OtherCategory: cfg.OtherCategory,
	})
	exportSvc := service.NewExportService(expenses, resolver, metrics, logger)
	notifier := service.NewNotificationService(users, mailer, metrics, logger, service.NotifierConfig{
		From:   cfg.MailFrom,
		AppURL: cfg.AppURL,
	})
	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.JWTIssuer, logger)

	// --- Events ---
	var publisher port.EventPublisher
	if cfg.AMQPURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		amqpClient, err := amqp.Dial(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, resilienceCfg, logger)
		cancel()
		if err != nil {
			logger.Fatal("failed to connect to AMQP", zap.Error(err))
		}
		defer amqpClient.Close()
		publisher = amqpClient
		logger.Info("events: forwarding to AMQP", zap.String("queue", cfg.AMQPQueue))
	}

	var documents port.DocumentWriter
	if sqliteStore != nil {
		if publisher != nil {
			sqliteStore.SetEventHandler(service.EventHandlers{reportSvc, service.NewEventForwarder(publisher, logger)})
		} else {
			sqliteStore.SetEventHandler(service.EventHandlers{reportSvc, notifier})
		}
		if cfg.DevEndpoints {
			documents = sqliteStore
		}
	}

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Reports:        reportSvc,
		Exports:        exportSvc,
		Notifier:       notifier,
		Auth:           authSvc,
		Metrics:        metrics,
		Logger:         logger,
		Publisher:      publisher,
		Documents:      documents,
		Health:         health,
		EventSecret:    cfg.EventSecret,
		Bulkhead:       bulkhead,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
