// Command notifier consumes document change events from AMQP and sends the
// matching notification emails.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/config"
	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/amqp"
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
	_ = config.LoadDotEnv(".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel).With(zap.String("component", "notifier"))
	defer logger.Sync()

	if cfg.AMQPURL == "" {
		logger.Fatal("AMQP_URL is required for the notifier")
	}

	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "splitly-notifier")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- User lookups ---
	var store port.DocumentStore
	switch cfg.StoreBackend {
	case "rest":
		store = docstore.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.StoreURL,
			cfg.StoreAPIKey,
			resilience.NewCircuitBreaker("docstore"),
			logger,
		)
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			logger.Fatal("failed to open sqlite store", zap.Error(err))
		}
		defer s.Close()
		store = s
	default:
		logger.Fatal("unknown STORE_BACKEND", zap.String("store_backend", cfg.StoreBackend))
	}

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

	notifier := service.NewNotificationService(repository.NewUsers(store), mailer, metrics, logger, service.NotifierConfig{
		From:   cfg.MailFrom,
		AppURL: cfg.AppURL,
	})

	// --- Broker ---
	dialCtx, cancel := context.WithTimeout(ctx, time.Minute)
	client, err := amqp.Dial(dialCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatal("failed to connect to AMQP", zap.Error(err))
	}
	defer client.Close()

	handle := func(ctx context.Context, event *domain.DocumentEvent) error {
		metrics.IncrEvent("amqp", event.Kind)
		return notifier.Dispatch(ctx, event)
	}

	logger.Info("notifier started",
		zap.String("queue", cfg.AMQPQueue),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
	)
	err = client.Consume(ctx, resilience.NewBulkhead(cfg.MaxConcurrency), cfg.AMQPPrefetch, handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
		return
	}
	logger.Info("notifier stopped")
}
