package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// CORS / dev helpers
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	DevEndpoints       bool     `envconfig:"DEV_ENDPOINTS" default:"false"`

	// Document store: "rest" talks to the remote document API,
	// "sqlite" uses the embedded store.
	StoreBackend string `envconfig:"STORE_BACKEND" default:"sqlite"`
	StoreURL     string `envconfig:"STORE_URL"`
	StoreAPIKey  string `envconfig:"STORE_API_KEY"`
	SQLitePath   string `envconfig:"SQLITE_PATH" default:"./data/splitly.db"`

	// HTTP client
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`

	// Resilience
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"5"`
	InitialBackoff time.Duration `envconfig:"INITIAL_BACKOFF" default:"200ms"`
	MaxConcurrency int           `envconfig:"MAX_CONCURRENCY" default:"50"`

	// Reports
	CacheTTL       time.Duration `envconfig:"CACHE_TTL" default:"0s"`
	ReportTimezone string        `envconfig:"REPORT_TIMEZONE" default:"UTC"`
	TopExpensesN   int           `envconfig:"TOP_EXPENSES_N" default:"5"`
	OtherCategory  string        `envconfig:"OTHER_CATEGORY" default:"Other"`

	// Mail. An empty SMTPHost leaves the transport unconfigured.
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	MailFrom     string `envconfig:"MAIL_FROM" default:"Splitly <no-reply@splitly.app>"`
	AppURL       string `envconfig:"APP_URL" default:"https://splitly.app"`

	// Events
	EventSecret  string `envconfig:"EVENT_SECRET"`
	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"splitly.documents"`
	AMQPQueue    string `envconfig:"AMQP_QUEUE" default:"splitly.notifications"`
	AMQPPrefetch int    `envconfig:"AMQP_PREFETCH" default:"10"`

	// Observability
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`

	// JWT / Auth
	JWTSecret string `envconfig:"JWT_SECRET" default:"splitly-default-dev-secret-change-me"`
	JWTIssuer string `envconfig:"JWT_ISSUER"`
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process config: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location resolves ReportTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_TIMEZONE %q: %w", c.ReportTimezone, err)
	}
	return loc, nil
}

// MailConfigured reports whether an SMTP transport can be built.
func (c *Config) MailConfigured() bool {
	return c.SMTPHost != ""
}
