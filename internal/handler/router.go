package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/observability"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/splitly-bfa-go/internal/port"
	"github.com/boddenberg/splitly-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger is a dependency that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the router wires into handlers. Reports, Exports,
// Notifier, Auth, Metrics and Logger are required; the rest are optional.
type Deps struct {
	Reports  *service.ReportService
	Exports  *service.ExportService
	Notifier *service.NotificationService
	Auth     *service.AuthService
	Metrics  *observability.Metrics
	Logger   *zap.Logger

	// Publisher, when set, receives webhook events instead of the
	// in-process dispatcher.
	Publisher port.EventPublisher
	// Documents enables the /v1/dev/documents endpoints.
	Documents port.DocumentWriter
	// Health lists the dependencies probed by /healthz, by name.
	Health map[string]Pinger

	EventSecret    string
	Bulkhead       *resilience.Bulkhead
	AllowedOrigins []string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if d.Bulkhead == nil {
		d.Bulkhead = resilience.NewBulkhead(50)
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", eventSecretHeader},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Health, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Metrics
		// GET /v1/metrics/notifications
		// =============================================
		r.Get("/metrics/notifications", notificationMetricsHandler(d.Metrics))

		// =============================================
		// 2. Document change events
		// POST /v1/events
		// =============================================
		r.Post("/events", eventsHandler(d.Reports, d.Notifier, d.Publisher, d.Bulkhead, d.EventSecret, d.Metrics, logger))

		// =============================================
		// 3. Spending reports (protected)
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(d.Auth, logger))

			r.Get("/reports", reportHandler(d.Reports, logger))
			r.Get("/reports/summary", summaryHandler(d.Reports, logger))
			r.Get("/reports/categories", categoriesHandler(d.Reports, logger))
			r.Get("/reports/groups", groupsHandler(d.Reports, logger))
			r.Get("/reports/trend", trendHandler(d.Reports, logger))
			r.Get("/reports/top", topExpensesHandler(d.Reports, logger))

			r.Get("/reports/export.csv", exportCSVHandler(d.Exports, logger))
			r.Get("/reports/export.xlsx", exportXLSXHandler(d.Exports, logger))
		})

		// =============================================
		// Dev tools (testing helpers)
		// =============================================
		if d.Documents != nil {
			r.Post("/dev/documents", devCreateDocumentHandler(d.Documents, logger))
			r.Put("/dev/documents", devUpdateDocumentHandler(d.Documents, logger))
		}
	})

	return r
}

// ============================================================
// Health & metrics
// ============================================================

func healthzHandler(deps map[string]Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		services := []domain.ServiceHealth{{Name: "bfa-api", Status: "healthy"}}
		overall := "healthy"

		for name, dep := range deps {
			start := time.Now()
			err := dep.Ping(ctx)
			h := domain.ServiceHealth{
				Name:      name,
				Status:    "healthy",
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				h.Status = "degraded"
				h.Detail = err.Error()
				overall = "degraded"
			}
			services = append(services, h)
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func notificationMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetNotificationSnapshot())
	}
}
