package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/observability"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/splitly-bfa-go/internal/port"
	"github.com/boddenberg/splitly-bfa-go/internal/service"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const eventSecretHeader = "X-Event-Secret"

// ============================================================
// Document change webhook: POST /v1/events
// ============================================================

// eventsHandler accepts a change event pushed by the document store. The
// event is queued when a publisher is configured and dispatched in-process
// otherwise. Cached reports of the users an expense involves are dropped
// first. Notification outcomes never change the response.
func eventsHandler(
	reports *service.ReportService,
	notifier *service.NotificationService,
	publisher port.EventPublisher,
	bulkhead *resilience.Bulkhead,
	secret string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/events")
		defer span.End()

		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(eventSecretHeader)), []byte(secret)) != 1 {
			logger.Warn("events: bad or missing secret", zap.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "invalid event secret")
			return
		}

		var event domain.DocumentEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := event.Validate(); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if event.EventID == "" {
			event.EventID = uuid.NewString()
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now().UTC()
		}
		span.SetAttributes(
			attribute.String("event.id", event.EventID),
			attribute.String("event.kind", string(event.Kind)),
			attribute.String("event.path", event.Path),
		)
		metrics.IncrEvent("webhook", event.Kind)
		reports.InvalidateEvent(ctx, &event)

		if publisher != nil {
			err := publisher.Publish(ctx, &event)
			if err == nil {
				writeJSON(w, http.StatusAccepted, domain.SuccessResponse{Message: "event queued", ID: event.EventID})
				return
			}
			logger.Warn("events: publish failed, dispatching in-process",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}

		if err := bulkhead.Acquire(ctx); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		defer bulkhead.Release()

		var ve *domain.ErrValidation
		if err := notifier.Dispatch(ctx, &event); errors.As(err, &ve) {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusAccepted, domain.SuccessResponse{Message: "event accepted", ID: event.EventID})
	}
}
