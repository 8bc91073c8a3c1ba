package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ port.DocumentEventHandler = (*EventForwarder)(nil)

// EventForwarder hands store change events to a queue instead of handling
// them in-process. Publish failures are logged; the write still succeeds.
type EventForwarder struct {
	publisher port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewEventForwarder creates a forwarder.
func NewEventForwarder(publisher port.EventPublisher, logger *zap.Logger) *EventForwarder {
	return &EventForwarder{publisher: publisher, logger: logger, now: time.Now}
}

// OnDocumentCreated publishes a created event.
func (f *EventForwarder) OnDocumentCreated(ctx context.Context, path string, after json.RawMessage) error {
	return f.forward(ctx, &domain.DocumentEvent{Kind: domain.EventCreated, Path: path, After: after})
}

// OnDocumentUpdated publishes an updated event.
func (f *EventForwarder) OnDocumentUpdated(ctx context.Context, path string, before, after json.RawMessage) error {
	return f.forward(ctx, &domain.DocumentEvent{Kind: domain.EventUpdated, Path: path, Before: before, After: after})
}

func (f *EventForwarder) forward(ctx context.Context, event *domain.DocumentEvent) error {
	event.EventID = uuid.NewString()
	event.OccurredAt = f.now().UTC()

	if err := f.publisher.Publish(ctx, event); err != nil {
		f.logger.Error("event forward failed",
			zap.String("event_id", event.EventID),
			zap.String("path", event.Path),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s event for %s: %w", event.Kind, event.Path, err)
	}
	return nil
}

// EventHandlers passes each store event to every handler in order. A failing
// handler does not stop the ones after it.
type EventHandlers []port.DocumentEventHandler

var _ port.DocumentEventHandler = EventHandlers(nil)

// OnDocumentCreated fans a created event out.
func (hs EventHandlers) OnDocumentCreated(ctx context.Context, path string, after json.RawMessage) error {
	var errs []error
	for _, h := range hs {
		if err := h.OnDocumentCreated(ctx, path, after); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnDocumentUpdated fans an updated event out.
func (hs EventHandlers) OnDocumentUpdated(ctx context.Context, path string, before, after json.RawMessage) error {
	var errs []error
	for _, h := range hs {
		if err := h.OnDocumentUpdated(ctx, path, before, after); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
