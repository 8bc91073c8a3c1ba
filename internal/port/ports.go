// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
)

//go:generate mockgen -destination=mocks/mailer_mock.go -package=mocks . Mailer

// DocumentStore is the read side of the document database.
// GetDocument returns (nil, nil) when the document does not exist.
type DocumentStore interface {
	GetDocument(ctx context.Context, collection, id string) (*domain.Document, error)
	QueryDocuments(ctx context.Context, collection string, filters []domain.Filter) ([]domain.Document, error)
}

// DocumentWriter is the write side of stores that own their data and emit
// change events.
type DocumentWriter interface {
	CreateDocument(ctx context.Context, path string, data any) error
	UpdateDocument(ctx context.Context, path string, data any) error
}

// DocumentEventHandler receives document change events from the storage layer.
type DocumentEventHandler interface {
	OnDocumentCreated(ctx context.Context, path string, after json.RawMessage) error
	OnDocumentUpdated(ctx context.Context, path string, before, after json.RawMessage) error
}

// EventPublisher forwards change events to asynchronous consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.DocumentEvent) error
}

// UserReader looks up user profiles.
// GetUser returns *domain.ErrNotFound when the user does not exist.
type UserReader interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// ExpenseReader lists the expenses a user paid for or participates in with
// a date in [from, to).
type ExpenseReader interface {
	ListForUser(ctx context.Context, userID string, from, to time.Time) ([]domain.Expense, error)
}

// Mailer sends a single email.
type Mailer interface {
	Send(ctx context.Context, msg *domain.EmailMessage) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
