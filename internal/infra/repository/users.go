// Package repository maps raw documents to domain types on top of a
// port.DocumentStore.
package repository

import (
	"context"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("repository")

// UsersCollection holds user profiles.
const UsersCollection = "users"

var _ port.UserReader = (*Users)(nil)

// Users reads user profiles.
type Users struct {
	store port.DocumentStore
}

// NewUsers creates a user repository.
func NewUsers(store port.DocumentStore) *Users {
	return &Users{store: store}
}

// GetUser returns *domain.ErrNotFound when users/{id} does not exist and
// *domain.ErrFetchFailure when the store fails or the body is malformed.
func (r *Users) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Users.GetUser")
	defer span.End()

	if userID == "" {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}

	doc, err := r.store.GetDocument(ctx, UsersCollection, userID)
	if err != nil {
		return nil, &domain.ErrFetchFailure{Operation: "users.get", Err: err}
	}
	if doc == nil {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}

	var u domain.User
	if err := doc.Decode(&u); err != nil {
		return nil, &domain.ErrFetchFailure{Operation: "users.get", Err: err}
	}
	u.ID = userID
	return &u, nil
}
