package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Expense collections. Group expenses live in "expenses"; direct expenses in
// "directExpenses".
const (
	ExpensesCollection       = "expenses"
	DirectExpensesCollection = "directExpenses"
)

var _ port.ExpenseReader = (*Expenses)(nil)

// Expenses reads the expenses a user is involved in.
type Expenses struct {
	store       port.DocumentStore
	collections []string
}

// NewExpenses creates an expense repository over both expense collections.
func NewExpenses(store port.DocumentStore) *Expenses {
	return &Expenses{
		store:       store,
		collections: []string{ExpensesCollection, DirectExpensesCollection},
	}
}

// dateSlack pads the date window sent to the store. The remote store compares
// dates as text, so a date stored with a non-UTC offset can sort up to 14h
// away from its instant. The exact bounds are checked after the fetch.
const dateSlack = 24 * time.Hour

// membership fields: a user is involved as payer, direct participant or
// group member.
var membership = []struct {
	field string
	op    domain.FilterOp
}{
	{"payerId", domain.OpEq},
	{"participantId", domain.OpEq},
	{"memberIds", domain.OpArrayContains},
}

// ListForUser returns every expense the user paid for or takes part in with
// a date in [from, to), ordered by date then id. The membership queries run
// concurrently; any failure fails the whole call with *domain.ErrFetchFailure.
func (r *Expenses) ListForUser(ctx context.Context, userID string, from, to time.Time) ([]domain.Expense, error) {
	ctx, span := tracer.Start(ctx, "Expenses.ListForUser")
	defer span.End()

	var (
		mu   sync.Mutex
		seen = make(map[string]domain.Expense)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, collection := range r.collections {
		for _, m := range membership {
			collection, m := collection, m
			g.Go(func() error {
				docs, err := r.store.QueryDocuments(gctx, collection, []domain.Filter{
					{Field: m.field, Op: m.op, Value: userID},
					{Field: "date", Op: domain.OpGte, Value: from.Add(-dateSlack)},
					{Field: "date", Op: domain.OpLt, Value: to.Add(dateSlack)},
				})
				if err != nil {
					return fmt.Errorf("query %s by %s: %w", collection, m.field, err)
				}

				decoded := make([]domain.Expense, 0, len(docs))
				for i := range docs {
					var e domain.Expense
					if err := docs[i].Decode(&e); err != nil {
						return err
					}
					if e.ID == "" {
						e.ID = docs[i].ID
					}
					decoded = append(decoded, e)
				}

				mu.Lock()
				defer mu.Unlock()
				for _, e := range decoded {
					seen[collection+"/"+e.ID] = e
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, &domain.ErrFetchFailure{Operation: "expenses.list", Err: err}
	}

	out := make([]domain.Expense, 0, len(seen))
	for _, e := range seen {
		// exact [from, to) on the decoded instant
		if e.Date.Before(from) || !e.Date.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})

	span.SetAttributes(attribute.Int("expenses.count", len(out)))
	return out, nil
}
