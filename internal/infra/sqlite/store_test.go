package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedEvent struct {
	kind   domain.EventKind
	path   string
	before json.RawMessage
	after  json.RawMessage
}

type recordingHandler struct {
	events []recordedEvent
}

func (h *recordingHandler) OnDocumentCreated(_ context.Context, path string, after json.RawMessage) error {
	h.events = append(h.events, recordedEvent{kind: domain.EventCreated, path: path, after: after})
	return nil
}

func (h *recordingHandler) OnDocumentUpdated(_ context.Context, path string, before, after json.RawMessage) error {
	h.events = append(h.events, recordedEvent{kind: domain.EventUpdated, path: path, before: before, after: after})
	return errors.New("ignored by the store")
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "nested", "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CreateAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, "users/A", domain.User{Email: "ana@example.com", DisplayName: "Ana"}))

	doc, err := store.GetDocument(ctx, "users", "A")
	require.NoError(t, err)
	require.NotNil(t, doc)

	var u domain.User
	require.NoError(t, doc.Decode(&u))
	assert.Equal(t, "Ana", u.DisplayName)

	missing, err := store.GetDocument(ctx, "users", "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_CreateTwiceFails(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, "users/A", domain.User{Email: "a@example.com"}))
	err := store.CreateDocument(ctx, "users/A", domain.User{Email: "a@example.com"})

	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestStore_RejectsCollectionPath(t *testing.T) {
	store := openStore(t)

	err := store.CreateDocument(context.Background(), "users/B/friends", domain.FriendRequest{})
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestStore_SubcollectionsAreIsolated(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, "users/A/friends/x", domain.FriendRequest{Status: domain.FriendStatusPending, RequestedBy: "A"}))
	require.NoError(t, store.CreateDocument(ctx, "users/B/friends/x", domain.FriendRequest{Status: domain.FriendStatusPending, RequestedBy: "A"}))

	docs, err := store.QueryDocuments(ctx, "/users/B/friends/", nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestStore_QueryFilters(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	seed := []domain.Expense{
		{ID: "e1", PayerID: "A", ParticipantID: "B", Amount: decimal.NewFromInt(10), Date: time.Date(2024, 2, 28, 23, 0, 0, 0, time.UTC)},
		{ID: "e2", PayerID: "A", GroupID: "g1", MemberIDs: []string{"A", "C"}, Amount: decimal.NewFromInt(20), Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "e3", PayerID: "C", GroupID: "g1", MemberIDs: []string{"A", "C"}, Amount: decimal.NewFromInt(30), Date: time.Date(2024, 3, 15, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600))},
		{ID: "e4", PayerID: "B", ParticipantID: "C", Amount: decimal.NewFromInt(40), Date: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, e := range seed {
		require.NoError(t, store.CreateDocument(ctx, "expenses/"+e.ID, e))
	}

	byPayer, err := store.QueryDocuments(ctx, "expenses", []domain.Filter{
		{Field: "payerId", Op: domain.OpEq, Value: "A"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, ids(byPayer))

	byMember, err := store.QueryDocuments(ctx, "expenses", []domain.Filter{
		{Field: "memberIds", Op: domain.OpArrayContains, Value: "A"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e3"}, ids(byMember))

	march, err := store.QueryDocuments(ctx, "expenses", []domain.Filter{
		{Field: "date", Op: domain.OpGte, Value: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{Field: "date", Op: domain.OpLt, Value: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e3"}, ids(march))
}

func TestStore_RejectsInvalidField(t *testing.T) {
	store := openStore(t)

	_, err := store.QueryDocuments(context.Background(), "expenses", []domain.Filter{
		{Field: "payerId') OR 1=1 --", Op: domain.OpEq, Value: "A"},
	})
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestStore_FiresEvents(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	h := &recordingHandler{}
	store.SetEventHandler(h)

	pending := domain.FriendRequest{Status: domain.FriendStatusPending, RequestedBy: "A", FriendUserID: "A"}
	require.NoError(t, store.CreateDocument(ctx, "users/B/friends/x", pending))

	accepted := pending
	accepted.Status = domain.FriendStatusAccepted
	// handler errors never fail the write
	require.NoError(t, store.UpdateDocument(ctx, "users/B/friends/x", accepted))

	require.Len(t, h.events, 2)
	assert.Equal(t, domain.EventCreated, h.events[0].kind)
	assert.Equal(t, "users/B/friends/x", h.events[0].path)

	assert.Equal(t, domain.EventUpdated, h.events[1].kind)
	var before, after domain.FriendRequest
	require.NoError(t, json.Unmarshal(h.events[1].before, &before))
	require.NoError(t, json.Unmarshal(h.events[1].after, &after))
	assert.True(t, before.IsPending())
	assert.True(t, after.IsAccepted())
}

func TestStore_UpdateMissing(t *testing.T) {
	store := openStore(t)

	err := store.UpdateDocument(context.Background(), "users/B/friends/x", domain.FriendRequest{})
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splitly.db")
	ctx := context.Background()

	first, err := sqlite.Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.CreateDocument(ctx, "users/A", domain.User{Email: "a@example.com"}))
	require.NoError(t, first.Close())

	second, err := sqlite.Open(path, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	doc, err := second.GetDocument(ctx, "users", "A")
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func ids(docs []domain.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
