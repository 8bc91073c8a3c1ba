package handler_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/handler"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/cache"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/observability"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/repository"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/sqlite"
	"github.com/boddenberg/splitly-bfa-go/internal/port"
	"github.com/boddenberg/splitly-bfa-go/internal/port/mocks"
	"github.com/boddenberg/splitly-bfa-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

const (
	testSecret      = "test-secret"
	testEventSecret = "hook-secret"
)

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	router http.Handler
	store  *sqlite.Store
	mailer *mocks.MockMailer
}

type envOptions struct {
	expenses  port.ExpenseReader
	publisher port.EventPublisher
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var expenses port.ExpenseReader = repository.NewExpenses(store)
	if opts.expenses != nil {
		expenses = opts.expenses
	}

	resolver := service.NewPeriodResolver(time.UTC, func() time.Time { return fixedNow })
	reportCache := cache.New[*domain.SpendingReport](time.Minute)
	t.Cleanup(reportCache.Close)

	mailer := mocks.NewMockMailer(gomock.NewController(t))
	notifier := service.NewNotificationService(repository.NewUsers(store), mailer, metrics, logger, service.NotifierConfig{
		From:   "Splitly <no-reply@splitly.app>",
		AppURL: "https://splitly.app",
	})
	reports := service.NewReportService(expenses, resolver, reportCache, metrics, logger, service.DefaultReportConfig())
	store.SetEventHandler(service.EventHandlers{reports, notifier})

	router := handler.NewRouter(handler.Deps{
		Reports:     reports,
		Exports:     service.NewExportService(expenses, resolver, metrics, logger),
		Notifier:    notifier,
		Auth:        service.NewAuthService(testSecret, "", logger),
		Metrics:     metrics,
		Logger:      logger,
		Publisher:   opts.publisher,
		Documents:   store,
		Health:      map[string]handler.Pinger{"sqlite": store},
		EventSecret: testEventSecret,
	})
	return &testEnv{router: router, store: store, mailer: mailer}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, service.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, target, token string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedExpenses(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	expenses := []domain.Expense{
		{ID: "e1", PayerID: "A", ParticipantID: "B", Description: "Lunch, with \"Bruno\"", Category: "Food",
			Amount: decimal.NewFromInt(30), ParticipantOwedAmount: decimal.NewFromInt(15), CurrencyCode: "EUR",
			Date: time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)},
		{ID: "e2", PayerID: "B", ParticipantID: "A", Description: "Taxi", Category: "Transport",
			Amount: decimal.NewFromInt(20), ParticipantOwedAmount: decimal.NewFromInt(10), CurrencyCode: "EUR",
			Date: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)},
		{ID: "e0", PayerID: "A", ParticipantID: "B", Description: "Cinema", Category: "Fun",
			Amount: decimal.NewFromInt(8), ParticipantOwedAmount: decimal.NewFromInt(4), CurrencyCode: "EUR",
			Date: time.Date(2024, 2, 20, 20, 0, 0, 0, time.UTC)},
	}
	// direct expense creations email the participant
	e.mailer.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	for _, exp := range expenses {
		require.NoError(t, e.store.CreateDocument(ctx, "directExpenses/"+exp.ID, exp))
	}
}

// ============================================================
// Operational endpoints
// ============================================================

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/healthz", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var health domain.HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "healthy" || len(health.Services) != 2 {
		t.Errorf("unexpected health %+v", health)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/readyz", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/metrics", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestNotificationMetrics(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/v1/metrics/notifications", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var m domain.NotificationMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Zero(t, m.Sent)
}

// ============================================================
// Reports
// ============================================================

func TestReports_RequireToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for _, target := range []string{"/v1/reports", "/v1/reports/summary", "/v1/reports/export.csv"} {
		rec := env.do(t, http.MethodGet, target, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}

	rec := env.do(t, http.MethodGet, "/v1/reports", "not-a-jwt", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReports_FullReport(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seedExpenses(t)

	rec := env.do(t, http.MethodGet, "/v1/reports?period=thisMonth", signToken(t, "A"), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep domain.SpendingReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))

	assert.Equal(t, "A", rep.UserID)
	assert.Equal(t, domain.GranularityDay, rep.Granularity)
	require.NotNil(t, rep.Summary)
	// A paid 30 in full and owes 10 of the taxi
	assert.True(t, decimal.NewFromInt(40).Equal(rep.Summary.TotalSpent), rep.Summary.TotalSpent.String())
	assert.Equal(t, 2, rep.Summary.TransactionCount)
	assert.True(t, decimal.NewFromInt(8).Equal(rep.Summary.PreviousPeriodTotal))
	assert.True(t, rep.Summary.IsIncrease)
	// Mar 1 through Mar 15
	assert.Len(t, rep.Trend, 15)
	require.Len(t, rep.TopExpenses, 2)
	assert.Equal(t, "e1", rep.TopExpenses[0].ID)
}

func TestReports_NewExpenseReachesCachedReport(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	token := signToken(t, "A")

	rec := env.do(t, http.MethodGet, "/v1/reports/summary", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var before domain.SpendingSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &before))
	assert.True(t, before.TotalSpent.IsZero())

	env.seedExpenses(t)

	rec = env.do(t, http.MethodGet, "/v1/reports/summary", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var after domain.SpendingSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.True(t, decimal.NewFromInt(40).Equal(after.TotalSpent), after.TotalSpent.String())
}

func TestReports_SingleViews(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seedExpenses(t)
	token := signToken(t, "A")

	rec := env.do(t, http.MethodGet, "/v1/reports/categories?period=this-month", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cats struct {
		ByCategory map[string]domain.CatSum `json:"byCategory"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cats))
	assert.Len(t, cats.ByCategory, 2)
	assert.True(t, decimal.NewFromInt(30).Equal(cats.ByCategory["Food"].Total))

	rec = env.do(t, http.MethodGet, "/v1/reports/trend?period=thisYear", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trend struct {
		Granularity domain.Granularity           `json:"granularity"`
		Trend       []domain.TimeSeriesDataPoint `json:"trend"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trend))
	assert.Equal(t, domain.GranularityMonth, trend.Granularity)
	assert.Len(t, trend.Trend, 3)

	for _, target := range []string{"/v1/reports/summary", "/v1/reports/groups", "/v1/reports/top"} {
		rec := env.do(t, http.MethodGet, target, token, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}
}

func TestReports_UnknownPeriod(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/v1/reports?period=fortnight", signToken(t, "A"), nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingExpenses struct{}

func (failingExpenses) ListForUser(context.Context, string, time.Time, time.Time) ([]domain.Expense, error) {
	return nil, &domain.ErrFetchFailure{Operation: "expenses.list", Err: errors.New("connection refused")}
}

func TestReports_FetchFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t, envOptions{expenses: failingExpenses{}})

	rec := env.do(t, http.MethodGet, "/v1/reports", signToken(t, "A"), nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seedExpenses(t)

	rec := env.do(t, http.MethodGet, "/v1/reports/export.csv", signToken(t, "A"), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "splitly-thisMonth.csv")

	rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"date", "description", "category", "amount", "payer", "group"}, rows[0])
	assert.Equal(t, "Lunch, with \"Bruno\"", rows[1][1])
	assert.Equal(t, "30.00", rows[1][3])
	assert.Equal(t, "20.00", rows[2][3])
}

func TestExportXLSX(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seedExpenses(t)

	rec := env.do(t, http.MethodGet, "/v1/reports/export.xlsx?period=lastMonth", signToken(t, "A"), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	// xlsx is a zip archive
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

// ============================================================
// Events webhook
// ============================================================

func seedFriends(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.store.CreateDocument(ctx, "users/A", domain.User{Email: "ana@example.com", DisplayName: "Ana"}))
	require.NoError(t, env.store.CreateDocument(ctx, "users/B", domain.User{Email: "bruno@example.com"}))
}

const friendRequestEvent = `{"kind":"created","path":"users/B/friends/x","after":{"status":"pending","requestedBy":"A","friendUserId":"A","friendEmail":"ana@example.com"}}`

func TestEvents_DispatchesFriendRequest(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	seedFriends(t, env)

	env.mailer.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg *domain.EmailMessage) error {
		assert.Equal(t, "bruno@example.com", msg.To)
		assert.Contains(t, msg.Subject, "Ana")
		return nil
	}).Times(1)

	rec := env.do(t, http.MethodPost, "/v1/events", "", []byte(friendRequestEvent), map[string]string{"X-Event-Secret": testEventSecret})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp domain.SuccessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
}

func TestEvents_Rejections(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name   string
		body   string
		secret string
		want   int
	}{
		{"missing secret", friendRequestEvent, "", http.StatusUnauthorized},
		{"wrong secret", friendRequestEvent, "nope", http.StatusUnauthorized},
		{"malformed json", `{"kind":`, testEventSecret, http.StatusBadRequest},
		{"unknown kind", `{"kind":"deleted","path":"users/B/friends/x"}`, testEventSecret, http.StatusBadRequest},
		{"update without before", `{"kind":"updated","path":"users/B/friends/x","after":{}}`, testEventSecret, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/events", "", []byte(tt.body), map[string]string{"X-Event-Secret": tt.secret})
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestEvents_NotificationFailureStillAccepted(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	seedFriends(t, env)

	env.mailer.EXPECT().Send(gomock.Any(), gomock.Any()).Return(&domain.ErrTransportFailure{To: "bruno@example.com", Err: errors.New("421")}).Times(1)

	rec := env.do(t, http.MethodPost, "/v1/events", "", []byte(friendRequestEvent), map[string]string{"X-Event-Secret": testEventSecret})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*domain.DocumentEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event *domain.DocumentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func TestEvents_QueuedWhenPublisherConfigured(t *testing.T) {
	pub := &capturePublisher{}
	env := newTestEnv(t, envOptions{publisher: pub})
	seedFriends(t, env)

	rec := env.do(t, http.MethodPost, "/v1/events", "", []byte(friendRequestEvent), map[string]string{"X-Event-Secret": testEventSecret})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, pub.events, 1)
	assert.NotEmpty(t, pub.events[0].EventID)
	assert.False(t, pub.events[0].OccurredAt.IsZero())
}

func TestEvents_PublishFailureFallsBackToDispatch(t *testing.T) {
	env := newTestEnv(t, envOptions{publisher: &capturePublisher{err: errors.New("channel closed")}})
	seedFriends(t, env)

	env.mailer.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	rec := env.do(t, http.MethodPost, "/v1/events", "", []byte(friendRequestEvent), map[string]string{"X-Event-Secret": testEventSecret})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

// ============================================================
// Dev documents
// ============================================================

func TestDevDocuments_WritesFireNotifications(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	seedFriends(t, env)

	var sent []*domain.EmailMessage
	env.mailer.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg *domain.EmailMessage) error {
		sent = append(sent, msg)
		return nil
	}).Times(2)

	create := `{"path":"users/B/friends/x","data":{"status":"pending","requestedBy":"A","friendUserId":"A","friendEmail":"ana@example.com"}}`
	rec := env.do(t, http.MethodPost, "/v1/dev/documents", "", []byte(create), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	accept := `{"path":"users/B/friends/x","data":{"status":"accepted","requestedBy":"A","friendUserId":"A","friendEmail":"ana@example.com"}}`
	rec = env.do(t, http.MethodPut, "/v1/dev/documents", "", []byte(accept), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// accepted -> accepted sends nothing
	rec = env.do(t, http.MethodPut, "/v1/dev/documents", "", []byte(accept), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, sent, 2)
	assert.Equal(t, "bruno@example.com", sent[0].To)
	assert.Equal(t, "ana@example.com", sent[1].To)
}

func TestDevDocuments_StatusOnlyAcceptEmailsRequester(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	seedFriends(t, env)

	var sent []*domain.EmailMessage
	env.mailer.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg *domain.EmailMessage) error {
		sent = append(sent, msg)
		return nil
	}).Times(2)

	create := `{"path":"users/B/friends/x","data":{"status":"pending","requestedBy":"A","friendUserId":"A","friendEmail":"ana@example.com"}}`
	rec := env.do(t, http.MethodPost, "/v1/dev/documents", "", []byte(create), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// the update replaces the document with just the new status
	rec = env.do(t, http.MethodPut, "/v1/dev/documents", "", []byte(`{"path":"users/B/friends/x","data":{"status":"accepted"}}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, sent, 2)
	assert.Equal(t, "ana@example.com", sent[1].To)
}

func TestDevDocuments_Errors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodPost, "/v1/dev/documents", "", []byte(`{"path":"users"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/dev/documents", "", []byte(`{"path":"users/nobody","data":{"email":"x@example.com"}}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
