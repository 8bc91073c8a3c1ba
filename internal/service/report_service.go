package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/observability"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var reportTracer = otel.Tracer("service/report")

var _ port.DocumentEventHandler = (*ReportService)(nil)

// ReportConfig carries the fallback values the aggregation uses.
type ReportConfig struct {
	// TopN caps the top-expenses list.
	TopN int
	// OtherCategory labels records without a category.
	OtherCategory string
}

// DefaultReportConfig returns the deployment defaults.
func DefaultReportConfig() ReportConfig {
	return ReportConfig{TopN: 5, OtherCategory: "Other"}
}

// AggregateOptions tunes a single Aggregate call.
type AggregateOptions struct {
	// Refresh skips the cached report and replaces it.
	Refresh bool
}

// ReportService builds spending reports from the user's expenses.
type ReportService struct {
	expenses port.ExpenseReader
	resolver *PeriodResolver
	cache    port.Cache[*domain.SpendingReport]
	metrics  *observability.Metrics
	logger   *zap.Logger
	cfg      ReportConfig
}

// NewReportService creates the report service with all dependencies injected.
func NewReportService(
	expenses port.ExpenseReader,
	resolver *PeriodResolver,
	cache port.Cache[*domain.SpendingReport],
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg ReportConfig,
) *ReportService {
	if cfg.OtherCategory == "" {
		cfg.OtherCategory = DefaultReportConfig().OtherCategory
	}
	return &ReportService{
		expenses: expenses,
		resolver: resolver,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Aggregate returns the five report views for the user and period. All
// views come from one fetch of [PreviousStart, End); any failure fails the
// whole report.
func (s *ReportService) Aggregate(ctx context.Context, userID string, period domain.Period, opts AggregateOptions) (*domain.SpendingReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := reportTracer.Start(ctx, "ReportService.Aggregate")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("report.period", string(period)),
		attribute.Bool("report.refresh", opts.Refresh),
	)

	if userID == "" {
		return nil, &domain.ErrNotAuthenticated{}
	}

	rng, err := s.resolver.Resolve(period)
	if err != nil {
		return nil, err
	}

	cacheKey := reportCacheKey(userID, period)
	if !opts.Refresh {
		if cached, ok := s.cache.Get(cacheKey); ok {
			s.metrics.IncrCacheHit("report")
			return cached, nil
		}
	}
	s.metrics.IncrCacheMiss("report")

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("report", time.Since(start))
	}()

	expenses, err := s.expenses.ListForUser(ctx, userID, rng.PreviousStart, rng.End)
	if err != nil {
		s.logger.Error("failed to fetch expenses",
			zap.String("user_id", userID),
			zap.String("period", string(period)),
			zap.Error(err),
		)
		s.metrics.IncrExternalError("docstore")
		span.RecordError(err)
		var ff *domain.ErrFetchFailure
		if errors.As(err, &ff) {
			return nil, err
		}
		return nil, &domain.ErrFetchFailure{Operation: "expenses.list", Err: err}
	}

	current, previous := partition(expenses, rng)
	gran := GranularityFor(period)
	effStart := trendStart(period, rng, current, s.resolver.Location())

	report := &domain.SpendingReport{
		UserID:      userID,
		Period:      period,
		Granularity: gran,
		Range:       rng,
	}

	// --- Fan out the five views; all must succeed ---
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		report.Summary = summarize(userID, current, previous, effStart, rng.End, rng.HasPrevious())
		return nil
	})

	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		report.ByCategory = categoryBreakdown(userID, current, s.cfg.OtherCategory)
		return nil
	})

	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		report.ByGroup = groupBreakdown(userID, current)
		return nil
	})

	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		report.Trend = trendSeries(userID, current, effStart, rng.End, gran)
		return nil
	})

	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		report.TopExpenses = topExpenses(userID, current, s.cfg.TopN)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.GeneratedAt = s.resolver.Now()
	s.cache.Set(cacheKey, report)

	s.logger.Debug("report aggregated",
		zap.String("user_id", userID),
		zap.String("period", string(period)),
		zap.Int("current", len(current)),
		zap.Int("previous", len(previous)),
	)
	return report, nil
}

// ============================================================
// Cache invalidation
// ============================================================

var cachedPeriods = []domain.Period{
	domain.PeriodThisMonth,
	domain.PeriodLastMonth,
	domain.PeriodThisYear,
	domain.PeriodAllTime,
}

func reportCacheKey(userID string, period domain.Period) string {
	return fmt.Sprintf("%s:%s", userID, period)
}

// Invalidate drops every cached report of the given users.
func (s *ReportService) Invalidate(userIDs ...string) {
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		for _, p := range cachedPeriods {
			s.cache.Delete(reportCacheKey(id, p))
		}
	}
}

// OnDocumentCreated drops the cached reports of everyone a new expense
// involves. Other paths are ignored.
func (s *ReportService) OnDocumentCreated(ctx context.Context, path string, after json.RawMessage) error {
	s.invalidateExpense(ctx, path, after)
	return nil
}

// OnDocumentUpdated drops the cached reports of everyone involved before or
// after the change.
func (s *ReportService) OnDocumentUpdated(ctx context.Context, path string, before, after json.RawMessage) error {
	s.invalidateExpense(ctx, path, before)
	s.invalidateExpense(ctx, path, after)
	return nil
}

// InvalidateEvent applies a queued or webhook event to the report cache.
func (s *ReportService) InvalidateEvent(ctx context.Context, event *domain.DocumentEvent) {
	s.invalidateExpense(ctx, event.Path, event.Before)
	s.invalidateExpense(ctx, event.Path, event.After)
}

func (s *ReportService) invalidateExpense(ctx context.Context, path string, raw json.RawMessage) {
	segs := domain.SplitPath(path)
	if len(segs) != 2 || (segs[0] != "expenses" && segs[0] != "directExpenses") || len(raw) == 0 {
		return
	}
	_, span := reportTracer.Start(ctx, "ReportService.Invalidate")
	defer span.End()

	var e domain.Expense
	if err := json.Unmarshal(raw, &e); err != nil {
		s.logger.Warn("report: undecodable expense, cache left as is",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	users := append([]string{e.PayerID, e.ParticipantID}, e.MemberIDs...)
	for id := range e.Shares {
		users = append(users, id)
	}
	s.Invalidate(users...)
	span.SetAttributes(attribute.Int("report.invalidated_users", len(users)))
}
