package service

import (
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// ============================================================
// Report views
//
// Each view is a pure function of the user's current (and, for the
// summary, previous) expense set. Amounts are the user's share.
// ============================================================

// partition splits expenses into the current and previous windows of rng.
// Records outside both windows are dropped.
func partition(expenses []domain.Expense, rng domain.DateRange) (current, previous []domain.Expense) {
	for _, e := range expenses {
		switch {
		case inRange(e.Date, rng.Start, rng.End):
			current = append(current, e)
		case rng.HasPrevious() && inRange(e.Date, rng.PreviousStart, rng.PreviousEnd):
			previous = append(previous, e)
		}
	}
	return current, previous
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

func sumShares(userID string, expenses []domain.Expense) decimal.Decimal {
	total := decimal.Zero
	for i := range expenses {
		total = total.Add(expenses[i].ShareFor(userID))
	}
	return total
}

// summarize computes totals over [start, end). start is the effective start
// used for the per-day average.
func summarize(userID string, current, previous []domain.Expense, start, end time.Time, comparison bool) *domain.SpendingSummary {
	total := sumShares(userID, current)
	prev := sumShares(userID, previous)

	// calendar days, so a DST shift in the report location does not add one
	days := int64(len(bucketStarts(start, end, domain.GranularityDay)))
	if days < 1 {
		days = 1
	}

	s := &domain.SpendingSummary{
		TotalSpent:          total,
		TransactionCount:    len(current),
		AveragePerDay:       total.Div(decimal.NewFromInt(days)).Round(2),
		PreviousPeriodTotal: prev,
		ComparisonAvailable: comparison,
	}
	if !comparison {
		return s
	}

	diff := total.Sub(prev)
	s.IsIncrease = diff.IsPositive()
	s.IsDecrease = diff.IsNegative()
	if prev.IsPositive() {
		s.PercentChange = diff.Div(prev).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	return s
}

// categoryBreakdown buckets every record under its category; records
// without one go under other, so the totals add up to the summary total.
func categoryBreakdown(userID string, current []domain.Expense, other string) map[string]domain.CatSum {
	out := make(map[string]domain.CatSum)
	for i := range current {
		key := strings.TrimSpace(current[i].Category)
		if key == "" {
			key = other
		}
		c := out[key]
		c.Total = c.Total.Add(current[i].ShareFor(userID))
		c.Count++
		out[key] = c
	}
	return out
}

// groupBreakdown buckets group expenses by group id. Direct expenses are
// excluded.
func groupBreakdown(userID string, current []domain.Expense) map[string]domain.GroupSum {
	out := make(map[string]domain.GroupSum)
	for i := range current {
		e := &current[i]
		if e.IsDirect() {
			continue
		}
		g := out[e.GroupID]
		g.Name = e.GroupLabel()
		g.Total = g.Total.Add(e.ShareFor(userID))
		g.Count++
		out[e.GroupID] = g
	}
	return out
}

// trendSeries returns one point per bucket in [start, end), zero buckets
// included.
func trendSeries(userID string, current []domain.Expense, start, end time.Time, g domain.Granularity) []domain.TimeSeriesDataPoint {
	starts := bucketStarts(start, end, g)
	points := make([]domain.TimeSeriesDataPoint, len(starts))
	index := make(map[int64]int, len(starts))
	for i, b := range starts {
		points[i] = domain.TimeSeriesDataPoint{BucketStart: b, Total: decimal.Zero}
		index[b.Unix()] = i
	}

	loc := start.Location()
	for i := range current {
		b := bucketStart(current[i].Date.In(loc), g)
		if idx, ok := index[b.Unix()]; ok {
			points[idx].Total = points[idx].Total.Add(current[i].ShareFor(userID))
		}
	}
	return points
}

// topExpenses orders by share descending, then earliest date, then id, and
// keeps at most n.
func topExpenses(userID string, current []domain.Expense, n int) []domain.TopExpenseItem {
	items := make([]domain.TopExpenseItem, 0, len(current))
	for i := range current {
		e := &current[i]
		item := domain.TopExpenseItem{
			ID:          e.ID,
			Description: e.Description,
			Category:    e.Category,
			Amount:      e.ShareFor(userID),
			Date:        e.Date,
		}
		if !e.IsDirect() {
			item.GroupName = e.GroupLabel()
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if c := items[i].Amount.Cmp(items[j].Amount); c != 0 {
			return c > 0
		}
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.Before(items[j].Date)
		}
		return items[i].ID < items[j].ID
	})

	if n >= 0 && len(items) > n {
		items = items[:n]
	}
	return items
}

// trendStart bounds the allTime series at the month of the earliest record,
// or the month of end when there are none.
func trendStart(period domain.Period, rng domain.DateRange, current []domain.Expense, loc *time.Location) time.Time {
	if period != domain.PeriodAllTime {
		return rng.Start
	}
	earliest := rng.End
	for i := range current {
		if current[i].Date.Before(earliest) {
			earliest = current[i].Date
		}
	}
	return bucketStart(earliest.In(loc), domain.GranularityMonth)
}
