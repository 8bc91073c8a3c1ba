package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Periods
// ============================================================

// Period is a named date-range selector.
type Period string

const (
	PeriodThisMonth Period = "thisMonth"
	PeriodLastMonth Period = "lastMonth"
	PeriodThisYear  Period = "thisYear"
	PeriodAllTime   Period = "allTime"
)

// Granularity is the width of a trend bucket.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// DateRange is a resolved period: the current window [Start, End) and the
// comparison window [PreviousStart, PreviousEnd). An empty previous window
// means no comparison is available.
type DateRange struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	PreviousStart time.Time `json:"previousStart"`
	PreviousEnd   time.Time `json:"previousEnd"`
}

// HasPrevious reports whether the range carries a comparison window.
func (r DateRange) HasPrevious() bool {
	return r.PreviousEnd.After(r.PreviousStart)
}

// ============================================================
// Spending report
// ============================================================

// SpendingSummary holds the period totals and the period-over-period delta.
type SpendingSummary struct {
	TotalSpent          decimal.Decimal `json:"totalSpent"`
	TransactionCount    int             `json:"transactionCount"`
	AveragePerDay       decimal.Decimal `json:"averagePerDay"`
	PreviousPeriodTotal decimal.Decimal `json:"previousPeriodTotal"`
	PercentChange       float64         `json:"percentChange"`
	IsIncrease          bool            `json:"isIncrease"`
	IsDecrease          bool            `json:"isDecrease"`
	ComparisonAvailable bool            `json:"comparisonAvailable"`
}

// CatSum is a spending breakdown entry.
type CatSum struct {
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// GroupSum is a spending breakdown entry for one group.
type GroupSum struct {
	Name  string          `json:"name"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// TimeSeriesDataPoint is one trend bucket.
type TimeSeriesDataPoint struct {
	BucketStart time.Time       `json:"bucketStart"`
	Total       decimal.Decimal `json:"total"`
}

// TopExpenseItem is one entry of the largest-expenses list.
type TopExpenseItem struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	GroupName   string          `json:"groupName,omitempty"`
}

// SpendingReport is returned by GET /v1/reports.
type SpendingReport struct {
	UserID      string                `json:"userId"`
	Period      Period                `json:"period"`
	Granularity Granularity           `json:"granularity"`
	Range       DateRange             `json:"range"`
	Summary     *SpendingSummary      `json:"summary"`
	ByCategory  map[string]CatSum     `json:"byCategory"`
	ByGroup     map[string]GroupSum   `json:"byGroup"`
	Trend       []TimeSeriesDataPoint `json:"trend"`
	TopExpenses []TopExpenseItem      `json:"topExpenses"`
	GeneratedAt time.Time             `json:"generatedAt"`
}
