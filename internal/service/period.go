package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
)

// Epoch is the start of the allTime period.
var Epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// ============================================================
// Period resolution
// ============================================================

// ResolvePeriod maps a period to its [Start, End) range and comparison range.
// Calendar boundaries are computed in now's location.
func ResolvePeriod(period domain.Period, now time.Time) (domain.DateRange, error) {
	loc := now.Location()
	y, m, _ := now.Date()
	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, loc)

	switch period {
	case domain.PeriodThisMonth:
		return domain.DateRange{
			Start:         monthStart,
			End:           now,
			PreviousStart: monthStart.Add(-now.Sub(monthStart)),
			PreviousEnd:   monthStart,
		}, nil

	case domain.PeriodLastMonth:
		start := monthStart.AddDate(0, -1, 0)
		return domain.DateRange{
			Start:         start,
			End:           monthStart,
			PreviousStart: monthStart.AddDate(0, -2, 0),
			PreviousEnd:   start,
		}, nil

	case domain.PeriodThisYear:
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		prevStart := start.AddDate(-1, 0, 0)
		prevEnd := prevStart.Add(now.Sub(start))
		if prevEnd.After(start) {
			prevEnd = start
		}
		return domain.DateRange{
			Start:         start,
			End:           now,
			PreviousStart: prevStart,
			PreviousEnd:   prevEnd,
		}, nil

	case domain.PeriodAllTime:
		return domain.DateRange{
			Start:         Epoch,
			End:           now,
			PreviousStart: Epoch,
			PreviousEnd:   Epoch,
		}, nil
	}

	return domain.DateRange{}, &domain.ErrValidation{Field: "period", Message: fmt.Sprintf("unknown period %q", period)}
}

// GranularityFor returns the trend bucket width of a period.
func GranularityFor(period domain.Period) domain.Granularity {
	switch period {
	case domain.PeriodThisYear, domain.PeriodAllTime:
		return domain.GranularityMonth
	default:
		return domain.GranularityDay
	}
}

// ParsePeriod accepts the canonical names and their dashed, underscored or
// spaced spellings ("this-month", "THIS_MONTH").
func ParsePeriod(s string) (domain.Period, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.TrimSpace(s)))
	switch key {
	case "thismonth":
		return domain.PeriodThisMonth, nil
	case "lastmonth":
		return domain.PeriodLastMonth, nil
	case "thisyear":
		return domain.PeriodThisYear, nil
	case "alltime":
		return domain.PeriodAllTime, nil
	}
	return "", &domain.ErrValidation{Field: "period", Message: fmt.Sprintf("unknown period %q (use thisMonth, lastMonth, thisYear or allTime)", s)}
}

// PeriodResolver resolves periods against a clock in the report location.
type PeriodResolver struct {
	loc *time.Location
	now func() time.Time
}

// NewPeriodResolver creates a resolver. A nil loc means UTC and a nil now
// means time.Now.
func NewPeriodResolver(loc *time.Location, now func() time.Time) *PeriodResolver {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &PeriodResolver{loc: loc, now: now}
}

// Resolve resolves period at the current instant.
func (r *PeriodResolver) Resolve(period domain.Period) (domain.DateRange, error) {
	return ResolvePeriod(period, r.Now())
}

// Now returns the current instant in the report location.
func (r *PeriodResolver) Now() time.Time {
	return r.now().In(r.loc)
}

// Location returns the report location.
func (r *PeriodResolver) Location() *time.Location {
	return r.loc
}

// ============================================================
// Buckets
// ============================================================

// bucketStart truncates t to the start of its day or month in t's location.
func bucketStart(t time.Time, g domain.Granularity) time.Time {
	y, m, d := t.Date()
	if g == domain.GranularityMonth {
		return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	}
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func nextBucket(t time.Time, g domain.Granularity) time.Time {
	if g == domain.GranularityMonth {
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

// bucketStarts lists the start of every calendar bucket overlapping
// [start, end), in order.
func bucketStarts(start, end time.Time, g domain.Granularity) []time.Time {
	var out []time.Time
	for b := bucketStart(start, g); b.Before(end); b = nextBucket(b, g) {
		out = append(out, b)
	}
	return out
}
