package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/service"
)

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestResolvePeriod(t *testing.T) {
	now := date(2024, time.March, 15, 10)

	tests := []struct {
		period domain.Period
		want   domain.DateRange
	}{
		{
			domain.PeriodThisMonth,
			domain.DateRange{
				Start:         date(2024, time.March, 1, 0),
				End:           now,
				PreviousStart: date(2024, time.March, 1, 0).Add(-now.Sub(date(2024, time.March, 1, 0))),
				PreviousEnd:   date(2024, time.March, 1, 0),
			},
		},
		{
			domain.PeriodLastMonth,
			domain.DateRange{
				Start:         date(2024, time.February, 1, 0),
				End:           date(2024, time.March, 1, 0),
				PreviousStart: date(2024, time.January, 1, 0),
				PreviousEnd:   date(2024, time.February, 1, 0),
			},
		},
		{
			domain.PeriodThisYear,
			domain.DateRange{
				Start:         date(2024, time.January, 1, 0),
				End:           now,
				PreviousStart: date(2023, time.January, 1, 0),
				PreviousEnd:   date(2023, time.January, 1, 0).Add(now.Sub(date(2024, time.January, 1, 0))),
			},
		},
		{
			domain.PeriodAllTime,
			domain.DateRange{
				Start:         service.Epoch,
				End:           now,
				PreviousStart: service.Epoch,
				PreviousEnd:   service.Epoch,
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			got, err := service.ResolvePeriod(tt.period, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Start.Equal(tt.want.Start) || !got.End.Equal(tt.want.End) {
				t.Errorf("range = [%v, %v), want [%v, %v)", got.Start, got.End, tt.want.Start, tt.want.End)
			}
			if !got.PreviousStart.Equal(tt.want.PreviousStart) || !got.PreviousEnd.Equal(tt.want.PreviousEnd) {
				t.Errorf("previous = [%v, %v), want [%v, %v)", got.PreviousStart, got.PreviousEnd, tt.want.PreviousStart, tt.want.PreviousEnd)
			}
		})
	}
}

func TestResolvePeriod_ThisMonthPreviousHasSameLength(t *testing.T) {
	now := date(2024, time.March, 15, 10)
	rng, err := service.ResolvePeriod(domain.PeriodThisMonth, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rng.End.Sub(rng.Start) != rng.PreviousEnd.Sub(rng.PreviousStart) {
		t.Errorf("expected equal-length windows, got %v and %v", rng.End.Sub(rng.Start), rng.PreviousEnd.Sub(rng.PreviousStart))
	}
}

func TestResolvePeriod_LastMonthAcrossYear(t *testing.T) {
	rng, err := service.ResolvePeriod(domain.PeriodLastMonth, date(2024, time.January, 10, 8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rng.Start.Equal(date(2023, time.December, 1, 0)) || !rng.End.Equal(date(2024, time.January, 1, 0)) {
		t.Errorf("unexpected range [%v, %v)", rng.Start, rng.End)
	}
	if !rng.PreviousStart.Equal(date(2023, time.November, 1, 0)) {
		t.Errorf("unexpected previous start %v", rng.PreviousStart)
	}
}

func TestResolvePeriod_ThisYearTruncatesAtPriorYearEnd(t *testing.T) {
	// 2024 is a leap year: Dec 31 is day 366, so the same length from
	// Jan 1 2023 would spill into 2024
	now := date(2024, time.December, 31, 23)
	rng, err := service.ResolvePeriod(domain.PeriodThisYear, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rng.PreviousEnd.Equal(date(2024, time.January, 1, 0)) {
		t.Errorf("expected previous end at prior year end, got %v", rng.PreviousEnd)
	}
}

func TestResolvePeriod_UsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	// 01:00 UTC on April 1 is still March 31 in BRT
	now := time.Date(2024, time.April, 1, 1, 0, 0, 0, time.UTC).In(loc)

	rng, err := service.ResolvePeriod(domain.PeriodThisMonth, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, time.March, 1, 0, 0, 0, 0, loc)
	if !rng.Start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, rng.Start)
	}
}

func TestResolvePeriod_Unknown(t *testing.T) {
	_, err := service.ResolvePeriod("lastDecade", time.Now())
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if ve.Field != "period" {
		t.Errorf("expected field 'period', got %q", ve.Field)
	}
}

func TestGranularityFor(t *testing.T) {
	tests := map[domain.Period]domain.Granularity{
		domain.PeriodThisMonth: domain.GranularityDay,
		domain.PeriodLastMonth: domain.GranularityDay,
		domain.PeriodThisYear:  domain.GranularityMonth,
		domain.PeriodAllTime:   domain.GranularityMonth,
	}
	for p, want := range tests {
		if got := service.GranularityFor(p); got != want {
			t.Errorf("GranularityFor(%s) = %s, want %s", p, got, want)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Period
	}{
		{"thisMonth", domain.PeriodThisMonth},
		{"this-month", domain.PeriodThisMonth},
		{"THIS_MONTH", domain.PeriodThisMonth},
		{"last-month", domain.PeriodLastMonth},
		{"this_year", domain.PeriodThisYear},
		{" all time ", domain.PeriodAllTime},
	}
	for _, tt := range tests {
		got, err := service.ParsePeriod(tt.in)
		if err != nil {
			t.Errorf("ParsePeriod(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePeriod(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := service.ParsePeriod("yesterday"); err == nil {
		t.Error("expected error for unknown period")
	}
}
