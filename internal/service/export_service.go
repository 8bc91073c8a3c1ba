package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/observability"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var exportTracer = otel.Tracer("service/export")

// DirectGroupLabel fills the group column of direct expenses.
const DirectGroupLabel = "Direct"

// ExportSheet is the worksheet name of XLSX exports.
const ExportSheet = "Expenses"

var exportHeader = []string{"date", "description", "category", "amount", "payer", "group"}

// ExportRow is one exported expense.
type ExportRow struct {
	ID          string
	Date        string
	Description string
	Category    string
	Amount      decimal.Decimal
	Payer       string
	Group       string
}

// ExportService serialises the current-period expenses of a user.
type ExportService struct {
	expenses port.ExpenseReader
	resolver *PeriodResolver
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewExportService creates the export service.
func NewExportService(expenses port.ExpenseReader, resolver *PeriodResolver, metrics *observability.Metrics, logger *zap.Logger) *ExportService {
	return &ExportService{
		expenses: expenses,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
	}
}

// Rows returns the export rows for the period, ascending by date then id.
func (s *ExportService) Rows(ctx context.Context, userID string, period domain.Period) ([]ExportRow, error) {
	ctx, span := exportTracer.Start(ctx, "ExportService.Rows")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("report.period", string(period)))

	if userID == "" {
		return nil, &domain.ErrNotAuthenticated{}
	}
	rng, err := s.resolver.Resolve(period)
	if err != nil {
		return nil, err
	}

	expenses, err := s.expenses.ListForUser(ctx, userID, rng.Start, rng.End)
	if err != nil {
		s.logger.Error("export: failed to fetch expenses",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		s.metrics.IncrExternalError("docstore")
		var ff *domain.ErrFetchFailure
		if errors.As(err, &ff) {
			return nil, err
		}
		return nil, &domain.ErrFetchFailure{Operation: "expenses.list", Err: err}
	}

	current, _ := partition(expenses, rng)
	sort.SliceStable(current, func(i, j int) bool {
		if !current[i].Date.Equal(current[j].Date) {
			return current[i].Date.Before(current[j].Date)
		}
		return current[i].ID < current[j].ID
	})

	loc := s.resolver.Location()
	rows := make([]ExportRow, 0, len(current))
	for i := range current {
		e := &current[i]
		group := DirectGroupLabel
		if !e.IsDirect() {
			group = e.GroupLabel()
		}
		rows = append(rows, ExportRow{
			ID:          e.ID,
			Date:        e.Date.In(loc).Format("2006-01-02"),
			Description: e.Description,
			Category:    e.Category,
			Amount:      e.Amount,
			Payer:       payerLabel(e),
			Group:       group,
		})
	}
	return rows, nil
}

// ExportCSV renders the period's expenses as CSV with a header row.
func (s *ExportService) ExportCSV(ctx context.Context, userID string, period domain.Period) (string, error) {
	ctx, span := exportTracer.Start(ctx, "ExportService.ExportCSV")
	defer span.End()

	rows, err := s.Rows(ctx, userID, period)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write([]string{r.Date, r.Description, r.Category, r.Amount.StringFixed(2), r.Payer, r.Group}); err != nil {
			return "", fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}

	s.logger.Info("csv export generated",
		zap.String("user_id", userID),
		zap.String("period", string(period)),
		zap.Int("rows", len(rows)),
	)
	return buf.String(), nil
}

// ExportXLSX writes the period's expenses as a workbook with one sheet.
func (s *ExportService) ExportXLSX(ctx context.Context, userID string, period domain.Period, out io.Writer) error {
	ctx, span := exportTracer.Start(ctx, "ExportService.ExportXLSX")
	defer span.End()

	rows, err := s.Rows(ctx, userID, period)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(ExportSheet, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{r.Date, r.Description, r.Category, r.Amount.Round(2).InexactFloat64(), r.Payer, r.Group}
		if err := f.SetSheetRow(ExportSheet, cell, &values); err != nil {
			return fmt.Errorf("write xlsx row %s: %w", r.ID, err)
		}
	}

	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("create amount style: %w", err)
	}
	if err := f.SetColStyle(ExportSheet, "D", amountStyle); err != nil {
		return fmt.Errorf("style amount column: %w", err)
	}
	for _, w := range []struct {
		from, to string
		width    float64
	}{{"A", "A", 12}, {"B", "B", 30}, {"C", "F", 15}} {
		if err := f.SetColWidth(ExportSheet, w.from, w.to, w.width); err != nil {
			return fmt.Errorf("set column width %s: %w", w.from, err)
		}
	}

	if err := f.Write(out); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func payerLabel(e *domain.Expense) string {
	switch {
	case e.PayerName != "":
		return e.PayerName
	case e.PayerEmail != "":
		return e.PayerEmail
	default:
		return e.PayerID
	}
}
