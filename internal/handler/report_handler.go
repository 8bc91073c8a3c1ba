package handler

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ============================================================
// Spending reports
// ============================================================

// reportView picks the part of the report a route returns.
type reportView func(*domain.SpendingReport) any

func reportHandler(svc *service.ReportService, logger *zap.Logger) http.HandlerFunc {
	return viewHandler("GET /v1/reports", svc, logger, func(rep *domain.SpendingReport) any {
		return rep
	})
}

func summaryHandler(svc *service.ReportService, logger *zap.Logger) http.HandlerFunc {
	return viewHandler("GET /v1/reports/summary", svc, logger, func(rep *domain.SpendingReport) any {
		return rep.Summary
	})
}

func categoriesHandler(svc *service.ReportService, logger *zap.Logger) http.HandlerFunc {
	return viewHandler("GET /v1/reports/categories", svc, logger, func(rep *domain.SpendingReport) any {
		return map[string]any{"byCategory": rep.ByCategory}
	})
}

func groupsHandler(svc *service.ReportService, logger *zap.Logger) http.HandlerFunc {
	return viewHandler("GET /v1/reports/groups", svc, logger, func(rep *domain.SpendingReport) any {
		return map[string]any{"byGroup": rep.ByGroup}
	})
}

func trendHandler(svc *service.ReportService, logger *zap.Logger) http.HandlerFunc {
	return viewHandler("GET /v1/reports/trend", svc, logger, func(rep *domain.SpendingReport) any {
		return map[string]any{"granularity": rep.Granularity, "trend": rep.Trend}
	})
}

func topExpensesHandler(svc *service.ReportService, logger *zap.Logger) http.HandlerFunc {
	return viewHandler("GET /v1/reports/top", svc, logger, func(rep *domain.SpendingReport) any {
		return map[string]any{"topExpenses": rep.TopExpenses}
	})
}

func viewHandler(name string, svc *service.ReportService, logger *zap.Logger, view reportView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		userID := UserIDFromContext(ctx)
		period, err := parsePeriod(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("user.id", userID),
			attribute.String("report.period", string(period)),
		)

		rep, err := svc.Aggregate(ctx, userID, period, service.AggregateOptions{Refresh: parseRefresh(r)})
		if err != nil {
			span.RecordError(err)
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view(rep))
	}
}

// ============================================================
// Export
// ============================================================

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func exportCSVHandler(svc *service.ExportService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/reports/export.csv", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		period, err := parsePeriod(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		out, err := svc.ExportCSV(ctx, UserIDFromContext(ctx), period)
		if err != nil {
			span.RecordError(err)
			handleServiceError(w, err, logger)
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", attachment(period, "csv"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(out))
	}
}

func exportXLSXHandler(svc *service.ExportService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/reports/export.xlsx", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		period, err := parsePeriod(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		// Buffered so a failure can still be reported as JSON.
		var buf bytes.Buffer
		if err := svc.ExportXLSX(ctx, UserIDFromContext(ctx), period, &buf); err != nil {
			span.RecordError(err)
			handleServiceError(w, err, logger)
			return
		}

		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", attachment(period, "xlsx"))
		w.WriteHeader(http.StatusOK)
		buf.WriteTo(w)
	}
}

func attachment(period domain.Period, ext string) string {
	return fmt.Sprintf("attachment; filename=\"splitly-%s.%s\"", period, ext)
}
