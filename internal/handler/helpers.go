package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// parsePeriod reads ?period=, defaulting to thisMonth.
func parsePeriod(r *http.Request) (domain.Period, error) {
	v := r.URL.Query().Get("period")
	if v == "" {
		return domain.PeriodThisMonth, nil
	}
	return service.ParsePeriod(v)
}

func parseRefresh(r *http.Request) bool {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return refresh
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notAuthenticated *domain.ErrNotAuthenticated
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var fetchFailure *domain.ErrFetchFailure
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &notAuthenticated):
		logger.Warn("not authenticated", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &fetchFailure), errors.As(err, &circuitOpen), errors.As(err, &external):
		logger.Error("document store failure", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load expenses, please try again")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request cancelled", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
