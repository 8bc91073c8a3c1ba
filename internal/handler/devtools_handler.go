package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	"go.uber.org/zap"
)

// ============================================================
// Dev Tools Handlers
// ============================================================

// devDocumentRequest writes one document. Path is the full document path,
// e.g. "users/B/friends/x".
type devDocumentRequest struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

func decodeDevDocument(r *http.Request) (*devDocumentRequest, error) {
	var req devDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &domain.ErrValidation{Field: "body", Message: "invalid request body"}
	}
	if req.Path == "" {
		return nil, &domain.ErrValidation{Field: "path", Message: "required"}
	}
	if len(req.Data) == 0 {
		return nil, &domain.ErrValidation{Field: "data", Message: "required"}
	}
	return &req, nil
}

func devCreateDocumentHandler(docs port.DocumentWriter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/dev/documents")
		defer span.End()

		req, err := decodeDevDocument(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if err := docs.CreateDocument(ctx, req.Path, req.Data); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, domain.SuccessResponse{Message: "document created", ID: req.Path})
	}
}

func devUpdateDocumentHandler(docs port.DocumentWriter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/dev/documents")
		defer span.End()

		req, err := decodeDevDocument(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if err := docs.UpdateDocument(ctx, req.Path, req.Data); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "document updated", ID: req.Path})
	}
}
