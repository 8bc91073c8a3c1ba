// Package docstore provides a client for the remote document API
// (PostgREST-style). Each collection maps to a table with the columns
// id, parent_path and data (jsonb).
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("docstore")

var _ port.DocumentStore = (*Client)(nil)

// Client wraps HTTP calls to the document API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a document API client. Calls go through cb; they are not
// retried.
func NewClient(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		cb:         cb,
		logger:     logger,
	}
}

// row is the wire shape of one stored document.
type row struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// GetDocument fetches collection/id. It returns (nil, nil) when absent.
func (c *Client) GetDocument(ctx context.Context, collection, id string) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "DocStore.GetDocument")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.String("document.id", id))

	table, parent := splitCollection(collection)
	q := url.Values{}
	q.Set("select", "id,data")
	q.Set("id", "eq."+id)
	q.Set("parent_path", "eq."+parent)
	q.Set("limit", "1")

	rows, err := resilience.Call(c.cb, func() ([]row, error) {
		return c.fetchRows(ctx, table, q)
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &domain.Document{ID: rows[0].ID, Data: rows[0].Data}, nil
}

// QueryDocuments returns every document of collection matching all filters,
// ordered by id.
func (c *Client) QueryDocuments(ctx context.Context, collection string, filters []domain.Filter) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "DocStore.QueryDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("filters", len(filters)))

	table, parent := splitCollection(collection)
	q := url.Values{}
	q.Set("select", "id,data")
	q.Set("parent_path", "eq."+parent)
	q.Set("order", "id.asc")
	for _, f := range filters {
		key, value, err := encodeFilter(f)
		if err != nil {
			return nil, err
		}
		q.Add(key, value)
	}

	rows, err := resilience.Call(c.cb, func() ([]row, error) {
		return c.fetchRows(ctx, table, q)
	})
	if err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, domain.Document{ID: r.ID, Data: r.Data})
	}
	return docs, nil
}

// Ping checks that the API answers; used by /healthz.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("document API returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) fetchRows(ctx context.Context, table string, q url.Values) ([]row, error) {
	body, err := c.doRequest(ctx, http.MethodGet, table, q)
	if err != nil {
		return nil, err
	}
	if body == nil || string(body) == "[]" {
		return nil, nil
	}

	var rows []row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s rows: %w", table, err)
	}
	return rows, nil
}

// doRequest executes an authenticated request against the document API.
func (c *Client) doRequest(ctx context.Context, method, table string, q url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, method, table, q)
	if err != nil {
		c.logger.Error("docstore: failed to create request",
			zap.String("method", method),
			zap.String("table", table),
			zap.Error(err),
		)
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("docstore: request failed",
			zap.String("method", method),
			zap.String("table", table),
			zap.Error(err),
		)
		return nil, &domain.ErrExternalService{Service: "docstore/" + table, Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		c.logger.Error("docstore: failed to read response body",
			zap.String("table", table),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("docstore: non-2xx response",
			zap.String("method", method),
			zap.String("table", table),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, &domain.ErrExternalService{
			Service: "docstore/" + table,
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	c.logger.Debug("docstore: request OK",
		zap.String("method", method),
		zap.String("table", table),
		zap.Int("status", resp.StatusCode),
	)

	return body, nil
}
