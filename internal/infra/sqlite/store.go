// Package sqlite is the embedded document store. Documents are JSON rows
// keyed by (collection, id); writes notify a registered event handler
// synchronously after commit.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("sqlite")

var (
	_ port.DocumentStore  = (*Store)(nil)
	_ port.DocumentWriter = (*Store)(nil)
)

// Store is a document store backed by a single SQLite file.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu      sync.RWMutex
	handler port.DocumentEventHandler
}

// Open creates the parent directory if needed, opens the database and runs
// migrations.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer at a time; SQLite serialises writes anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetEventHandler registers the receiver of change events. A nil handler
// disables notifications.
func (s *Store) SetEventHandler(h port.DocumentEventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *Store) eventHandler() port.DocumentEventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

// ============================================================
// Reads
// ============================================================

// GetDocument returns (nil, nil) when the document does not exist.
func (s *Store) GetDocument(ctx context.Context, collection, id string) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "SQLite.GetDocument")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.String("document.id", id))

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`,
		normalizeCollection(collection), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s/%s: %w", collection, id, err)
	}
	return &domain.Document{ID: id, Data: json.RawMessage(data)}, nil
}

// QueryDocuments returns the documents of collection matching every filter,
// ordered by id.
func (s *Store) QueryDocuments(ctx context.Context, collection string, filters []domain.Filter) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "SQLite.QueryDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("filters", len(filters)))

	where, args, err := buildWhere(filters)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, data FROM documents WHERE collection = ?` + where + ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, append([]any{normalizeCollection(collection)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", collection, err)
		}
		docs = append(docs, domain.Document{ID: id, Data: json.RawMessage(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", collection, err)
	}
	return docs, nil
}

// ============================================================
// Writes
// ============================================================

// CreateDocument stores data at path ("collection/.../id") and fires a
// created event. It fails if the document already exists.
func (s *Store) CreateDocument(ctx context.Context, path string, data any) error {
	ctx, span := tracer.Start(ctx, "SQLite.CreateDocument")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	collection, id, err := splitDocumentPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(raw), now, now,
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrValidation{Field: "path", Message: fmt.Sprintf("document %s already exists", path)}
	}

	if h := s.eventHandler(); h != nil {
		if err := h.OnDocumentCreated(ctx, path, raw); err != nil {
			s.logger.Warn("sqlite: created event handler failed",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
	return nil
}

// UpdateDocument replaces the document at path and fires an updated event
// carrying the previous body.
func (s *Store) UpdateDocument(ctx context.Context, path string, data any) error {
	ctx, span := tracer.Start(ctx, "SQLite.UpdateDocument")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	collection, id, err := splitDocumentPath(path)
	if err != nil {
		return err
	}
	after, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update %s: %w", path, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var before string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&before)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ErrNotFound{Resource: "document", ID: path}
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(after), time.Now().UTC().Format(time.RFC3339Nano), collection, id,
	); err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", path, err)
	}

	if h := s.eventHandler(); h != nil {
		if err := h.OnDocumentUpdated(ctx, path, json.RawMessage(before), after); err != nil {
			s.logger.Warn("sqlite: updated event handler failed",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
	return nil
}

// ============================================================
// Helpers
// ============================================================

func normalizeCollection(collection string) string {
	return strings.Join(domain.SplitPath(collection), "/")
}

// splitDocumentPath splits "users/B/friends/x" into ("users/B/friends", "x").
func splitDocumentPath(path string) (collection, id string, err error) {
	segs := domain.SplitPath(path)
	if len(segs) < 2 || len(segs)%2 != 0 {
		return "", "", &domain.ErrValidation{Field: "path", Message: fmt.Sprintf("%q is not a document path", path)}
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

// buildWhere compiles filters to JSON predicates on the data column.
func buildWhere(filters []domain.Filter) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
	)
	for _, f := range filters {
		if !validField(f.Field) {
			return "", nil, &domain.ErrValidation{Field: "filter.field", Message: fmt.Sprintf("invalid field %q", f.Field)}
		}
		jsonPath := "$." + f.Field
		value := domain.FormatFilterValue(f.Value)
		_, isTime := f.Value.(time.Time)

		switch f.Op {
		case domain.OpEq:
			sb.WriteString(" AND json_extract(data, ?) = ?")
			args = append(args, jsonPath, value)
		case domain.OpGte, domain.OpLt:
			cmp := ">="
			if f.Op == domain.OpLt {
				cmp = "<"
			}
			if isTime {
				sb.WriteString(" AND julianday(json_extract(data, ?)) " + cmp + " julianday(?)")
			} else {
				sb.WriteString(" AND json_extract(data, ?) " + cmp + " ?")
			}
			args = append(args, jsonPath, value)
		case domain.OpArrayContains:
			sb.WriteString(" AND EXISTS (SELECT 1 FROM json_each(data, ?) WHERE json_each.value = ?)")
			args = append(args, jsonPath, value)
		default:
			return "", nil, &domain.ErrValidation{Field: "filter.op", Message: fmt.Sprintf("unsupported operator %q", f.Op)}
		}
	}
	return sb.String(), args, nil
}

func validField(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
