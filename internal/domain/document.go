package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Document store
// ============================================================

// Document is a raw stored document. Data holds the JSON body as written.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the document body into v.
func (d *Document) Decode(v any) error {
	if d == nil || len(d.Data) == 0 {
		return fmt.Errorf("decode document: empty body")
	}
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// FilterOp is a comparison supported by QueryDocuments.
type FilterOp string

const (
	OpEq            FilterOp = "eq"
	OpGte           FilterOp = "gte"
	OpLt            FilterOp = "lt"
	OpArrayContains FilterOp = "contains"
)

// Filter restricts a query on one top-level field. Time values are rendered
// in RFC 3339 UTC form with fractional seconds kept.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// FormatFilterValue renders a filter value the way documents store it.
func FormatFilterValue(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// ============================================================
// Document change events
// ============================================================

// EventKind is the type of change that happened to a document.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
)

// DocumentEvent is one change notification from the storage layer. Path is
// the slash-separated document path, e.g. "users/B/friends/x".
type DocumentEvent struct {
	EventID    string          `json:"eventId"`
	Kind       EventKind       `json:"kind"`
	Path       string          `json:"path"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Validate checks that the event carries what its kind needs.
func (e *DocumentEvent) Validate() error {
	if strings.Trim(e.Path, "/") == "" {
		return &ErrValidation{Field: "path", Message: "required"}
	}
	switch e.Kind {
	case EventCreated:
		if len(e.After) == 0 {
			return &ErrValidation{Field: "after", Message: "required for created events"}
		}
	case EventUpdated:
		if len(e.Before) == 0 || len(e.After) == 0 {
			return &ErrValidation{Field: "before/after", Message: "required for updated events"}
		}
	default:
		return &ErrValidation{Field: "kind", Message: fmt.Sprintf("unknown kind %q", e.Kind)}
	}
	return nil
}

// Segments splits the event path into its components.
func (e *DocumentEvent) Segments() []string {
	return SplitPath(e.Path)
}

// SplitPath splits a document path, ignoring leading and trailing slashes.
func SplitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// ============================================================
// Email
// ============================================================

// EmailMessage is what the mail transport sends.
type EmailMessage struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}
