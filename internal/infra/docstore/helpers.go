package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
)

// ============================================================
// Request helpers
// ============================================================

func (c *Client) newRequest(ctx context.Context, method, table string, q url.Values) (*http.Request, error) {
	u := fmt.Sprintf("%s/rest/v1/%s", strings.TrimRight(c.baseURL, "/"), table)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// splitCollection maps "users/B/friends" to table "friends" under parent
// "users/B"; a top-level collection has an empty parent.
func splitCollection(collection string) (table, parent string) {
	segs := domain.SplitPath(collection)
	if len(segs) == 0 {
		return "", ""
	}
	return segs[len(segs)-1], strings.Join(segs[:len(segs)-1], "/")
}

// encodeFilter renders a filter as a PostgREST query parameter on the data column.
func encodeFilter(f domain.Filter) (key, value string, err error) {
	if f.Field == "" {
		return "", "", &domain.ErrValidation{Field: "filter.field", Message: "required"}
	}
	switch f.Op {
	case domain.OpEq, domain.OpGte, domain.OpLt:
		return "data->>" + f.Field, string(f.Op) + "." + domain.FormatFilterValue(f.Value), nil
	case domain.OpArrayContains:
		arr, err := json.Marshal([]string{domain.FormatFilterValue(f.Value)})
		if err != nil {
			return "", "", err
		}
		return "data->" + f.Field, "cs." + string(arr), nil
	default:
		return "", "", &domain.ErrValidation{Field: "filter.op", Message: fmt.Sprintf("unsupported operator %q", f.Op)}
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, 32<<20)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
