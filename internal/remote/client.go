// Package remote provides the stateless HTTP client for the remote tracker
// table (a Supabase/PostgREST-style endpoint).
//
// All calls are keyed by row id; upserts additionally transmit each row's
// current position so server-side ordering matches the client after reload.
// The client holds no state beyond connection settings, so a failed call is
// safely retried by simply calling again.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kanzleidev/portaltracker/internal/tracker"
)

// ErrNotConfigured is returned when no remote store is configured.
// Callers degrade to local-only operation instead of failing.
var ErrNotConfigured = errors.New("remote store not configured")

const defaultTable = "tracker_rows"

// Client talks to the remote tracker table.
type Client struct {
	baseURL    string
	apiKey     string
	table      string
	httpClient *http.Client
}

// New creates a remote client. Returns ErrNotConfigured when url or apiKey
// is empty so callers can fall back to local-only mode at construction time.
func New(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" || apiKey == "" {
		return nil, ErrNotConfigured
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		table:      defaultTable,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// dbRow is the wire representation of a row. The column names match the
// remote table; UpdatedAt is set on every upsert.
type dbRow struct {
	tracker.Row
	UpdatedAt string `json:"updated_at,omitempty"`
}

// FetchAll returns all rows ordered by position.
func (c *Client) FetchAll(ctx context.Context) ([]tracker.Row, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?select=*&order=position.asc", c.baseURL, c.table)

	body, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}

	var wire []dbRow
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode remote rows: %w", err)
	}

	rows := make([]tracker.Row, 0, len(wire))
	for _, w := range wire {
		rows = append(rows, w.Row)
	}
	return rows, nil
}

// UpsertMany writes the full row sequence, keyed by id. Positions are
// rewritten from the slice order so the remote ordering always reflects the
// client ordering at the moment of the call.
func (c *Client) UpsertMany(ctx context.Context, rows []tracker.Row) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?on_conflict=id", c.baseURL, c.table)

	now := time.Now().UTC().Format(time.RFC3339)
	wire := make([]dbRow, 0, len(rows))
	for i, r := range rows {
		r.Position = i
		wire = append(wire, dbRow{Row: r, UpdatedAt: now})
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}

	headers := map[string]string{
		"Prefer": "resolution=merge-duplicates",
	}
	_, err = c.do(ctx, http.MethodPost, endpoint, payload, headers)
	return err
}

// DeleteOne removes the row with the given id.
func (c *Client) DeleteOne(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?id=eq.%s", c.baseURL, c.table, url.QueryEscape(id))
	_, err := c.do(ctx, http.MethodDelete, endpoint, nil, nil)
	return err
}

// DeleteMany removes all rows whose ids appear in ids.
func (c *Client) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	escaped := make([]string, 0, len(ids))
	for _, id := range ids {
		escaped = append(escaped, url.QueryEscape(id))
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s?id=in.(%s)", c.baseURL, c.table, strings.Join(escaped, ","))
	_, err := c.do(ctx, http.MethodDelete, endpoint, nil, nil)
	return err
}

// DeleteAll removes every row in the table.
func (c *Client) DeleteAll(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?id=not.is.null", c.baseURL, c.table)
	_, err := c.do(ctx, http.MethodDelete, endpoint, nil, nil)
	return err
}

// do performs one request with auth headers and returns the response body.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, headers map[string]string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}
