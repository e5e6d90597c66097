package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kanzleidev/portaltracker/internal/tracker"
)

func TestNewNotConfigured(t *testing.T) {
	if _, err := New("", ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("New(\"\", \"\") = %v, want ErrNotConfigured", err)
	}
	if _, err := New("https://x.supabase.co", ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("missing key = %v, want ErrNotConfigured", err)
	}
	if _, err := New("", "key"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("missing url = %v, want ErrNotConfigured", err)
	}
}

func TestFetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/tracker_rows" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("order"); got != "position.asc" {
			t.Errorf("order = %q, want position.asc", got)
		}
		if got := r.Header.Get("apikey"); got != "key123" {
			t.Errorf("apikey header = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key123" {
			t.Errorf("Authorization = %q", got)
		}
		io.WriteString(w, `[
			{"id":"a","position":0,"az":"AZ-1","status":"Offen","updated_at":"2026-08-01T10:00:00Z"},
			{"id":"b","position":1,"az":"AZ-2","status":"Offen"}
		]`)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "key123")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rows, err := client.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].ID != "a" || rows[0].CaseRef != "AZ-1" || rows[0].Position != 0 {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].ID != "b" || rows[1].Position != 1 {
		t.Errorf("row 1 = %+v", rows[1])
	}
}

func TestUpsertManyRewritesPositions(t *testing.T) {
	var gotPrefer string
	var gotBody []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("on_conflict"); got != "id" {
			t.Errorf("on_conflict = %q", got)
		}
		gotPrefer = r.Header.Get("Prefer")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "key123")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Positions in the payload come from slice order, not the stale values.
	rows := []tracker.Row{
		{ID: "x", Position: 9, CaseRef: "AZ-1"},
		{ID: "y", Position: 2, CaseRef: "AZ-2"},
	}
	if err := client.UpsertMany(context.Background(), rows); err != nil {
		t.Fatalf("UpsertMany failed: %v", err)
	}

	if gotPrefer != "resolution=merge-duplicates" {
		t.Errorf("Prefer = %q", gotPrefer)
	}
	if len(gotBody) != 2 {
		t.Fatalf("payload has %d rows", len(gotBody))
	}
	if gotBody[0]["position"].(float64) != 0 || gotBody[1]["position"].(float64) != 1 {
		t.Errorf("positions not rewritten: %v, %v", gotBody[0]["position"], gotBody[1]["position"])
	}
	if stamp, _ := gotBody[0]["updated_at"].(string); stamp == "" {
		t.Error("updated_at not set")
	}
	// The caller's slice must stay untouched.
	if rows[0].Position != 9 {
		t.Error("UpsertMany mutated the input slice")
	}
}

func TestDeleteQueries(t *testing.T) {
	var gotQueries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		gotQueries = append(gotQueries, r.URL.RawQuery)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "key123")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if err := client.DeleteOne(ctx, "abc"); err != nil {
		t.Fatalf("DeleteOne failed: %v", err)
	}
	if err := client.DeleteMany(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}
	if err := client.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}

	want := []string{"id=eq.abc", "id=in.(a,b)", "id=not.is.null"}
	if len(gotQueries) != len(want) {
		t.Fatalf("got %d requests, want %d", len(gotQueries), len(want))
	}
	for i := range want {
		if gotQueries[i] != want[i] {
			t.Errorf("query %d = %q, want %q", i, gotQueries[i], want[i])
		}
	}
}

func TestDeleteManyEmptyIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request issued for empty id list")
	}))
	defer srv.Close()

	client, err := New(srv.URL, "key123")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := client.DeleteMany(context.Background(), nil); err != nil {
		t.Errorf("DeleteMany(nil) = %v", err)
	}
}

func TestErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"JWT expired"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "key123")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := client.FetchAll(context.Background()); err == nil {
		t.Error("expected error for 401 response")
	}
	if err := client.UpsertMany(context.Background(), []tracker.Row{{ID: "a"}}); err == nil {
		t.Error("expected error for 401 response")
	}
}
