package batch

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/kanzleidev/portaltracker/internal/lookup"
	"github.com/kanzleidev/portaltracker/internal/tracker"
)

// fakeLookup serves canned results per case reference and records calls.
type fakeLookup struct {
	mu      sync.Mutex
	results map[string]lookup.Result
	errs    map[string]error
	calls   []string
	times   []time.Time
	block   chan struct{} // when set, every call waits here first
}

func (f *fakeLookup) Lookup(ctx context.Context, caseRef string) (lookup.Result, error) {
	return f.call(caseRef)
}

func (f *fakeLookup) LookupAndCreateTicket(ctx context.Context, caseRef string) (lookup.Result, error) {
	return f.call("ticket:" + caseRef)
}

func (f *fakeLookup) call(key string) (lookup.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	f.times = append(f.times, time.Now())
	if err := f.errs[key]; err != nil {
		return lookup.Result{}, err
	}
	return f.results[key], nil
}

func (f *fakeLookup) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeMutator applies writes directly to the store and counts flushes.
type fakeMutator struct {
	store   *tracker.Store
	mu      sync.Mutex
	flushes int
}

func (m *fakeMutator) UpdateField(id, field, value string) ([]tracker.Row, error) {
	return m.store.UpdateField(id, field, value)
}

func (m *fakeMutator) Flush(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func (m *fakeMutator) flushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

func testConfig() *Config {
	return &Config{
		LookupDelay: 5 * time.Millisecond,
		TicketDelay: 5 * time.Millisecond,
		Logger:      log.New(io.Discard, "", 0),
	}
}

func newTestStore(rows ...tracker.Row) *tracker.Store {
	return tracker.NewStore(rows)
}

func TestRunLookupsCandidateSelection(t *testing.T) {
	store := newTestStore(
		tracker.Row{ID: "a", CaseRef: "AZ-1"},
		tracker.Row{ID: "b"},                                      // no case ref
		tracker.Row{ID: "c", CaseRef: "AZ-3", ContactURL: "done"}, // already looked up
		tracker.Row{ID: "d", CaseRef: "AZ-4"},
	)
	client := &fakeLookup{results: map[string]lookup.Result{}}
	mutator := &fakeMutator{store: store}
	r := New(store, client, mutator, testConfig())

	if err := r.RunLookups(context.Background()); err != nil {
		t.Fatalf("RunLookups failed: %v", err)
	}

	want := []string{"AZ-1", "AZ-4"}
	got := client.callLog()
	if len(got) != len(want) {
		t.Fatalf("called %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
	if mutator.flushCount() != 1 {
		t.Errorf("flushed %d times, want exactly 1", mutator.flushCount())
	}
}

func TestRunLookupsWritesBack(t *testing.T) {
	store := newTestStore(
		tracker.Row{ID: "a", CaseRef: "AZ-1"},
		tracker.Row{ID: "b", CaseRef: "AZ-2"},
		tracker.Row{ID: "c", CaseRef: "AZ-3"},
	)
	store.SetWarning("a", "alte Warnung")

	client := &fakeLookup{results: map[string]lookup.Result{
		"AZ-1": {Kind: lookup.KindFound, Name: "Max Mustermann", ContactURL: "https://dir/agent/users/1"},
		"AZ-2": {Kind: lookup.KindIncomplete, Name: "Erika", ContactURL: "https://dir/agent/users/2", Missing: []string{lookup.LabelAddress}},
		"AZ-3": {Kind: lookup.KindNotFound},
	}}
	mutator := &fakeMutator{store: store}
	r := New(store, client, mutator, testConfig())

	if err := r.RunLookups(context.Background()); err != nil {
		t.Fatalf("RunLookups failed: %v", err)
	}

	rows := store.Rows()
	if rows[0].Name != "Max Mustermann" || rows[0].ContactURL != "https://dir/agent/users/1" {
		t.Errorf("found row not enriched: %+v", rows[0])
	}
	if _, ok := store.Warnings()["a"]; ok {
		t.Error("warning not cleared on found")
	}

	// Incomplete contacts still get their data written, plus a warning.
	if rows[1].Name != "Erika" || rows[1].ContactURL == "" {
		t.Errorf("incomplete row not enriched: %+v", rows[1])
	}
	if w := store.Warnings()["b"]; w != "Kontakt unvollständig: Adresse" {
		t.Errorf("warning = %q", w)
	}

	// Not-found rows stay untouched apart from the warning.
	if rows[2].Name != "" || rows[2].ContactURL != "" {
		t.Errorf("not-found row was written: %+v", rows[2])
	}
	if w := store.Warnings()["c"]; w != "Kein Kontakt für AZ-3 gefunden" {
		t.Errorf("warning = %q", w)
	}
}

func TestRunLookupsIsolatesFailures(t *testing.T) {
	store := newTestStore(
		tracker.Row{ID: "a", CaseRef: "AZ-1"},
		tracker.Row{ID: "b", CaseRef: "AZ-2"},
		tracker.Row{ID: "c", CaseRef: "AZ-3"},
	)
	client := &fakeLookup{
		results: map[string]lookup.Result{
			"AZ-1": {Kind: lookup.KindFound, Name: "eins", ContactURL: "u1"},
			"AZ-3": {Kind: lookup.KindFound, Name: "drei", ContactURL: "u3"},
		},
		errs: map[string]error{"AZ-2": errors.New("500")},
	}
	mutator := &fakeMutator{store: store}
	r := New(store, client, mutator, testConfig())

	var mu sync.Mutex
	var last Progress
	r.OnProgress(func(p Progress) {
		mu.Lock()
		last = p
		mu.Unlock()
	})

	if err := r.RunLookups(context.Background()); err != nil {
		t.Fatalf("RunLookups returned %v; per-row failures must not abort", err)
	}

	// All three rows were attempted.
	if got := len(client.callLog()); got != 3 {
		t.Fatalf("attempted %d rows, want 3", got)
	}
	if _, ok := store.Warnings()["b"]; !ok {
		t.Error("failed row has no warning")
	}
	rows := store.Rows()
	if rows[0].Name != "eins" || rows[2].Name != "drei" {
		t.Error("rows after the failure were not processed")
	}

	mu.Lock()
	defer mu.Unlock()
	if last.Current != 3 || last.Total != 3 || last.Phase != PhaseLookup {
		t.Errorf("final progress = %+v, want {3 3 lookup}", last)
	}
}

func TestRunTicketCreationSelectionAndOrder(t *testing.T) {
	store := newTestStore(
		tracker.Row{ID: "a", CaseRef: "AZ-1", ContactURL: "u1"},
		tracker.Row{ID: "b", CaseRef: "AZ-2", ContactURL: "u2"},
		tracker.Row{ID: "c", CaseRef: "AZ-3"}, // no contact URL, skipped
		tracker.Row{ID: "d", CaseRef: "AZ-4", ContactURL: "u4"},
	)
	client := &fakeLookup{results: map[string]lookup.Result{}}
	mutator := &fakeMutator{store: store}
	r := New(store, client, mutator, testConfig())

	// Selection order must not matter; processing follows row positions.
	if err := r.RunTicketCreation(context.Background(), []string{"d", "c", "a"}); err != nil {
		t.Fatalf("RunTicketCreation failed: %v", err)
	}

	want := []string{"ticket:AZ-1", "ticket:AZ-4"}
	got := client.callLog()
	if len(got) != len(want) {
		t.Fatalf("called %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDelayBetweenCalls(t *testing.T) {
	store := newTestStore(
		tracker.Row{ID: "a", CaseRef: "AZ-1"},
		tracker.Row{ID: "b", CaseRef: "AZ-2"},
		tracker.Row{ID: "c", CaseRef: "AZ-3"},
	)
	cfg := testConfig()
	cfg.LookupDelay = 30 * time.Millisecond
	client := &fakeLookup{results: map[string]lookup.Result{}}
	r := New(store, client, &fakeMutator{store: store}, cfg)

	if err := r.RunLookups(context.Background()); err != nil {
		t.Fatalf("RunLookups failed: %v", err)
	}

	client.mu.Lock()
	times := append([]time.Time(nil), client.times...)
	client.mu.Unlock()
	if len(times) != 3 {
		t.Fatalf("got %d calls, want 3", len(times))
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < cfg.LookupDelay {
			t.Errorf("gap %d = %v, want at least %v", i, gap, cfg.LookupDelay)
		}
	}
}

func TestConcurrentBatchRejected(t *testing.T) {
	store := newTestStore(tracker.Row{ID: "a", CaseRef: "AZ-1"})
	client := &fakeLookup{
		results: map[string]lookup.Result{},
		block:   make(chan struct{}),
	}
	r := New(store, client, &fakeMutator{store: store}, testConfig())

	done := make(chan error, 1)
	go func() { done <- r.RunLookups(context.Background()) }()

	// Wait for the first batch to be marked active.
	deadline := time.Now().Add(time.Second)
	for {
		if _, active := r.Active(); active {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first batch never became active")
		}
		time.Sleep(time.Millisecond)
	}

	if err := r.RunLookups(context.Background()); !errors.Is(err, ErrBatchActive) {
		t.Errorf("second batch = %v, want ErrBatchActive", err)
	}
	if err := r.RunTicketCreation(context.Background(), []string{"a"}); !errors.Is(err, ErrBatchActive) {
		t.Errorf("ticket batch = %v, want ErrBatchActive", err)
	}

	close(client.block)
	if err := <-done; err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if _, active := r.Active(); active {
		t.Error("runner still active after completion")
	}

	// A new batch is accepted once the first finished.
	if err := r.RunLookups(context.Background()); err != nil {
		t.Errorf("follow-up batch failed: %v", err)
	}
}

func TestBatchAbortsOnContextCancel(t *testing.T) {
	store := newTestStore(
		tracker.Row{ID: "a", CaseRef: "AZ-1"},
		tracker.Row{ID: "b", CaseRef: "AZ-2"},
	)
	cfg := testConfig()
	cfg.LookupDelay = 10 * time.Second // cancellation must win over the delay
	client := &fakeLookup{results: map[string]lookup.Result{}}
	r := New(store, client, &fakeMutator{store: store}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := r.RunLookups(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RunLookups = %v, want context.Canceled", err)
	}
	if got := len(client.callLog()); got != 1 {
		t.Errorf("attempted %d rows before cancel, want 1", got)
	}
	if _, active := r.Active(); active {
		t.Error("runner still active after abort")
	}
}

func TestEmptyBatch(t *testing.T) {
	store := newTestStore(tracker.Row{ID: "a"}) // nothing to look up
	client := &fakeLookup{results: map[string]lookup.Result{}}
	mutator := &fakeMutator{store: store}
	r := New(store, client, mutator, testConfig())

	if err := r.RunLookups(context.Background()); err != nil {
		t.Fatalf("RunLookups failed: %v", err)
	}
	if got := len(client.callLog()); got != 0 {
		t.Errorf("issued %d calls, want 0", got)
	}
	// The final flush still runs.
	if mutator.flushCount() != 1 {
		t.Errorf("flushed %d times, want 1", mutator.flushCount())
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseLookup.String() != "lookup" || PhaseTicketCreation.String() != "ticket_creation" {
		t.Error("phase strings wrong")
	}
	if Phase(99).String() != "unknown" {
		t.Error("unknown phase string wrong")
	}
}
