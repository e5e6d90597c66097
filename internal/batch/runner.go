// Package batch drives the lookup client over many rows sequentially.
//
// Batches are rate-limited by a fixed inter-call delay, isolate per-row
// failures, write partial progress into the row store as they go, and are
// guarded by a single active flag so no two batches run concurrently.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kanzleidev/portaltracker/internal/lookup"
	"github.com/kanzleidev/portaltracker/internal/tracker"
)

// ErrBatchActive is returned when a batch is requested while one is running.
var ErrBatchActive = errors.New("a batch is already running")

// Phase identifies the kind of work a batch performs.
type Phase int

const (
	// PhaseLookup is a lookup-only batch.
	PhaseLookup Phase = iota
	// PhaseTicketCreation is a batch that also creates follow-up tickets.
	PhaseTicketCreation
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseLookup:
		return "lookup"
	case PhaseTicketCreation:
		return "ticket_creation"
	default:
		return "unknown"
	}
}

// Progress reports the state of the running batch after each step.
type Progress struct {
	Current int   `json:"current"`
	Total   int   `json:"total"`
	Phase   Phase `json:"phase"`
}

// LookupClient is the directory client the runner drives.
type LookupClient interface {
	Lookup(ctx context.Context, caseRef string) (lookup.Result, error)
	LookupAndCreateTicket(ctx context.Context, caseRef string) (lookup.Result, error)
}

// Mutator is the write-back sink for lookup enrichment. Field writes go
// through the sync coordinator so they ride the usual cache/remote path.
type Mutator interface {
	UpdateField(id, field, value string) ([]tracker.Row, error)
	Flush(ctx context.Context)
}

// Config holds runner configuration.
type Config struct {
	// LookupDelay is the fixed wait between consecutive lookup calls.
	LookupDelay time.Duration

	// TicketDelay is the fixed wait between consecutive ticket-creation
	// calls. Larger than LookupDelay: ticket creation is a heavier,
	// side-effecting operation against the same rate-limited backend.
	TicketDelay time.Duration

	// Logger for batch activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LookupDelay: 300 * time.Millisecond,
		TicketDelay: 500 * time.Millisecond,
		Logger:      log.New(os.Stderr, "[batch] ", log.LstdFlags),
	}
}

// Runner executes at most one batch at a time over the row store.
type Runner struct {
	store   *tracker.Store
	client  LookupClient
	mutator Mutator
	config  *Config

	mu         sync.Mutex
	active     bool
	progress   Progress
	onProgress func(Progress)
}

// New creates a runner. config may be nil for defaults.
func New(store *tracker.Store, client LookupClient, mutator Mutator, config *Config) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[batch] ", log.LstdFlags)
	}
	if config.LookupDelay <= 0 {
		config.LookupDelay = 300 * time.Millisecond
	}
	if config.TicketDelay <= 0 {
		config.TicketDelay = 500 * time.Millisecond
	}
	return &Runner{
		store:   store,
		client:  client,
		mutator: mutator,
		config:  config,
	}
}

// OnProgress registers a callback invoked after every batch step.
func (r *Runner) OnProgress(fn func(Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onProgress = fn
}

// Active reports whether a batch is currently running, and its progress.
// A false return signals idle; the progress value is then meaningless.
func (r *Runner) Active() (Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress, r.active
}

// RunLookups looks up every row that has a case reference but no contact
// URL yet, in store order. Per-row failures are recorded as row warnings
// and do not abort the remaining rows.
func (r *Runner) RunLookups(ctx context.Context) error {
	var candidates []tracker.Row
	for _, row := range r.store.Rows() {
		if row.CaseRef != "" && row.ContactURL == "" {
			candidates = append(candidates, row)
		}
	}
	return r.run(ctx, PhaseLookup, candidates, r.config.LookupDelay, r.client.Lookup)
}

// RunTicketCreation drives lookupAndCreateTicket over the selected rows.
// Only rows that have both a case reference and a contact URL qualify;
// they are processed in ascending original position order.
func (r *Runner) RunTicketCreation(ctx context.Context, ids []string) error {
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}

	var candidates []tracker.Row
	for _, row := range r.store.Rows() {
		if selected[row.ID] && row.CaseRef != "" && row.ContactURL != "" {
			candidates = append(candidates, row)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Position < candidates[j].Position
	})

	return r.run(ctx, PhaseTicketCreation, candidates, r.config.TicketDelay, r.client.LookupAndCreateTicket)
}

// run is the shared batch loop.
func (r *Runner) run(ctx context.Context, phase Phase, candidates []tracker.Row, delay time.Duration, call func(context.Context, string) (lookup.Result, error)) error {
	if err := r.begin(phase, len(candidates)); err != nil {
		return err
	}
	defer r.end()

	r.config.Logger.Printf("Starting %s batch over %d rows", phase, len(candidates))

	for i, row := range candidates {
		if i > 0 {
			select {
			case <-ctx.Done():
				r.config.Logger.Printf("Batch aborted after %d/%d rows: %v", i, len(candidates), ctx.Err())
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := call(ctx, row.CaseRef)
		if err != nil {
			r.config.Logger.Printf("Warning: %s failed for row %s (%s): %v", phase, row.ID, row.CaseRef, err)
			r.store.SetWarning(row.ID, fmt.Sprintf("%s fehlgeschlagen: %v", phase, err))
			r.publish(i+1, len(candidates), phase)
			continue
		}

		r.applyResult(row, result)
		r.publish(i+1, len(candidates), phase)
	}

	// One final push of the accumulated sequence instead of one per row.
	r.mutator.Flush(ctx)
	r.config.Logger.Printf("Batch complete: %s, %d rows", phase, len(candidates))
	return nil
}

// applyResult writes lookup enrichment back into the store. The row is
// updated incrementally so partial progress is visible and survives an
// abandoned batch.
func (r *Runner) applyResult(row tracker.Row, result lookup.Result) {
	switch result.Kind {
	case lookup.KindNotFound:
		r.store.SetWarning(row.ID, fmt.Sprintf("Kein Kontakt für %s gefunden", row.CaseRef))
		return
	case lookup.KindIncomplete:
		r.store.SetWarning(row.ID, "Kontakt unvollständig: "+strings.Join(result.Missing, ", "))
	case lookup.KindFound:
		r.store.ClearWarning(row.ID)
	}

	if _, err := r.mutator.UpdateField(row.ID, tracker.FieldName, result.Name); err != nil {
		r.config.Logger.Printf("Warning: failed to write name for row %s: %v", row.ID, err)
	}
	if _, err := r.mutator.UpdateField(row.ID, tracker.FieldContactURL, result.ContactURL); err != nil {
		r.config.Logger.Printf("Warning: failed to write contact URL for row %s: %v", row.ID, err)
	}
}

// begin flips the active flag, rejecting concurrent batches.
func (r *Runner) begin(phase Phase, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrBatchActive
	}
	r.active = true
	r.progress = Progress{Current: 0, Total: total, Phase: phase}
	return nil
}

func (r *Runner) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

// publish records progress and notifies the listener.
func (r *Runner) publish(current, total int, phase Phase) {
	r.mu.Lock()
	r.progress = Progress{Current: current, Total: total, Phase: phase}
	fn := r.onProgress
	r.mu.Unlock()

	if fn != nil {
		fn(Progress{Current: current, Total: total, Phase: phase})
	}
}
