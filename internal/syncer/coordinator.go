// Package syncer provides the coordinator that keeps the in-memory row
// store consistent across the local cache and the remote store.
//
// The coordinator:
// 1. Reconciles remote, cache and fresh state at startup
// 2. Writes every mutation through to the local cache immediately
// 3. Collapses mutation bursts into one debounced remote upsert
// 4. Orders remote deletes strictly before upserts of the remaining rows
// 5. Reports sync state as Saved/Saving/Offline/Error
package syncer

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kanzleidev/portaltracker/internal/tracker"
)

// Status is the process-wide sync state.
type Status int

const (
	// StatusSaved indicates the last remote write succeeded.
	StatusSaved Status = iota
	// StatusSaving indicates a remote write is pending or in flight.
	StatusSaving
	// StatusOffline indicates no remote store is configured or reachable.
	StatusOffline
	// StatusError indicates the last remote write failed; local state is
	// authoritative until the next successful write.
	StatusError
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSaved:
		return "saved"
	case StatusSaving:
		return "saving"
	case StatusOffline:
		return "offline"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// RemoteStore is the remote tabular store consumed by the coordinator.
// A nil RemoteStore means no remote store is configured.
type RemoteStore interface {
	FetchAll(ctx context.Context) ([]tracker.Row, error)
	UpsertMany(ctx context.Context, rows []tracker.Row) error
	DeleteOne(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
	DeleteAll(ctx context.Context) error
}

// LocalCache is the durable fallback storage written on every mutation.
type LocalCache interface {
	Save(rows []tracker.Row) error
	Load() ([]tracker.Row, error)
}

// Config holds coordinator configuration.
type Config struct {
	// DebounceInterval is the quiescence window after the last mutation
	// before the remote upsert fires. Mutations inside the window collapse
	// into a single upsert carrying the latest full sequence.
	DebounceInterval time.Duration

	// DefaultRows is the size of a fresh default batch.
	DefaultRows int

	// RemoteTimeout bounds each remote call issued by the debounce timer.
	RemoteTimeout time.Duration

	// Logger for coordinator activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		DefaultRows:      tracker.DefaultBatchSize,
		RemoteTimeout:    30 * time.Second,
		Logger:           log.New(os.Stderr, "[syncer] ", log.LstdFlags),
	}
}

// Coordinator owns the sync state machine. All row mutations go through it
// so the cache write-through and the debounced remote push stay in order.
type Coordinator struct {
	store  *tracker.Store
	remote RemoteStore
	cache  LocalCache
	config *Config

	mu           sync.Mutex
	status       Status
	timer        *time.Timer
	seq          uint64 // last issued remote call
	lastResolved uint64 // newest remote call whose result was applied
	onStatus     func(Status)

	inflight sync.WaitGroup
}

// New creates a coordinator. remote may be nil (local-only mode) and so
// may cache (in-memory only). config may be nil for defaults.
func New(store *tracker.Store, remote RemoteStore, cache LocalCache, config *Config) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.DefaultRows <= 0 {
		config.DefaultRows = tracker.DefaultBatchSize
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = 30 * time.Second
	}
	return &Coordinator{
		store:  store,
		remote: remote,
		cache:  cache,
		config: config,
		status: StatusOffline,
	}
}

// Store returns the row store the coordinator manages.
func (c *Coordinator) Store() *tracker.Store {
	return c.store
}

// Status returns the current sync status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnStatusChange registers a callback invoked whenever the status changes.
// The callback runs on the goroutine that triggered the change and must not
// call back into the coordinator.
func (c *Coordinator) OnStatusChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Bootstrap reconciles startup state.
//
// Remote rows win when present. An empty-but-reachable remote adopts the
// local cache (migration path) or a fresh default batch, and pushes it.
// A missing or failing remote falls back to cache/fresh state as Offline.
// Bootstrap never returns an error for remote failures; editing must remain
// possible while disconnected.
func (c *Coordinator) Bootstrap(ctx context.Context) {
	if c.remote == nil {
		c.config.Logger.Printf("No remote store configured, using local state")
		c.adoptLocal()
		return
	}

	rows, err := c.remote.FetchAll(ctx)
	if err != nil {
		c.config.Logger.Printf("Remote fetch failed, falling back to local state: %v", err)
		c.adoptLocal()
		return
	}

	if len(rows) > 0 {
		adopted := c.store.Replace(rows)
		c.saveCache(adopted)
		c.setStatus(StatusSaved)
		c.config.Logger.Printf("Adopted %d rows from remote store", len(adopted))
		return
	}

	// Remote reachable but empty: migrate cached rows up, or seed it with
	// a fresh default batch.
	cached := c.loadCache()
	var adopted []tracker.Row
	if len(cached) > 0 {
		adopted = c.store.Replace(cached)
		c.config.Logger.Printf("Remote empty, migrating %d cached rows", len(adopted))
	} else {
		adopted = c.store.ResetAll(c.config.DefaultRows)
		c.saveCache(adopted)
		c.config.Logger.Printf("Remote and cache empty, seeding %d fresh rows", len(adopted))
	}

	c.setStatus(StatusSaving)
	seq := c.nextSeq()
	c.resolve(seq, c.remote.UpsertMany(ctx, adopted))
}

// adoptLocal loads the cache (or a fresh default batch) and goes Offline.
func (c *Coordinator) adoptLocal() {
	cached := c.loadCache()
	if len(cached) > 0 {
		c.store.Replace(cached)
	} else {
		rows := c.store.ResetAll(c.config.DefaultRows)
		c.saveCache(rows)
	}
	c.setStatus(StatusOffline)
}

// CreateRows appends n empty rows and returns the new snapshot.
func (c *Coordinator) CreateRows(n int) []tracker.Row {
	rows := c.store.CreateEmpty(n)
	c.saveCache(rows)
	c.scheduleUpsert()
	return rows
}

// UpdateField replaces one field on one row and returns the new snapshot.
// Sync failures never surface here; they only flip the status.
func (c *Coordinator) UpdateField(id, field, value string) ([]tracker.Row, error) {
	rows, err := c.store.UpdateField(id, field, value)
	if err != nil {
		return nil, err
	}
	c.saveCache(rows)
	c.scheduleUpsert()
	return rows, nil
}

// DeleteRows removes the given rows locally, then awaits the remote delete
// before scheduling the upsert of the remaining sequence, so a failed
// delete never races a pending upsert carrying stale positions.
func (c *Coordinator) DeleteRows(ctx context.Context, ids []string) ([]tracker.Row, int) {
	rows, removed := c.store.DeleteMany(ids)
	c.saveCache(rows)
	if removed == 0 || c.remote == nil {
		return rows, removed
	}

	c.cancelPending()
	c.setStatus(StatusSaving)

	seq := c.nextSeq()
	var err error
	if len(ids) == 1 {
		err = c.remote.DeleteOne(ctx, ids[0])
	} else {
		err = c.remote.DeleteMany(ctx, ids)
	}
	if err != nil {
		c.config.Logger.Printf("Remote delete failed: %v", err)
		c.resolve(seq, err)
		// The next mutation's upsert is the recovery path.
		return rows, removed
	}

	c.scheduleUpsert()
	return rows, removed
}

// Reset replaces the sequence with a fresh default batch, performing a
// remote delete-all and then a re-upsert, awaited in order.
func (c *Coordinator) Reset(ctx context.Context) []tracker.Row {
	rows := c.store.ResetAll(c.config.DefaultRows)
	c.saveCache(rows)
	if c.remote == nil {
		return rows
	}

	c.cancelPending()
	c.setStatus(StatusSaving)

	seq := c.nextSeq()
	if err := c.remote.DeleteAll(ctx); err != nil {
		c.config.Logger.Printf("Remote delete-all failed: %v", err)
		c.resolve(seq, err)
		return rows
	}

	seq = c.nextSeq()
	c.resolve(seq, c.remote.UpsertMany(ctx, rows))
	return rows
}

// Flush fires any pending debounced upsert immediately and waits for
// in-flight remote calls to settle. Used before shutdown and at the end of
// batch runs. When the timer is mid-fire, the upsert's token is already
// held, so the Wait covers it.
func (c *Coordinator) Flush(ctx context.Context) {
	c.mu.Lock()
	pending := c.timer != nil && c.timer.Stop()
	c.timer = nil
	c.mu.Unlock()

	if pending {
		c.upsertNow(ctx)
		c.inflight.Done()
	}
	c.inflight.Wait()
}

// Close cancels pending work and waits for in-flight calls.
func (c *Coordinator) Close() {
	c.cancelPending()
	c.inflight.Wait()
}

// scheduleUpsert (re)arms the debounce timer. Repeated mutations inside the
// quiescence window collapse into a single upsert carrying the latest full
// sequence. No-op in local-only mode.
//
// Each armed-or-firing upsert holds one inflight token, taken here under the
// lock so Flush can never observe a zero counter between the timer firing
// and fireUpsert starting. The token is released exactly once: by fireUpsert
// when it runs, or by whoever stops the timer before it fires.
func (c *Coordinator) scheduleUpsert() {
	if c.remote == nil {
		return
	}

	c.mu.Lock()
	if c.timer == nil || !c.timer.Stop() {
		// No live timer owns a token (none armed, or the previous one
		// already fired and fireUpsert owns its token).
		c.inflight.Add(1)
	}
	c.timer = time.AfterFunc(c.config.DebounceInterval, c.fireUpsert)
	c.mu.Unlock()

	c.setStatus(StatusSaving)
}

// cancelPending stops the debounce timer without firing it, releasing its
// token when the stop won the race against the timer.
func (c *Coordinator) cancelPending() {
	c.mu.Lock()
	if c.timer != nil {
		if c.timer.Stop() {
			c.inflight.Done()
		}
		c.timer = nil
	}
	c.mu.Unlock()
}

// fireUpsert runs on the debounce timer goroutine and releases the token
// taken when the timer was armed.
func (c *Coordinator) fireUpsert() {
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.RemoteTimeout)
	defer cancel()
	c.upsertNow(ctx)
}

// upsertNow pushes the current full sequence to the remote store.
func (c *Coordinator) upsertNow(ctx context.Context) {
	rows := c.store.Rows()
	seq := c.nextSeq()
	c.resolve(seq, c.remote.UpsertMany(ctx, rows))
}

// nextSeq issues a monotonically increasing id for a remote call. Statuses
// are applied in resolution order gated by this id, so a call that resolves
// after a newer one has already settled cannot downgrade the status.
func (c *Coordinator) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// resolve applies the outcome of remote call seq to the status, ignoring
// resolutions older than one already applied.
func (c *Coordinator) resolve(seq uint64, err error) {
	c.mu.Lock()
	if seq <= c.lastResolved {
		c.mu.Unlock()
		if err != nil {
			c.config.Logger.Printf("Ignoring stale remote failure: %v", err)
		}
		return
	}
	c.lastResolved = seq
	c.mu.Unlock()

	if err != nil {
		c.config.Logger.Printf("Remote write failed: %v", err)
		c.setStatus(StatusError)
		return
	}
	c.setStatus(StatusSaved)
}

// setStatus updates the status and notifies the listener on change.
func (c *Coordinator) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	fn := c.onStatus
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// saveCache writes the sequence through to the local cache. Best-effort:
// the cache is a fallback, so failures are logged and swallowed.
func (c *Coordinator) saveCache(rows []tracker.Row) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Save(rows); err != nil {
		c.config.Logger.Printf("Warning: failed to write local cache: %v", err)
	}
}

// loadCache reads the cached sequence. Corrupt or missing caches are
// treated as empty, never as an operator-visible error.
func (c *Coordinator) loadCache() []tracker.Row {
	if c.cache == nil {
		return nil
	}
	rows, err := c.cache.Load()
	if err != nil {
		c.config.Logger.Printf("Warning: failed to read local cache: %v", err)
		return nil
	}
	return rows
}
