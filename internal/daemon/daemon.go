// Package daemon provides headless row-edit ingestion for the tracker.
//
// Operators (or scripts) drop edit files into a spool directory; the daemon:
// 1. Watches the spool directory for new *.json files
// 2. Applies the contained operations to the row store via the coordinator
// 3. Removes processed files
//
// Edits applied this way ride the normal cache write-through and debounced
// remote sync path, exactly like edits arriving over the HTTP surface.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kanzleidev/portaltracker/internal/syncer"
)

// Op is one operation in a spool edit file.
type Op struct {
	// Op is one of "create", "update", "delete", "reset".
	Op string `json:"op"`

	// Count is the number of rows to append for "create".
	Count int `json:"count,omitempty"`

	// ID, Field and Value describe an "update".
	ID    string `json:"id,omitempty"`
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`

	// IDs lists the rows to remove for "delete".
	IDs []string `json:"ids,omitempty"`
}

// EditFile is the spool file format: a list of operations applied in order.
type EditFile struct {
	Ops []Op `json:"ops"`
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait before processing spool files.
	// This batches rapid drops together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the spool directory and applies edit files to the store.
type Daemon struct {
	coordinator *syncer.Coordinator
	spoolDir    string
	config      *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> timestamp
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance. Use Start() to begin watching.
func New(coordinator *syncer.Coordinator, spoolDir string, config *Config) (*Daemon, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if spoolDir == "" {
		return nil, fmt.Errorf("spoolDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		coordinator: coordinator,
		spoolDir:    spoolDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins watching the spool directory. It first drains any files
// already present, then processes new drops with debouncing. Non-blocking;
// use Stop to shut down.
func (d *Daemon) Start() error {
	if err := os.MkdirAll(d.spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	// Drain files that were dropped while the daemon wasn't running.
	if err := d.drainSpool(); err != nil {
		return fmt.Errorf("initial spool drain failed: %w", err)
	}

	if err := d.watcher.Add(d.spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	d.config.Logger.Printf("Watching spool: %s", d.spoolDir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	return nil
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()
	return nil
}

// drainSpool processes every edit file already in the spool directory.
// Individual file failures are logged but don't stop the drain.
func (d *Daemon) drainSpool() error {
	entries, err := os.ReadDir(d.spoolDir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(d.spoolDir, entry.Name())
		if err := d.processEditFile(path); err != nil {
			d.config.Logger.Printf("Warning: failed to process %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write; deletions are our own cleanup.
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued spool files with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges applies files that have been quiet long enough.
// Waiting a full debounce interval avoids reading half-written drops.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		if err := d.processEditFile(path); err != nil {
			d.config.Logger.Printf("Warning: failed to process %s: %v", filepath.Base(path), err)
		}
		delete(d.changeQueue, path)
	}
}

// processEditFile reads, applies and removes one spool edit file.
func (d *Daemon) processEditFile(path string) error {
	// The file may already be gone (processed by the drain, or removed
	// by the operator); that's not an error.
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read edit file: %w", err)
	}

	var edit EditFile
	if err := json.Unmarshal(data, &edit); err != nil {
		return fmt.Errorf("failed to parse edit file: %w", err)
	}

	applied := 0
	for _, op := range edit.Ops {
		if err := d.apply(op); err != nil {
			d.config.Logger.Printf("Warning: skipping op %q in %s: %v", op.Op, filepath.Base(path), err)
			continue
		}
		applied++
	}

	d.config.Logger.Printf("Applied %d/%d ops from %s", applied, len(edit.Ops), filepath.Base(path))

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove processed file: %w", err)
	}
	return nil
}

// apply executes one operation against the coordinator.
func (d *Daemon) apply(op Op) error {
	switch op.Op {
	case "create":
		count := op.Count
		if count <= 0 {
			count = 1
		}
		d.coordinator.CreateRows(count)
		return nil

	case "update":
		_, err := d.coordinator.UpdateField(op.ID, op.Field, op.Value)
		return err

	case "delete":
		ids := op.IDs
		if len(ids) == 0 && op.ID != "" {
			ids = []string{op.ID}
		}
		if len(ids) == 0 {
			return fmt.Errorf("delete op without ids")
		}
		d.coordinator.DeleteRows(d.ctx, ids)
		return nil

	case "reset":
		d.coordinator.Reset(d.ctx)
		return nil

	default:
		return fmt.Errorf("unknown op: %q", op.Op)
	}
}
