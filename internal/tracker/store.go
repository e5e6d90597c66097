package tracker

import (
	"fmt"
	"sync"
)

// DefaultBatchSize is the number of empty rows a fresh tracker starts with.
const DefaultBatchSize = 20

// Store owns the canonical in-memory row sequence. It is the only writer
// of row data; everything else observes snapshots.
//
// Every mutation is copy-on-write: rows are value types, mutations build a
// new slice and return it, and returned snapshots are never aliased by
// later mutations. Callers can safely diff old vs. new snapshots.
//
// All methods are safe for concurrent use. Positions are recomputed on
// every mutation so Row.Position is always the row's current index.
type Store struct {
	mu       sync.Mutex
	rows     []Row
	warnings map[string]string
}

// NewStore creates a store seeded with the given rows. Positions are
// normalized to the sequence order; a nil seed yields an empty store.
func NewStore(rows []Row) *Store {
	s := &Store{warnings: make(map[string]string)}
	s.rows = renumber(cloneRows(rows))
	return s
}

// Rows returns a snapshot of the current sequence.
func (s *Store) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRows(s.rows)
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Get returns the row with the given id.
func (s *Store) Get(id string) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// CreateEmpty appends n empty rows with fresh ids and the initial workflow
// status, and returns the new snapshot.
func (s *Store) CreateEmpty(n int) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneRows(s.rows)
	for i := 0; i < n; i++ {
		next = append(next, NewRow())
	}
	s.rows = renumber(next)
	return cloneRows(s.rows)
}

// UpdateField replaces one field on one row, preserving everything else.
// Updating a field to the value it already holds is a no-op that still
// returns a fresh snapshot.
func (s *Store) UpdateField(id, field, value string) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneRows(s.rows)
	for i := range next {
		if next[i].ID != id {
			continue
		}
		if err := next[i].SetField(field, value); err != nil {
			return nil, err
		}
		s.rows = next
		return cloneRows(s.rows), nil
	}
	return nil, fmt.Errorf("no row with id %q", id)
}

// DeleteOne removes the row with the given id, shifting the positions of
// subsequent rows. Deleting an unknown id is an error.
func (s *Store) DeleteOne(id string) ([]Row, error) {
	rows, n := s.DeleteMany([]string{id})
	if n == 0 {
		return nil, fmt.Errorf("no row with id %q", id)
	}
	return rows, nil
}

// DeleteMany removes all rows whose ids appear in ids. Unknown ids are
// ignored. It returns the new snapshot and the number of rows removed.
func (s *Store) DeleteMany(ids []string) ([]Row, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	var next []Row
	removed := 0
	for _, r := range s.rows {
		if drop[r.ID] {
			removed++
			delete(s.warnings, r.ID)
			continue
		}
		next = append(next, r)
	}
	s.rows = renumber(next)
	return cloneRows(s.rows), removed
}

// ResetAll replaces the entire sequence with n fresh empty rows.
func (s *Store) ResetAll(n int) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		next = append(next, NewRow())
	}
	s.rows = renumber(next)
	s.warnings = make(map[string]string)
	return cloneRows(s.rows)
}

// Replace adopts the given rows as the new sequence. Used at startup when
// the remote store or local cache supplies the initial state.
func (s *Store) Replace(rows []Row) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = renumber(cloneRows(rows))
	s.warnings = make(map[string]string)
	return cloneRows(s.rows)
}

// SetWarning records a transient per-row warning, e.g. a failed lookup.
// Warnings are not persisted and vanish when the row is deleted.
func (s *Store) SetWarning(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings[id] = message
}

// ClearWarning removes the warning for a row, if any.
func (s *Store) ClearWarning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.warnings, id)
}

// Warnings returns a snapshot of the current per-row warnings keyed by row id.
func (s *Store) Warnings() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.warnings))
	for id, msg := range s.warnings {
		out[id] = msg
	}
	return out
}

// Stats computes the progress counters shown in the tracker header.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, r := range s.rows {
		if r.CaseRef != "" {
			st.Total++
		}
		if r.Portal == "Ja" {
			st.PortalCreated++
		}
		if r.Email == "Ja" {
			st.EmailSent++
		}
		if r.Docs == "Ja" {
			st.DocsUploaded++
		}
		if r.Status == StatusAbgeschlossen {
			st.Done++
		}
	}
	return st
}

func cloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	copy(out, rows)
	return out
}

func renumber(rows []Row) []Row {
	for i := range rows {
		rows[i].Position = i
	}
	return rows
}
