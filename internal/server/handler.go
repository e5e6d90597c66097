// Handlers for the tracker operation endpoints, bridging HTTP requests to
// the sync coordinator and batch runner.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kanzleidev/portaltracker/internal/batch"
	"github.com/kanzleidev/portaltracker/internal/lookup"
	"github.com/kanzleidev/portaltracker/internal/syncer"
	"github.com/kanzleidev/portaltracker/internal/tracker"
)

// LookupClient is the single-row lookup surface exposed over HTTP.
type LookupClient interface {
	Lookup(ctx context.Context, caseRef string) (lookup.Result, error)
	LookupAndCreateTicket(ctx context.Context, caseRef string) (lookup.Result, error)
}

// Tracker bundles the components the server operates on. The lookup client
// may be nil when no directory backend is configured.
type Tracker struct {
	Coordinator *syncer.Coordinator
	Runner      *batch.Runner
	Lookup      LookupClient
}

// Status returns the current sync status.
func (t *Tracker) Status() syncer.Status {
	return t.Coordinator.Status()
}

// WireBroadcasts registers coordinator and runner callbacks so state
// changes reach connected WebSocket clients.
func (t *Tracker) WireBroadcasts(s *Server) {
	t.Coordinator.OnStatusChange(func(status syncer.Status) {
		s.BroadcastEvent(MessageTypeSyncStatus, map[string]string{"status": status.String()})
	})
	t.Runner.OnProgress(func(p batch.Progress) {
		s.BroadcastEvent(MessageTypeBatchProgress, p)
	})
}

// rowsResponse is the payload for row listings and mutations.
type rowsResponse struct {
	Rows     []tracker.Row     `json:"rows"`
	Warnings map[string]string `json:"warnings,omitempty"`
}

// handleRows serves GET /rows (list) and POST /rows (append empty rows).
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		store := s.tracker.Coordinator.Store()
		writeJSON(w, http.StatusOK, rowsResponse{
			Rows:     store.Rows(),
			Warnings: store.Warnings(),
		})

	case http.MethodPost:
		var req struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		if req.Count <= 0 {
			req.Count = 10
		}
		rows := s.tracker.Coordinator.CreateRows(req.Count)
		s.broadcastRowsChanged()
		writeJSON(w, http.StatusOK, rowsResponse{Rows: rows})

	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// handleRow serves PATCH /rows/{id} (field update) and DELETE /rows/{id}.
func (s *Server) handleRow(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/rows/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, errors.New("row not found"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Field string `json:"field"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		rows, err := s.tracker.Coordinator.UpdateField(id, req.Field, req.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.broadcastRowsChanged()
		writeJSON(w, http.StatusOK, rowsResponse{Rows: rows})

	case http.MethodDelete:
		rows, removed := s.tracker.Coordinator.DeleteRows(r.Context(), []string{id})
		if removed == 0 {
			writeError(w, http.StatusNotFound, fmt.Errorf("no row with id %q", id))
			return
		}
		s.broadcastRowsChanged()
		writeJSON(w, http.StatusOK, rowsResponse{Rows: rows})

	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// handleReset serves POST /reset, replacing everything with a fresh batch.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	rows := s.tracker.Coordinator.Reset(r.Context())
	s.broadcastRowsChanged()
	writeJSON(w, http.StatusOK, rowsResponse{Rows: rows})
}

// handleStatus serves GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": s.tracker.Status().String(),
	})
}

// handleStats serves GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Coordinator.Store().Stats())
}

// handleWarnings serves GET /warnings.
func (s *Server) handleWarnings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Coordinator.Store().Warnings())
}

// handleLookup serves POST /lookup: a single-row lookup, optionally with
// ticket creation, with enrichment written back to the given row.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if s.tracker.Lookup == nil {
		writeError(w, http.StatusServiceUnavailable, lookup.ErrNotConfigured)
		return
	}

	var req struct {
		RowID        string `json:"row_id"`
		CreateTicket bool   `json:"create_ticket"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	store := s.tracker.Coordinator.Store()
	row, ok := store.Get(req.RowID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no row with id %q", req.RowID))
		return
	}

	var result lookup.Result
	var err error
	if req.CreateTicket {
		result, err = s.tracker.Lookup.LookupAndCreateTicket(r.Context(), row.CaseRef)
	} else {
		result, err = s.tracker.Lookup.Lookup(r.Context(), row.CaseRef)
	}
	if err != nil {
		store.SetWarning(row.ID, fmt.Sprintf("Lookup fehlgeschlagen: %v", err))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	// Write-back is the caller's job; the lookup client never touches rows.
	if result.Kind != lookup.KindNotFound {
		if _, err := s.tracker.Coordinator.UpdateField(row.ID, tracker.FieldName, result.Name); err != nil {
			s.logger.Printf("Warning: failed to write name for row %s: %v", row.ID, err)
		}
		if _, err := s.tracker.Coordinator.UpdateField(row.ID, tracker.FieldContactURL, result.ContactURL); err != nil {
			s.logger.Printf("Warning: failed to write contact URL for row %s: %v", row.ID, err)
		}
		s.broadcastRowsChanged()
	}
	if result.Kind == lookup.KindFound {
		store.ClearWarning(row.ID)
	}

	writeJSON(w, http.StatusOK, result)
}

// handleBatch serves GET /batch with the current batch progress.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	progress, active := s.tracker.Runner.Active()
	if !active {
		writeJSON(w, http.StatusOK, map[string]bool{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   true,
		"progress": progress,
	})
}

// handleBatchLookup serves POST /batch/lookup, starting a lookup-only batch.
func (s *Server) handleBatchLookup(w http.ResponseWriter, r *http.Request) {
	s.startBatch(w, r, func(ctx context.Context) error {
		return s.tracker.Runner.RunLookups(ctx)
	})
}

// handleBatchTickets serves POST /batch/tickets, starting a ticket-creation
// batch over the selected row ids.
func (s *Server) handleBatchTickets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}
	s.startBatch(w, r, func(ctx context.Context) error {
		return s.tracker.Runner.RunTicketCreation(ctx, req.IDs)
	})
}

// startBatch launches a batch in the background, rejecting concurrent runs.
func (s *Server) startBatch(w http.ResponseWriter, r *http.Request, run func(context.Context) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if s.tracker.Lookup == nil {
		writeError(w, http.StatusServiceUnavailable, lookup.ErrNotConfigured)
		return
	}
	if _, active := s.tracker.Runner.Active(); active {
		writeError(w, http.StatusConflict, batch.ErrBatchActive)
		return
	}

	go func() {
		if err := run(s.ctx); err != nil && !errors.Is(err, batch.ErrBatchActive) {
			s.logger.Printf("Batch failed: %v", err)
		}
		s.broadcastRowsChanged()
	}()

	writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

// broadcastRowsChanged publishes the mutation and the refreshed counters.
func (s *Server) broadcastRowsChanged() {
	store := s.tracker.Coordinator.Store()
	s.BroadcastEvent(MessageTypeRowsChanged, map[string]int{"rows": store.Len()})
	s.BroadcastEvent(MessageTypeStats, store.Stats())
}
