// REST surface for the local UI: capture drafts, inspect the queue, resolve
// conflicts, and poke the sync engine.
package main

import (
	"encoding/json"
	"net/http"

	"github.com/verdantchain/fieldsync/internal/engine"
	apperrors "github.com/verdantchain/fieldsync/internal/errors"
	"github.com/verdantchain/fieldsync/internal/models"
	"github.com/verdantchain/fieldsync/internal/store"
)

type apiServer struct {
	store  *store.Manager
	engine *engine.Engine
	hub    *WSHub
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/drafts", s.handleEnqueue)
	mux.HandleFunc("GET /api/queue", s.handleListQueue)
	mux.HandleFunc("GET /api/queue/{id}", s.handleGetEntry)
	mux.HandleFunc("GET /api/queue/{id}/conflicts", s.handleConflicts)
	mux.HandleFunc("POST /api/queue/{id}/resolve", s.handleResolve)
	mux.HandleFunc("GET /api/quota", s.handleQuota)
	mux.HandleFunc("POST /api/sync/trigger", s.handleTrigger)
	mux.HandleFunc("POST /api/sync/cancel", s.handleCancel)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	return mux
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": s.engine.Online(),
	})
}

// handleEnqueue captures a new draft. Identical content is deduplicated, so
// a double-tap in the UI returns the existing entry instead of a second one.
func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var payload models.WorkPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrPermanentValidation, "invalid draft payload", err))
		return
	}

	entry, err := s.store.Enqueue(&models.WorkDraft{Payload: payload})
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.EntryUpdated(entry)
	s.engine.TriggerSync()
	writeJSON(w, http.StatusCreated, entry)
}

func (s *apiServer) handleListQueue(w http.ResponseWriter, r *http.Request) {
	var filter store.Filter
	if state := r.URL.Query().Get("state"); state != "" {
		es := models.EntryState(state)
		if !es.Valid() {
			writeError(w, apperrors.Newf(apperrors.ErrPermanentValidation, "unknown state %q", state))
			return
		}
		filter.States = []models.EntryState{es}
	}

	entries, err := s.store.List(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *apiServer) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.Get(models.UUID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *apiServer) handleConflicts(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ConflictsFor(models.UUID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": records})
}

// handleResolve applies a user's decision to a conflicted entry.
func (s *apiServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy models.ResolutionStrategy `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrPermanentValidation, "invalid resolution request", err))
		return
	}

	id := models.UUID(r.PathValue("id"))
	if err := s.engine.ResolveManually(id, req.Strategy); err != nil {
		writeError(w, err)
		return
	}

	entry, err := s.store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.EntryUpdated(entry)
	writeJSON(w, http.StatusOK, entry)
}

func (s *apiServer) handleQuota(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.QuotaReport()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.engine.TriggerSync()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "triggered"})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.engine.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrPermanentValidation:
		status = http.StatusBadRequest
	case apperrors.ErrInvalidTransition, apperrors.ErrConflictDetected:
		status = http.StatusConflict
	case apperrors.ErrQuotaExceeded:
		status = http.StatusInsufficientStorage
	case apperrors.ErrAuthFailed:
		status = http.StatusBadGateway
	case apperrors.ErrTransientNetwork:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}
