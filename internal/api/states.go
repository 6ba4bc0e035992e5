package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/genie-bridge/internal/entity"
)

// setStateRequest is the body of POST /api/states/{entity_id}.
type setStateRequest struct {
	State      string            `json:"state"`
	Attributes entity.Attributes `json:"attributes"`
}

// handleListStates returns every entity state sorted by id.
func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.entities.All(r.Context()))
}

// handleGetState returns one entity state.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entity_id")
	st, err := s.entities.Get(r.Context(), id)
	if errors.Is(err, entity.ErrEntityNotFound) {
		writeNotFound(w, "entity not found")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to read entity")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSetState creates or updates an entity: 201 for a new entity, 200
// otherwise. Omitted attributes keep the current ones.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entity_id")
	if err := entity.ValidateEntityID(id); err != nil {
		writeBadRequest(w, "invalid entity id")
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.State == "" {
		writeBadRequest(w, "state is required")
		return
	}

	_, getErr := s.entities.Get(r.Context(), id)
	created := errors.Is(getErr, entity.ErrEntityNotFound)

	st, err := s.entities.Set(r.Context(), id, req.State, req.Attributes)
	if err != nil {
		s.logger.Error("failed to set entity state", "entity_id", id, "error", err)
		writeInternalError(w, "failed to set entity state")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", "/api/states/"+id)
	}
	writeJSON(w, status, st)
}

// handleDeleteState removes an entity.
func (s *Server) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entity_id")
	err := s.entities.Remove(r.Context(), id)
	if errors.Is(err, entity.ErrEntityNotFound) {
		writeNotFound(w, "entity not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to remove entity", "entity_id", id, "error", err)
		writeInternalError(w, "failed to remove entity")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
