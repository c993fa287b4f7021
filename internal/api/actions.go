package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stackwatch/relay/internal/dispatch"
	"github.com/stackwatch/relay/internal/model"
	"github.com/stackwatch/relay/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// listActionsResponse wraps the paginated list response.
type listActionsResponse struct {
	Actions []*model.Action `json:"actions"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	action, err := s.dispatcher.Execute(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrMissingAttribute), errors.Is(err, model.ErrBadRequest):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, model.ErrNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		default:
			s.logger.Error("execute action", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to execute action")
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, action)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	action, err := s.store.GetAction(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "action not found")
		return
	}
	if err != nil {
		s.logger.Error("get action", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get action")
		return
	}

	s.writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 {
		limit = defaultListLimit
	} else if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	filter := store.ListFilter{
		Status:     r.URL.Query().Get("status"),
		EntityType: r.URL.Query().Get("entityType"),
		EntityID:   r.URL.Query().Get("entityId"),
		Limit:      limit,
		Offset:     offset,
	}

	actions, total, err := s.store.ListActions(r.Context(), filter)
	if err != nil {
		s.logger.Error("list actions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}

	if actions == nil {
		actions = []*model.Action{}
	}

	s.writeJSON(w, http.StatusOK, listActionsResponse{
		Actions: actions,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
