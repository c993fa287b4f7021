package api

import "net/http"

// handleListResponders serves responder discovery. With entityType/entityId
// it returns the merged responders applicable to that entity's sensitivity;
// otherwise it returns the merged fleet-wide responder set, optionally
// narrowed by dataType.
func (s *Server) handleListResponders(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entityType")
	entityID := r.URL.Query().Get("entityId")

	if entityType != "" && entityID != "" {
		responders := s.registry.FindApplicable(r.Context(), entityType, entityID)
		s.writeJSON(w, http.StatusOK, responders)
		return
	}
	if entityType != "" || entityID != "" {
		s.writeError(w, http.StatusBadRequest, "entityType and entityId must be supplied together")
		return
	}

	query := map[string]any{}
	if dt := r.URL.Query().Get("dataType"); dt != "" {
		query["dataTypeList"] = dt
	}
	s.writeJSON(w, http.StatusOK, s.registry.FindAll(r.Context(), query))
}
