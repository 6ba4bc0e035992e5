package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/genie-bridge/internal/audit"
)

// handleListServiceCalls returns paginated service call records.
//
// Query parameters:
//   - domain, service, source: exact-match filters
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListServiceCalls(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "service call log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Domain:  q.Get("domain"),
		Service: q.Get("service"),
		Source:  q.Get("source"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list service calls", "error", err)
		writeInternalError(w, "failed to list service calls")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
