package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/service"
)

// sourceAPI tags service calls made over the REST shim.
const sourceAPI = "api"

// domainServices is one entry of GET /api/services.
type domainServices struct {
	Domain   string              `json:"domain"`
	Services map[string]struct{} `json:"services"`
}

// handleListServices lists registered services grouped by domain.
func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	byDomain := s.services.Services()
	domains := lo.Keys(byDomain)
	sort.Strings(domains)

	out := make([]domainServices, 0, len(domains))
	for _, d := range domains {
		entry := domainServices{Domain: d, Services: map[string]struct{}{}}
		for _, svc := range byDomain[d] {
			entry.Services[svc] = struct{}{}
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCallService runs domain.service with the JSON body as data and
// answers the states that changed during the call.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	svc := chi.URLParam(r, "service")

	data := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	source := sourceAPI
	if claims := claimsFromContext(r.Context()); claims != nil {
		source = sourceAPI + ":" + claims.Subject
	}

	started := time.Now().UTC()
	ok, err := s.services.Call(r.Context(), service.Call{
		Domain:  domain,
		Service: svc,
		Data:    data,
		Source:  source,
	})
	switch {
	case errors.Is(err, service.ErrServiceNotFound):
		writeBadRequest(w, "service not found: "+domain+"."+svc)
		return
	case errors.Is(err, service.ErrInvalidCall):
		writeBadRequest(w, err.Error())
		return
	case err != nil:
		s.logger.Warn("service call failed", "service", domain+"."+svc, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeServiceFailed, "service call failed")
		return
	case !ok:
		writeError(w, http.StatusBadGateway, ErrCodeServiceFailed, "service call had no effect")
		return
	}

	changed := lo.Filter(s.entities.All(r.Context()), func(st entity.State, _ int) bool {
		return !st.LastUpdated.Before(started)
	})
	writeJSON(w, http.StatusOK, changed)
}
