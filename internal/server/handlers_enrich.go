package server

import (
	"net/http"

	"github.com/minionlabs/minion-api/internal/enrich"
	"github.com/minionlabs/minion-api/internal/server/middleware"
	"github.com/minionlabs/minion-api/internal/types"
)

// handleEnrich forwards an uploaded CSV to the enrichment backend.
func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	kind := types.EnrichKind(r.PathValue("kind"))
	switch kind {
	case types.EnrichEmail, types.EnrichPhone, types.EnrichBoth:
	default:
		s.errorResponse(w, http.StatusNotFound, "Unknown enrichment type")
		return
	}

	data, fileName, err := readUpload(w, r, "csv")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	account, err := s.userService.Account(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.enricher.Run(r.Context(), enrich.Request{
		OwnerID:       userID,
		OwnerEmail:    account.Email,
		Kind:          kind,
		FileName:      fileName,
		CSV:           data,
		MappedOptions: r.FormValue("mappedOptions"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"message": "Enrichment completed", "result": res})
}

// handleListEnrichLogs lists the caller's enrichment requests.
func (s *Server) handleListEnrichLogs(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	logs, err := s.db.ListEnrichLogs(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []types.EnrichLog{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"logs": logs})
}
