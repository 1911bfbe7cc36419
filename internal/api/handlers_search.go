package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgallion1/refgest/internal/search"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.search.Search(r.Context(), req)
	if err != nil {
		if errors.Is(err, search.ErrInvalidRequest) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error("search failed", "error", err)
		jsonError(w, "search failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
