package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dgallion1/refgest/internal/pipeline"
	"github.com/dgallion1/refgest/internal/refs"
	"github.com/dgallion1/refgest/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxPastedReferences bounds a pasted reference list.
const maxPastedReferences = 1 << 20

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument cancels any running job for the document and removes
// it with its sections, references and cached responses.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if err := s.orchestrator.DeleteDocument(r.Context(), docID); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "deleted": true})
}

func (s *Server) handleCancelDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	n := s.orchestrator.CancelDocument(docID)
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "cancelled_jobs": n})
}

func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	records, err := s.store.Sections(r.Context(), docID)
	if err != nil {
		storeError(w, err)
		return
	}
	if typ := r.URL.Query().Get("type"); typ != "" {
		kept := records[:0]
		for _, rec := range records {
			if string(rec.Type) == typ {
				kept = append(kept, rec)
			}
		}
		records = kept
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "sections": records})
}

// referencesView is the wire shape of a reference set: entries in id order.
type referencesView struct {
	DocID      string       `json:"doc_id"`
	Type       string       `json:"type"`
	StartPage  *int         `json:"start_page"`
	Count      int          `json:"count"`
	References []refs.Entry `json:"references"`
}

func newReferencesView(docID string, data refs.Data) referencesView {
	entries := data.Sorted()
	if entries == nil {
		entries = []refs.Entry{}
	}
	return referencesView{
		DocID:      docID,
		Type:       data.Type,
		StartPage:  data.StartPage,
		Count:      len(entries),
		References: entries,
	}
}

func (s *Server) handleGetReferences(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	data, err := s.store.References(r.Context(), docID)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReferencesView(docID, data))
}

// handlePutReferences merges a pasted reference list into the stored set.
// Existing entries are never overwritten; differing ones are reported.
func (s *Server) handlePutReferences(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	r.Body = http.MaxBytesReader(w, r.Body, maxPastedReferences)
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}

	incoming := refs.ParseText(req.Text)
	if incoming.Empty() {
		jsonError(w, "no references recognized in text", http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()
	existing, err := s.store.References(ctx, docID)
	if err != nil {
		storeError(w, err)
		return
	}
	merged, conflicts := refs.Merge(existing, incoming)
	if err := s.store.SaveReferences(ctx, docID, merged); err != nil {
		storeError(w, err)
		return
	}

	// Section citations resolve against the merged set from now on.
	records, err := s.store.Sections(ctx, docID)
	if err != nil {
		storeError(w, err)
		return
	}
	citations := pipeline.Rematch(records, &merged)
	if err := s.store.ReplaceSections(ctx, docID, records); err != nil {
		storeError(w, err)
		return
	}

	if conflicts == nil {
		conflicts = []string{}
	}
	added := len(merged.Entries) - len(existing.Entries)
	s.log.Info("references merged", "doc_id", docID,
		"added", added, "conflicts", len(conflicts), "citations", citations)

	writeJSON(w, http.StatusOK, map[string]any{
		"added":      added,
		"conflicts":  conflicts,
		"citations":  citations,
		"references": newReferencesView(docID, merged),
	})
}

func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	jsonError(w, err.Error(), http.StatusInternalServerError)
}
