package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgallion1/refgest/internal/cache"
	"github.com/dgallion1/refgest/internal/citation"
	"github.com/dgallion1/refgest/internal/config"
	"github.com/dgallion1/refgest/internal/doctree"
	"github.com/dgallion1/refgest/internal/extract"
	"github.com/dgallion1/refgest/internal/pipeline"
	"github.com/dgallion1/refgest/internal/search"
	"github.com/dgallion1/refgest/internal/store"
)

const testKey = "secret"

type stubLLM struct{}

func (stubLLM) Complete(context.Context, string, *extract.Schema) (json.RawMessage, error) {
	return nil, errors.New("not used")
}

func (stubLLM) Model() string { return "stub-model" }

func newTestServer(t *testing.T) (*Server, *store.SQLite) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "refgest.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{RefgestAPIKey: testKey, MaxQueueSize: 10, WorkerCount: 1, JobTTL: time.Hour}
	llm := extract.NewObserved(stubLLM{}, extract.NewLLMStats(time.Hour))
	rc := cache.New(st, log)
	// The orchestrator is never started: submitted jobs stay queued.
	orch := pipeline.NewOrchestrator(cfg, llm, st, rc, log)
	svc := search.NewService(llm, st, rc, search.Options{}, log)
	return NewServer(orch, st, svc, llm, log, cfg), st
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func seedDoc(t *testing.T, st *store.SQLite, id string) {
	t.Helper()
	if err := st.CreateDocument(context.Background(), store.Document{ID: id, Status: "completed"}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic " + testKey},
		{"wrong key", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestSubmitDocuments(t *testing.T) {
	s, st := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/documents", map[string]any{
		"documents": []map[string]string{
			{"url": "https://example.org/paper.pdf"},
			{"url": "ftp://example.org/paper.pdf"},
		},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Jobs []map[string]any `json:"jobs"`
	}
	decode(t, rec, &resp)
	if len(resp.Jobs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Jobs))
	}
	if resp.Jobs[1]["error"] == nil {
		t.Errorf("expected ftp url to be rejected: %v", resp.Jobs[1])
	}

	jobID, _ := resp.Jobs[0]["job_id"].(string)
	docID, _ := resp.Jobs[0]["doc_id"].(string)
	if _, err := st.GetDocument(context.Background(), docID); err != nil {
		t.Errorf("document row not created: %v", err)
	}

	rec = do(t, s, http.MethodGet, "/api/jobs/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("job status: %d", rec.Code)
	}
	var snap pipeline.JobSnapshot
	decode(t, rec, &snap)
	if snap.Status != pipeline.StatusQueued || snap.DocID != docID {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	if rec := do(t, s, http.MethodGet, "/api/jobs/unknown", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: expected 404, got %d", rec.Code)
	}
}

func TestSubmitDocuments_Empty(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/documents", map[string]any{"documents": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestReferences_PasteMergesAdditively(t *testing.T) {
	s, st := newTestServer(t)
	seedDoc(t, st, "doc1")

	rec := do(t, s, http.MethodPut, "/api/documents/doc1/references", map[string]string{
		"text": "[1] Smith, J. 2020. Title A.\n[2] Doe, A. 2021. Title B.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first paste: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodPut, "/api/documents/doc1/references", map[string]string{
		"text": "[2] Someone else. 1999.\n[3] Lee, K. 2022. Title C.",
	})
	var merged struct {
		Added     int      `json:"added"`
		Conflicts []string `json:"conflicts"`
	}
	decode(t, rec, &merged)
	if merged.Added != 1 || len(merged.Conflicts) != 1 || merged.Conflicts[0] != "2" {
		t.Errorf("unexpected merge result: %+v", merged)
	}

	rec = do(t, s, http.MethodGet, "/api/documents/doc1/references", nil)
	var view referencesView
	decode(t, rec, &view)
	if view.Count != 3 {
		t.Fatalf("expected 3 references, got %d", view.Count)
	}
	if view.References[1].Text != "Doe, A. 2021. Title B." {
		t.Errorf("existing entry was overwritten: %q", view.References[1].Text)
	}
}

func TestReferences_PasteResolvesSectionCitations(t *testing.T) {
	s, st := newTestServer(t)
	seedDoc(t, st, "doc1")
	records := []store.SectionRecord{
		{ID: "doc1-a", DocumentID: "doc1", Type: doctree.SectionText, Position: 0,
			Text: "Prior work [1] and [3] set the baseline.", Citations: []citation.Match{}},
		{ID: "doc1-b", DocumentID: "doc1", Type: doctree.SectionText, Position: 1,
			Text: "No markers here.", Citations: []citation.Match{}},
	}
	if err := st.ReplaceSections(context.Background(), "doc1", records); err != nil {
		t.Fatalf("ReplaceSections: %v", err)
	}

	rec := do(t, s, http.MethodPut, "/api/documents/doc1/references", map[string]string{
		"text": "[1] Smith, J. 2020. Title A.\n[2] Doe, A. 2021. Title B.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("paste: %d %s", rec.Code, rec.Body.String())
	}
	var merged struct {
		Citations int `json:"citations"`
	}
	decode(t, rec, &merged)
	if merged.Citations != 1 {
		t.Errorf("citations = %d, want 1", merged.Citations)
	}

	rec = do(t, s, http.MethodGet, "/api/documents/doc1/sections", nil)
	var resp struct {
		Sections []store.SectionRecord `json:"sections"`
	}
	decode(t, rec, &resp)
	if len(resp.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(resp.Sections))
	}
	got := resp.Sections[0].Citations
	if len(got) != 1 || got[0].Text != "[1]" || len(got[0].References) != 1 || got[0].References[0].ID != "1" {
		t.Errorf("first section citations = %+v", got)
	}
	if len(resp.Sections[1].Citations) != 0 {
		t.Errorf("second section citations = %+v", resp.Sections[1].Citations)
	}
}

func TestReferences_Errors(t *testing.T) {
	s, st := newTestServer(t)
	seedDoc(t, st, "doc1")

	if rec := do(t, s, http.MethodPut, "/api/documents/doc1/references", map[string]string{"text": "no list here"}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unrecognized text: expected 422, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPut, "/api/documents/missing/references", map[string]string{"text": "[1] A."}); rec.Code != http.StatusNotFound {
		t.Errorf("missing doc: expected 404, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/documents/missing/references", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing doc: expected 404, got %d", rec.Code)
	}
}

func TestSections(t *testing.T) {
	s, st := newTestServer(t)
	seedDoc(t, st, "doc1")
	records := []store.SectionRecord{
		{ID: "doc1-a", DocumentID: "doc1", Type: doctree.SectionText, Position: 0, Text: "Intro", Citations: []citation.Match{}},
		{ID: "doc1-b", DocumentID: "doc1", Type: doctree.SectionTable, Position: 1, Text: "a | b", Citations: []citation.Match{}},
	}
	if err := st.ReplaceSections(context.Background(), "doc1", records); err != nil {
		t.Fatalf("ReplaceSections: %v", err)
	}

	rec := do(t, s, http.MethodGet, "/api/documents/doc1/sections?type=table", nil)
	var resp struct {
		Sections []store.SectionRecord `json:"sections"`
	}
	decode(t, rec, &resp)
	if len(resp.Sections) != 1 || resp.Sections[0].ID != "doc1-b" {
		t.Errorf("unexpected sections: %+v", resp.Sections)
	}

	if rec := do(t, s, http.MethodGet, "/api/documents/nope/sections", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	s, st := newTestServer(t)
	seedDoc(t, st, "doc1")

	if rec := do(t, s, http.MethodDelete, "/api/documents/doc1", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/api/documents/doc1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestSearch_InvalidRequest(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/search", map[string]any{"document_ids": []string{"doc1"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestLLMStats(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/stats/llm", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Model string `json:"model"`
	}
	decode(t, rec, &resp)
	if resp.Model != "stub-model" {
		t.Errorf("model = %q", resp.Model)
	}
}
