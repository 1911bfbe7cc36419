package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dgallion1/refgest/internal/cache"
	"github.com/dgallion1/refgest/internal/citation"
	"github.com/dgallion1/refgest/internal/doctree"
	"github.com/dgallion1/refgest/internal/extract"
	"github.com/dgallion1/refgest/internal/store"
)

// judge answers summary checks with relevant=true and flags a section as
// keyword-matching when its text mentions "graph".
type judge struct {
	mu      sync.Mutex
	prompts []string
	fail    bool
}

func (j *judge) Complete(_ context.Context, prompt string, schema *extract.Schema) (json.RawMessage, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.prompts = append(j.prompts, prompt)
	if j.fail {
		return nil, errors.New("model unavailable")
	}
	switch schema.Name {
	case extract.SummaryRelevanceSchema.Name:
		return json.RawMessage(`{"is_relevant":true,"reason":"on topic"}`), nil
	case extract.SectionAnalysisSchema.Name:
		body := prompt[strings.LastIndex(prompt, "---\n"):]
		hit := strings.Contains(strings.ToLower(body), "graph")
		kw := ""
		if hit {
			kw = "graph"
		}
		return json.RawMessage(fmt.Sprintf(
			`{"has_context":false,"context":"","has_theme":false,"theme":"","has_keyword":%t,"keyword":%q,"has_similar_keyword":false,"similar_keyword":""}`,
			hit, kw)), nil
	}
	return nil, fmt.Errorf("unexpected schema %s", schema.Name)
}

func (j *judge) Model() string { return "judge" }

func (j *judge) calls() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.prompts)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, llm extract.Completer) (*Service, *store.SQLite) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "refgest.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	log := quietLogger()
	svc := NewService(llm, st, cache.New(st, log), Options{Concurrency: 2, Retry: extract.RetryPolicy{Attempts: 1}}, log)
	return svc, st
}

func seedDocument(t *testing.T, st *store.SQLite, id, title string, texts ...string) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateDocument(ctx, store.Document{ID: id, Status: "completed"}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	meta, _ := json.Marshal(extract.Metadata{Title: title, Authors: []string{"A. Author"}, Summary: title + " summary"})
	if err := st.SetMetadata(ctx, id, title, meta); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	records := make([]store.SectionRecord, len(texts))
	for i, text := range texts {
		records[i] = store.SectionRecord{
			ID:         fmt.Sprintf("%s-s%d", id, i),
			DocumentID: id,
			Type:       doctree.SectionText,
			Position:   i,
			GroupTitle: "Body",
			Page:       1,
			Text:       text,
			Citations:  []citation.Match{},
		}
	}
	if err := st.ReplaceSections(ctx, id, records); err != nil {
		t.Fatalf("ReplaceSections: %v", err)
	}
}

func TestSearch_RanksAndCaches(t *testing.T) {
	ctx := context.Background()
	llm := &judge{}
	svc, st := setup(t, llm)
	seedDocument(t, st, "weak", "Cooking", "Recipes for bread.", "Notes on yeast.")
	seedDocument(t, st, "strong", "Graphs", "Graph partitioning.", "Sparse graph methods.", "Unrelated aside.")

	req := Request{DocumentIDs: []string{"weak", "strong"}, Keywords: []string{" Graph "}}
	resp, err := svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Strategy != "count" {
		t.Errorf("strategy = %q", resp.Strategy)
	}
	if len(resp.Results) != 2 || resp.Results[0].DocumentID != "strong" {
		t.Fatalf("unexpected ranking: %+v", resp.Results)
	}
	strong := resp.Results[0]
	if strong.Counts.Keyword != 2 || strong.Counts.Sections != 3 || !strong.Relevant {
		t.Errorf("strong counts = %+v relevant=%v", strong.Counts, strong.Relevant)
	}
	// count: 2 keyword matches * 4 + relevance bonus 4
	if strong.Score != 12 {
		t.Errorf("strong score = %v, want 12", strong.Score)
	}
	if strong.Cached {
		t.Error("first search should not be a cache hit")
	}
	// 2 summary checks + 5 sections
	if got := llm.calls(); got != 7 {
		t.Errorf("llm calls = %d, want 7", got)
	}

	// Same query, different spelling and strategy: served from cache.
	again, err := svc.Search(ctx, Request{DocumentIDs: []string{"strong", "weak"}, Keywords: []string{"graph"}, Strategy: "weighted"})
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if got := llm.calls(); got != 7 {
		t.Errorf("llm calls after cached search = %d, want 7", got)
	}
	for _, r := range again.Results {
		if !r.Cached {
			t.Errorf("%s: expected cache hit", r.DocumentID)
		}
	}
	if again.Strategy != "weighted" || again.Results[0].DocumentID != "strong" {
		t.Errorf("unexpected weighted result: %+v", again)
	}
}

func TestSearch_PromptsCarryRunningCounts(t *testing.T) {
	llm := &judge{}
	svc, st := setup(t, llm)
	seedDocument(t, st, "d", "Graphs", "Graph one.", "Graph two.", "Plain three.")

	if _, err := svc.Search(context.Background(), Request{DocumentIDs: []string{"d"}, Keywords: []string{"graph"}}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(llm.prompts) != 4 {
		t.Fatalf("expected 4 prompts, got %d", len(llm.prompts))
	}
	want := []string{
		"Sections analyzed so far: 0 (context matches: 0, theme matches: 0, keyword matches: 0",
		"Sections analyzed so far: 1 (context matches: 0, theme matches: 0, keyword matches: 1",
		"Sections analyzed so far: 2 (context matches: 0, theme matches: 0, keyword matches: 2",
	}
	for i, w := range want {
		if !strings.Contains(llm.prompts[i+1], w) {
			t.Errorf("prompt %d missing %q", i+1, w)
		}
	}
	if !strings.Contains(llm.prompts[1], "Graphs summary") {
		t.Error("section prompt should include the document summary")
	}
}

func TestSearch_DocumentFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	svc, st := setup(t, &judge{})
	seedDocument(t, st, "ok", "Graphs", "Graph text.")
	if err := st.CreateDocument(ctx, store.Document{ID: "pending", Status: "parsing"}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	resp, err := svc.Search(ctx, Request{DocumentIDs: []string{"missing", "pending", "ok"}, Context: "graph theory"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Results[0].DocumentID != "ok" || resp.Results[0].Error != "" {
		t.Fatalf("expected ok first without error: %+v", resp.Results[0])
	}
	// Failed documents score 0 and keep request order.
	if resp.Results[1].DocumentID != "missing" || resp.Results[1].Error == "" {
		t.Errorf("missing result = %+v", resp.Results[1])
	}
	if resp.Results[2].DocumentID != "pending" || !strings.Contains(resp.Results[2].Error, "not ready") {
		t.Errorf("pending result = %+v", resp.Results[2])
	}
}

func TestSearch_FailedAnalysisIsNotCached(t *testing.T) {
	ctx := context.Background()
	llm := &judge{fail: true}
	svc, st := setup(t, llm)
	seedDocument(t, st, "d", "Graphs", "Graph text.")
	req := Request{DocumentIDs: []string{"d"}, Theme: "networks"}

	resp, err := svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Results[0].Error == "" {
		t.Fatal("expected document error")
	}

	llm.mu.Lock()
	llm.fail = false
	llm.mu.Unlock()
	resp, err = svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if r := resp.Results[0]; r.Error != "" || r.Cached {
		t.Errorf("expected fresh successful analysis, got %+v", r)
	}
}

func TestSearch_InvalidRequests(t *testing.T) {
	svc, _ := setup(t, &judge{})
	tests := []struct {
		name string
		req  Request
	}{
		{"no documents", Request{Context: "x"}},
		{"empty query", Request{DocumentIDs: []string{"d"}, Keywords: []string{"  "}}},
		{"unknown strategy", Request{DocumentIDs: []string{"d"}, Context: "x", Strategy: "magic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestRequestQuery_Normalizes(t *testing.T) {
	q := Request{Context: "  Graph   Theory ", Keywords: []string{"Sparse", "", "  DENSE "}}.Query()
	if q.Context != "graph theory" {
		t.Errorf("context = %q", q.Context)
	}
	if strings.Join(q.Keywords, ",") != "sparse,dense" {
		t.Errorf("keywords = %v", q.Keywords)
	}
}
