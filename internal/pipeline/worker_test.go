package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/refgest/internal/cache"
	"github.com/dgallion1/refgest/internal/citation"
	"github.com/dgallion1/refgest/internal/config"
	"github.com/dgallion1/refgest/internal/extract"
	"github.com/dgallion1/refgest/internal/refs"
	"github.com/dgallion1/refgest/internal/store"
)

const paperMarkdown = "# Graph Methods\n\n" +
	"Prior work [1] and [2] established the approach.\n\n" +
	"We extend it to sparse inputs.\n\n" +
	"## References\n\n" +
	"[1] Smith, J. Graph methods. 2019.\n\n" +
	"[2] Doe, A. Sparse graphs. 2020.\n"

const metadataJSON = `{"title":"Graph Methods","authors":["J. Smith"],"year":"2021","summary":"A study of graph methods."}`

type fakeLLM struct {
	payload json.RawMessage
	err     error
	calls   atomic.Int32
}

func (f *fakeLLM) Complete(context.Context, string, *extract.Schema) (json.RawMessage, error) {
	f.calls.Add(1)
	return f.payload, f.err
}

func (f *fakeLLM) Model() string { return "fake" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.SQLite {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "refgest.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func serveDocument(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.md" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/markdown")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWorker(llm extract.Completer, st *store.SQLite) *Worker {
	log := quietLogger()
	return NewWorker(llm, st, cache.New(st, log), nil, log, WorkerOptions{
		Retry: extract.RetryPolicy{Attempts: 1},
	})
}

func createJob(t *testing.T, st *store.SQLite, url string) *Job {
	t.Helper()
	job := NewJob("doc-"+t.Name(), url, "")
	if err := st.CreateDocument(context.Background(), store.Document{ID: job.DocID, URL: url, Status: string(StatusQueued)}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return job
}

func TestWorker_ProcessesDocument(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	srv := serveDocument(t, paperMarkdown)
	llm := &fakeLLM{payload: json.RawMessage(metadataJSON)}
	w := newTestWorker(llm, st)

	job := createJob(t, st, srv.URL+"/paper.md")
	w.Process(ctx, job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", snap.Status, snap.Progress.Errors)
	}
	if snap.Title != "Graph Methods" || snap.Filename != "paper.md" {
		t.Errorf("title/filename = %q/%q", snap.Title, snap.Filename)
	}
	if snap.Progress.References != 2 {
		t.Errorf("references = %d, want 2", snap.Progress.References)
	}

	doc, err := st.GetDocument(ctx, job.DocID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != string(StatusCompleted) || doc.Title != "Graph Methods" {
		t.Errorf("document = %+v", doc)
	}

	records, err := st.Sections(ctx, job.DocID)
	if err != nil {
		t.Fatalf("Sections: %v", err)
	}
	var cited bool
	for i, r := range records {
		if r.Position != i {
			t.Errorf("record %d has position %d", i, r.Position)
		}
		if strings.Contains(r.Text, "Prior work") {
			cited = true
			if len(r.Citations) != 2 {
				t.Errorf("expected 2 citations in %q, got %d", r.Text, len(r.Citations))
			}
		}
	}
	if !cited {
		t.Fatalf("no section holds the cited paragraph: %+v", records)
	}

	data, err := st.References(ctx, job.DocID)
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	if _, ok := data.Lookup("1"); !ok {
		t.Errorf("reference 1 not stored: %+v", data.Entries)
	}

	if _, ok, _ := st.GetCached(ctx, SummaryKey(job.DocID)); !ok {
		t.Error("expected summary to be cached")
	}
}

func TestWorker_ReusesCachedSummary(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	srv := serveDocument(t, paperMarkdown)
	llm := &fakeLLM{payload: json.RawMessage(metadataJSON)}
	w := newTestWorker(llm, st)

	job := createJob(t, st, srv.URL+"/paper.md")
	if err := st.PutCached(ctx, SummaryKey(job.DocID), json.RawMessage(`{"title":"Cached","authors":[],"year":"","summary":"s"}`)); err != nil {
		t.Fatalf("PutCached: %v", err)
	}
	w.Process(ctx, job)

	if llm.calls.Load() != 0 {
		t.Errorf("expected no LLM calls, got %d", llm.calls.Load())
	}
	if got := job.Snapshot().Title; got != "Cached" {
		t.Errorf("title = %q, want Cached", got)
	}
}

func TestWorker_FallbackSummaryNotCached(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	srv := serveDocument(t, paperMarkdown)
	llm := &fakeLLM{err: errors.New("invalid api key")}
	w := newTestWorker(llm, st)

	job := createJob(t, st, srv.URL+"/paper.md")
	w.Process(ctx, job)

	if job.Snapshot().Status != StatusCompleted {
		t.Fatalf("status = %q", job.Snapshot().Status)
	}
	doc, _ := st.GetDocument(ctx, job.DocID)
	var meta extract.Metadata
	if err := json.Unmarshal(doc.Metadata, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if !meta.Fallback || meta.Title != extract.FallbackTitle {
		t.Errorf("expected fallback metadata, got %+v", meta)
	}
	if _, ok, _ := st.GetCached(ctx, SummaryKey(job.DocID)); ok {
		t.Error("fallback summary should not be cached")
	}
}

func TestWorker_DownloadFailureMarksDocumentFailed(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	srv := serveDocument(t, paperMarkdown)
	w := newTestWorker(&fakeLLM{payload: json.RawMessage(metadataJSON)}, st)

	job := createJob(t, st, srv.URL+"/missing.md")
	w.Process(ctx, job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", snap.Status)
	}
	if len(snap.Progress.Errors) != 1 || !strings.Contains(snap.Progress.Errors[0], "404") {
		t.Errorf("errors = %v", snap.Progress.Errors)
	}
	doc, _ := st.GetDocument(ctx, job.DocID)
	if doc.Status != string(StatusFailed) || doc.Error == "" {
		t.Errorf("document = %+v", doc)
	}
}

func TestWorker_NoSectionsMarksDocumentFailed(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	srv := serveDocument(t, "# Only A Heading\n\n## Another Heading\n")
	llm := &fakeLLM{payload: json.RawMessage(metadataJSON)}
	w := newTestWorker(llm, st)

	job := createJob(t, st, srv.URL+"/headings.md")
	w.Process(ctx, job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", snap.Status)
	}
	if len(snap.Progress.Errors) != 1 || !strings.Contains(snap.Progress.Errors[0], "no resolvable sections") {
		t.Errorf("errors = %v", snap.Progress.Errors)
	}
	if n := llm.calls.Load(); n != 0 {
		t.Errorf("llm called %d times for a document without sections", n)
	}
	doc, _ := st.GetDocument(ctx, job.DocID)
	if doc.Status != string(StatusFailed) {
		t.Errorf("document status = %q, want failed", doc.Status)
	}
	if records, _ := st.Sections(ctx, job.DocID); len(records) != 0 {
		t.Errorf("stored %d sections, want 0", len(records))
	}
}

func TestRematch(t *testing.T) {
	records := []store.SectionRecord{
		{ID: "a", Text: "As shown in [2].", Citations: []citation.Match{}},
		{ID: "b", Text: "See [1,2] for details.", Citations: []citation.Match{{Text: "stale"}}},
	}
	data := refs.ParseText("[2] Doe, A. 2020. Sparse graphs.")

	if total := Rematch(records, &data); total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if len(records[0].Citations) != 1 || records[0].Citations[0].References[0].ID != "2" {
		t.Errorf("first record citations = %+v", records[0].Citations)
	}
	if got := records[1].Citations; len(got) != 1 || got[0].Text == "stale" {
		t.Errorf("stale matches not replaced: %+v", got)
	}

	empty := refs.Data{}
	Rematch(records, &empty)
	for _, r := range records {
		if r.Citations == nil || len(r.Citations) != 0 {
			t.Errorf("record %s citations = %#v, want empty list", r.ID, r.Citations)
		}
	}
}

func TestWorker_DeletedDocumentStopsQuietly(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	srv := serveDocument(t, paperMarkdown)
	w := newTestWorker(&fakeLLM{payload: json.RawMessage(metadataJSON)}, st)

	job := createJob(t, st, srv.URL+"/paper.md")
	if err := st.DeleteDocument(ctx, job.DocID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	w.Process(ctx, job)

	snap := job.Snapshot()
	if snap.Status != StatusCancelled {
		t.Fatalf("status = %q, want cancelled", snap.Status)
	}
	if len(snap.Progress.Errors) != 0 {
		t.Errorf("expected no errors, got %v", snap.Progress.Errors)
	}
	if _, err := st.GetDocument(ctx, job.DocID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected document to stay deleted, got %v", err)
	}
}

func TestWorker_CancelledBeforeStart(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	srv := serveDocument(t, paperMarkdown)
	w := newTestWorker(&fakeLLM{payload: json.RawMessage(metadataJSON)}, st)

	job := createJob(t, st, srv.URL+"/paper.md")
	job.Cancel()
	w.Process(ctx, job)

	if got := job.Snapshot().Status; got != StatusCancelled {
		t.Fatalf("status = %q, want cancelled", got)
	}
	doc, _ := st.GetDocument(ctx, job.DocID)
	if doc.Status != string(StatusCancelled) {
		t.Errorf("document status = %q", doc.Status)
	}
}

func TestWorker_InvalidPDFFails(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "this is not a pdf")
	}))
	defer srv.Close()
	w := newTestWorker(&fakeLLM{payload: json.RawMessage(metadataJSON)}, st)

	job := createJob(t, st, srv.URL+"/download?id=7")
	w.Process(ctx, job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", snap.Status)
	}
	if snap.Filename != "download.pdf" {
		t.Errorf("filename = %q, want download.pdf", snap.Filename)
	}
}

func TestResolveFilename(t *testing.T) {
	tests := []struct {
		name, url, filename, contentType, want string
	}{
		{"explicit", "https://x.org/a", "paper.pdf", "", "paper.pdf"},
		{"url path", "https://x.org/files/paper.md?v=2", "", "text/plain", "paper.md"},
		{"content type", "https://x.org/fetch", "", "application/pdf", "fetch.pdf"},
		{"content type params", "https://x.org/", "", "text/html; charset=utf-8", "document.html"},
		{"unknown", "https://x.org/blob", "", "application/octet-stream", "blob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveFilename(tt.url, tt.filename, tt.contentType); got != tt.want {
				t.Errorf("resolveFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&HTTPStatusError{Status: 503}, true},
		{&HTTPStatusError{Status: 429}, true},
		{&HTTPStatusError{Status: 404}, false},
		{&extract.RetryableError{StatusCode: 500}, true},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	cfg := config.Config{MaxQueueSize: 1, WorkerCount: 1, JobTTL: time.Hour}
	o := NewOrchestrator(cfg, &fakeLLM{payload: json.RawMessage(metadataJSON)}, st, cache.New(st, quietLogger()), quietLogger())

	// Not started, so the first job occupies the only slot.
	if _, err := o.Enqueue(ctx, "https://example.org/a.md", ""); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	job, err := o.Enqueue(ctx, "https://example.org/b.md", "")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if job.Snapshot().Status != StatusFailed {
		t.Errorf("job status = %q", job.Snapshot().Status)
	}
	doc, _ := st.GetDocument(ctx, job.DocID)
	if doc.Status != string(StatusFailed) {
		t.Errorf("document status = %q", doc.Status)
	}
	if o.QueueDepth() != 1 {
		t.Errorf("queue depth = %d", o.QueueDepth())
	}
}

func TestOrchestrator_ProcessesAndDeletes(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	srv := serveDocument(t, paperMarkdown)
	cfg := config.Config{MaxQueueSize: 4, WorkerCount: 2, JobTTL: time.Hour}
	o := NewOrchestrator(cfg, &fakeLLM{payload: json.RawMessage(metadataJSON)}, st, cache.New(st, quietLogger()), quietLogger())
	o.Start(ctx)
	defer o.Stop()

	job, err := o.Enqueue(ctx, srv.URL+"/paper.md", "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !job.Snapshot().Status.Terminal() {
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish, status %q", job.Snapshot().Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := job.Snapshot().Status; got != StatusCompleted {
		t.Fatalf("status = %q", got)
	}
	if o.GetJob(job.ID) != job {
		t.Error("GetJob did not return the submitted job")
	}

	if err := o.DeleteDocument(ctx, job.DocID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, ok, _ := st.GetCached(ctx, SummaryKey(job.DocID)); ok {
		t.Error("cached summary should be removed with the document")
	}
	if err := o.DeleteDocument(ctx, job.DocID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}
