package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/refgest/internal/cache"
	"github.com/dgallion1/refgest/internal/chunker"
	"github.com/dgallion1/refgest/internal/citation"
	"github.com/dgallion1/refgest/internal/doctree"
	"github.com/dgallion1/refgest/internal/extract"
	"github.com/dgallion1/refgest/internal/parser"
	"github.com/dgallion1/refgest/internal/refs"
	"github.com/dgallion1/refgest/internal/store"
)

// SummaryPages is how many leading pages feed metadata extraction.
const SummaryPages = 2

// SummaryKey is the cache key of a document's metadata summary.
func SummaryKey(docID string) cache.Key {
	return cache.Key{
		DocumentID:  docID,
		Kind:        cache.KindSummary,
		Fingerprint: cache.MustFingerprint(map[string]any{"kind": "metadata", "pages": SummaryPages}),
	}
}

// Store is the persistence the pipeline writes to. Writes against a missing
// document return store.ErrNotFound.
type Store interface {
	CreateDocument(ctx context.Context, d store.Document) error
	SetStatus(ctx context.Context, id, status, errMsg string) error
	SetMetadata(ctx context.Context, id, title string, metadata json.RawMessage) error
	ReplaceSections(ctx context.Context, docID string, records []store.SectionRecord) error
	SaveReferences(ctx context.Context, docID string, data refs.Data) error
	DeleteDocument(ctx context.Context, id string) error
}

// WorkerOptions bounds what a single job may consume.
type WorkerOptions struct {
	ChunkSize       int
	MaxBytes        int64
	DownloadTimeout time.Duration
	Retry           extract.RetryPolicy
}

// Worker processes a single document job.
type Worker struct {
	llm    extract.Completer
	store  Store
	cache  *cache.ResponseCache
	client *http.Client
	log    *slog.Logger
	opts   WorkerOptions
}

func NewWorker(llm extract.Completer, st Store, rc *cache.ResponseCache, client *http.Client, log *slog.Logger, opts WorkerOptions) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 50 << 20
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = time.Minute
	}
	return &Worker{
		llm:    llm,
		store:  st,
		cache:  rc,
		client: client,
		log:    log,
		opts:   opts,
	}
}

// Result is everything the structural stages produce for one document.
type Result struct {
	Elements   []doctree.Element
	Groups     []doctree.TitleGroup
	Sections   []doctree.Section
	References refs.Data
	Records    []store.SectionRecord
	Citations  int
}

// Analyze runs the LLM-free stages over a parsed element stream: reference
// extraction, grouping, sectioning and citation matching.
func Analyze(docID string, elements []doctree.Element, chunkSize int, log *slog.Logger) Result {
	data := refs.Extract(elements)
	groups, sections := chunker.BuildDocument(docID, elements, chunkSize, log)

	res := Result{
		Elements:   elements,
		Groups:     groups,
		Sections:   sections,
		References: data,
		Records:    make([]store.SectionRecord, 0, len(sections)),
	}
	for i := range sections {
		s := &sections[i]
		text := s.Text()
		matches := citation.Find(text, &data)
		res.Citations += len(matches)
		res.Records = append(res.Records, store.NewSectionRecord(docID, sections, i, text, chunker.EstimateTokens(text), matches))
	}
	return res
}

// Rematch recomputes the citation matches of stored section records against
// data, typically after references were pasted in. It returns the new total.
func Rematch(records []store.SectionRecord, data *refs.Data) int {
	total := 0
	for i := range records {
		matches := citation.Find(records[i].Text, data)
		if matches == nil {
			matches = []citation.Match{}
		}
		records[i].Citations = matches
		total += len(matches)
	}
	return total
}

// ParseFile parses data with the parser chosen by filename's extension.
func ParseFile(data []byte, filename string) ([]doctree.Element, error) {
	p, err := parser.ForFile(filename)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		if _, err := validatePDF(data); err != nil {
			return nil, err
		}
	}
	elements, err := p.Parse(bytes.NewReader(data), filename)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return elements, nil
}

// Process runs the full ingest pipeline for a job. A failure affects only
// this job's document.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID)
	ctx, cancel := job.bind(ctx)
	defer cancel()

	if err := ctx.Err(); err != nil {
		w.finish(ctx, job, log, err)
		return
	}
	if err := w.run(ctx, job, log); err != nil {
		w.finish(ctx, job, log, err)
		return
	}
	job.SetStatus(StatusCompleted, "done")
	log.Info("document processed")
}

func (w *Worker) run(ctx context.Context, job *Job, log *slog.Logger) error {
	// Phase 1: Download
	w.advance(ctx, job, StatusDownloading, "downloading")
	dlCtx, dlCancel := context.WithTimeout(ctx, w.opts.DownloadTimeout)
	data, filename, err := download(dlCtx, w.client, job.URL, job.Filename, w.opts.MaxBytes, log)
	dlCancel()
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	job.SetFilename(filename)
	log.Info("downloaded document", "bytes", len(data), "filename", filename)

	// Phase 2: Validate and parse
	w.advance(ctx, job, StatusParsing, "parsing")
	elements, err := ParseFile(data, filename)
	if err != nil {
		return err
	}
	if len(elements) == 0 {
		return errors.New("no extractable content")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase 3: References, groups, sections, citations
	w.advance(ctx, job, StatusSectioning, "sectioning")
	res := Analyze(job.DocID, elements, w.opts.ChunkSize, log)
	job.SetCounts(len(res.Elements), len(res.Groups), len(res.Sections), len(res.References.Entries), res.Citations)
	log.Info("sectioned document",
		"elements", len(res.Elements),
		"groups", len(res.Groups),
		"sections", len(res.Sections),
		"references", len(res.References.Entries),
		"citations", res.Citations,
	)
	if len(res.Sections) == 0 {
		return errors.New("no resolvable sections")
	}

	// Phase 4: Summary
	w.advance(ctx, job, StatusSummarizing, "summarizing")
	meta, payload, err := w.summarize(ctx, job.DocID, parser.OpeningText(elements, SummaryPages), log)
	if err != nil {
		return err
	}
	job.SetTitle(meta.Title)

	// Phase 5: Persist
	w.advance(ctx, job, StatusStoring, "storing")
	if err := w.store.SetMetadata(ctx, job.DocID, meta.Title, payload); err != nil {
		return fmt.Errorf("store metadata: %w", err)
	}
	if err := w.store.ReplaceSections(ctx, job.DocID, res.Records); err != nil {
		return fmt.Errorf("store sections: %w", err)
	}
	if err := w.store.SaveReferences(ctx, job.DocID, res.References); err != nil {
		return fmt.Errorf("store references: %w", err)
	}
	if err := w.store.SetStatus(ctx, job.DocID, string(StatusCompleted), ""); err != nil {
		return fmt.Errorf("store status: %w", err)
	}
	return nil
}

// summarize returns the document metadata, reusing a cached summary when
// one exists. Fallback metadata is stored on the document but not cached,
// so a later run can replace it.
func (w *Worker) summarize(ctx context.Context, docID, opening string, log *slog.Logger) (extract.Metadata, json.RawMessage, error) {
	key := SummaryKey(docID)
	if cached, ok := w.cache.Get(ctx, key); ok {
		if meta, err := extract.DecodeMetadata(cached); err == nil {
			log.Info("summary cache hit")
			return meta, cached, nil
		}
		log.Warn("cached summary invalid, regenerating")
	}

	meta, err := extract.ExtractMetadata(ctx, w.llm, opening, w.opts.Retry, log)
	if err != nil {
		return extract.Metadata{}, nil, err
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return extract.Metadata{}, nil, fmt.Errorf("encode metadata: %w", err)
	}
	if !meta.Fallback {
		w.cache.Put(ctx, key, payload)
	}
	return meta, payload, nil
}

// advance moves the job and its document to the next phase. Status write
// failures are not fatal here; the persist phase surfaces ErrNotFound.
func (w *Worker) advance(ctx context.Context, job *Job, status JobStatus, phase string) {
	job.SetStatus(status, phase)
	if err := w.store.SetStatus(ctx, job.DocID, string(status), ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		w.log.Warn("status update failed", "doc_id", job.DocID, "status", status, "error", err)
	}
}

// finish records a terminal non-success outcome.
func (w *Worker) finish(ctx context.Context, job *Job, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Info("document deleted during processing, stopping")
		job.SetStatus(StatusCancelled, "deleted")
		return
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		log.Info("job cancelled")
		job.SetStatus(StatusCancelled, "cancelled")
		w.recordStatus(job.DocID, StatusCancelled, "", log)
		return
	}

	log.Error("document processing failed", "error", err)
	job.AddError(err.Error())
	job.SetStatus(StatusFailed, "failed")
	w.recordStatus(job.DocID, StatusFailed, err.Error(), log)
}

// recordStatus writes a final status even after the job context ended.
func (w *Worker) recordStatus(docID string, status JobStatus, msg string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.SetStatus(ctx, docID, string(status), msg); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("final status update failed", "status", status, "error", err)
	}
}
