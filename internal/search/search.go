// Package search runs relevance analysis of stored documents against a
// research query and ranks the documents by score.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/refgest/internal/cache"
	"github.com/dgallion1/refgest/internal/extract"
	"github.com/dgallion1/refgest/internal/relevance"
	"github.com/dgallion1/refgest/internal/store"
)

// statusCompleted is the document status after a successful ingest.
const statusCompleted = "completed"

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid search request")

// Request selects documents and describes what to look for.
type Request struct {
	DocumentIDs []string `json:"document_ids"`
	Context     string   `json:"context"`
	Theme       string   `json:"theme"`
	Keywords    []string `json:"keywords"`
	Strategy    string   `json:"strategy"`
}

// Query returns the normalized query: trimmed, lowercased, whitespace
// collapsed, empty keywords dropped.
func (r Request) Query() extract.Query {
	q := extract.Query{
		Context:  normalize(r.Context),
		Theme:    normalize(r.Theme),
		Keywords: []string{},
	}
	for _, k := range r.Keywords {
		if k = normalize(k); k != "" {
			q.Keywords = append(q.Keywords, k)
		}
	}
	return q
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// SectionResult is the analysis of one section.
type SectionResult struct {
	SectionID string                   `json:"section_id"`
	Position  int                      `json:"position"`
	Title     string                   `json:"title,omitempty"`
	Page      int                      `json:"page"`
	Signals   relevance.SectionSignals `json:"signals"`
	Analysis  extract.SectionAnalysis  `json:"analysis"`
	Score     float64                  `json:"score"`
}

// DocumentResult is the outcome for one requested document. Error is set
// when the document could not be analyzed; other documents are unaffected.
type DocumentResult struct {
	DocumentID string           `json:"document_id"`
	Title      string           `json:"title,omitempty"`
	Relevant   bool             `json:"is_relevant"`
	Reason     string           `json:"reason,omitempty"`
	Counts     relevance.Counts `json:"counts"`
	Score      float64          `json:"score"`
	Cached     bool             `json:"cached"`
	Sections   []SectionResult  `json:"sections"`
	Error      string           `json:"error,omitempty"`
}

// Response lists document results ranked by score.
type Response struct {
	Strategy string           `json:"strategy"`
	Results  []DocumentResult `json:"results"`
}

// analysis is the cached, strategy-independent part of a document result.
type analysis struct {
	Relevant bool            `json:"is_relevant"`
	Reason   string          `json:"reason"`
	Sections []SectionResult `json:"sections"`
}

// Store is the read side of persistence the search needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	Sections(ctx context.Context, docID string) ([]store.SectionRecord, error)
}

// Options configures a Service.
type Options struct {
	Concurrency     int
	DefaultStrategy string
	Retry           extract.RetryPolicy
}

// Service analyzes documents with an LLM, caching per-document analyses
// by normalized query.
type Service struct {
	llm   extract.Completer
	store Store
	cache *cache.ResponseCache
	opts  Options
	log   *slog.Logger
}

func NewService(llm extract.Completer, st Store, rc *cache.ResponseCache, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Service{llm: llm, store: st, cache: rc, opts: opts, log: log}
}

// Search analyzes every requested document, at most Concurrency at a time,
// and returns results ranked by score. Ties keep request order.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	q := req.Query()
	if len(req.DocumentIDs) == 0 {
		return Response{}, fmt.Errorf("%w: document_ids is required", ErrInvalidRequest)
	}
	if q.Context == "" && q.Theme == "" && len(q.Keywords) == 0 {
		return Response{}, fmt.Errorf("%w: one of context, theme or keywords is required", ErrInvalidRequest)
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = s.opts.DefaultStrategy
	}
	scorer, err := relevance.ForName(strategy)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	fp, err := cache.Fingerprint(q)
	if err != nil {
		return Response{}, fmt.Errorf("fingerprint query: %w", err)
	}

	results := make([]DocumentResult, len(req.DocumentIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, id := range req.DocumentIDs {
		g.Go(func() error {
			res, err := s.document(gctx, id, q, fp, scorer)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Error("document search failed", "doc_id", id, "error", err)
				res = DocumentResult{DocumentID: id, Sections: []SectionResult{}, Error: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	relevance.Rank(results, func(r DocumentResult) float64 { return r.Score })
	return Response{Strategy: scorer.Name(), Results: results}, nil
}

func (s *Service) document(ctx context.Context, docID string, q extract.Query, fp string, scorer relevance.Scorer) (DocumentResult, error) {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return DocumentResult{}, err
	}
	if doc.Status != statusCompleted {
		return DocumentResult{}, fmt.Errorf("document %s is not ready (status %s)", docID, doc.Status)
	}

	key := cache.Key{DocumentID: docID, Kind: cache.KindSearch, Fingerprint: fp}
	payload, hit, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		a, err := s.analyze(ctx, doc, q)
		if err != nil {
			return nil, err
		}
		return json.Marshal(a)
	})
	if err != nil {
		return DocumentResult{}, err
	}
	var a analysis
	if err := json.Unmarshal(payload, &a); err != nil {
		return DocumentResult{}, fmt.Errorf("decode cached analysis: %w", err)
	}

	res := DocumentResult{
		DocumentID: docID,
		Title:      doc.Title,
		Relevant:   a.Relevant,
		Reason:     a.Reason,
		Cached:     hit,
		Sections:   a.Sections,
	}
	if res.Sections == nil {
		res.Sections = []SectionResult{}
	}
	signals := make([]relevance.SectionSignals, len(res.Sections))
	for i := range res.Sections {
		res.Sections[i].Score = scorer.Section(res.Sections[i].Signals)
		signals[i] = res.Sections[i].Signals
	}
	res.Counts = relevance.Aggregate(signals)
	res.Score = scorer.Document(relevance.Signals{Counts: res.Counts, DocumentRelevant: a.Relevant})
	return res, nil
}

// analyze runs the summary relevance check and then every non-empty section
// in position order, feeding running totals into each prompt.
func (s *Service) analyze(ctx context.Context, doc store.Document, q extract.Query) (analysis, error) {
	log := s.log.With("doc_id", doc.ID)
	summary := summaryOf(doc)

	var a analysis
	payload, err := extract.CompleteWithRetry(ctx, s.llm,
		extract.BuildSummaryRelevancePrompt(q, doc.Title, summary), extract.SummaryRelevanceSchema, s.opts.Retry, log)
	if err != nil {
		return analysis{}, fmt.Errorf("summary relevance: %w", err)
	}
	rel, err := extract.DecodeSummaryRelevance(payload)
	if err != nil {
		return analysis{}, fmt.Errorf("summary relevance: %w", err)
	}
	a.Relevant, a.Reason = rel.Relevant, rel.Reason

	records, err := s.store.Sections(ctx, doc.ID)
	if err != nil {
		return analysis{}, fmt.Errorf("load sections: %w", err)
	}

	var counts extract.RunningCounts
	a.Sections = make([]SectionResult, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		prompt := extract.BuildSectionPrompt(q, summary, counts, r.GroupTitle, r.Text)
		payload, err := extract.CompleteWithRetry(ctx, s.llm, prompt, extract.SectionAnalysisSchema, s.opts.Retry, log)
		if err != nil {
			return analysis{}, fmt.Errorf("section %d: %w", r.Position, err)
		}
		sa, err := extract.DecodeSectionAnalysis(payload)
		if err != nil {
			return analysis{}, fmt.Errorf("section %d: %w", r.Position, err)
		}

		sig := relevance.SectionSignals{
			Context:   sa.HasContext,
			Theme:     sa.HasTheme,
			Keyword:   sa.HasKeyword,
			Similar:   sa.HasSimilarKeyword,
			Citations: len(r.Citations),
		}
		counts.Analyzed++
		counts.Context += b2i(sig.Context)
		counts.Theme += b2i(sig.Theme)
		counts.Keyword += b2i(sig.Keyword)
		counts.Similar += b2i(sig.Similar)

		a.Sections = append(a.Sections, SectionResult{
			SectionID: r.ID,
			Position:  r.Position,
			Title:     r.GroupTitle,
			Page:      r.Page,
			Signals:   sig,
			Analysis:  sa,
		})
	}
	log.Info("document analyzed", "sections", counts.Analyzed, "relevant", a.Relevant)
	return a, nil
}

// summaryOf returns the stored summary, falling back to the title.
func summaryOf(doc store.Document) string {
	var meta extract.Metadata
	if len(doc.Metadata) > 0 && json.Unmarshal(doc.Metadata, &meta) == nil && meta.Summary != "" {
		return meta.Summary
	}
	return doc.Title
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
