package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dgallion1/refgest/internal/cache"
	"github.com/dgallion1/refgest/internal/config"
	"github.com/dgallion1/refgest/internal/extract"
	"github.com/dgallion1/refgest/internal/store"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// Orchestrator manages the document ingestion pipeline.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	store  Store
	worker *Worker
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(cfg config.Config, llm extract.Completer, st Store, rc *cache.ResponseCache, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	client := &http.Client{Timeout: cfg.DownloadTimeout}
	return &Orchestrator{
		jobs:  NewJobStore(cfg.JobTTL),
		queue: make(chan *Job, cfg.MaxQueueSize),
		store: st,
		worker: NewWorker(llm, st, rc, client, log, WorkerOptions{
			ChunkSize:       cfg.SectionChunkSize,
			MaxBytes:        cfg.MaxDownloadBytes,
			DownloadTimeout: cfg.DownloadTimeout,
			Retry:           extract.RetryPolicy{Attempts: cfg.LLMMaxAttempts, Delay: cfg.LLMRetryDelay},
		}),
		log: log,
		cfg: cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range max(o.cfg.WorkerCount, 1) {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.worker.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Enqueue registers a new document for rawURL and queues its job. filename
// may be empty; it is then derived from the URL or the response.
func (o *Orchestrator) Enqueue(ctx context.Context, rawURL, filename string) (*Job, error) {
	job := NewJob(newID(), rawURL, filename)
	if err := o.store.CreateDocument(ctx, store.Document{
		ID:       job.DocID,
		URL:      rawURL,
		Filename: filename,
		Status:   string(StatusQueued),
	}); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	if err := o.Submit(job); err != nil {
		if serr := o.store.SetStatus(ctx, job.DocID, string(StatusFailed), err.Error()); serr != nil {
			o.log.Warn("status update failed", "doc_id", job.DocID, "error", serr)
		}
		return job, err
	}
	o.log.Info("document queued", "job_id", job.ID, "doc_id", job.DocID, "url", rawURL)
	return job, nil
}

// Submit queues a job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.AddError(ErrQueueFull.Error())
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// CancelDocument cancels every unfinished job for docID and reports how
// many were cancelled.
func (o *Orchestrator) CancelDocument(docID string) int {
	n := 0
	for _, job := range o.jobs.ForDocument(docID) {
		if job.Cancel() {
			n++
		}
	}
	return n
}

// DeleteDocument cancels in-flight work for docID and removes it with all
// its sections, references and cached responses. A job still running sees
// store.ErrNotFound on its next write and stops.
func (o *Orchestrator) DeleteDocument(ctx context.Context, docID string) error {
	if n := o.CancelDocument(docID); n > 0 {
		o.log.Info("cancelled jobs for deleted document", "doc_id", docID, "jobs", n)
	}
	return o.store.DeleteDocument(ctx, docID)
}
