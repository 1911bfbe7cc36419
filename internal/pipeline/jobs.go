package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of an ingestion job.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusDownloading JobStatus = "downloading"
	StatusParsing     JobStatus = "parsing"
	StatusSectioning  JobStatus = "sectioning"
	StatusSummarizing JobStatus = "summarizing"
	StatusStoring     JobStatus = "storing"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// Terminal reports whether no further transitions will happen.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job tracks the state of a single document ingestion.
type Job struct {
	mu sync.Mutex

	ID    string `json:"job_id"`
	DocID string `json:"doc_id"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	URL      string    `json:"url"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	errors    []string
	cancel    context.CancelFunc
	cancelled bool
}

// Progress tracks processing progress.
type Progress struct {
	Elements   int      `json:"elements"`
	Groups     int      `json:"groups"`
	Sections   int      `json:"sections"`
	References int      `json:"references"`
	Citations  int      `json:"citations"`
	Errors     []string `json:"errors"`
}

// NewJob creates a queued job for the document at url.
func NewJob(docID, url, filename string) *Job {
	now := time.Now()
	return &Job{
		ID:        newID(),
		DocID:     docID,
		Status:    StatusQueued,
		Phase:     "queued",
		URL:       url,
		Filename:  filename,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// newID returns a time-ordered identifier.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// ForDocument returns the jobs registered for docID.
func (s *JobStore) ForDocument(docID string) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if job.DocID == docID {
			out = append(out, job)
		}
	}
	return out
}

// Cleanup removes expired jobs that have finished.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically. A terminal status is final.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetTitle records the extracted document title.
func (j *Job) SetTitle(title string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Title = title
	j.UpdatedAt = time.Now()
}

// SetFilename records the resolved filename once the download is known.
func (j *Job) SetFilename(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Filename = name
}

// SetCounts records structural counts after sectioning.
func (j *Job) SetCounts(elements, groups, sections, references, citations int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Elements = elements
	j.Progress.Groups = groups
	j.Progress.Sections = sections
	j.Progress.References = references
	j.Progress.Citations = citations
	j.UpdatedAt = time.Now()
}

// bind ties the job to a cancellable context derived from parent. A job
// cancelled before it started gets an already-cancelled context.
func (j *Job) bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
	if j.cancelled {
		cancel()
	}
	return ctx, cancel
}

// Cancel stops the job. It reports false if the job had already finished.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return false
	}
	j.cancelled = true
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID       string    `json:"job_id"`
	DocID    string    `json:"doc_id"`
	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	URL      string    `json:"url"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`
	Progress Progress  `json:"progress"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:       j.ID,
		DocID:    j.DocID,
		Status:   j.Status,
		Phase:    j.Phase,
		URL:      j.URL,
		Filename: j.Filename,
		Title:    j.Title,
		Progress: p,
	}
}
