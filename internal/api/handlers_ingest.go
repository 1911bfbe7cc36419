package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// maxBatch bounds the documents accepted in one submission.
const maxBatch = 100

type submitRequest struct {
	Documents []struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
	} `json:"documents"`
}

// handleSubmitDocuments queues one ingestion job per URL. Entries are
// independent: a rejected URL does not affect the others.
func (s *Server) handleSubmitDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Documents) == 0 {
		jsonError(w, "at least one document is required", http.StatusBadRequest)
		return
	}
	if len(req.Documents) > maxBatch {
		jsonError(w, fmt.Sprintf("at most %d documents per request", maxBatch), http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(req.Documents))
	for _, d := range req.Documents {
		d.URL = strings.TrimSpace(d.URL)
		if err := validateURL(d.URL); err != nil {
			results = append(results, map[string]any{"url": d.URL, "error": err.Error()})
			continue
		}
		filename := ""
		if d.Filename != "" {
			filename = sanitizeFilename(d.Filename)
		}

		job, err := s.orchestrator.Enqueue(r.Context(), d.URL, filename)
		if err != nil {
			entry := map[string]any{"url": d.URL, "error": err.Error()}
			if job != nil {
				entry["doc_id"] = job.DocID
			}
			results = append(results, entry)
			continue
		}
		results = append(results, map[string]any{
			"url":      d.URL,
			"job_id":   job.ID,
			"doc_id":   job.DocID,
			"status":   job.Snapshot().Status,
			"poll_url": fmt.Sprintf("/api/jobs/%s", job.ID),
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": results})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return nil
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
