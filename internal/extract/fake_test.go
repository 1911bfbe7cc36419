package extract

import (
	"context"
	"encoding/json"
	"sync"
)

type result struct {
	payload json.RawMessage
	err     error
}

// scripted returns its results in order, repeating the last one.
type scripted struct {
	mu      sync.Mutex
	model   string
	results []result
	calls   int
	prompts []string
}

func (s *scripted) Complete(_ context.Context, prompt string, _ *Schema) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.results)-1)
	s.calls++
	s.prompts = append(s.prompts, prompt)
	return s.results[i].payload, s.results[i].err
}

func (s *scripted) Model() string { return s.model }
