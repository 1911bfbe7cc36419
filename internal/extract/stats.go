package extract

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type sample struct {
	timestamp  time.Time
	durationMs int64
	schema     string
	failed     bool
}

// StatsSnapshot is a point-in-time aggregate of LLM call samples.
type StatsSnapshot struct {
	Model    string         `json:"model,omitempty"`
	Count    int            `json:"count"`
	Failures int            `json:"failures"`
	MinMs    int64          `json:"min_ms"`
	MaxMs    int64          `json:"max_ms"`
	AvgMs    float64        `json:"avg_ms"`
	P50Ms    float64        `json:"p50_ms"`
	P95Ms    float64        `json:"p95_ms"`
	P99Ms    float64        `json:"p99_ms"`
	BySchema map[string]int `json:"by_schema"`
}

// LLMStats tracks recent LLM calls within a rolling window.
type LLMStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
	now     func() time.Time
}

func NewLLMStats(maxAge time.Duration) *LLMStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LLMStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Record adds one call. A negative duration counts as zero.
func (s *LLMStats) Record(schema string, d time.Duration, failed bool) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		durationMs: ms,
		schema:     schema,
		failed:     failed,
	})
}

// Snapshot aggregates the samples still inside the window. Latency
// figures cover successful calls only.
func (s *LLMStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.now())
	snap := StatsSnapshot{BySchema: map[string]int{}}
	values := make([]int64, 0, len(s.samples))
	var sum int64
	for _, sm := range s.samples {
		snap.Count++
		snap.BySchema[sm.schema]++
		if sm.failed {
			snap.Failures++
			continue
		}
		values = append(values, sm.durationMs)
		sum += sm.durationMs
	}
	if len(values) == 0 {
		return snap
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	snap.MinMs = values[0]
	snap.MaxMs = values[len(values)-1]
	snap.AvgMs = float64(sum) / float64(len(values))
	snap.P50Ms = percentile(values, 50)
	snap.P95Ms = percentile(values, 95)
	snap.P99Ms = percentile(values, 99)
	return snap
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}

// Observed records the latency and outcome of every call to the wrapped
// Completer.
type Observed struct {
	next  Completer
	stats *LLMStats
}

func NewObserved(next Completer, stats *LLMStats) *Observed {
	return &Observed{next: next, stats: stats}
}

func (o *Observed) Complete(ctx context.Context, prompt string, schema *Schema) (json.RawMessage, error) {
	start := time.Now()
	payload, err := o.next.Complete(ctx, prompt, schema)
	o.stats.Record(schema.Name, time.Since(start), err != nil)
	return payload, err
}

func (o *Observed) Model() string {
	return o.next.Model()
}

// Stats returns the current snapshot, tagged with the model name.
func (o *Observed) Stats() StatsSnapshot {
	snap := o.stats.Snapshot()
	snap.Model = o.next.Model()
	return snap
}
