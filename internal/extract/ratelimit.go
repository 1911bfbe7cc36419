package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited shares one request budget across every caller of the wrapped
// Completer.
type RateLimited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond requests with the given burst. A
// non-positive perSecond disables limiting.
func NewRateLimited(next Completer, perSecond float64, burst int) *RateLimited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, max(burst, 1))}
}

func (r *RateLimited) Complete(ctx context.Context, prompt string, schema *Schema) (json.RawMessage, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Complete(ctx, prompt, schema)
}

func (r *RateLimited) Model() string {
	return r.next.Model()
}
