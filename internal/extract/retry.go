package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy bounds retries of transient LLM failures. Delay is fixed
// between attempts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is three attempts two seconds apart.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: 2 * time.Second}

// CompleteWithRetry calls c until it succeeds, returns a non-retryable
// error, or the attempts run out. The last error is returned.
func CompleteWithRetry(ctx context.Context, c Completer, prompt string, schema *Schema, policy RetryPolicy, log *slog.Logger) (json.RawMessage, error) {
	attempts := max(policy.Attempts, 1)
	var payload json.RawMessage
	err := retry.Do(
		func() error {
			var err error
			payload, err = c.Complete(ctx, prompt, schema)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(policy.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if log != nil {
				log.Warn("retryable llm error", "schema", schema.Name, "attempt", n+1, "error", err)
			}
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return payload, nil
}
