// Package cache guards expensive LLM calls with a content-addressed store
// keyed by (document, kind, query fingerprint).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// Kind names what a cached payload answers.
type Kind string

const (
	KindSummary Kind = "summary"
	KindSearch  Kind = "search"
)

// Key identifies one cached response.
type Key struct {
	DocumentID  string
	Kind        Kind
	Fingerprint string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DocumentID, k.Kind, k.Fingerprint)
}

// Store is the persistence behind the cache. Put must keep the first
// payload stored for a key and ignore later ones.
type Store interface {
	GetCached(ctx context.Context, key Key) (payload json.RawMessage, ok bool, err error)
	PutCached(ctx context.Context, key Key, payload json.RawMessage) error
}

// ResponseCache reads and writes cached responses. Store failures never
// reach the caller: a failed read is a miss and a failed write is logged.
type ResponseCache struct {
	store Store
	log   *slog.Logger
	group singleflight.Group
}

// New creates a ResponseCache over store.
func New(store Store, log *slog.Logger) *ResponseCache {
	if log == nil {
		log = slog.Default()
	}
	return &ResponseCache{store: store, log: log}
}

// Get returns the stored payload for key.
func (c *ResponseCache) Get(ctx context.Context, key Key) (json.RawMessage, bool) {
	payload, ok, err := c.store.GetCached(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed, treating as miss", "key", key.String(), "error", err)
		return nil, false
	}
	return payload, ok
}

// Put stores payload for key unless a payload is already stored.
func (c *ResponseCache) Put(ctx context.Context, key Key, payload json.RawMessage) {
	if err := c.store.PutCached(ctx, key, payload); err != nil {
		c.log.Warn("cache write failed", "key", key.String(), "error", err)
	}
}

// GetOrCompute returns the cached payload for key, or runs compute, stores
// its result and returns it. Concurrent callers for the same key share one
// compute call. The second return value reports a cache hit. Compute errors
// are returned and nothing is stored.
func (c *ResponseCache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	if payload, ok := c.Get(ctx, key); ok {
		return payload, true, nil
	}
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		// Another caller may have stored it while this one waited.
		if payload, ok := c.Get(ctx, key); ok {
			return payload, nil
		}
		payload, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, key, payload)
		// Read back so a lost race returns the authoritative payload.
		if stored, ok := c.Get(ctx, key); ok {
			return stored, nil
		}
		return payload, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(json.RawMessage), false, nil
}
