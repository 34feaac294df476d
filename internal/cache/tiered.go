// Package cache provides a two-tier (memory + durable) read-through cache
// for slow, unreliable upstream fetches.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cryptoDataPipe/internal/metrics"
	"cryptoDataPipe/internal/ports"
)

const (
	defaultTTL          = time.Hour
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 2 * time.Second
	defaultStaleWarnAge = 24 * time.Hour
)

// Source tells which tier produced a value.
type Source string

const (
	SourceLive    Source = "live"    // fetched upstream or served from an unexpired memory entry
	SourceDurable Source = "durable" // loaded from the durable store
	SourceDefault Source = "default" // caller supplied default
)

// Entry is a cached value with its provenance.
type Entry[T any] struct {
	Value     T
	FetchedAt time.Time
	TTL       time.Duration
	Source    Source
}

// Age returns how old the entry is at now.
func (e Entry[T]) Age(now time.Time) time.Duration {
	if e.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(e.FetchedAt)
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry[T]) Expired(now time.Time) bool {
	return e.FetchedAt.IsZero() || now.Sub(e.FetchedAt) >= e.TTL
}

// FetchFunc loads a fresh value from upstream.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Options configures a Tiered cache.
type Options struct {
	Name         string             // Durable namespace and metrics label
	TTL          time.Duration      // Memory entry lifetime
	MaxAttempts  int                // Fetch attempts per miss
	RetryDelay   time.Duration      // Fixed delay between attempts
	StaleWarnAge time.Duration      // Durable fallbacks older than this are logged as warnings
	WarmStart    bool               // Serve durable entries younger than TTL without fetching
	Store        ports.DurableStore // Optional
	Logger       ports.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Tiered is a read-through cache: memory, then upstream with bounded retry,
// then the durable store regardless of age, then a default.
//
// Lookups and inserts are serialized, fetches are not: two concurrent misses
// on the same key may both fetch.
type Tiered[T any] struct {
	opts   Options
	logger ports.Logger

	mu  sync.Mutex
	mem map[string]Entry[T]
}

// New creates a Tiered cache.
func New[T any](opts Options) (*Tiered[T], error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required for cache")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("cache name is required: %w", ports.ErrConfigurationError)
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.StaleWarnAge <= 0 {
		opts.StaleWarnAge = defaultStaleWarnAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Tiered[T]{
		opts:   opts,
		logger: opts.Logger,
		mem:    make(map[string]Entry[T]),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Name returns the cache name.
func (c *Tiered[T]) Name() string { return c.opts.Name }

// Get returns the value for key, fetching on a miss. When every fetch
// attempt fails and no durable entry exists it returns ErrFetchExhausted.
func (c *Tiered[T]) Get(ctx context.Context, key string, fetch FetchFunc[T]) (Entry[T], error) {
	if e, ok := c.Peek(key); ok {
		c.count("memory")
		return e, nil
	}
	if c.opts.WarmStart {
		if e, ok := c.loadDurable(ctx, key, true); ok {
			c.count("durable_fresh")
			return e, nil
		}
	}

	v, err := c.fetchWithRetry(ctx, key, fetch)
	if err == nil {
		e := c.store(ctx, key, v)
		c.count("upstream")
		return e, nil
	}

	c.logger.Warn(ctx, "Fetch failed, falling back to durable cache", map[string]interface{}{"cache": c.opts.Name, "key": key, "error": err.Error()})
	if e, ok := c.loadDurable(ctx, key, false); ok {
		c.count("durable_stale")
		return e, nil
	}
	c.count("miss")
	var zero Entry[T]
	return zero, fmt.Errorf("%s/%s: %w: %w", c.opts.Name, key, ports.ErrFetchExhausted, err)
}

// GetOr is Get with a caller supplied default as the last tier.
func (c *Tiered[T]) GetOr(ctx context.Context, key string, fetch FetchFunc[T], def T) Entry[T] {
	e, err := c.Get(ctx, key, fetch)
	if err == nil {
		return e
	}
	c.logger.Warn(ctx, "No cached value available, using default", map[string]interface{}{"cache": c.opts.Name, "key": key})
	c.count("default")
	return Entry[T]{Value: def, FetchedAt: c.opts.Now(), TTL: c.opts.TTL, Source: SourceDefault}
}

// Peek returns an unexpired memory entry without touching the durable store.
func (c *Tiered[T]) Peek(key string) (Entry[T], bool) {
	now := c.opts.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.mem[key]
	if !ok {
		return e, false
	}
	if e.Expired(now) {
		delete(c.mem, key)
		return Entry[T]{}, false
	}
	return e, true
}

// Lookup returns a fresh entry from memory or, failing that, a durable entry
// younger than TTL. It never fetches.
func (c *Tiered[T]) Lookup(ctx context.Context, key string) (Entry[T], bool) {
	if e, ok := c.Peek(key); ok {
		return e, true
	}
	return c.loadDurable(ctx, key, true)
}

// Put stores v in both tiers immediately.
func (c *Tiered[T]) Put(ctx context.Context, key string, v T) Entry[T] {
	return c.store(ctx, key, v)
}

// Invalidate drops key from both tiers.
func (c *Tiered[T]) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
	if c.opts.Store == nil {
		return nil
	}
	if err := c.opts.Store.Delete(ctx, c.opts.Name, key); err != nil {
		return fmt.Errorf("invalidate %s/%s: %w", c.opts.Name, key, err)
	}
	return nil
}

// Clear drops every entry from both tiers.
func (c *Tiered[T]) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.mem = make(map[string]Entry[T])
	c.mu.Unlock()
	if c.opts.Store == nil {
		return nil
	}
	if err := c.opts.Store.Clear(ctx, c.opts.Name); err != nil {
		return fmt.Errorf("clear %s: %w", c.opts.Name, err)
	}
	return nil
}

func (c *Tiered[T]) fetchWithRetry(ctx context.Context, key string, fetch FetchFunc[T]) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Info(ctx, "Retrying fetch", map[string]interface{}{"cache": c.opts.Name, "key": key, "attempt": attempt, "maxAttempts": c.opts.MaxAttempts})
			if err := c.opts.Sleep(ctx, c.opts.RetryDelay); err != nil {
				return zero, fmt.Errorf("retry wait: %w (last error: %v)", err, lastErr)
			}
		}
		v, err := fetch(ctx)
		if err == nil {
			metrics.FetchAttemptsTotal.WithLabelValues(c.opts.Name, "success").Inc()
			if attempt > 1 {
				c.logger.Info(ctx, "Fetch succeeded after retry", map[string]interface{}{"cache": c.opts.Name, "key": key, "attempt": attempt})
			}
			return v, nil
		}
		metrics.FetchAttemptsTotal.WithLabelValues(c.opts.Name, "failure").Inc()
		lastErr = err
		c.logger.Warn(ctx, "Fetch attempt failed", map[string]interface{}{"cache": c.opts.Name, "key": key, "attempt": attempt, "error": err.Error()})
		if ctx.Err() != nil {
			break
		}
	}
	return zero, lastErr
}

func (c *Tiered[T]) store(ctx context.Context, key string, v T) Entry[T] {
	e := Entry[T]{Value: v, FetchedAt: c.opts.Now(), TTL: c.opts.TTL, Source: SourceLive}
	c.mu.Lock()
	c.mem[key] = e
	c.mu.Unlock()

	if c.opts.Store == nil {
		return e
	}
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error(ctx, err, "Failed to encode cache entry", map[string]interface{}{"cache": c.opts.Name, "key": key})
		return e
	}
	rec := ports.Record{Key: key, Payload: payload, FetchedAt: e.FetchedAt, Source: string(SourceLive)}
	if err := c.opts.Store.Save(ctx, c.opts.Name, rec); err != nil {
		// Memory tier still holds the value.
		c.logger.Warn(ctx, "Failed to persist cache entry", map[string]interface{}{"cache": c.opts.Name, "key": key, "error": err.Error()})
	}
	return e
}

// loadDurable reads key from the durable store. With freshOnly set, entries
// older than TTL are ignored. A loaded entry is promoted to memory with its
// original timestamp, so a stale one does not suppress the next fetch.
func (c *Tiered[T]) loadDurable(ctx context.Context, key string, freshOnly bool) (Entry[T], bool) {
	var zero Entry[T]
	if c.opts.Store == nil {
		return zero, false
	}
	rec, err := c.opts.Store.Load(ctx, c.opts.Name, key)
	if err != nil {
		c.logger.Warn(ctx, "Failed to load durable cache entry", map[string]interface{}{"cache": c.opts.Name, "key": key, "error": err.Error()})
		return zero, false
	}
	if rec == nil {
		return zero, false
	}

	now := c.opts.Now()
	age := now.Sub(rec.FetchedAt)
	if freshOnly && age >= c.opts.TTL {
		return zero, false
	}

	var v T
	if err := json.Unmarshal(rec.Payload, &v); err != nil {
		c.logger.Warn(ctx, "Corrupt durable cache entry ignored", map[string]interface{}{"cache": c.opts.Name, "key": key, "error": err.Error()})
		return zero, false
	}

	e := Entry[T]{Value: v, FetchedAt: rec.FetchedAt, TTL: c.opts.TTL, Source: SourceDurable}
	c.mu.Lock()
	c.mem[key] = e
	c.mu.Unlock()

	fields := map[string]interface{}{"cache": c.opts.Name, "key": key, "age": age.Round(time.Second).String(), "fetchedAt": rec.FetchedAt}
	if !freshOnly && age > c.opts.StaleWarnAge {
		c.logger.Warn(ctx, "Using stale durable cache entry", fields)
	} else {
		c.logger.Info(ctx, "Using durable cache entry", fields)
	}
	return e, true
}

func (c *Tiered[T]) count(source string) {
	metrics.CacheLookupsTotal.WithLabelValues(c.opts.Name, source).Inc()
}
