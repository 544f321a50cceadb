// Package cache provides ValidationCache, a TTL cache for validation results
// that keeps entries in memory and mirrors them to local key-value storage so
// they survive a restart.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/infrastructure/kvstore"
)

// keyPrefix namespaces every persisted cache entry.
const keyPrefix = "cache:"

// Logger defines the logging interface used by the cache.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Entry is a cached value with its timestamps in Unix milliseconds.
type Entry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
	ExpiresAt int64 `json:"expiresAt"`
}

func (e Entry[T]) expired(now time.Time) bool {
	return now.UnixMilli() >= e.ExpiresAt
}

// ValidationCache is a string-keyed TTL cache. It is safe for concurrent use.
// A nil store keeps the cache memory-only.
type ValidationCache[T any] struct {
	mu        sync.Mutex
	entries   map[string]Entry[T]
	store     kvstore.Store
	namespace string
	ttl       time.Duration
	clock     clockwork.Clock
	logger    Logger
}

// Option configures a ValidationCache.
type Option func(*options)

type options struct {
	store  kvstore.Store
	clock  clockwork.Clock
	logger Logger
}

// WithStore persists entries to store.
func WithStore(store kvstore.Store) Option {
	return func(o *options) { o.store = store }
}

// WithClock replaces the real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the cache logger.
func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a cache whose entries live for ttl. The namespace separates
// caches sharing one store.
func New[T any](namespace string, ttl time.Duration, opts ...Option) *ValidationCache[T] {
	o := options{clock: clockwork.NewRealClock(), logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &ValidationCache[T]{
		entries:   make(map[string]Entry[T]),
		store:     o.store,
		namespace: namespace,
		ttl:       ttl,
		clock:     o.clock,
		logger:    o.logger,
	}
}

// TTL returns the lifetime of new entries.
func (c *ValidationCache[T]) TTL() time.Duration { return c.ttl }

func (c *ValidationCache[T]) storeKey(key string) string {
	return keyPrefix + c.namespace + ":" + key
}

// Get returns the live value for key. Expired entries are removed on read.
// A miss in memory falls through to the persisted copy.
func (c *ValidationCache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	now := c.clock.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.expired(now) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if ok {
		return e.Data, true
	}

	if c.store == nil {
		return zero, false
	}

	e, ok = c.load(ctx, key)
	if !ok {
		return zero, false
	}
	if e.expired(now) {
		c.deletePersisted(ctx, key)
		return zero, false
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e.Data, true
}

func (c *ValidationCache[T]) load(ctx context.Context, key string) (Entry[T], bool) {
	var e Entry[T]
	raw, err := c.store.Get(ctx, c.storeKey(key))
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.logger.Warn("cache read failed", "namespace", c.namespace, "error", err)
		}
		return e, false
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("discarding corrupt cache entry", "namespace", c.namespace, "error", err)
		c.deletePersisted(ctx, key)
		return e, false
	}
	return e, true
}

// Set stores value under key for the cache TTL. The memory copy is always
// updated; a persistence failure is returned but leaves the memory copy in place.
func (c *ValidationCache[T]) Set(ctx context.Context, key string, value T) error {
	now := c.clock.Now()
	e := Entry[T]{
		Data:      value,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(c.ttl).UnixMilli(),
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := c.store.Set(ctx, c.storeKey(key), raw); err != nil {
		return fmt.Errorf("persisting cache entry: %w", err)
	}
	return nil
}

// Delete removes key from memory and storage.
func (c *ValidationCache[T]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.deletePersisted(ctx, key)
}

func (c *ValidationCache[T]) deletePersisted(ctx context.Context, key string) {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, c.storeKey(key)); err != nil {
		c.logger.Warn("cache delete failed", "namespace", c.namespace, "error", err)
	}
}

// Clear removes every entry in this cache's namespace.
func (c *ValidationCache[T]) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]Entry[T])
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	keys, err := c.store.Keys(ctx, c.storeKey(""))
	if err != nil {
		return fmt.Errorf("listing cache entries: %w", err)
	}
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("clearing cache entry: %w", err)
		}
	}
	return nil
}

// Prune drops expired entries from memory and storage and returns how many
// were removed.
func (c *ValidationCache[T]) Prune(ctx context.Context) (int, error) {
	now := c.clock.Now()
	removed := make(map[string]struct{})

	c.mu.Lock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed[k] = struct{}{}
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		prefix := c.storeKey("")
		keys, err := c.store.Keys(ctx, prefix)
		if err != nil {
			return len(removed), fmt.Errorf("listing cache entries: %w", err)
		}
		for _, sk := range keys {
			key := strings.TrimPrefix(sk, prefix)
			e, ok := c.load(ctx, key)
			if ok && !e.expired(now) {
				continue
			}
			c.deletePersisted(ctx, key)
			removed[key] = struct{}{}
		}
	}

	if len(removed) > 0 {
		c.logger.Debug("cache pruned", "namespace", c.namespace, "removed", len(removed))
	}
	return len(removed), nil
}

// Len returns the number of entries held in memory, live or not.
func (c *ValidationCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
