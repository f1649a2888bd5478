package cache

import (
	"sync"
	"time"
)

// entry wraps a cached value with its storage time and TTL. Entries are
// replaced wholesale, never mutated in place.
type entry struct {
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.storedAt.Add(e.ttl))
}

// Recorder receives cache operation events.
type Recorder interface {
	RecordCacheOp(operation string)
}

// TTLCache is a key-value store with per-entry expiry. Expiry is
// checked lazily on read and enforced by a periodic background sweep,
// so correctness does not depend on the sweep's timing. There is no
// size bound; cardinality is bounded by accounts times query shapes.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time

	recorder Recorder

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Option configures a TTLCache.
type Option func(*TTLCache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) {
		c.now = now
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *TTLCache) {
		c.recorder = r
	}
}

// New creates a TTL cache. StartSweeper must be called separately if
// background eviction is wanted.
func New(opts ...Option) *TTLCache {
	c := &TTLCache{
		entries:  make(map[string]*entry),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, or false on miss or expiry.
// Expired entries are evicted on read.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.record("miss")
		return nil, false
	}

	if e.expired(c.now()) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// replaced the entry since the read.
		if cur, still := c.entries[key]; still && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.record("expired")
		return nil, false
	}

	c.record("hit")
	return e.value, true
}

// Set stores a value under key with the given TTL, replacing any
// existing entry.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = &entry{value: value, storedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
	c.record("set")
}

// Delete removes an entry.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.record("delete")
}

// Len returns the number of stored entries, including not-yet-swept
// expired ones.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes all expired entries and returns how many were evicted.
func (c *TTLCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	evicted := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			evicted++
		}
	}
	c.mu.Unlock()

	for i := 0; i < evicted; i++ {
		c.record("evicted")
	}
	return evicted
}

// StartSweeper begins periodic background eviction.
func (c *TTLCache) StartSweeper(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopChan:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Stop terminates the background sweeper.
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}

func (c *TTLCache) record(operation string) {
	if c.recorder != nil {
		c.recorder.RecordCacheOp(operation)
	}
}
