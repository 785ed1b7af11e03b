// Package cache holds query results in a bounded in-memory LRU with TTL
// expiry, approximate byte accounting, and single-flight coalescing of
// concurrent identical misses.
package cache

import (
	"container/list"
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/quarry/internal/logging"
	"github.com/xtxerr/quarry/internal/storage/types"
)

// Fingerprint is the deterministic digest of a canonicalized query plan.
// Two queries with equal fingerprints must return identical payloads.
type Fingerprint uint64

// Key returns the fingerprint as a string, for single-flight keying.
func (f Fingerprint) Key() string {
	return strconv.FormatUint(uint64(f), 16)
}

// Payload is the immutable cached result of one plan execution. It carries
// enough metadata to answer a cache hit without recomputing anything.
type Payload struct {
	Rows        types.DataSet
	Tier        types.Tier
	BucketWidth time.Duration
	Truncated   bool
	ActualEnd   time.Time
	Warnings    []string
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	SizeBytes int64 `json:"size_bytes"`
	Entries   int64 `json:"entries"`
}

// Options configure the cache.
type Options struct {
	// Enabled false turns the cache into a no-op: every lookup misses and
	// nothing is stored.
	Enabled bool

	// SizeLimitBytes is the byte budget. Eviction brings the cache back
	// to 90% of this after an insert pushes it over.
	SizeLimitBytes int64

	// TTL is how long an entry may be served after insertion.
	TTL time.Duration
}

const (
	// entryOverhead approximates the fixed bookkeeping cost per entry.
	entryOverhead = 256

	// evictTarget is the fill fraction eviction drives the cache back to.
	evictTarget = 0.9
)

type entry struct {
	key        Fingerprint
	payload    Payload
	size       int64
	createdAt  time.Time
	lastAccess time.Time
	hitCount   int64
	elem       *list.Element
}

// Cache is safe for concurrent use. Payloads are immutable after insert
// and shared by reference between concurrent readers.
type Cache struct {
	enabled    bool
	sizeLimit  int64
	entryLimit int
	ttl        time.Duration
	log        *slog.Logger

	mu        sync.Mutex
	entries   map[Fingerprint]*entry
	lru       *list.List // front = most recently used
	sizeBytes int64
	hits      int64
	misses    int64
	evictions int64

	flight singleflight.Group
}

// New creates a cache with the given options.
func New(opts Options) *Cache {
	entryLimit := 0
	if opts.SizeLimitBytes > 0 {
		entryLimit = int(10 * math.Sqrt(float64(opts.SizeLimitBytes)))
	}
	return &Cache{
		enabled:    opts.Enabled,
		sizeLimit:  opts.SizeLimitBytes,
		entryLimit: entryLimit,
		ttl:        opts.TTL,
		log:        logging.Component("cache"),
		entries:    make(map[Fingerprint]*entry),
		lru:        list.New(),
	}
}

// Get returns the payload for fp if present and unexpired.
func (c *Cache) Get(fp Fingerprint) (Payload, bool) {
	if !c.enabled {
		return Payload{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		c.misses++
		return Payload{}, false
	}
	if c.ttl > 0 && time.Since(e.createdAt) > c.ttl {
		c.removeLocked(e)
		c.misses++
		return Payload{}, false
	}
	e.lastAccess = time.Now()
	e.hitCount++
	c.lru.MoveToFront(e.elem)
	c.hits++
	return e.payload, true
}

// Put stores a payload. Entries larger than the whole budget are not
// cached at all.
func (c *Cache) Put(fp Fingerprint, p Payload) {
	if !c.enabled {
		return
	}
	size := payloadSize(p)
	if c.sizeLimit > 0 && size > c.sizeLimit {
		c.log.Warn("payload exceeds cache budget, not caching",
			"size_bytes", size, "limit_bytes", c.sizeLimit)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[fp]; ok {
		c.removeLocked(old)
	}
	now := time.Now()
	e := &entry{key: fp, payload: p, size: size, createdAt: now, lastAccess: now}
	e.elem = c.lru.PushFront(e)
	c.entries[fp] = e
	c.sizeBytes += size
	c.evictLocked()
}

// Do answers fp from the cache or computes it once, coalescing concurrent
// misses for the same fingerprint onto a single computation. Waiters honor
// their own context deadline; the underlying computation keeps running on
// the first caller's context so later callers can still benefit.
//
// Returns the payload, whether it was a cache hit, and whether the result
// was shared from another caller's in-flight computation.
func (c *Cache) Do(ctx context.Context, fp Fingerprint, compute func(context.Context) (Payload, error)) (Payload, bool, bool, error) {
	if p, ok := c.Get(fp); ok {
		return p, true, false, nil
	}

	ch := c.flight.DoChan(fp.Key(), func() (any, error) {
		p, err := compute(ctx)
		if err != nil {
			return Payload{}, err
		}
		c.Put(fp, p)
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Payload{}, false, res.Shared, res.Err
		}
		return res.Val.(Payload), false, res.Shared, nil
	case <-ctx.Done():
		return Payload{}, false, false, ctx.Err()
	}
}

// Clear atomically drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Fingerprint]*entry)
	c.lru.Init()
	c.sizeBytes = 0
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		SizeBytes: c.sizeBytes,
		Entries:   int64(len(c.entries)),
	}
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool { return c.enabled }

func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
	c.sizeBytes -= e.size
}

// evictLocked drops least-recently-used entries until the size is back
// under the eviction target and the entry count under the soft limit.
func (c *Cache) evictLocked() {
	if c.sizeLimit > 0 && c.sizeBytes > c.sizeLimit {
		target := int64(float64(c.sizeLimit) * evictTarget)
		for c.sizeBytes > target && c.lru.Len() > 0 {
			c.removeLocked(c.lru.Back().Value.(*entry))
			c.evictions++
		}
	}
	for c.entryLimit > 0 && len(c.entries) > c.entryLimit && c.lru.Len() > 0 {
		c.removeLocked(c.lru.Back().Value.(*entry))
		c.evictions++
	}
}

// payloadSize approximates the in-memory footprint: a fixed overhead plus
// a per-row cost derived from the measurement schema of the first row.
func payloadSize(p Payload) int64 {
	if len(p.Rows) == 0 {
		return entryOverhead
	}
	bytesPerRow := int64(48 + 24*len(p.Rows[0].Values))
	return entryOverhead + int64(len(p.Rows))*bytesPerRow
}
