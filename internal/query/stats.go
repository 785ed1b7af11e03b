package query

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/quarry/internal/cache"
)

// Stats is the management snapshot of engine activity.
type Stats struct {
	QueryCount     int64            `json:"query_count"`
	CacheHits      int64            `json:"cache_hits"`
	CacheMisses    int64            `json:"cache_misses"`
	HitRate        float64          `json:"hit_rate"`
	AvgExecutionMs float64          `json:"avg_execution_ms"`
	P50ExecutionMs float64          `json:"p50_execution_ms"`
	P95ExecutionMs float64          `json:"p95_execution_ms"`
	P99ExecutionMs float64          `json:"p99_execution_ms"`
	TierCounts     map[string]int64 `json:"tier_counts"`
	CacheSizeBytes int64            `json:"cache_size_bytes"`
	CacheEntries   int64            `json:"cache_entries"`
	UptimeSeconds  float64          `json:"uptime_seconds"`
}

// tracker accumulates query statistics. Latency percentiles use a DDSketch
// with 1% relative accuracy.
type tracker struct {
	mu         sync.Mutex
	queryCount int64
	cacheHits  int64
	totalExec  time.Duration
	tierCounts map[string]int64
	sketch     *ddsketch.DDSketch
}

func newTracker() *tracker {
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		sketch = nil
	}
	return &tracker{
		tierCounts: make(map[string]int64),
		sketch:     sketch,
	}
}

func (t *tracker) record(tier string, elapsed time.Duration, cacheHit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queryCount++
	t.totalExec += elapsed
	if cacheHit {
		t.cacheHits++
	} else {
		t.tierCounts[tier]++
	}
	if t.sketch != nil {
		ms := float64(elapsed) / float64(time.Millisecond)
		if ms > 0 {
			t.sketch.Add(ms)
		}
	}
}

func (t *tracker) snapshot(cacheStats cache.Stats, uptime time.Duration) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		QueryCount:     t.queryCount,
		CacheHits:      t.cacheHits,
		CacheMisses:    t.queryCount - t.cacheHits,
		TierCounts:     make(map[string]int64, len(t.tierCounts)),
		CacheSizeBytes: cacheStats.SizeBytes,
		CacheEntries:   cacheStats.Entries,
		UptimeSeconds:  uptime.Seconds(),
	}
	for tier, n := range t.tierCounts {
		s.TierCounts[tier] = n
	}
	if t.queryCount > 0 {
		s.HitRate = float64(t.cacheHits) / float64(t.queryCount)
		s.AvgExecutionMs = float64(t.totalExec) / float64(time.Millisecond) / float64(t.queryCount)
	}
	if t.sketch != nil && t.sketch.GetCount() > 0 {
		if v, err := t.sketch.GetValueAtQuantile(0.50); err == nil {
			s.P50ExecutionMs = v
		}
		if v, err := t.sketch.GetValueAtQuantile(0.95); err == nil {
			s.P95ExecutionMs = v
		}
		if v, err := t.sketch.GetValueAtQuantile(0.99); err == nil {
			s.P99ExecutionMs = v
		}
	}
	return s
}
