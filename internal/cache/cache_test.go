package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/quarry/internal/storage/types"
)

func testPayload(nRows int) Payload {
	rows := make(types.DataSet, nRows)
	for i := range rows {
		rows[i] = types.Row{
			Timestamp: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
			Sensor:    "s1",
			Asset:     "a1",
			Values:    map[string]types.Value{"v": types.FloatValue(float64(i))},
		}
	}
	return Payload{Rows: rows, Tier: types.TierRaw, BucketWidth: time.Second}
}

func TestGetPut(t *testing.T) {
	c := New(Options{Enabled: true, SizeLimitBytes: 1 << 20, TTL: time.Hour})

	if _, ok := c.Get(1); ok {
		t.Fatal("empty cache should miss")
	}
	c.Put(1, testPayload(10))
	p, ok := c.Get(1)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if len(p.Rows) != 10 {
		t.Errorf("expected 10 rows, got %d", len(p.Rows))
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Entries != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if s.SizeBytes <= 0 {
		t.Error("size accounting should be positive")
	}
}

func TestDisabledIsNoOp(t *testing.T) {
	c := New(Options{Enabled: false, SizeLimitBytes: 1 << 20, TTL: time.Hour})
	c.Put(1, testPayload(5))
	if _, ok := c.Get(1); ok {
		t.Error("disabled cache should never hit")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(Options{Enabled: true, SizeLimitBytes: 1 << 20, TTL: 10 * time.Millisecond})
	c.Put(1, testPayload(1))

	if _, ok := c.Get(1); !ok {
		t.Fatal("fresh entry should hit")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(1); ok {
		t.Error("expired entry should miss")
	}
	if s := c.Stats(); s.Entries != 0 {
		t.Errorf("expired entry should be removed on access, entries=%d", s.Entries)
	}
}

func TestLRUEviction(t *testing.T) {
	// Budget holds two 100-row payloads; a third insert overflows it and
	// eviction back to 90% drops exactly the least recently used entry.
	size := payloadSize(testPayload(100))
	limit := 3*size - 1
	c := New(Options{Enabled: true, SizeLimitBytes: limit, TTL: time.Hour})

	c.Put(1, testPayload(100))
	c.Put(2, testPayload(100))
	c.Get(1) // make 2 the least recently used
	c.Put(3, testPayload(100))

	if _, ok := c.Get(2); ok {
		t.Error("LRU entry 2 should have been evicted")
	}
	if _, ok := c.Get(1); !ok {
		t.Error("recently used entry 1 should survive")
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Errorf("expected exactly 1 eviction, got %d", s.Evictions)
	}
	if s := c.Stats(); s.SizeBytes > limit {
		t.Errorf("size %d exceeds limit after eviction", s.SizeBytes)
	}
}

func TestOversizedPayloadNotCached(t *testing.T) {
	c := New(Options{Enabled: true, SizeLimitBytes: 512, TTL: time.Hour})
	c.Put(1, testPayload(1000))
	if s := c.Stats(); s.Entries != 0 {
		t.Error("payload larger than the whole budget should not be cached")
	}
}

func TestClear(t *testing.T) {
	c := New(Options{Enabled: true, SizeLimitBytes: 1 << 20, TTL: time.Hour})
	c.Put(1, testPayload(5))
	c.Put(2, testPayload(5))
	c.Clear()

	if s := c.Stats(); s.Entries != 0 || s.SizeBytes != 0 {
		t.Errorf("clear should drop everything: %+v", s)
	}
	if _, ok := c.Get(1); ok {
		t.Error("cleared entry should miss")
	}
}

func TestDoCoalescesConcurrentMisses(t *testing.T) {
	c := New(Options{Enabled: true, SizeLimitBytes: 1 << 20, TTL: time.Hour})

	var computes atomic.Int64
	release := make(chan struct{})
	compute := func(ctx context.Context) (Payload, error) {
		computes.Add(1)
		<-release
		return testPayload(3), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Payload, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _, _, err := c.Do(context.Background(), 42, compute)
			results[i], errs[i] = p, err
		}()
	}

	time.Sleep(20 * time.Millisecond) // let all callers join the flight
	close(release)
	wg.Wait()

	if n := computes.Load(); n != 1 {
		t.Errorf("expected exactly 1 computation, got %d", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if len(results[i].Rows) != 3 {
			t.Errorf("caller %d got %d rows", i, len(results[i].Rows))
		}
	}
}

func TestDoPropagatesErrorAndDoesNotCache(t *testing.T) {
	c := New(Options{Enabled: true, SizeLimitBytes: 1 << 20, TTL: time.Hour})

	boom := errors.New("backend exploded")
	_, _, _, err := c.Do(context.Background(), 7, func(ctx context.Context) (Payload, error) {
		return Payload{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected computation error, got %v", err)
	}
	if s := c.Stats(); s.Entries != 0 {
		t.Error("failed computation must not populate the cache")
	}

	// A later call recomputes (the flight slot was released).
	p, hit, _, err := c.Do(context.Background(), 7, func(ctx context.Context) (Payload, error) {
		return testPayload(2), nil
	})
	if err != nil || hit {
		t.Fatalf("recompute failed: hit=%v err=%v", hit, err)
	}
	if len(p.Rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(p.Rows))
	}
}

func TestDoWaiterHonorsOwnDeadline(t *testing.T) {
	c := New(Options{Enabled: true, SizeLimitBytes: 1 << 20, TTL: time.Hour})

	release := make(chan struct{})
	defer close(release)
	go c.Do(context.Background(), 9, func(ctx context.Context) (Payload, error) {
		<-release
		return testPayload(1), nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, _, err := c.Do(ctx, 9, func(ctx context.Context) (Payload, error) {
		return testPayload(1), nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("waiter should give up at its own deadline, got %v", err)
	}
}

func TestDoHitAfterPut(t *testing.T) {
	c := New(Options{Enabled: true, SizeLimitBytes: 1 << 20, TTL: time.Hour})

	_, hit, _, err := c.Do(context.Background(), 5, func(ctx context.Context) (Payload, error) {
		return testPayload(4), nil
	})
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}

	p, hit, _, err := c.Do(context.Background(), 5, func(ctx context.Context) (Payload, error) {
		t.Error("compute should not run on a hit")
		return Payload{}, nil
	})
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if len(p.Rows) != 4 {
		t.Errorf("expected cached payload, got %d rows", len(p.Rows))
	}
}
