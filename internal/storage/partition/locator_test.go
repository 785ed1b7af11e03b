package partition

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/quarry/internal/storage/backend"
	"github.com/xtxerr/quarry/internal/storage/types"
)

func newTestLocator(mem *backend.Memory) *Locator {
	return NewLocator(backend.NewRegistry(mem), "data")
}

func rangeOf(start time.Time, d time.Duration) types.TimeRange {
	return types.TimeRange{Start: start, End: start.Add(d)}
}

func TestPathFor(t *testing.T) {
	l := newTestLocator(backend.NewMemory("m"))
	ts := time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC)

	cases := []struct {
		tier types.Tier
		want string
	}{
		{types.TierRaw, "data/plant-a/2024/03/05/07/env.parquet"},
		{types.TierMinute, "data/plant-a/2024/03/05/env.parquet"},
		{types.TierHour, "data/plant-a/2024/03/env.parquet"},
	}
	for _, tc := range cases {
		if got := l.PathFor(tc.tier, "plant-a", "env", ts); got != tc.want {
			t.Errorf("%s path: expected %s, got %s", tc.tier, tc.want, got)
		}
	}
}

func TestPartitionsRawSpansHours(t *testing.T) {
	l := newTestLocator(backend.NewMemory("m"))
	// 02:30 to 04:30 touches the 02, 03 and 04 hour partitions.
	start := time.Date(2024, 1, 1, 2, 30, 0, 0, time.UTC)
	refs, err := l.Partitions(context.Background(), []string{"env"}, []string{"a1"},
		rangeOf(start, 2*time.Hour), types.TierRaw)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 hourly partitions, got %d", len(refs))
	}
	if refs[0].Path != "data/a1/2024/01/01/02/env.parquet" {
		t.Errorf("unexpected first path %s", refs[0].Path)
	}
	if refs[2].Path != "data/a1/2024/01/01/04/env.parquet" {
		t.Errorf("unexpected last path %s", refs[2].Path)
	}
}

func TestPartitionsMultiSensorMultiAsset(t *testing.T) {
	l := newTestLocator(backend.NewMemory("m"))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	refs, err := l.Partitions(context.Background(),
		[]string{"s1", "s2"}, []string{"a1", "a2"},
		rangeOf(start, time.Hour), types.TierRaw)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(refs) != 4 {
		t.Errorf("2 sensors x 2 assets x 1 hour: expected 4 refs, got %d", len(refs))
	}
}

func TestPartitionsDiscoversAssets(t *testing.T) {
	mem := backend.NewMemory("m")
	mem.Put("data/plant-a/2024/01/01/00/env.parquet", nil)
	mem.Put("data/plant-b/2024/01/01/00/env.parquet", nil)
	l := newTestLocator(mem)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	refs, err := l.Partitions(context.Background(), []string{"env"}, nil,
		rangeOf(start, time.Hour), types.TierRaw)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("expected one ref per discovered asset, got %d", len(refs))
	}
}

func TestAssetsCached(t *testing.T) {
	mem := backend.NewMemory("m")
	mem.Put("data/plant-a/2024/01/01/00/env.parquet", nil)
	l := newTestLocator(mem)

	if _, err := l.Assets(context.Background()); err != nil {
		t.Fatalf("assets: %v", err)
	}
	// A new asset appears, but the cached catalog is still served.
	mem.Put("data/plant-b/2024/01/01/00/env.parquet", nil)
	assets, err := l.Assets(context.Background())
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(assets) != 1 {
		t.Errorf("expected cached catalog of 1 asset, got %v", assets)
	}

	// Invalidation forces a refresh.
	l.Invalidate()
	assets, err = l.Assets(context.Background())
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(assets) != 2 {
		t.Errorf("expected refreshed catalog of 2 assets, got %v", assets)
	}
}

func TestAssetsTTLExpiry(t *testing.T) {
	mem := backend.NewMemory("m")
	mem.Put("data/plant-a/2024/01/01/00/env.parquet", nil)
	l := newTestLocator(mem).WithDiscoveryTTL(10 * time.Millisecond)

	if _, err := l.Assets(context.Background()); err != nil {
		t.Fatalf("assets: %v", err)
	}
	mem.Put("data/plant-b/2024/01/01/00/env.parquet", nil)
	time.Sleep(20 * time.Millisecond)

	assets, err := l.Assets(context.Background())
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(assets) != 2 {
		t.Errorf("expected TTL refresh to find 2 assets, got %v", assets)
	}
}

func TestSensors(t *testing.T) {
	mem := backend.NewMemory("m")
	mem.Put("data/a1/2024/01/01/00/env.parquet", nil)
	mem.Put("data/a1/2024/01/01/00/flow.parquet", nil)
	mem.Put("data/a1/2024/01/01/01/env.parquet", nil)
	l := newTestLocator(mem)

	sensors, err := l.Sensors(context.Background())
	if err != nil {
		t.Fatalf("sensors: %v", err)
	}
	if len(sensors) != 2 {
		t.Errorf("expected 2 distinct sensors, got %v", sensors)
	}
}

func TestTimeSpan(t *testing.T) {
	mem := backend.NewMemory("m")
	mem.Put("data/a1/2024/01/01/05/env.parquet", nil)
	mem.Put("data/a1/2024/01/01/09/env.parquet", nil)
	mem.Put("data/a1/2024/01/02/env.parquet", nil) // minute tier, covers the whole day
	l := newTestLocator(mem)

	earliest, latest, err := l.TimeSpan(context.Background(), []string{"env"}, nil)
	if err != nil {
		t.Fatalf("timespan: %v", err)
	}
	wantEarliest := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	wantLatest := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	if !earliest.Equal(wantEarliest) {
		t.Errorf("earliest: expected %s, got %s", wantEarliest, earliest)
	}
	if !latest.Equal(wantLatest) {
		t.Errorf("latest: expected %s, got %s", wantLatest, latest)
	}
}

func TestTimeSpanEmpty(t *testing.T) {
	l := newTestLocator(backend.NewMemory("m"))
	earliest, latest, err := l.TimeSpan(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("timespan: %v", err)
	}
	if !earliest.IsZero() || !latest.IsZero() {
		t.Errorf("no data should yield zero times, got %s..%s", earliest, latest)
	}
}
