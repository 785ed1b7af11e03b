// Package partition maps (sensor, assets, time range, tier) onto the set
// of partition file paths that could contain matching rows, and discovers
// the asset and sensor catalog by listing the storage root.
//
// Partition layout, forward-slashed and relative to the storage root:
//
//	raw:    <root>/<asset>/<YYYY>/<MM>/<DD>/<HH>/<sensor>.parquet
//	minute: <root>/<asset>/<YYYY>/<MM>/<DD>/<sensor>.parquet
//	hour:   <root>/<asset>/<YYYY>/<MM>/<sensor>.parquet
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/quarry/internal/logging"
	"github.com/xtxerr/quarry/internal/storage/backend"
	"github.com/xtxerr/quarry/internal/storage/types"
)

// Ext is the partition file extension.
const Ext = ".parquet"

// DiscoveryTTL is how long discovered asset/sensor catalogs are served
// before the root listing is refreshed.
const DiscoveryTTL = 60 * time.Second

// Ref identifies one candidate partition file.
type Ref struct {
	Path   string
	Sensor string
	Asset  string
	Tier   types.Tier

	// Start is the beginning of the time span the partition covers.
	Start time.Time
}

// Locator enumerates candidate partitions. It never checks existence:
// missing partitions are absorbed by the read path as empty, so emitting a
// candidate that turns out not to exist is free.
type Locator struct {
	reg  *backend.Registry
	root string
	ttl  time.Duration
	log  *slog.Logger

	mu        sync.Mutex
	assets    []string
	assetsAt  time.Time
	sensors   []string
	sensorsAt time.Time
}

// NewLocator creates a locator over reg with paths rooted at root
// (may be empty).
func NewLocator(reg *backend.Registry, root string) *Locator {
	return &Locator{
		reg:  reg,
		root: strings.Trim(root, "/"),
		ttl:  DiscoveryTTL,
		log:  logging.Component("locator"),
	}
}

// WithDiscoveryTTL overrides the catalog cache TTL. Construction time only.
func (l *Locator) WithDiscoveryTTL(ttl time.Duration) *Locator {
	l.ttl = ttl
	return l
}

// PathFor builds the partition path for one (asset, sensor, partition
// start) under the given tier.
func (l *Locator) PathFor(tier types.Tier, asset, sensor string, start time.Time) string {
	start = start.UTC()
	var p string
	switch tier {
	case types.TierRaw:
		p = fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%s%s",
			asset, start.Year(), start.Month(), start.Day(), start.Hour(), sensor, Ext)
	case types.TierMinute:
		p = fmt.Sprintf("%s/%04d/%02d/%02d/%s%s",
			asset, start.Year(), start.Month(), start.Day(), sensor, Ext)
	default:
		p = fmt.Sprintf("%s/%04d/%02d/%s%s",
			asset, start.Year(), start.Month(), sensor, Ext)
	}
	if l.root != "" {
		p = l.root + "/" + p
	}
	return p
}

// Partitions returns the candidate partitions for the query. When the
// caller passed no assets, the discovered asset catalog is used.
func (l *Locator) Partitions(ctx context.Context, sensors, assets []string, tr types.TimeRange, tier types.Tier) ([]Ref, error) {
	if len(assets) == 0 {
		discovered, err := l.Assets(ctx)
		if err != nil {
			return nil, err
		}
		assets = discovered
	}
	if len(assets) == 0 || len(sensors) == 0 {
		return nil, nil
	}

	var refs []Ref
	for _, asset := range assets {
		for _, sensor := range sensors {
			for t := tier.TruncateToPartition(tr.Start); t.Before(tr.End); t = tier.NextPartition(t) {
				refs = append(refs, Ref{
					Path:   l.PathFor(tier, asset, sensor, t),
					Sensor: sensor,
					Asset:  asset,
					Tier:   tier,
					Start:  t,
				})
			}
		}
	}
	l.log.Debug("enumerated partitions",
		"tier", tier, "sensors", len(sensors), "assets", len(assets), "refs", len(refs))
	return refs, nil
}

// Assets returns the discovered asset catalog, refreshing the root listing
// when the cached copy is older than the discovery TTL.
func (l *Locator) Assets(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.assets != nil && time.Since(l.assetsAt) < l.ttl {
		return l.assets, nil
	}
	paths, err := l.listRoot(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var assets []string
	for _, p := range paths {
		ref, ok := l.parsePath(p)
		if !ok {
			continue
		}
		if _, dup := seen[ref.Asset]; !dup {
			seen[ref.Asset] = struct{}{}
			assets = append(assets, ref.Asset)
		}
	}
	l.assets = assets
	l.assetsAt = time.Now()
	return assets, nil
}

// Sensors returns the discovered sensor catalog, derived from partition
// file names, refreshed on the same TTL as Assets.
func (l *Locator) Sensors(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sensors != nil && time.Since(l.sensorsAt) < l.ttl {
		return l.sensors, nil
	}
	paths, err := l.listRoot(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var sensors []string
	for _, p := range paths {
		ref, ok := l.parsePath(p)
		if !ok {
			continue
		}
		if _, dup := seen[ref.Sensor]; !dup {
			seen[ref.Sensor] = struct{}{}
			sensors = append(sensors, ref.Sensor)
		}
	}
	l.sensors = sensors
	l.sensorsAt = time.Now()
	return sensors, nil
}

// Invalidate drops the discovery caches so the next call re-lists the
// root. Called on explicit cache clears.
func (l *Locator) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets = nil
	l.sensors = nil
}

// TimeSpan scans the root listing for the earliest and latest partitions
// matching the sensor and asset filters and returns the covered interval.
// Returns zero times when nothing matches.
func (l *Locator) TimeSpan(ctx context.Context, sensors, assets []string) (time.Time, time.Time, error) {
	paths, err := l.listRoot(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	sensorSet := toSet(sensors)
	assetSet := toSet(assets)

	var earliest, latest time.Time
	for _, p := range paths {
		ref, ok := l.parsePath(p)
		if !ok {
			continue
		}
		if len(sensorSet) > 0 {
			if _, ok := sensorSet[ref.Sensor]; !ok {
				continue
			}
		}
		if len(assetSet) > 0 {
			if _, ok := assetSet[ref.Asset]; !ok {
				continue
			}
		}
		end := ref.Tier.NextPartition(ref.Start)
		if earliest.IsZero() || ref.Start.Before(earliest) {
			earliest = ref.Start
		}
		if end.After(latest) {
			latest = end
		}
	}
	return earliest, latest, nil
}

func (l *Locator) listRoot(ctx context.Context) ([]string, error) {
	prefix := ""
	if l.root != "" {
		prefix = l.root + "/"
	}
	return l.reg.List(ctx, prefix)
}

// parsePath decodes a partition path back into a Ref. Paths that do not
// match any tier layout are ignored.
func (l *Locator) parsePath(p string) (Ref, bool) {
	if l.root != "" {
		var ok bool
		p, ok = strings.CutPrefix(p, l.root+"/")
		if !ok {
			return Ref{}, false
		}
	}
	base := path.Base(p)
	if !strings.HasSuffix(base, Ext) {
		return Ref{}, false
	}
	sensor := strings.TrimSuffix(base, Ext)

	segs := strings.Split(path.Dir(p), "/")
	if len(segs) < 3 {
		return Ref{}, false
	}
	asset := segs[0]
	nums := make([]int, 0, len(segs)-1)
	for _, s := range segs[1:] {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Ref{}, false
		}
		nums = append(nums, n)
	}

	var tier types.Tier
	var start time.Time
	switch len(nums) {
	case 2: // YYYY/MM
		tier = types.TierHour
		start = time.Date(nums[0], time.Month(nums[1]), 1, 0, 0, 0, 0, time.UTC)
	case 3: // YYYY/MM/DD
		tier = types.TierMinute
		start = time.Date(nums[0], time.Month(nums[1]), nums[2], 0, 0, 0, 0, time.UTC)
	case 4: // YYYY/MM/DD/HH
		tier = types.TierRaw
		start = time.Date(nums[0], time.Month(nums[1]), nums[2], nums[3], 0, 0, 0, time.UTC)
	default:
		return Ref{}, false
	}
	return Ref{Path: p, Sensor: sensor, Asset: asset, Tier: tier, Start: start}, true
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
