package query

import (
	"sort"
	"time"

	"github.com/xtxerr/quarry/internal/storage/types"
)

// standardGrid is the set of bucket widths the planner may choose from.
// Widths snap upward to this grid so the served resolution is never finer
// than requested.
var standardGrid = []time.Duration{
	time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	time.Hour,
	2 * time.Hour,
	4 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// snapUp returns the smallest grid width >= d. Widths beyond the grid cap
// at 24h; downstream truncation handles any overflow.
func snapUp(d time.Duration) time.Duration {
	for _, g := range standardGrid {
		if g >= d {
			return g
		}
	}
	return standardGrid[len(standardGrid)-1]
}

// Plan is the canonical execution of one query: the storage tier to read,
// the bucket width to aggregate to, and the effective range after any
// raw-tier budget shrink.
type Plan struct {
	Tier           types.Tier
	BucketWidth    time.Duration
	EffectiveRange types.TimeRange
	Sensors        []string
	Assets         []string
	Aggregation    types.Aggregation
	ExpectedPoints int64

	// Promoted is set when the selected tier could not serve the
	// requested resolution and the bucket width was rounded up to the
	// tier grain.
	Promoted bool
}

// plannerInputs carries the tier thresholds into planning.
type plannerInputs struct {
	rawMax    time.Duration
	minuteMax time.Duration
}

// buildPlan derives the plan for a validated query: bucket width via the
// interval planner, tier via the selector, both canonicalized.
func buildPlan(q Query, in plannerInputs) Plan {
	p := Plan{
		EffectiveRange: q.Range,
		Sensors:        sortedCopy(q.Sensors),
		Assets:         sortedCopy(q.Assets),
		Aggregation:    q.Aggregation,
	}

	duration := q.Range.Duration()
	nSensors := int64(len(q.Sensors))

	if q.Aggregation == types.AggRaw {
		p.Tier = types.TierRaw
		p.BucketWidth = types.TierRaw.Grain()
		p.ExpectedPoints = ceilDiv(int64(duration), int64(time.Second)) * nSensors
		return p
	}

	var width time.Duration
	if q.Interval > 0 {
		// A fixed interval still snaps upward: serving finer than asked
		// could blow the point budget.
		width = snapUp(q.Interval)
	} else {
		minWidth := time.Duration(ceilDiv(int64(duration)*nSensors, int64(q.MaxPoints)))
		width = snapUp(minWidth)
	}

	// Tier selection, first match wins.
	switch {
	case width < time.Minute:
		p.Tier = types.TierRaw
	case width < time.Hour && duration <= in.minuteMax:
		p.Tier = types.TierMinute
	default:
		p.Tier = types.TierHour
	}

	// Promote the resolution when the tier grain is coarser than the
	// requested width.
	if grain := p.Tier.Grain(); width < grain {
		width = snapUp(grain)
		p.Promoted = true
	}

	p.BucketWidth = width
	p.ExpectedPoints = ceilDiv(int64(duration), int64(width)) * nSensors
	return p
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
