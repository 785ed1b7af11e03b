// Package aggregate downsamples sorted measurement rows into fixed-width
// time buckets. It is an explicit column-wise fold: one pass over the
// input, one output row per (sensor, asset, bucket) that holds data.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/xtxerr/quarry/internal/storage/types"
)

type bucketKey struct {
	sensor string
	asset  string
	index  int64
}

// colState carries the running fold for one measurement column inside one
// bucket.
type colState struct {
	count   int64
	sum     float64
	min     types.Value
	max     types.Value
	first   types.Value
	firstTs time.Time
	last    types.Value
	lastTs  time.Time
}

func (c *colState) add(v types.Value, ts time.Time) {
	c.count++
	c.sum += v.AsFloat()

	if c.count == 1 {
		c.min, c.max = v, v
		c.first, c.firstTs = v, ts
		c.last, c.lastTs = v, ts
		return
	}
	if v.AsFloat() < c.min.AsFloat() {
		c.min = v
	}
	if v.AsFloat() > c.max.AsFloat() {
		c.max = v
	}
	if ts.Before(c.firstTs) {
		c.first, c.firstTs = v, ts
	}
	// Greatest timestamp wins; on ties the later input row wins.
	if !ts.Before(c.lastTs) {
		c.last, c.lastTs = v, ts
	}
}

func (c *colState) result(agg types.Aggregation) types.Value {
	switch agg {
	case types.AggMean:
		return types.FloatValue(c.sum / float64(c.count))
	case types.AggMin:
		return c.min
	case types.AggMax:
		return c.max
	case types.AggLast:
		return c.last
	case types.AggFirst:
		return c.first
	case types.AggSum:
		return types.FloatValue(c.sum)
	case types.AggCount:
		return types.IntValue(c.count)
	default:
		return types.Null()
	}
}

// Downsample groups rows into buckets of the given width, starting at
// rng.Start, and applies the aggregation column-wise. Input must be sorted
// by (sensor, asset, timestamp); output is too. Raw aggregation is
// identity. Null and NaN inputs are dropped; buckets with no surviving
// values produce no output row (sparse output). Output timestamps are the
// bucket's left edge.
func Downsample(rows types.DataSet, rng types.TimeRange, width time.Duration, agg types.Aggregation) types.DataSet {
	if agg == types.AggRaw || width <= 0 {
		return rows
	}

	buckets := make(map[bucketKey]map[string]*colState)
	for _, row := range rows {
		if !rng.Contains(row.Timestamp) {
			continue
		}
		key := bucketKey{
			sensor: row.Sensor,
			asset:  row.Asset,
			index:  int64(row.Timestamp.Sub(rng.Start) / width),
		}
		cols := buckets[key]
		if cols == nil {
			cols = make(map[string]*colState)
			buckets[key] = cols
		}
		for name, v := range row.Values {
			if v.IsNull() || (v.Kind == types.KindFloat && math.IsNaN(v.Float)) {
				continue
			}
			st := cols[name]
			if st == nil {
				st = &colState{}
				cols[name] = st
			}
			st.add(v, row.Timestamp)
		}
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].sensor != keys[j].sensor {
			return keys[i].sensor < keys[j].sensor
		}
		if keys[i].asset != keys[j].asset {
			return keys[i].asset < keys[j].asset
		}
		return keys[i].index < keys[j].index
	})

	out := make(types.DataSet, 0, len(keys))
	for _, k := range keys {
		values := make(map[string]types.Value)
		for name, st := range buckets[k] {
			if st.count == 0 {
				continue
			}
			values[name] = st.result(agg)
		}
		if len(values) == 0 {
			continue
		}
		out = append(out, types.Row{
			Timestamp: rng.Start.Add(time.Duration(k.index) * width),
			Sensor:    k.sensor,
			Asset:     k.asset,
			Values:    values,
		})
	}
	return out
}
