package types

import (
	"sort"
	"time"
)

// ValueKind discriminates the representation of a measurement value.
type ValueKind int

const (
	// KindNull marks a measurement that is absent for this row.
	KindNull ValueKind = iota
	// KindInt is an integer measurement (stays integer through min/max/last).
	KindInt
	// KindFloat is a floating-point measurement.
	KindFloat
)

// Value is a single measurement cell. Integer and float representations are
// kept distinct so aggregation can preserve integer columns where the
// operation allows it.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// IntValue builds an integer value.
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// FloatValue builds a floating-point value.
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsFloat returns the value widened to float64. Null yields 0; callers must
// check IsNull first.
func (v Value) AsFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// Row is one logical record: a timestamp, the sensor it belongs to, the
// asset that produced it, and the sensor's measurement columns. The sensor
// name is injected by the reader from the partition path; it is not
// necessarily a column in storage.
type Row struct {
	Timestamp time.Time
	Sensor    string
	Asset     string
	Values    map[string]Value
}

// DataSet is an ordered sequence of rows grouped by (sensor, asset) and
// sorted by timestamp ascending within each group. Once published to the
// cache a DataSet is shared immutably; readers must not mutate it.
type DataSet []Row

// Sort orders the set by (sensor, asset, timestamp). The sort is stable so
// rows with identical timestamps keep their input order, which the
// last-value aggregation relies on.
func (d DataSet) Sort() {
	sort.SliceStable(d, func(i, j int) bool {
		if d[i].Sensor != d[j].Sensor {
			return d[i].Sensor < d[j].Sensor
		}
		if d[i].Asset != d[j].Asset {
			return d[i].Asset < d[j].Asset
		}
		return d[i].Timestamp.Before(d[j].Timestamp)
	})
}

// Columns returns the sorted union of measurement column names in the set.
func (d DataSet) Columns() []string {
	seen := make(map[string]struct{})
	for _, r := range d {
		for name := range r.Values {
			seen[name] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for name := range seen {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}
