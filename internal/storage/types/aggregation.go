package types

import "fmt"

// Aggregation identifies the per-bucket aggregation function.
type Aggregation int

const (
	// AggRaw is passthrough: no bucketing, identity.
	AggRaw Aggregation = iota
	// AggMean is the arithmetic mean of non-null values.
	AggMean
	// AggMin is the element-wise minimum.
	AggMin
	// AggMax is the element-wise maximum.
	AggMax
	// AggLast is the value with the greatest timestamp in the bucket.
	AggLast
	// AggFirst is the value with the smallest timestamp in the bucket.
	AggFirst
	// AggSum is the sum of non-null values in double precision.
	AggSum
	// AggCount is the number of non-null values.
	AggCount
)

// String returns the canonical name of the aggregation.
func (a Aggregation) String() string {
	switch a {
	case AggRaw:
		return "raw"
	case AggMean:
		return "mean"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggLast:
		return "last"
	case AggFirst:
		return "first"
	case AggSum:
		return "sum"
	case AggCount:
		return "count"
	default:
		return fmt.Sprintf("unknown(%d)", a)
	}
}

// ParseAggregation parses an aggregation name. "avg" is accepted as an
// alias for "mean".
func ParseAggregation(s string) (Aggregation, error) {
	switch s {
	case "raw":
		return AggRaw, nil
	case "mean", "avg":
		return AggMean, nil
	case "min":
		return AggMin, nil
	case "max":
		return AggMax, nil
	case "last":
		return AggLast, nil
	case "first":
		return AggFirst, nil
	case "sum":
		return AggSum, nil
	case "count":
		return AggCount, nil
	default:
		return AggRaw, fmt.Errorf("unknown aggregation: %s", s)
	}
}
