package types

import (
	"fmt"
	"time"
)

// TimeRange is a half-open interval [Start, End) in UTC, nanosecond
// precision.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange constructs a TimeRange from the given bounds, normalizing
// both to UTC.
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: start.UTC(), End: end.UTC()}
}

// Validate reports an error if the range is empty or inverted.
func (r TimeRange) Validate() error {
	if !r.Start.Before(r.End) {
		return fmt.Errorf("invalid time range: start %s is not before end %s", r.Start, r.End)
	}
	return nil
}

// Duration returns the length of the range.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains reports whether t falls within the half-open range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// ClampEnd returns a copy of the range with End clamped to at most end.
func (r TimeRange) ClampEnd(end time.Time) TimeRange {
	if end.Before(r.End) {
		r.End = end
	}
	return r
}

// Truncate returns a copy of the range with both endpoints truncated down
// to the nearest multiple of width.
func (r TimeRange) Truncate(width time.Duration) TimeRange {
	r.Start = r.Start.Truncate(width)
	r.End = r.End.Truncate(width)
	return r
}
