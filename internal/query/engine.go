// Package query plans and executes sensor-data queries: it selects the
// cheapest storage tier that can serve the requested resolution, reads
// partitions through the backend registry, downsamples in memory, enforces
// the point budget, and serves repeated queries from the result cache.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xtxerr/quarry/config"
	"github.com/xtxerr/quarry/internal/cache"
	"github.com/xtxerr/quarry/internal/errors"
	"github.com/xtxerr/quarry/internal/logging"
	"github.com/xtxerr/quarry/internal/storage/aggregate"
	"github.com/xtxerr/quarry/internal/storage/backend"
	"github.com/xtxerr/quarry/internal/storage/partition"
	"github.com/xtxerr/quarry/internal/storage/scan"
	"github.com/xtxerr/quarry/internal/storage/types"
)

// Query is one canonical request for sensor values over a half-open time
// range. Raw passthrough is requested with Aggregation == AggRaw.
type Query struct {
	// Sensors is the non-empty set of sensors to read.
	Sensors []string

	// Assets optionally filters by asset; empty means all assets.
	Assets []string

	// Range is the half-open query interval.
	Range types.TimeRange

	// Interval optionally fixes the bucket width. Zero means the planner
	// chooses one to fit MaxPoints. When set it must be >= 1 second; it
	// is snapped upward to the standard grid.
	Interval time.Duration

	// MaxPoints is the output point budget. Must be positive; callers
	// that want the configured default apply it before building the
	// Query.
	MaxPoints int

	// Aggregation selects the per-bucket function.
	Aggregation types.Aggregation
}

// Metadata describes how a query was served. It is always populated, on
// cache hits from the cached entry.
type Metadata struct {
	CacheHit      bool          `json:"cache_hit"`
	Tier          types.Tier    `json:"tier_used"`
	BucketWidth   time.Duration `json:"bucket_width_used"`
	Truncated     bool          `json:"truncated"`
	ActualEnd     time.Time     `json:"actual_end"`
	Promoted      bool          `json:"resolution_promoted"`
	ExecutionTime time.Duration `json:"execution_time"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// ExecutionMs returns the execution time in milliseconds.
func (m Metadata) ExecutionMs() float64 {
	return float64(m.ExecutionTime) / float64(time.Millisecond)
}

// HealthReport is the management health snapshot.
type HealthReport struct {
	OK       bool             `json:"ok"`
	Backends []backend.Health `json:"backends"`
	CacheOK  bool             `json:"cache_ok"`
}

// Engine owns the full query pipeline: registry, locator, scanner, cache,
// admission semaphore and statistics. Construct one per service lifetime;
// it is safe for concurrent use.
type Engine struct {
	cfg     *config.Config
	reg     *backend.Registry
	locator *partition.Locator
	scanner *scan.Scanner
	cache   *cache.Cache
	sem     *semaphore.Weighted
	stats   *tracker
	known   map[string]struct{}
	start   time.Time
	log     *slog.Logger

	adhoc *adhocDB
}

// New builds an engine with backends constructed from the configuration.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	primary, err := buildBackend("primary", cfg.Storage.Primary)
	if err != nil {
		return nil, err
	}
	var secondary backend.Backend
	if cfg.Storage.Secondary.Type != "" {
		secondary, err = buildBackend("secondary", cfg.Storage.Secondary)
		if err != nil {
			return nil, err
		}
	}
	return NewWithBackends(cfg, primary, secondary)
}

// NewWithBackends builds an engine over explicit backends, for callers
// that construct their own (object stores in particular). secondary may be
// nil.
func NewWithBackends(cfg *config.Config, primary, secondary backend.Backend) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var ordered []backend.Backend
	switch cfg.Storage.Mode {
	case config.ModePrimaryOnly:
		ordered = []backend.Backend{primary}
	case config.ModeSecondaryOnly:
		if secondary == nil {
			return nil, fmt.Errorf("storage.mode %s requires a secondary backend", cfg.Storage.Mode)
		}
		ordered = []backend.Backend{secondary}
	default:
		ordered = []backend.Backend{primary}
		if secondary != nil {
			ordered = append(ordered, secondary)
		}
	}

	reg := backend.NewRegistry(ordered...)
	known := make(map[string]struct{}, len(cfg.Query.KnownSensors))
	for _, s := range cfg.Query.KnownSensors {
		known[s] = struct{}{}
	}

	e := &Engine{
		cfg:     cfg,
		reg:     reg,
		locator: partition.NewLocator(reg, cfg.Storage.Root),
		scanner: scan.NewScanner(reg, cfg.Read.Parallelism, cfg.Read.PartitionDeadline.Duration()),
		cache: cache.New(cache.Options{
			Enabled:        cfg.Cache.Enabled,
			SizeLimitBytes: int64(cfg.Cache.SizeBytes),
			TTL:            cfg.Cache.TTL.Duration(),
		}),
		sem:   semaphore.NewWeighted(int64(cfg.Query.MaxConcurrent)),
		stats: newTracker(),
		known: known,
		start: time.Now(),
		log:   logging.Component("engine"),
	}
	e.adhoc = newAdhocDB(primary, cfg.Storage.Root)
	return e, nil
}

func buildBackend(role string, bc config.BackendConfig) (backend.Backend, error) {
	switch bc.Type {
	case config.BackendFilesystem:
		return backend.NewFilesystem(role, bc.Path), nil
	case config.BackendMemory:
		return backend.NewMemory(role), nil
	default:
		return nil, fmt.Errorf("storage backend %s: unknown type %q", role, bc.Type)
	}
}

// Registry exposes the backend registry, mainly for seeding tools.
func (e *Engine) Registry() *backend.Registry { return e.reg }

// Execute runs one query to completion and returns the rows plus serving
// metadata. The context deadline bounds the whole execution including
// admission; without one the configured query deadline applies.
func (e *Engine) Execute(ctx context.Context, q Query) (types.DataSet, Metadata, error) {
	started := time.Now()

	if _, ok := ctx.Deadline(); !ok && e.cfg.Query.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Query.Deadline.Duration())
		defer cancel()
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, Metadata{}, errors.Wrap(errors.KindCapacityExceeded,
			"admission wait exceeded the query deadline", err)
	}
	defer e.sem.Release(1)

	if err := e.validate(&q); err != nil {
		return nil, Metadata{}, err
	}

	plan := buildPlan(q, plannerInputs{
		rawMax:    e.cfg.Tiers.RawMax.Duration(),
		minuteMax: e.cfg.Tiers.MinuteMax.Duration(),
	})
	fp := fingerprint(plan)

	payload, hit, shared, err := e.cache.Do(ctx, fp, func(cctx context.Context) (cache.Payload, error) {
		return e.compute(cctx, q, plan)
	})
	if err != nil {
		if ctx.Err() != nil && errors.KindOf(err) == errors.KindInternal {
			err = errors.Wrap(errors.KindDeadlineExceeded, "query deadline elapsed", err)
		}
		return nil, Metadata{}, err
	}

	elapsed := time.Since(started)
	meta := Metadata{
		CacheHit:      hit,
		Tier:          payload.Tier,
		BucketWidth:   payload.BucketWidth,
		Truncated:     payload.Truncated,
		ActualEnd:     payload.ActualEnd,
		Promoted:      plan.Promoted,
		ExecutionTime: elapsed,
		Warnings:      payload.Warnings,
	}
	e.stats.record(payload.Tier.String(), elapsed, hit)
	e.log.Debug("query served",
		"sensors", len(q.Sensors), "tier", payload.Tier, "bucket_width", payload.BucketWidth,
		"rows", len(payload.Rows), "cache_hit", hit, "shared_flight", shared,
		"truncated", payload.Truncated, "elapsed", elapsed)
	return payload.Rows, meta, nil
}

// validate rejects malformed queries with classified errors and clamps
// the point budget to the configured ceiling.
func (e *Engine) validate(q *Query) error {
	if err := q.Range.Validate(); err != nil {
		return errors.Wrap(errors.KindInvalidTimeRange, "start must be before end", err)
	}
	if max := e.cfg.Query.MaxDuration.Duration(); max > 0 && q.Range.Duration() > max {
		return errors.Newf(errors.KindInvalidTimeRange,
			"range spans %s, limit is %s", q.Range.Duration(), max)
	}
	if len(q.Sensors) == 0 {
		return errors.NewParam("sensors", "at least one sensor is required")
	}
	for _, s := range q.Sensors {
		if s == "" || strings.ContainsAny(s, "/\\") {
			return errors.NewParam("sensors", fmt.Sprintf("invalid sensor name %q", s))
		}
		if len(e.known) > 0 {
			if _, ok := e.known[s]; !ok {
				return errors.NewParam("sensors", fmt.Sprintf("unknown sensor %q", s))
			}
		}
	}
	for _, a := range q.Assets {
		if a == "" || strings.ContainsAny(a, "/\\") {
			return errors.NewParam("assets", fmt.Sprintf("invalid asset id %q", a))
		}
	}
	if q.MaxPoints <= 0 {
		return errors.NewParam("max_points", "point budget must be positive")
	}
	if abs := e.cfg.Query.AbsoluteMaxPoints; abs > 0 && q.MaxPoints > abs {
		q.MaxPoints = abs
	}
	if q.Interval != 0 && q.Interval < time.Second {
		return errors.NewParam("interval", "interval must be at least one second")
	}
	return nil
}

// compute executes a cache miss: budget-shrinks raw ranges, enumerates and
// scans partitions, aggregates, and caps the output.
func (e *Engine) compute(ctx context.Context, q Query, plan Plan) (cache.Payload, error) {
	payload := cache.Payload{
		Tier:        plan.Tier,
		BucketWidth: plan.BucketWidth,
		ActualEnd:   plan.EffectiveRange.End,
	}

	effective := plan.EffectiveRange
	if plan.Aggregation == types.AggRaw && plan.ExpectedPoints > int64(q.MaxPoints) {
		// Shrink the range so a full-rate read cannot exceed the budget.
		perSensor := int64(q.MaxPoints) / int64(len(plan.Sensors))
		effective = effective.ClampEnd(effective.Start.Add(time.Duration(perSensor) * time.Second))
		payload.Truncated = true
		payload.ActualEnd = effective.End
	}

	refs, err := e.locator.Partitions(ctx, plan.Sensors, plan.Assets, effective, plan.Tier)
	if err != nil {
		return cache.Payload{}, err
	}

	result, err := e.scanner.Scan(ctx, refs, effective, nil)
	if err != nil {
		return cache.Payload{}, err
	}
	payload.Warnings = result.Warnings

	rows := result.Rows
	if plan.Aggregation != types.AggRaw {
		rows = aggregate.Downsample(rows, plan.EffectiveRange, plan.BucketWidth, plan.Aggregation)
	}

	// Final budget cap: drop rows from the tail.
	if len(rows) > q.MaxPoints {
		rows = rows[:q.MaxPoints]
		payload.Truncated = true
		if end := latestTimestamp(rows).Add(plan.BucketWidth); end.Before(payload.ActualEnd) {
			payload.ActualEnd = end
		}
	}

	payload.Rows = rows
	return payload, nil
}

func latestTimestamp(rows types.DataSet) time.Time {
	var latest time.Time
	for _, r := range rows {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest
}

// ClearCache drops all cached query results and the partition discovery
// caches.
func (e *Engine) ClearCache() {
	e.cache.Clear()
	e.locator.Invalidate()
	e.log.Info("caches cleared")
}

// Stats returns the management statistics snapshot.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot(e.cache.Stats(), time.Since(e.start))
}

// Health probes every backend and reports overall condition.
func (e *Engine) Health(ctx context.Context) HealthReport {
	backends := e.reg.Health(ctx)
	report := HealthReport{OK: true, Backends: backends, CacheOK: true}
	for _, h := range backends {
		if !h.OK {
			report.OK = false
		}
	}
	return report
}

// Sensors returns the discovered sensor catalog.
func (e *Engine) Sensors(ctx context.Context) ([]string, error) {
	return e.locator.Sensors(ctx)
}

// Assets returns the discovered asset catalog.
func (e *Engine) Assets(ctx context.Context) ([]string, error) {
	return e.locator.Assets(ctx)
}

// TimeSpan returns the earliest and latest instants covered by stored
// partitions matching the filters. Zero times mean no data.
func (e *Engine) TimeSpan(ctx context.Context, sensors, assets []string) (time.Time, time.Time, error) {
	return e.locator.TimeSpan(ctx, sensors, assets)
}

// Close releases engine resources.
func (e *Engine) Close() error {
	return e.adhoc.Close()
}
