// Package scan fans partition reads out over a bounded worker pool and
// concatenates the decoded rows in (sensor, asset, timestamp) order.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/quarry/internal/errors"
	"github.com/xtxerr/quarry/internal/logging"
	"github.com/xtxerr/quarry/internal/storage/backend"
	"github.com/xtxerr/quarry/internal/storage/parquet"
	"github.com/xtxerr/quarry/internal/storage/partition"
	"github.com/xtxerr/quarry/internal/storage/types"
)

// DefaultParallelism bounds the per-query worker pool when the config does
// not say otherwise.
const DefaultParallelism = 8

// DefaultPartitionDeadline is how long a single partition read may take
// before it is cancelled and treated as empty.
const DefaultPartitionDeadline = 15 * time.Second

// Result is a completed scan: the merged rows plus warnings for
// partitions that were dropped on deadline overrun.
type Result struct {
	Rows     types.DataSet
	Warnings []string
}

// Scanner reads partition sets in parallel through the backend registry.
type Scanner struct {
	reg               *backend.Registry
	parallelism       int
	partitionDeadline time.Duration
	log               *slog.Logger
}

// NewScanner creates a scanner. Zero parallelism or deadline select the
// defaults.
func NewScanner(reg *backend.Registry, parallelism int, partitionDeadline time.Duration) *Scanner {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	if partitionDeadline <= 0 {
		partitionDeadline = DefaultPartitionDeadline
	}
	return &Scanner{
		reg:               reg,
		parallelism:       parallelism,
		partitionDeadline: partitionDeadline,
		log:               logging.Component("scanner"),
	}
}

// Scan fetches and decodes every candidate partition, filters rows to rng,
// projects columns, and returns the concatenation sorted by (sensor,
// asset, timestamp).
//
// Missing partitions are empty. A partition read that overruns the
// per-partition deadline is cancelled and reported as a warning. A
// permanent decode error cancels the remaining workers and fails the scan.
func (s *Scanner) Scan(ctx context.Context, refs []partition.Ref, rng types.TimeRange, columns []string) (Result, error) {
	if len(refs) == 0 {
		return Result{}, nil
	}

	perRef := make([]types.DataSet, len(refs))
	var mu sync.Mutex
	var warnings []string

	workers := s.parallelism
	if len(refs) < workers {
		workers = len(refs)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ref := range refs {
		g.Go(func() error {
			rows, warn, err := s.readOne(gctx, ref, rng, columns)
			if err != nil {
				return err
			}
			perRef[i] = rows
			if warn != "" {
				mu.Lock()
				warnings = append(warnings, warn)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var total int
	for _, rows := range perRef {
		total += len(rows)
	}
	merged := make(types.DataSet, 0, total)
	for _, rows := range perRef {
		merged = append(merged, rows...)
	}
	merged.Sort()
	return Result{Rows: merged, Warnings: warnings}, nil
}

// readOne fetches and decodes a single partition under the per-partition
// deadline.
func (s *Scanner) readOne(ctx context.Context, ref partition.Ref, rng types.TimeRange, columns []string) (types.DataSet, string, error) {
	pctx, cancel := context.WithTimeout(ctx, s.partitionDeadline)
	defer cancel()

	blob, err := s.reg.Open(pctx, ref.Path)
	if err != nil {
		switch {
		case errors.IsNotFound(err):
			return nil, "", nil
		case pctx.Err() != nil && ctx.Err() == nil:
			s.log.Warn("partition read overran deadline, treating as empty",
				"path", ref.Path, "deadline", s.partitionDeadline)
			return nil, fmt.Sprintf("partition %s dropped: read exceeded %s", ref.Path, s.partitionDeadline), nil
		default:
			return nil, "", err
		}
	}
	defer blob.Close()

	rows, err := parquet.Decode(blob, parquet.DecodeOptions{
		Sensor:  ref.Sensor,
		Asset:   ref.Asset,
		Range:   rng,
		Columns: columns,
	})
	if err != nil {
		return nil, "", err
	}
	return rows, "", nil
}
