// Package parquet decodes partition files into measurement rows and
// serializes rows for the seeding tool and tests.
//
// Partition files are flat Parquet: a required int64 "timestamp" column of
// nanoseconds since the Unix epoch (UTC), an optional "asset_id" string
// column, and one or more numeric measurement columns. The decoder reads
// the file schema at open time, so each sensor may carry its own column
// set. Non-numeric columns are not read: their cells decode as null.
// Projected columns missing from a file also decode as null.
package parquet

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/quarry/internal/errors"
	"github.com/xtxerr/quarry/internal/storage/backend"
	"github.com/xtxerr/quarry/internal/storage/types"
)

// Reserved column names that are never treated as measurements.
const (
	ColumnTimestamp = "timestamp"
	ColumnAssetID   = "asset_id"
)

// DecodeOptions scope a partition decode.
type DecodeOptions struct {
	// Sensor is injected into every decoded row; the sensor name comes
	// from the partition path, not from storage.
	Sensor string

	// Asset is the fallback asset for files without an asset_id column.
	Asset string

	// Range filters rows to timestamp in [Start, End).
	Range types.TimeRange

	// Columns projects the measurement columns to decode. Nil means all.
	Columns []string
}

// Decode reads one partition blob into rows. Rows keep the file's
// timestamp order, which producers guarantee to be ascending.
func Decode(blob backend.Blob, opts DecodeOptions) (types.DataSet, error) {
	f, err := parquet.OpenFile(blob, blob.Size())
	if err != nil {
		return nil, errors.Wrap(errors.KindReadFailed,
			fmt.Sprintf("unreadable partition for sensor %s", opts.Sensor), err)
	}

	fields := f.Schema().Fields()
	names := make([]string, len(fields))
	tsCol := -1
	assetCol := -1
	for i, field := range fields {
		names[i] = field.Name()
		switch field.Name() {
		case ColumnTimestamp:
			tsCol = i
		case ColumnAssetID:
			assetCol = i
		}
	}
	if tsCol < 0 {
		return nil, errors.Newf(errors.KindReadFailed,
			"partition for sensor %s has no timestamp column", opts.Sensor)
	}

	var projected map[string]struct{}
	if opts.Columns != nil {
		projected = make(map[string]struct{}, len(opts.Columns))
		for _, c := range opts.Columns {
			projected[c] = struct{}{}
		}
	}
	wantColumn := func(name string) bool {
		if name == ColumnTimestamp || name == ColumnAssetID {
			return false
		}
		if projected == nil {
			return true
		}
		_, ok := projected[name]
		return ok
	}

	var out types.DataSet
	buf := make([]parquet.Row, 256)
	for _, rg := range f.RowGroups() {
		rows := rg.Rows()
		var readErr error
		for readErr == nil {
			var n int
			n, readErr = rows.ReadRows(buf)
			for _, pqRow := range buf[:n] {
				row, ok := decodeRow(pqRow, names, tsCol, assetCol, opts, wantColumn)
				if ok {
					out = append(out, row)
				}
			}
		}
		closeErr := rows.Close()
		if readErr != nil && readErr != io.EOF {
			return nil, errors.Wrap(errors.KindReadFailed,
				fmt.Sprintf("reading partition for sensor %s", opts.Sensor), readErr)
		}
		if closeErr != nil {
			return nil, errors.Wrap(errors.KindReadFailed,
				fmt.Sprintf("reading partition for sensor %s", opts.Sensor), closeErr)
		}
	}

	// Projected columns absent from this file decode as null.
	for _, row := range out {
		for _, c := range opts.Columns {
			if _, ok := row.Values[c]; !ok {
				row.Values[c] = types.Null()
			}
		}
	}
	return out, nil
}

func decodeRow(pqRow parquet.Row, names []string, tsCol, assetCol int, opts DecodeOptions, wantColumn func(string) bool) (types.Row, bool) {
	row := types.Row{
		Sensor: opts.Sensor,
		Asset:  opts.Asset,
		Values: make(map[string]types.Value),
	}
	for _, v := range pqRow {
		idx := v.Column()
		if idx < 0 || idx >= len(names) {
			continue
		}
		switch idx {
		case tsCol:
			row.Timestamp = nanosToTime(v.Int64())
		case assetCol:
			if !v.IsNull() {
				row.Asset = v.String()
			}
		default:
			name := names[idx]
			if !wantColumn(name) {
				continue
			}
			row.Values[name] = decodeValue(v)
		}
	}
	if !opts.Range.Contains(row.Timestamp) {
		return types.Row{}, false
	}
	return row, true
}

func nanosToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func decodeValue(v parquet.Value) types.Value {
	if v.IsNull() {
		return types.Null()
	}
	switch v.Kind() {
	case parquet.Int32:
		return types.IntValue(int64(v.Int32()))
	case parquet.Int64:
		return types.IntValue(v.Int64())
	case parquet.Float:
		return types.FloatValue(float64(v.Float()))
	case parquet.Double:
		return types.FloatValue(v.Double())
	default:
		// Non-numeric measurement columns are tolerated but not read.
		return types.Null()
	}
}

// BufferRows serializes rows into an in-memory Parquet object. The row
// type's parquet struct tags define the file schema. Used by the seeding
// tool and tests; the query core itself never writes partitions.
func BufferRows[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return buf.Bytes(), nil
}
