package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/xtxerr/quarry/config"
	"github.com/xtxerr/quarry/internal/storage/parquet"
	"github.com/xtxerr/quarry/internal/storage/partition"
	"github.com/xtxerr/quarry/internal/storage/types"
)

// envRow is the demo partition schema: one environmental sensor with two
// measurement columns.
type envRow struct {
	Timestamp   int64   `parquet:"timestamp"`
	AssetID     string  `parquet:"asset_id"`
	Temperature float64 `parquet:"temperature"`
	Humidity    float64 `parquet:"humidity"`
}

// seedDemoData writes demo partitions for the last 24 hours into the
// primary filesystem backend: raw-tier files plus matching minute and
// hour tier aggregates.
func seedDemoData(cfg *config.Config) error {
	if cfg.Storage.Primary.Type != config.BackendFilesystem {
		return fmt.Errorf("seeding requires a filesystem primary backend")
	}
	root := filepath.Join(cfg.Storage.Primary.Path, filepath.FromSlash(cfg.Storage.Root))

	const (
		asset  = "plant-a"
		sensor = "env_quad"
	)
	end := time.Now().UTC().Truncate(time.Hour)
	start := end.Add(-24 * time.Hour)

	sample := func(ts time.Time) envRow {
		phase := float64(ts.Unix()%86400) / 86400 * 2 * math.Pi
		return envRow{
			Timestamp:   ts.UnixNano(),
			AssetID:     asset,
			Temperature: 20 + 5*math.Sin(phase),
			Humidity:    55 + 10*math.Cos(phase),
		}
	}

	write := func(tier types.Tier, partStart time.Time, rows []envRow) error {
		data, err := parquet.BufferRows(rows)
		if err != nil {
			return err
		}
		rel := partitionPath(tier, asset, sensor, partStart)
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		return os.WriteFile(full, data, 0o644)
	}

	// Raw tier: one file per hour, one sample per second.
	for h := start; h.Before(end); h = h.Add(time.Hour) {
		rows := make([]envRow, 0, 3600)
		for ts := h; ts.Before(h.Add(time.Hour)); ts = ts.Add(time.Second) {
			rows = append(rows, sample(ts))
		}
		if err := write(types.TierRaw, h, rows); err != nil {
			return err
		}
	}

	// Minute tier: one file per day, one row per minute.
	for d := types.TierMinute.TruncateToPartition(start); d.Before(end); d = d.AddDate(0, 0, 1) {
		rows := make([]envRow, 0, 1440)
		for ts := maxTime(d, start); ts.Before(minTime(d.AddDate(0, 0, 1), end)); ts = ts.Add(time.Minute) {
			rows = append(rows, sample(ts))
		}
		if err := write(types.TierMinute, d, rows); err != nil {
			return err
		}
	}

	// Hour tier: one file per month, one row per hour.
	for m := types.TierHour.TruncateToPartition(start); m.Before(end); m = m.AddDate(0, 1, 0) {
		var rows []envRow
		for ts := maxTime(m, start); ts.Before(minTime(m.AddDate(0, 1, 0), end)); ts = ts.Add(time.Hour) {
			rows = append(rows, sample(ts))
		}
		if err := write(types.TierHour, m, rows); err != nil {
			return err
		}
	}
	return nil
}

// partitionPath mirrors the locator's layout without needing a registry.
func partitionPath(tier types.Tier, asset, sensor string, start time.Time) string {
	switch tier {
	case types.TierRaw:
		return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%s%s",
			asset, start.Year(), start.Month(), start.Day(), start.Hour(), sensor, partition.Ext)
	case types.TierMinute:
		return fmt.Sprintf("%s/%04d/%02d/%02d/%s%s",
			asset, start.Year(), start.Month(), start.Day(), sensor, partition.Ext)
	default:
		return fmt.Sprintf("%s/%04d/%02d/%s%s",
			asset, start.Year(), start.Month(), sensor, partition.Ext)
	}
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
