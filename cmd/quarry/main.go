// quarry is the smart query tool for tiered sensor-data storage: it runs
// planned queries against the partition store, ad-hoc SQL via DuckDB, and
// can seed a local data directory with demo partitions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/xtxerr/quarry/config"
	"github.com/xtxerr/quarry/internal/logging"
	"github.com/xtxerr/quarry/internal/query"
	"github.com/xtxerr/quarry/internal/storage/types"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "quarry.yaml", "config file path")
	sensors := flag.String("sensors", "", "comma-separated sensor names")
	assets := flag.String("assets", "", "comma-separated asset ids (empty = all)")
	from := flag.String("from", "", "range start, RFC3339")
	to := flag.String("to", "", "range end, RFC3339")
	agg := flag.String("agg", "mean", "aggregation: raw, mean, min, max, last, first, sum, count")
	interval := flag.Duration("interval", 0, "fixed bucket width (0 = auto)")
	maxPoints := flag.Int("max-points", 0, "point budget (0 = configured default)")
	sqlQuery := flag.String("sql", "", "run ad-hoc SQL via DuckDB instead of a planned query")
	seed := flag.Bool("seed", false, "seed the primary filesystem backend with demo partitions")
	showStats := flag.Bool("stats", false, "print engine statistics after the query")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("load config: %v", err)
		}
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	logging.Init(level, cfg.Logging.JSON)
	logging.Component("main").Info("quarry starting", "version", Version)

	if *seed {
		if err := seedDemoData(cfg); err != nil {
			log.Fatalf("seed: %v", err)
		}
		fmt.Println("seeded demo partitions")
		return
	}

	eng, err := query.New(cfg)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()

	if *sqlQuery != "" {
		rows, err := eng.ExecuteSQL(ctx, *sqlQuery)
		if err != nil {
			log.Fatalf("sql: %v", err)
		}
		for _, row := range rows {
			fmt.Println(formatMap(row))
		}
		return
	}

	if *sensors == "" {
		flag.Usage()
		os.Exit(2)
	}
	q, err := buildQuery(cfg, *sensors, *assets, *from, *to, *agg, *interval, *maxPoints)
	if err != nil {
		log.Fatalf("bad query: %v", err)
	}

	rows, meta, err := eng.Execute(ctx, q)
	if err != nil {
		log.Fatalf("query: %v", err)
	}

	for _, row := range rows {
		printRow(row)
	}
	fmt.Printf("# tier=%s bucket=%s rows=%d cache_hit=%v truncated=%v elapsed=%.1fms\n",
		meta.Tier, meta.BucketWidth, len(rows), meta.CacheHit, meta.Truncated, meta.ExecutionMs())
	if meta.Truncated {
		fmt.Printf("# actual_end=%s\n", meta.ActualEnd.Format(time.RFC3339))
	}
	for _, w := range meta.Warnings {
		fmt.Printf("# warning: %s\n", w)
	}

	if *showStats {
		s := eng.Stats()
		fmt.Printf("# queries=%d hits=%d misses=%d avg=%.1fms p95=%.1fms\n",
			s.QueryCount, s.CacheHits, s.CacheMisses, s.AvgExecutionMs, s.P95ExecutionMs)
	}
}

func buildQuery(cfg *config.Config, sensors, assets, from, to, agg string, interval time.Duration, maxPoints int) (query.Query, error) {
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return query.Query{}, fmt.Errorf("-from: %w", err)
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return query.Query{}, fmt.Errorf("-to: %w", err)
	}
	aggregation, err := types.ParseAggregation(agg)
	if err != nil {
		return query.Query{}, err
	}
	if maxPoints == 0 {
		maxPoints = cfg.Query.DefaultMaxPoints
	}
	return query.Query{
		Sensors:     splitList(sensors),
		Assets:      splitList(assets),
		Range:       types.NewTimeRange(start, end),
		Interval:    interval,
		MaxPoints:   maxPoints,
		Aggregation: aggregation,
	}, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printRow(row types.Row) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\t%s\t%s", row.Timestamp.Format(time.RFC3339Nano), row.Sensor, row.Asset)
	names := make([]string, 0, len(row.Values))
	for name := range row.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := row.Values[name]
		switch {
		case v.IsNull():
			fmt.Fprintf(&sb, "\t%s=null", name)
		case v.Kind == types.KindInt:
			fmt.Fprintf(&sb, "\t%s=%d", name, v.Int)
		default:
			fmt.Fprintf(&sb, "\t%s=%g", name, v.Float)
		}
	}
	fmt.Println(sb.String())
}

func formatMap(row map[string]any) string {
	var sb strings.Builder
	first := true
	for k, v := range row {
		if !first {
			sb.WriteString("\t")
		}
		first = false
		fmt.Fprintf(&sb, "%s=%v", k, v)
	}
	return sb.String()
}
