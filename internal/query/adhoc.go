package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/quarry/internal/storage/backend"
	"github.com/xtxerr/quarry/internal/storage/types"
)

// adhocDB provides raw SQL over the partition files via an in-memory
// DuckDB instance. Only available when the primary backend is a local
// filesystem, since DuckDB reads the Parquet files by path.
type adhocDB struct {
	mu   sync.Mutex
	db   *sql.DB
	root string // filesystem directory holding partitions; "" disables
}

func newAdhocDB(primary backend.Backend, storageRoot string) *adhocDB {
	fs, ok := primary.(*backend.Filesystem)
	if !ok {
		return &adhocDB{}
	}
	return &adhocDB{root: filepath.Join(fs.Root(), filepath.FromSlash(storageRoot))}
}

func (a *adhocDB) open() (*sql.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.root == "" {
		return nil, fmt.Errorf("ad-hoc SQL requires a filesystem primary backend")
	}
	if a.db != nil {
		return a.db, nil
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	a.db = db
	return db, nil
}

func (a *adhocDB) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		err := a.db.Close()
		a.db = nil
		return err
	}
	return nil
}

// PartitionGlob returns the filesystem glob matching every partition file
// of the given tier, suitable for DuckDB's read_parquet. Empty when ad-hoc
// SQL is unavailable.
func (e *Engine) PartitionGlob(tier types.Tier) string {
	if e.adhoc.root == "" {
		return ""
	}
	var levels int
	switch tier {
	case types.TierRaw:
		levels = 5 // asset/YYYY/MM/DD/HH
	case types.TierMinute:
		levels = 4
	default:
		levels = 3
	}
	parts := make([]string, 0, levels+1)
	for i := 0; i < levels; i++ {
		parts = append(parts, "*")
	}
	parts = append(parts, "*.parquet")
	return filepath.Join(append([]string{e.adhoc.root}, parts...)...)
}

// ExecuteSQL runs an ad-hoc SQL query against the partition files using
// DuckDB. Useful for debugging and exploratory queries; it bypasses the
// tiered planner and cache entirely.
func (e *Engine) ExecuteSQL(ctx context.Context, query string) ([]map[string]any, error) {
	db, err := e.adhoc.open()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
