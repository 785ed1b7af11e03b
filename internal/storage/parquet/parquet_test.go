package parquet

import (
	"bytes"
	"testing"
	"time"

	"github.com/xtxerr/quarry/internal/storage/types"
)

type testBlob struct {
	*bytes.Reader
	size int64
}

func (b *testBlob) Size() int64  { return b.size }
func (b *testBlob) Close() error { return nil }

func blobOf(t *testing.T, data []byte) *testBlob {
	t.Helper()
	return &testBlob{Reader: bytes.NewReader(data), size: int64(len(data))}
}

type envRow struct {
	Timestamp   int64   `parquet:"timestamp"`
	AssetID     string  `parquet:"asset_id"`
	Temperature float64 `parquet:"temperature"`
	Humidity    int64   `parquet:"humidity"`
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func envFixture(t *testing.T, n int) []byte {
	t.Helper()
	rows := make([]envRow, n)
	for i := range rows {
		rows[i] = envRow{
			Timestamp:   base.Add(time.Duration(i) * time.Second).UnixNano(),
			AssetID:     "plant-a",
			Temperature: 20 + float64(i),
			Humidity:    int64(50 + i),
		}
	}
	data, err := BufferRows(rows)
	if err != nil {
		t.Fatalf("buffer rows: %v", err)
	}
	return data
}

func fullRange(d time.Duration) types.TimeRange {
	return types.TimeRange{Start: base, End: base.Add(d)}
}

func TestDecodeAll(t *testing.T) {
	data := envFixture(t, 10)

	rows, err := Decode(blobOf(t, data), DecodeOptions{
		Sensor: "env",
		Asset:  "fallback",
		Range:  fullRange(time.Minute),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Sensor != "env" {
		t.Errorf("sensor must be injected from options, got %q", first.Sensor)
	}
	if first.Asset != "plant-a" {
		t.Errorf("asset must come from the asset_id column, got %q", first.Asset)
	}
	if !first.Timestamp.Equal(base) {
		t.Errorf("unexpected timestamp %s", first.Timestamp)
	}
	if v := first.Values["temperature"]; v.Kind != types.KindFloat || v.Float != 20 {
		t.Errorf("temperature: expected float 20, got %+v", v)
	}
	if v := first.Values["humidity"]; v.Kind != types.KindInt || v.Int != 50 {
		t.Errorf("humidity: expected int 50 (integer columns stay integer), got %+v", v)
	}
}

func TestDecodeTimeFilter(t *testing.T) {
	data := envFixture(t, 10)

	rows, err := Decode(blobOf(t, data), DecodeOptions{
		Sensor: "env",
		Range:  types.TimeRange{Start: base.Add(3 * time.Second), End: base.Add(7 * time.Second)},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("half-open filter: expected 4 rows, got %d", len(rows))
	}
	if !rows[0].Timestamp.Equal(base.Add(3 * time.Second)) {
		t.Errorf("start must be inclusive, first row at %s", rows[0].Timestamp)
	}
	if !rows[3].Timestamp.Equal(base.Add(6 * time.Second)) {
		t.Errorf("end must be exclusive, last row at %s", rows[3].Timestamp)
	}
}

func TestDecodeProjection(t *testing.T) {
	data := envFixture(t, 3)

	rows, err := Decode(blobOf(t, data), DecodeOptions{
		Sensor:  "env",
		Range:   fullRange(time.Minute),
		Columns: []string{"temperature"},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := rows[0].Values["humidity"]; ok {
		t.Error("humidity should be projected away")
	}
	if _, ok := rows[0].Values["temperature"]; !ok {
		t.Error("temperature should survive projection")
	}
}

func TestDecodeMissingProjectedColumnIsNull(t *testing.T) {
	data := envFixture(t, 2)

	rows, err := Decode(blobOf(t, data), DecodeOptions{
		Sensor:  "env",
		Range:   fullRange(time.Minute),
		Columns: []string{"temperature", "pressure"},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v, ok := rows[0].Values["pressure"]
	if !ok || !v.IsNull() {
		t.Errorf("missing projected column must decode as null, got %+v (present=%v)", v, ok)
	}
}

func TestDecodePreservesNanosecondPrecision(t *testing.T) {
	rows := []envRow{{
		Timestamp: base.UnixNano() + 123456789,
		AssetID:   "plant-a",
	}}
	data, err := BufferRows(rows)
	if err != nil {
		t.Fatalf("buffer rows: %v", err)
	}

	decoded, err := Decode(blobOf(t, data), DecodeOptions{
		Sensor: "env",
		Range:  fullRange(time.Minute),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := decoded[0].Timestamp.UnixNano(); got != base.UnixNano()+123456789 {
		t.Errorf("nanosecond precision lost: %d", got)
	}
}

type noAssetRow struct {
	Timestamp int64   `parquet:"timestamp"`
	Flow      float64 `parquet:"flow"`
}

func TestDecodeAssetFallsBackToPath(t *testing.T) {
	data, err := BufferRows([]noAssetRow{{Timestamp: base.UnixNano(), Flow: 1.5}})
	if err != nil {
		t.Fatalf("buffer rows: %v", err)
	}

	rows, err := Decode(blobOf(t, data), DecodeOptions{
		Sensor: "flowmeter",
		Asset:  "plant-b",
		Range:  fullRange(time.Minute),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rows[0].Asset != "plant-b" {
		t.Errorf("asset must fall back to the partition path, got %q", rows[0].Asset)
	}
}

type extraColsRow struct {
	Timestamp int64   `parquet:"timestamp"`
	AssetID   string  `parquet:"asset_id"`
	Level     float64 `parquet:"level"`
	Quality   string  `parquet:"quality"` // non-numeric: tolerated, not read
}

func TestDecodeIgnoresNonNumericColumns(t *testing.T) {
	data, err := BufferRows([]extraColsRow{
		{Timestamp: base.UnixNano(), AssetID: "a", Level: 3.2, Quality: "good"},
	})
	if err != nil {
		t.Fatalf("buffer rows: %v", err)
	}

	rows, err := Decode(blobOf(t, data), DecodeOptions{
		Sensor: "tank",
		Range:  fullRange(time.Minute),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v := rows[0].Values["quality"]; !v.IsNull() {
		t.Errorf("non-numeric column should decode as null, got %+v", v)
	}
	if v := rows[0].Values["level"]; v.Float != 3.2 {
		t.Errorf("level: expected 3.2, got %+v", v)
	}
}

func TestDecodeMissingTimestampColumn(t *testing.T) {
	type badRow struct {
		When  int64   `parquet:"when"`
		Value float64 `parquet:"value"`
	}
	data, err := BufferRows([]badRow{{When: 1, Value: 2}})
	if err != nil {
		t.Fatalf("buffer rows: %v", err)
	}

	_, err = Decode(blobOf(t, data), DecodeOptions{Sensor: "s", Range: fullRange(time.Minute)})
	if err == nil {
		t.Fatal("expected a schema error for a file without a timestamp column")
	}
}

func TestDecodeGarbageFails(t *testing.T) {
	_, err := Decode(blobOf(t, []byte("this is not parquet")), DecodeOptions{
		Sensor: "s",
		Range:  fullRange(time.Minute),
	})
	if err == nil {
		t.Fatal("expected an error for an unreadable file")
	}
}
