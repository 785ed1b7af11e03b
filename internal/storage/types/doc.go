// Package types defines the core data model shared across the query
// pipeline: storage tiers, half-open time ranges, measurement rows with
// dynamic columns, and the aggregation function set.
//
// Rows model measurements as (timestamp, sensor, asset, map of column name
// to value) where values keep the integer/float distinction of the
// underlying columnar storage. A DataSet is sorted by (sensor, asset,
// timestamp) and becomes immutable once published to the cache.
package types
