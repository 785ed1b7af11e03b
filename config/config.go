// Package config holds the YAML configuration for the quarry query
// service: storage composition, query limits, cache budget, tier
// thresholds and read parallelism.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Storage modes choose the registry composition.
const (
	ModePrimaryOnly   = "primary_only"
	ModeSecondaryOnly = "secondary_only"
	ModeFailover      = "failover"
)

// Backend types constructable from configuration. Object-store backends
// are injected programmatically because their client setup is
// deployment-specific.
const (
	BackendFilesystem = "filesystem"
	BackendMemory     = "memory"
)

// Config is the complete service configuration.
type Config struct {
	// Storage composes the backend registry.
	Storage StorageConfig `yaml:"storage"`

	// Query bounds individual queries.
	Query QueryConfig `yaml:"query"`

	// Cache configures the query-result cache.
	Cache CacheConfig `yaml:"cache"`

	// Tiers holds the tier-selector thresholds.
	Tiers TierConfig `yaml:"tiers"`

	// Read configures partition reads.
	Read ReadConfig `yaml:"read"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig composes the backend registry.
type StorageConfig struct {
	// Mode is one of primary_only, secondary_only, failover.
	Mode string `yaml:"mode"`

	// Primary is the first backend in the fallback order.
	Primary BackendConfig `yaml:"primary"`

	// Secondary is the fallback backend. Optional.
	Secondary BackendConfig `yaml:"secondary"`

	// Root is the path prefix partitions live under, inside each backend.
	Root string `yaml:"root"`
}

// BackendConfig describes one configurable backend.
type BackendConfig struct {
	// Type is filesystem or memory.
	Type string `yaml:"type"`

	// Path is the root directory for filesystem backends.
	Path string `yaml:"path"`
}

// QueryConfig bounds individual queries.
type QueryConfig struct {
	// MaxDuration is the upper bound on a query's time range.
	MaxDuration Duration `yaml:"max_duration"`

	// DefaultMaxPoints is applied at request assembly when the caller
	// omits a point budget.
	DefaultMaxPoints int `yaml:"default_max_points"`

	// AbsoluteMaxPoints is the hard ceiling on any point budget.
	AbsoluteMaxPoints int `yaml:"absolute_max_points"`

	// Deadline is the per-query execution deadline.
	Deadline Duration `yaml:"deadline"`

	// MaxConcurrent caps concurrently executing queries; excess queries
	// wait on admission, counted against their deadline.
	MaxConcurrent int `yaml:"max_concurrent"`

	// KnownSensors optionally whitelists sensor names. Empty means any
	// sensor name is accepted.
	KnownSensors []string `yaml:"known_sensors"`
}

// CacheConfig configures the query-result cache.
type CacheConfig struct {
	// Enabled false turns the cache into a no-op.
	Enabled bool `yaml:"enabled"`

	// SizeBytes is the cache byte budget.
	SizeBytes ByteSize `yaml:"size_bytes"`

	// TTL is the entry time-to-live.
	TTL Duration `yaml:"ttl"`
}

// TierConfig holds the tier-selector thresholds.
type TierConfig struct {
	// RawMax is validated to be below MinuteMax. The tier selector does
	// not consult it; raw-tier reads are bounded by the point budget.
	RawMax Duration `yaml:"raw_max"`

	// MinuteMax is the longest duration served from the minute tier.
	MinuteMax Duration `yaml:"minute_max"`
}

// ReadConfig configures partition reads.
type ReadConfig struct {
	// Parallelism is the per-query partition read worker count.
	Parallelism int `yaml:"parallelism"`

	// PartitionDeadline bounds a single partition read.
	PartitionDeadline Duration `yaml:"partition_deadline"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case ModePrimaryOnly, ModeSecondaryOnly, ModeFailover:
	default:
		return fmt.Errorf("storage.mode: unknown mode %q", c.Storage.Mode)
	}
	if c.Query.MaxDuration <= 0 {
		return fmt.Errorf("query.max_duration must be positive")
	}
	if c.Query.DefaultMaxPoints <= 0 {
		return fmt.Errorf("query.default_max_points must be positive")
	}
	if c.Query.AbsoluteMaxPoints < c.Query.DefaultMaxPoints {
		return fmt.Errorf("query.absolute_max_points must be >= query.default_max_points")
	}
	if c.Query.MaxConcurrent <= 0 {
		return fmt.Errorf("query.max_concurrent must be positive")
	}
	if c.Tiers.RawMax >= c.Tiers.MinuteMax {
		return fmt.Errorf("tiers.raw_max must be < tiers.minute_max")
	}
	if c.Cache.SizeBytes <= 0 {
		return fmt.Errorf("cache.size_bytes must be positive")
	}
	return nil
}
