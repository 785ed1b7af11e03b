package config

import "time"

// DefaultConfig returns the standard configuration: failover over a local
// filesystem backend, 30-day query window, 512 MiB cache, 24h/168h tier
// thresholds.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Mode:    ModeFailover,
			Primary: BackendConfig{Type: BackendFilesystem, Path: "data"},
		},
		Query: QueryConfig{
			MaxDuration:       Duration(720 * time.Hour),
			DefaultMaxPoints:  10000,
			AbsoluteMaxPoints: 100000,
			Deadline:          Duration(30 * time.Second),
			MaxConcurrent:     64,
		},
		Cache: CacheConfig{
			Enabled:   true,
			SizeBytes: 512 << 20,
			TTL:       Duration(time.Hour),
		},
		Tiers: TierConfig{
			RawMax:    Duration(24 * time.Hour),
			MinuteMax: Duration(168 * time.Hour),
		},
		Read: ReadConfig{
			Parallelism:       8,
			PartitionDeadline: Duration(15 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
