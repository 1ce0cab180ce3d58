// Package config centralizes the tunables a dataset Channel, its
// fetch transport, and an optional swarm Node need, in a single
// value that can be loaded from a file, environment, or CLI flags.
package config

import "time"

// Config mirrors the shape of the teacher's own content-service
// config: one flat struct with sensible zero-value-free defaults,
// rather than scattering tunables across package-level variables.
type Config struct {
	// ChunkSize is the fixed chunk size used when chunking a dataset
	// into the Merkle reference, in bytes. Must be a power of two.
	ChunkSize uint64 `json:"chunk_size"`

	// Workers is the Executor's worker-pool size for concurrent chunk
	// fetch/verify.
	Workers int `json:"workers"`

	// MaxRetries bounds per-chunk fetch attempts before a task fails.
	MaxRetries int `json:"max_retries"`

	// RetryBase is the base backoff between retry attempts.
	RetryBase time.Duration `json:"retry_base"`

	// TaskTimeout bounds how long a single chunk fetch may take.
	TaskTimeout time.Duration `json:"task_timeout"`

	// RateWindow is the sliding window used for bytes/sec estimation.
	RateWindow time.Duration `json:"rate_window"`

	// AdaptiveRateThresholdBytesPerSec is the rolling-average
	// throughput above which the adaptive scheduler switches from
	// Default to Aggressive mode.
	AdaptiveRateThresholdBytesPerSec float64 `json:"adaptive_rate_threshold_bytes_per_sec"`

	// CachePath is the directory local chunk caches and state sidecars
	// are written under.
	CachePath string `json:"cache_path"`

	// FetchTimeout bounds a single origin-transport FetchRange call
	// (HTTP or local file).
	FetchTimeout time.Duration `json:"fetch_timeout"`

	// Swarm tunes optional peer-assisted fetch; zero value disables it.
	Swarm SwarmConfig `json:"swarm"`
}

// SwarmConfig tunes an optional swarm Node; Enabled is false by
// default so a Channel works standalone against only the origin
// transport unless a caller explicitly opts in.
type SwarmConfig struct {
	Enabled          bool          `json:"enabled"`
	SwarmID          string        `json:"swarm_id"`
	BindAddr         string        `json:"bind_addr"`
	ProbeInterval    time.Duration `json:"probe_interval"`
	SuspicionTimeout time.Duration `json:"suspicion_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

// DefaultConfig returns the configuration used when a caller supplies
// none: a single worker is too slow for any real dataset, and an
// unset chunk size or cache path would silently misbehave, so every
// field here is chosen to be a reasonable production default rather
// than a placeholder.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:                       1024 * 1024, // 1 MiB
		Workers:                         4,
		MaxRetries:                      3,
		RetryBase:                       200 * time.Millisecond,
		TaskTimeout:                     30 * time.Second,
		RateWindow:                      10 * time.Second,
		AdaptiveRateThresholdBytesPerSec: 8 * 1024 * 1024, // 8 MiB/s
		CachePath:                       "./vecstore-cache",
		FetchTimeout:                    30 * time.Second,
		Swarm: SwarmConfig{
			Enabled:           false,
			BindAddr:          "0.0.0.0:7420",
			ProbeInterval:     5 * time.Second,
			SuspicionTimeout:  10 * time.Second,
			HeartbeatInterval: 10 * time.Second,
		},
	}
}
