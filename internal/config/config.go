// Package config loads the replication core's tunable parameters: an
// env-style base layer of six numeric knobs, optionally overlaid by a
// YAML file for the operational settings envs don't cover (listen
// address, database path, hub URL), using a load-then-apply-defaults
// shape for each layer.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Tuning holds the env-configurable transfer and scheduling parameters.
type Tuning struct {
	ChunkSizeBytes              uint64
	MaxConcurrentChunkDownloads int
	PeerProbeIntervalSecs       int
	StaleHeartbeatMinutes       int
	MaxBackoffSecs              int
	RarestFirstThreshold        float64
}

// DefaultTuning returns the documented default for every tunable.
func DefaultTuning() Tuning {
	return Tuning{
		ChunkSizeBytes:              1048576,
		MaxConcurrentChunkDownloads: 8,
		PeerProbeIntervalSecs:       300,
		StaleHeartbeatMinutes:       5,
		MaxBackoffSecs:              3600,
		RarestFirstThreshold:        0.8,
	}
}

// Ops holds settings not covered by the env layer: where the process
// listens, where its database lives, and (for cmd/edge) where its hub is.
type Ops struct {
	Listen      string `yaml:"listen"`
	DatabaseDSN string `yaml:"database_dsn"`
	LogLevel    string `yaml:"log_level"`

	// Edge-only fields; empty for cmd/hub.
	EdgeID  string `yaml:"edge_id"`
	HubURL  string `yaml:"hub_url"`
}

// Config is the fully resolved configuration for either binary.
type Config struct {
	Tuning
	Ops
}

// Default returns a Config with every field at its documented default.
func Default() Config {
	return Config{
		Tuning: DefaultTuning(),
		Ops: Ops{
			Listen:      ":8443",
			DatabaseDSN: "borgcore.db",
			LogLevel:    "info",
		},
	}
}

// LoadEnv reads the six tuning parameters from the environment. An unset
// variable keeps its default; an unparsable one also keeps its default,
// and LoadEnv returns the first such parse error with the resulting Tuning.
func LoadEnv() (Tuning, error) {
	t := DefaultTuning()
	var firstErr error
	setUint := func(name string, dst *uint64) {
		v, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			firstErr = firstError(firstErr, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
	setInt := func(name string, dst *int) {
		v, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			firstErr = firstError(firstErr, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
	setFloat := func(name string, dst *float64) {
		v, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			firstErr = firstError(firstErr, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}

	setUint("CHUNK_SIZE_BYTES", &t.ChunkSizeBytes)
	setInt("MAX_CONCURRENT_CHUNK_DOWNLOADS", &t.MaxConcurrentChunkDownloads)
	setInt("PEER_PROBE_INTERVAL_SECS", &t.PeerProbeIntervalSecs)
	setInt("STALE_HEARTBEAT_MINUTES", &t.StaleHeartbeatMinutes)
	setInt("MAX_BACKOFF_SECS", &t.MaxBackoffSecs)
	setFloat("RAREST_FIRST_THRESHOLD", &t.RarestFirstThreshold)

	return t, firstErr
}

func firstError(existing, next error) error {
	if existing != nil {
		return existing
	}
	return next
}

// LoadOpsFile reads an optional YAML overlay for Ops. A missing file is
// not an error: every field already carries a usable default.
func LoadOpsFile(path string) (Ops, error) {
	ops := Default().Ops
	if path == "" {
		return ops, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ops, nil
		}
		return ops, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &ops); err != nil {
		return ops, fmt.Errorf("parse config file: %w", err)
	}
	if ops.Listen == "" {
		ops.Listen = ":8443"
	}
	if ops.DatabaseDSN == "" {
		ops.DatabaseDSN = "borgcore.db"
	}
	if ops.LogLevel == "" {
		ops.LogLevel = "info"
	}
	return ops, nil
}

// Load builds a Config from the environment plus an optional YAML overlay
// file for Ops fields. opsFile may be empty.
func Load(opsFile string) (Config, error) {
	tuning, err := LoadEnv()
	if err != nil {
		return Config{}, err
	}
	ops, err := LoadOpsFile(opsFile)
	if err != nil {
		return Config{}, err
	}
	return Config{Tuning: tuning, Ops: ops}, nil
}
