// Package config loads the broker's YAML configuration file: a fixed set
// of recognized top-level options, with any unrecognized key rejected as a
// startup error rather than silently ignored.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the broker's recognized configuration options. Every field
// has a documented default applied by Load when the key is absent from the
// file entirely (as opposed to present with a zero value).
type Config struct {
	// SnapshotPeriod is how often each partition's canonical snapshot
	// director takes and persists a transient snapshot while processing.
	SnapshotPeriod time.Duration `yaml:"snapshot_period"`

	// DiskUsageMonitoringEnabled gates the disk-space health checker.
	DiskUsageMonitoringEnabled bool `yaml:"disk_usage_monitoring_enabled"`

	// DiskUsageReplicationWatermark is the fraction (0.0-1.0) of disk usage
	// above which the disk-space checker reports unhealthy and every
	// partition pauses exporting (its periodic snapshot round) until usage
	// drops back, to avoid exhausting the runtime directory's filesystem.
	DiskUsageReplicationWatermark float64 `yaml:"disk_usage_replication_watermark"`

	// GatewayEnabled toggles the minimal gRPC health-service gateway.
	GatewayEnabled bool `yaml:"gateway_enabled"`
}

// DefaultSnapshotPeriod is applied when snapshot_period is absent from the
// config file.
const DefaultSnapshotPeriod = 15 * time.Minute

// Default returns a Config populated with every documented default.
func Default() Config {
	return Config{
		SnapshotPeriod:                DefaultSnapshotPeriod,
		DiskUsageMonitoringEnabled:    false,
		DiskUsageReplicationWatermark: 0,
		GatewayEnabled:                false,
	}
}

// Load reads and strictly decodes the YAML file at path. Keys outside the
// recognized set (snapshot_period, disk_usage_monitoring_enabled,
// disk_usage_replication_watermark, gateway_enabled) produce an error
// instead of being silently dropped.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	cfg := Default()

	// rawConfig mirrors Config field-for-field but with every field a
	// pointer, so the decoder can tell "absent" apart from "present as the
	// zero value" and Load only overwrites a default when the key actually
	// appeared in the file.
	var raw struct {
		SnapshotPeriod                *string  `yaml:"snapshot_period"`
		DiskUsageMonitoringEnabled    *bool    `yaml:"disk_usage_monitoring_enabled"`
		DiskUsageReplicationWatermark *float64 `yaml:"disk_usage_replication_watermark"`
		GatewayEnabled                *bool    `yaml:"gateway_enabled"`
	}

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}

	if raw.SnapshotPeriod != nil {
		d, err := time.ParseDuration(*raw.SnapshotPeriod)
		if err != nil {
			return Config{}, fmt.Errorf("parse snapshot_period: %w", err)
		}
		cfg.SnapshotPeriod = d
	}
	if raw.DiskUsageMonitoringEnabled != nil {
		cfg.DiskUsageMonitoringEnabled = *raw.DiskUsageMonitoringEnabled
	}
	if raw.DiskUsageReplicationWatermark != nil {
		cfg.DiskUsageReplicationWatermark = *raw.DiskUsageReplicationWatermark
	}
	if raw.GatewayEnabled != nil {
		cfg.GatewayEnabled = *raw.GatewayEnabled
	}

	if cfg.DiskUsageReplicationWatermark < 0 || cfg.DiskUsageReplicationWatermark > 1 {
		return Config{}, fmt.Errorf("disk_usage_replication_watermark must be between 0 and 1, got %v", cfg.DiskUsageReplicationWatermark)
	}
	if cfg.SnapshotPeriod <= 0 {
		return Config{}, fmt.Errorf("snapshot_period must be positive, got %s", cfg.SnapshotPeriod)
	}

	return cfg, nil
}
