// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and CLASSBOARD_* env vars.
// - Errors are wrapped with this package's sentinels.
package config

import (
	"runtime"
	"time"

	"github.com/okian/classboard/internal/domain/band"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// QueueSize bounds the recompute queue.
	QueueSize int `koanf:"queue_size" validate:"gte=1"`

	// WorkerCount sets the number of recompute workers.
	WorkerCount int `koanf:"worker_count" validate:"gte=1"`

	// ScopeIdleTTLSeconds forgets watched scopes unread for this long.
	// Zero keeps them until the process stops.
	ScopeIdleTTLSeconds int `koanf:"scope_idle_ttl_seconds" validate:"gte=0"`

	// MaxWatchedScopes caps the watched scopes; zero means no cap.
	MaxWatchedScopes int `koanf:"max_watched_scopes" validate:"gte=0"`

	// Store selects the entity store backend.
	Store string `koanf:"store" validate:"oneof=memory mongo"`

	// SeedFile is a YAML fixture loaded into the memory store at start.
	SeedFile string `koanf:"seed_file"`

	MongoURI       string `koanf:"mongo_uri" validate:"required_if=Store mongo"`
	MongoDatabase  string `koanf:"mongo_database" validate:"required_if=Store mongo"`
	MongoTimeoutMS int    `koanf:"mongo_timeout_ms" validate:"gte=1"`

	// RedisAddr enables the snapshot publisher when set.
	RedisAddr       string `koanf:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPrefix     string `koanf:"redis_prefix"`
	RedisTTLSeconds int    `koanf:"redis_ttl_seconds" validate:"gte=0"`

	// Timezone places submissions on calendar days, e.g. "Europe/Berlin".
	Timezone string `koanf:"timezone" validate:"required"`

	// CORSOrigins lists the allowed browser origins.
	CORSOrigins []string `koanf:"cors_origins"`

	// Band lower bounds, inclusive.
	BandExcellent float64 `koanf:"band_excellent" validate:"gte=0,lte=100"`
	BandGood      float64 `koanf:"band_good" validate:"gte=0,lte=100"`
	BandAverage   float64 `koanf:"band_average" validate:"gte=0,lte=100"`
}

// New creates a Config with defaults.
func New() *Config {
	t := band.DefaultThresholds()
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		QueueSize:           1024,
		WorkerCount:         runtime.NumCPU() * 2,
		ScopeIdleTTLSeconds: 900,
		MaxWatchedScopes:    10000,
		Store:               StoreMemory,
		MongoDatabase:       "classboard",
		MongoTimeoutMS:      5000,
		RedisPrefix:         "classboard:",
		RedisTTLSeconds:     86400,
		Timezone:            "UTC",
		CORSOrigins:         []string{"*"},
		BandExcellent:       t.Excellent,
		BandGood:            t.Good,
		BandAverage:         t.Average,
	}
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// MongoTimeout returns the per-query timeout.
func (c *Config) MongoTimeout() time.Duration {
	return time.Duration(c.MongoTimeoutMS) * time.Millisecond
}

// RedisTTL returns how long published snapshots live.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.RedisTTLSeconds) * time.Second
}

// ScopeIdleTTL returns how long an unread scope stays watched.
func (c *Config) ScopeIdleTTL() time.Duration {
	return time.Duration(c.ScopeIdleTTLSeconds) * time.Second
}

// Thresholds returns the configured band bounds.
func (c *Config) Thresholds() band.Thresholds {
	return band.Thresholds{Excellent: c.BandExcellent, Good: c.BandGood, Average: c.BandAverage}
}
