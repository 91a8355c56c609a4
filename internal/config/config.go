// Package config loads and validates runtime configuration.
// Fail-fast: if a required setting is missing or malformed, the
// process exits at startup.
//
// Infrastructure settings come from the environment; per-platform
// tunables and the seed bidding strategy come from a TOML file, since
// poll intervals and rate ceilings must stay operator-editable per
// platform rather than baked-in constants.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/AmericanPowerAI/LeaX/internal/model"
)

// Duration wraps time.Duration for TOML decoding ("15s", "2m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Platform holds one platform's tunables.
type Platform struct {
	BaseURL      string   `toml:"base_url"`
	Enabled      bool     `toml:"enabled"`
	PollInterval Duration `toml:"poll_interval"` // default 15s
	MinGap       Duration `toml:"min_gap"`       // default 5s
	PerMinute    int      `toml:"per_minute"`    // 0 = no per-minute ceiling
	QueueSize    int      `toml:"queue_size"`    // default 64
	RetryCeiling int      `toml:"retry_ceiling"` // default 3
	BackoffBase  Duration `toml:"backoff_base"`  // default 2s
}

// File mirrors the TOML config file.
type File struct {
	Strategy  model.Strategy      `toml:"strategy"`
	Platforms map[string]Platform `toml:"platforms"`
}

// Config holds all runtime configuration for the bidding service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// CredEnvPrefix names the env vars carrying per-platform
	// credential references, e.g. LEAX_CRED_UPWORK.
	CredEnvPrefix string

	// SessionSweep / StaleSweep are the cron specs for the background
	// session-refresh and submitted-bid reconciliation sweeps.
	SessionSweep string
	StaleSweep   string

	// StaleAfter is how long a SUBMITTED bid may wait for an outcome
	// before the reconciliation sweep expires it.
	StaleAfter time.Duration

	Strategy  model.Strategy
	Platforms map[string]Platform
}

// Load reads environment variables and the platforms file, returning a
// validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	port := os.Getenv("BIDDER_PORT")
	if port == "" {
		port = "8083"
	}

	path := os.Getenv("PLATFORMS_FILE")
	if path == "" {
		path = "platforms.toml"
	}

	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:          port,
		DatabaseURL:   dbURL,
		RedisURL:      redisURL,
		CredEnvPrefix: "LEAX_CRED_",
		SessionSweep:  "@every 1m",
		StaleSweep:    "@every 10m",
		StaleAfter:    72 * time.Hour,
		Strategy:      file.Strategy,
		Platforms:     file.Platforms,
	}, nil
}

// LoadFile parses and validates the TOML platforms file.
func LoadFile(path string) (*File, error) {
	var file File
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if len(file.Platforms) == 0 {
		return nil, fmt.Errorf("%s: at least one [platforms.<id>] section is required", path)
	}
	if file.Strategy.Version < 1 {
		file.Strategy.Version = 1
	}
	switch file.Strategy.BidFunc {
	case model.BidFixed, model.BidPercent, model.BidUndercut:
	case "":
		file.Strategy.BidFunc = model.BidFixed
	default:
		return nil, fmt.Errorf("%s: unknown bid_func %q", path, file.Strategy.BidFunc)
	}

	for id, p := range file.Platforms {
		if p.BaseURL == "" {
			return nil, fmt.Errorf("%s: platforms.%s.base_url is required", path, id)
		}
		if p.PollInterval.Duration <= 0 {
			p.PollInterval.Duration = 15 * time.Second
		}
		if p.MinGap.Duration <= 0 {
			p.MinGap.Duration = 5 * time.Second
		}
		if p.QueueSize <= 0 {
			p.QueueSize = 64
		}
		if p.RetryCeiling <= 0 {
			p.RetryCeiling = 3
		}
		if p.BackoffBase.Duration <= 0 {
			p.BackoffBase.Duration = 2 * time.Second
		}
		file.Platforms[id] = p
	}

	return &file, nil
}
