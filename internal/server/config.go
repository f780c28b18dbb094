package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers selectable through STORE_DRIVER.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bbolt"
	DriverMemory = "memory"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	FrontendDir    string   `env:"FRONTEND_DIR" envDefault:"dist"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"data/senryu.db"`
	KVPrefix    string `env:"KV_PREFIX" envDefault:"senryu"`

	RoomTTL         time.Duration `env:"ROOM_TTL" envDefault:"168h"`
	LockStaleness   time.Duration `env:"LOCK_STALENESS" envDefault:"60s"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	StreamKeepalive time.Duration `env:"STREAM_KEEPALIVE" envDefault:"30s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`

	MaxPlayersPerRoom int  `env:"MAX_PLAYERS_PER_ROOM" envDefault:"12"`
	MinPlayersToStart int  `env:"MIN_PLAYERS_TO_START" envDefault:"2"`
	AutoAdvance       bool `env:"AUTO_ADVANCE" envDefault:"true"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	OTelEndpoint    string `env:"OTEL_ENDPOINT"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"senryu"`
}

// LoadConfig builds a Config from environment variables and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AllowedOrigins = parseAllowedOrigins(cfg.AllowedOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the configuration LoadConfig yields with an empty
// environment.
func DefaultConfig() Config {
	return Config{
		Port:              "8080",
		AllowedOrigins:    []string{"*"},
		FrontendDir:       "dist",
		StoreDriver:       DriverSQLite,
		DBPath:            "data/senryu.db",
		KVPrefix:          "senryu",
		RoomTTL:           168 * time.Hour,
		LockStaleness:     60 * time.Second,
		PollInterval:      2 * time.Second,
		StreamKeepalive:   30 * time.Second,
		SweepInterval:     10 * time.Minute,
		MaxPlayersPerRoom: 12,
		MinPlayersToStart: 2,
		AutoAdvance:       true,
		RateLimitRPS:      5,
		RateLimitBurst:    10,
		OTelServiceName:   "senryu",
	}
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverSQLite, DriverBolt:
		if strings.TrimSpace(c.DBPath) == "" {
			errs = append(errs, fmt.Errorf("DB_PATH is required for %s", c.StoreDriver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	durations := []struct {
		name string
		v    time.Duration
	}{
		{"ROOM_TTL", c.RoomTTL},
		{"LOCK_STALENESS", c.LockStaleness},
		{"POLL_INTERVAL", c.PollInterval},
		{"STREAM_KEEPALIVE", c.StreamKeepalive},
		{"SWEEP_INTERVAL", c.SweepInterval},
	}
	for _, d := range durations {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.MinPlayersToStart < 1 {
		errs = append(errs, errors.New("MIN_PLAYERS_TO_START must be at least 1"))
	}
	if c.MaxPlayersPerRoom < c.MinPlayersToStart {
		errs = append(errs, errors.New("MAX_PLAYERS_PER_ROOM must not be below MIN_PLAYERS_TO_START"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	return errors.Join(errs...)
}

func parseAllowedOrigins(raw []string) []string {
	var origins []string
	for _, origin := range raw {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
