package server

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("defaults differ:\n got %+v\nwant %+v", cfg, DefaultConfig())
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("STORE_DRIVER", "bbolt")
	t.Setenv("DB_PATH", "/tmp/senryu.bolt")
	t.Setenv("LOCK_STALENESS", "45s")
	t.Setenv("AUTO_ADVANCE", "false")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" || cfg.StoreDriver != DriverBolt || cfg.DBPath != "/tmp/senryu.bolt" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Fatalf("origins = %v, want %v", cfg.AllowedOrigins, want)
	}
	if cfg.LockStaleness != 45*time.Second || cfg.AutoAdvance || cfg.RateLimitRPS != 2.5 {
		t.Fatalf("unexpected tuning: %+v", cfg)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unparsable duration", map[string]string{"ROOM_TTL": "forever"}, "parse env"},
		{"unknown driver", map[string]string{"STORE_DRIVER": "redis"}, "unknown STORE_DRIVER"},
		{"zero staleness", map[string]string{"LOCK_STALENESS": "0s"}, "LOCK_STALENESS must be positive"},
		{"player bounds", map[string]string{"MIN_PLAYERS_TO_START": "5", "MAX_PLAYERS_PER_ROOM": "3"}, "MAX_PLAYERS_PER_ROOM"},
		{"rate limit", map[string]string{"RATE_LIMIT_BURST": "0"}, "RATE_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseAllowedOrigins(t *testing.T) {
	if got := parseAllowedOrigins([]string{" ", ""}); !reflect.DeepEqual(got, []string{"*"}) {
		t.Fatalf("expected wildcard fallback, got %v", got)
	}
}
