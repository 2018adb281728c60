package main

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	// An empty value falls through to the default, same as an unset key.
	for _, key := range []string{"HEARTBEAT_TIMEOUT_SEC", "TIME_UPDATE_INTERVAL_SEC", "MAX_SONGS_PER_USER", "DEFAULT_VOLUME"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HeartbeatTimeout != 30*time.Second {
		t.Errorf("heartbeatTimeout = %v, want 30s", cfg.HeartbeatTimeout)
	}
	if cfg.TimeUpdateInterval != 2*time.Second {
		t.Errorf("timeUpdateInterval = %v, want 2s", cfg.TimeUpdateInterval)
	}
	if cfg.MaxSongsPerUser != 10 {
		t.Errorf("maxSongsPerUser = %d, want 10", cfg.MaxSongsPerUser)
	}
	if cfg.DefaultVolume != 80 {
		t.Errorf("defaultVolume = %d, want 80", cfg.DefaultVolume)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("HEARTBEAT_TIMEOUT_SEC", "5")
	t.Setenv("MAX_SONGS_PER_USER", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9999" {
		t.Errorf("addr = %s, want :9999", cfg.Addr)
	}
	if cfg.HeartbeatTimeout != 5*time.Second {
		t.Errorf("heartbeatTimeout = %v, want 5s", cfg.HeartbeatTimeout)
	}
	if cfg.MaxSongsPerUser != 3 {
		t.Errorf("maxSongsPerUser = %d, want 3", cfg.MaxSongsPerUser)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero heartbeat", func(c *Config) { c.HeartbeatTimeout = 0 }},
		{"zero update interval", func(c *Config) { c.TimeUpdateInterval = 0 }},
		{"zero song limit", func(c *Config) { c.MaxSongsPerUser = 0 }},
		{"volume out of range", func(c *Config) { c.DefaultVolume = 150 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("validate accepted a bad config")
			}
		})
	}
}
