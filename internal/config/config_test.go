package config

import "testing"

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.DefaultConcurrency != defaultConcurrency {
		t.Fatalf("DefaultConcurrency = %d, want %d", cfg.DefaultConcurrency, defaultConcurrency)
	}
	if cfg.MaxSessions != defaultMaxSessions {
		t.Fatalf("MaxSessions = %d, want %d", cfg.MaxSessions, defaultMaxSessions)
	}
	if cfg.BindAddress != defaultBindAddress {
		t.Fatalf("BindAddress = %q, want %q", cfg.BindAddress, defaultBindAddress)
	}
}

func TestWithDefaultsPreservesSetValues(t *testing.T) {
	cfg := Config{DefaultConcurrency: 9, MaxSessions: 2, BindAddress: "127.0.0.1:5000"}.WithDefaults()
	if cfg.DefaultConcurrency != 9 || cfg.MaxSessions != 2 || cfg.BindAddress != "127.0.0.1:5000" {
		t.Fatalf("WithDefaults overwrote explicit values: %+v", cfg)
	}
}
