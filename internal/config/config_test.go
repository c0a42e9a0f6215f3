package config

import (
	"testing"
	"time"
)

// TestLoad_Defaults tests the built-in fallbacks when nothing is set
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ProbeInterval != 15*time.Second {
		t.Errorf("ProbeInterval = %v, want 15s", cfg.ProbeInterval)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.StatusPort != 8787 {
		t.Errorf("StatusPort = %d, want 8787", cfg.StatusPort)
	}
	if cfg.DBPath == "" {
		t.Error("DBPath is empty")
	}
}

// TestLoad_Environment tests that env vars override the defaults
func TestLoad_Environment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FIELDSYNC_GATEWAY_URL", "https://gw.example.com")
	t.Setenv("FIELDSYNC_STATUS_PORT", "9000")
	t.Setenv("FIELDSYNC_PROBE_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.GatewayURL != "https://gw.example.com" {
		t.Errorf("GatewayURL = %q", cfg.GatewayURL)
	}
	if cfg.StatusPort != 9000 {
		t.Errorf("StatusPort = %d, want 9000", cfg.StatusPort)
	}
	if cfg.ProbeInterval != 5*time.Second {
		t.Errorf("ProbeInterval = %v, want 5s", cfg.ProbeInterval)
	}
}

// TestLoad_HealthURLFallback tests the derived gateway health endpoint
func TestLoad_HealthURLFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FIELDSYNC_GATEWAY_URL", "https://gw.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HealthURL != "https://gw.example.com/rest/v1/" {
		t.Errorf("HealthURL = %q", cfg.HealthURL)
	}
}
