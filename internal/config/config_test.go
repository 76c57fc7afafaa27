package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.App.Domain != "digidex.app" {
		t.Fatalf("domain = %q", cfg.App.Domain)
	}
	if cfg.Cache.TTL != 24*time.Hour || cfg.Cache.SweepInterval != time.Hour {
		t.Fatalf("cache durations = %v / %v", cfg.Cache.TTL, cfg.Cache.SweepInterval)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != time.Second {
		t.Fatalf("retry = %d / %v", cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay)
	}
	if cfg.Scan.ParseAttempts != 3 {
		t.Fatalf("parse attempts = %d", cfg.Scan.ParseAttempts)
	}
}

func TestFromYAMLOverridesAndKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("app:\n  domain: example.test\ncache:\n  ttl: 2h\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.App.Domain != "example.test" {
		t.Fatalf("domain = %q", cfg.App.Domain)
	}
	if cfg.Cache.TTL != 2*time.Hour {
		t.Fatalf("ttl = %v", cfg.Cache.TTL)
	}
	if cfg.Cache.SweepInterval != time.Hour {
		t.Fatalf("sweep interval should keep default, got %v", cfg.Cache.SweepInterval)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"domain with path": "app:\n  domain: digidex.app/connect\n",
		"zero attempts":    "retry:\n  max_attempts: 0\n",
		"relative probe":   "network:\n  probe_url: /ping\n",
		"bad base path":    "server:\n  base_path: v0\n",
		"negative ttl":     "cache:\n  ttl: -1h\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.App.Domain != "digidex.app" {
		t.Fatalf("expected defaults, got %q", cfg.App.Domain)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "digidex.yml"), []byte("app:\n  domain: dx.example\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Domain != "dx.example" {
		t.Fatalf("domain = %q", cfg.App.Domain)
	}
}
