package config

import (
	"path/filepath"
	"testing"
)

func TestNewFillsDefaults(t *testing.T) {
	cfg := New("alice")
	if cfg.Name != "alice" {
		t.Fatalf("expected name alice, got %q", cfg.Name)
	}
	if cfg.NodeID == "" {
		t.Fatalf("expected non-empty node id")
	}
	if cfg.WebPort != DefaultWebPort {
		t.Fatalf("expected default web port %d, got %d", DefaultWebPort, cfg.WebPort)
	}
	if cfg.DHTK != DefaultDHTK || cfg.DHTAlpha != DefaultDHTAlpha || cfg.DHTHops != DefaultDHTHops {
		t.Fatalf("expected default dht params, got k=%d alpha=%d hops=%d", cfg.DHTK, cfg.DHTAlpha, cfg.DHTHops)
	}
	if cfg.CreatedAt == "" {
		t.Fatalf("expected created_at to be set")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.json")

	cfg := New("bob")
	cfg.Port = 7700
	cfg.BootstrapNodes = []string{"127.0.0.1:7701"}
	cfg.Tags = []string{"edge", "gpu"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Name != cfg.Name || loaded.NodeID != cfg.NodeID || loaded.Port != cfg.Port {
		t.Fatalf("round trip mismatch: got %+v want %+v", loaded, cfg)
	}
	if len(loaded.BootstrapNodes) != 1 || loaded.BootstrapNodes[0] != "127.0.0.1:7701" {
		t.Fatalf("bootstrap_nodes not preserved: %v", loaded.BootstrapNodes)
	}
	if len(loaded.Tags) != 2 {
		t.Fatalf("tags not preserved: %v", loaded.Tags)
	}
}

func TestDefaultPathNonEmpty(t *testing.T) {
	if DefaultPath() == "" {
		t.Fatalf("expected non-empty default path")
	}
}

func TestEnvOrDefaultFallsBack(t *testing.T) {
	if got := EnvOrDefault("OPENCLAW_TEST_UNSET_VAR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestEnvOrDefaultInt64FallsBackOnGarbage(t *testing.T) {
	t.Setenv("OPENCLAW_TEST_GENESIS_SUPPLY", "not-a-number")
	if got := EnvOrDefaultInt64("OPENCLAW_TEST_GENESIS_SUPPLY", 42); got != 42 {
		t.Fatalf("expected fallback 42, got %d", got)
	}
}
