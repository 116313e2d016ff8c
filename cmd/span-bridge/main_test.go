package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SPANBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidRules verifies run fails fast on a self-referencing rule.
func TestRun_InvalidRules(t *testing.T) {
	configContent := `
bridge:
  id: test-bridge

endpoints:
  a:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-a"
  b:
    host: "127.0.0.1"
    port: 1884
    client_id: "test-b"

rules:
  - source: a
    destination: a
    pattern: "sensors/#"
    template: "mirror/{0}"

influxdb:
  enabled: false

logging:
  level: error
`
	configPath := writeTempConfig(t, configContent)
	t.Setenv("SPANBRIDGE_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a self-referencing rule")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SPANBRIDGE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("SPANBRIDGE_CONFIG", "/etc/span-bridge/config.yaml")
	if got := getConfigPath(); got != "/etc/span-bridge/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}
