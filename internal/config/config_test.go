package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "wifiwatch.yaml", `
log_level: debug
detection:
  poor_signal_floor: -75
  disappearance_grace: 20m
storage:
  driver: memory
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	if cfg.Detection.PoorSignalFloor != -75 {
		t.Fatalf("floor: %v", cfg.Detection.PoorSignalFloor)
	}
	if cfg.Detection.DisappearanceGrace != 20*time.Minute {
		t.Fatalf("grace: %s", cfg.Detection.DisappearanceGrace)
	}
	if cfg.Detection.DegradationThreshold != -10 {
		t.Fatalf("default threshold lost: %v", cfg.Detection.DegradationThreshold)
	}
	if cfg.Detection.AlertCooldown != 0 {
		t.Fatalf("cooldown must default to disabled")
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("driver: %s", cfg.Storage.Driver)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "wifiwatch.json", `{"api":{"enabled":true,"addr":":9999"},"storage":{"driver":"memory"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":9999" {
		t.Fatalf("addr: %s", cfg.API.Addr)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.yaml", "   \n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected empty config error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "wifiwatch.yaml", "storage:\n  driver: sqlite\n")
	t.Setenv("WIFIWATCH_STORAGE_DRIVER", "memory")
	t.Setenv("WIFIWATCH_SCHEDULER_INTERVAL", "90s")
	t.Setenv("WIFIWATCH_DETECTION_POOR_SIGNAL_FLOOR", "-82.5")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("driver override: %s", cfg.Storage.Driver)
	}
	if cfg.Scheduler.Interval != 90*time.Second {
		t.Fatalf("interval override: %s", cfg.Scheduler.Interval)
	}
	if cfg.Detection.PoorSignalFloor != -82.5 {
		t.Fatalf("floor override: %v", cfg.Detection.PoorSignalFloor)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Driver = "mysql"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected driver error")
	}

	cfg = DefaultConfig()
	cfg.Detection.DisappearanceGrace = 3 * time.Hour
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected grace >= lookback error")
	}

	cfg = DefaultConfig()
	cfg.Cooldown.Backend = "redis"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected redis addr error")
	}

	cfg = DefaultConfig()
	cfg.Notify.Kafka.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected notify kafka error")
	}

	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestManagerUpdateAndReload(t *testing.T) {
	path := writeFile(t, "wifiwatch.yaml", "storage:\n  driver: memory\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	next := *m.Get()
	next.Detection.PoorSignalFloor = -70
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Detection.PoorSignalFloor != -70 {
		t.Fatalf("reloaded floor: %v", cfg.Detection.PoorSignalFloor)
	}
}

func TestManagerWithoutFile(t *testing.T) {
	t.Setenv("WIFIWATCH_STORAGE_DRIVER", "memory")
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().Storage.Driver != "memory" {
		t.Fatalf("driver: %s", m.Get().Storage.Driver)
	}
	if needs, err := m.NeedsReload(); err != nil || needs {
		t.Fatalf("env-only manager must not reload: %v %v", needs, err)
	}
}
