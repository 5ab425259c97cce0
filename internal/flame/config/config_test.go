package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestServerConfigTimeoutDefaults(t *testing.T) {
	cfg := ServerConfig{}
	if got := cfg.ReadTimeoutDuration(); got != 15*time.Second {
		t.Errorf("ReadTimeoutDuration() = %v, want %v", got, 15*time.Second)
	}
	if got := cfg.WriteTimeoutDuration(); got != 15*time.Second {
		t.Errorf("WriteTimeoutDuration() = %v, want %v", got, 15*time.Second)
	}
}

func TestServerConfigTimeoutCustom(t *testing.T) {
	cfg := ServerConfig{ReadTimeout: 5, WriteTimeout: 10}
	if got := cfg.ReadTimeoutDuration(); got != 5*time.Second {
		t.Errorf("ReadTimeoutDuration() = %v, want %v", got, 5*time.Second)
	}
	if got := cfg.WriteTimeoutDuration(); got != 10*time.Second {
		t.Errorf("WriteTimeoutDuration() = %v, want %v", got, 10*time.Second)
	}
}

func TestSchedulerConfigIntervalDefault(t *testing.T) {
	cfg := SchedulerConfig{}
	if got := cfg.Interval(); got != 500*time.Millisecond {
		t.Errorf("Interval() = %v, want %v (default)", got, 500*time.Millisecond)
	}
}

func TestSchedulerConfigIntervalCustom(t *testing.T) {
	cfg := SchedulerConfig{IntervalMillis: 250}
	if got := cfg.Interval(); got != 250*time.Millisecond {
		t.Errorf("Interval() = %v, want %v", got, 250*time.Millisecond)
	}
}

func TestSchedulerConfigMissedHeartbeatLimitDefault(t *testing.T) {
	cfg := SchedulerConfig{}
	if got := cfg.MissedHeartbeatLimitOrDefault(); got != 3 {
		t.Errorf("MissedHeartbeatLimitOrDefault() = %d, want 3 (default)", got)
	}
}

func TestSchedulerConfigMissedHeartbeatLimitCustom(t *testing.T) {
	cfg := SchedulerConfig{MissedHeartbeatLimit: 5}
	if got := cfg.MissedHeartbeatLimitOrDefault(); got != 5 {
		t.Errorf("MissedHeartbeatLimitOrDefault() = %d, want 5", got)
	}
}

func TestApplicationSpecToModelDefaultsDelayRelease(t *testing.T) {
	spec := ApplicationSpec{Name: "echo", Shim: "log"}
	app := spec.ToModel()
	if app.DelayRelease != 100*time.Millisecond {
		t.Errorf("expected default delay_release of 100ms, got %v", app.DelayRelease)
	}
}

func TestApplicationSpecToModelCarriesCustomDelayRelease(t *testing.T) {
	spec := ApplicationSpec{Name: "echo", DelayReleaseMillis: 750}
	app := spec.ToModel()
	if app.DelayRelease != 750*time.Millisecond {
		t.Errorf("expected delay_release of 750ms, got %v", app.DelayRelease)
	}
}

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Scheduler.Policy != "fairshare" {
		t.Errorf("expected default scheduler policy fairshare, got %s", cfg.Scheduler.Policy)
	}
	if cfg.SlotUnit["cpu"] != 1 {
		t.Errorf("expected default slot_unit cpu=1, got %v", cfg.SlotUnit)
	}
}

func TestLoadReadsValuesFromAYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flame.yaml")
	yaml := "endpoint: http://localhost:8080\nnode:\n  name: worker-1\n  allocatable:\n    cpu: 8\nserver:\n  port: 9090\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint != "http://localhost:8080" {
		t.Errorf("expected endpoint to be read from file, got %q", cfg.Endpoint)
	}
	if cfg.Node.Name != "worker-1" {
		t.Errorf("expected node.name worker-1, got %q", cfg.Node.Name)
	}
	if cfg.Node.Allocatable["cpu"] != 8 {
		t.Errorf("expected node.allocatable.cpu=8, got %v", cfg.Node.Allocatable)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected overridden server port 9090, got %d", cfg.Server.Port)
	}
}

func TestLoadFailsOnMissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
