package miio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "miio-bridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: miio-test
refresh:
  interval: 20
devices:
  - id: lamp-living
    host: 192.168.1.20
    model: yeelink.light.color1
  - id: humidifier-hall
    host: 192.168.1.21
    refresh_interval: 60
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Bridge.ID != "miio-test" {
		t.Errorf("Bridge.ID = %q", cfg.Bridge.ID)
	}
	if cfg.Bridge.HealthInterval != 30 {
		t.Errorf("HealthInterval = %d, want default 30", cfg.Bridge.HealthInterval)
	}
	if !cfg.Schemas.Watch {
		t.Error("Schemas.Watch should default to true")
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("Devices = %d, want 2", len(cfg.Devices))
	}
	if got := cfg.RefreshInterval(cfg.Devices[0]); got != 20*time.Second {
		t.Errorf("RefreshInterval(lamp) = %v, want 20s", got)
	}
	if got := cfg.RefreshInterval(cfg.Devices[1]); got != time.Minute {
		t.Errorf("RefreshInterval(humidifier) = %v, want 1m", got)
	}
	if cfg.GetTransportTimeout() != 5*time.Second {
		t.Errorf("GetTransportTimeout() = %v", cfg.GetTransportTimeout())
	}
	if cfg.GetDebounce() != 5*time.Second {
		t.Errorf("GetDebounce() = %v", cfg.GetDebounce())
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MIIO_BRIDGE_ID", "from-env")
	t.Setenv("MIIO_SCHEMA_DIR", dir)

	cfg, err := LoadConfig(writeConfig(t, "bridge:\n  id: from-file\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Bridge.ID != "from-env" {
		t.Errorf("Bridge.ID = %q, want from-env", cfg.Bridge.ID)
	}
	if cfg.Schemas.Dir != dir {
		t.Errorf("Schemas.Dir = %q, want %q", cfg.Schemas.Dir, dir)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "bridge: [")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"missing bridge id", func(c *Config) { c.Bridge.ID = "" }, "bridge.id is required"},
		{"zero health interval", func(c *Config) { c.Bridge.HealthInterval = 0 }, "bridge.health_interval"},
		{"zero refresh interval", func(c *Config) { c.Refresh.Interval = 0 }, "refresh.interval"},
		{"negative debounce", func(c *Config) { c.Refresh.Debounce = -1 }, "refresh.debounce"},
		{"zero timeout", func(c *Config) { c.Transport.Timeout = 0 }, "transport.timeout"},
		{"missing schema dir", func(c *Config) { c.Schemas.Dir = "/nonexistent/schemas" }, "schemas.dir"},
		{"device without id", func(c *Config) {
			c.Devices = []DeviceConfig{{Host: "10.0.0.1"}}
		}, "devices[0].id is required"},
		{"duplicate device", func(c *Config) {
			c.Devices = []DeviceConfig{{ID: "a"}, {ID: "a"}}
		}, "is duplicate"},
		{"topic characters", func(c *Config) {
			c.Devices = []DeviceConfig{{ID: "lamp/1"}}
		}, "MQTT topic characters"},
		{"bad host", func(c *Config) {
			c.Devices = []DeviceConfig{{ID: "lamp", Host: "lamp.local"}}
		}, "not an IP address"},
		{"negative device refresh", func(c *Config) {
			c.Devices = []DeviceConfig{{ID: "lamp", RefreshInterval: -5}}
		}, "refresh_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bridge.ID = ""
	cfg.Transport.Timeout = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"bridge.id", "transport.timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
