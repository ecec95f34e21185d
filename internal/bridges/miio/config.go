package miio

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the miio bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Schemas   SchemaConfig    `yaml:"schemas"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Transport TransportConfig `yaml:"transport"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in health reports.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`

	// NetworkInterval is how often each device's miIO.info is re-read to
	// refresh Wi-Fi signal data (seconds). Default: 600 seconds.
	NetworkInterval int `yaml:"network_interval"`
}

// SchemaConfig locates device schema documents.
type SchemaConfig struct {
	// Dir holds <model>.json documents. Built-in schemas are used for
	// models it does not cover. Optional.
	Dir string `yaml:"dir"`

	// Watch reloads documents from Dir when they change. Default: true.
	Watch bool `yaml:"watch"`
}

// RefreshConfig controls polling.
type RefreshConfig struct {
	// Interval is the default polling period (seconds). Default: 30.
	Interval int `yaml:"interval"`

	// Debounce is the window in which repeated refresh requests collapse
	// into one (seconds). Default: 5.
	Debounce int `yaml:"debounce"`
}

// TransportConfig controls the RPC tunnel.
type TransportConfig struct {
	// Timeout is how long a request waits for its reply (seconds). Default: 5.
	Timeout int `yaml:"timeout"`
}

// DeviceConfig defines one miio device.
type DeviceConfig struct {
	// ID is the Gray Logic device identifier and the RPC tunnel topic segment.
	ID string `yaml:"id"`

	// Host is the device's IP address, used for liveness pings.
	Host string `yaml:"host"`

	// Model is the device model. When empty it is learned from miIO.info.
	Model string `yaml:"model"`

	// RefreshInterval overrides refresh.interval for this device (seconds).
	RefreshInterval int `yaml:"refresh_interval"`
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables: MIIO_BRIDGE_ID, MIIO_SCHEMA_DIR
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:              "miio-bridge-01",
			HealthInterval:  30,
			NetworkInterval: 600,
		},
		Schemas: SchemaConfig{
			Watch: true,
		},
		Refresh: RefreshConfig{
			Interval: 30,
			Debounce: 5,
		},
		Transport: TransportConfig{
			Timeout: 5,
		},
		Devices: []DeviceConfig{},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIIO_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("MIIO_SCHEMA_DIR"); v != "" {
		cfg.Schemas.Dir = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.NetworkInterval < 0 {
		errs = append(errs, "bridge.network_interval cannot be negative")
	}
	if c.Refresh.Interval < 1 {
		errs = append(errs, "refresh.interval must be at least 1 second")
	}
	if c.Refresh.Debounce < 0 {
		errs = append(errs, "refresh.debounce cannot be negative")
	}
	if c.Transport.Timeout < 1 {
		errs = append(errs, "transport.timeout must be at least 1 second")
	}
	if c.Schemas.Dir != "" {
		if info, err := os.Stat(c.Schemas.Dir); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Sprintf("schemas.dir %q is not a directory", c.Schemas.Dir))
		}
	}
	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateDevices() []string {
	var errs []string
	seen := make(map[string]bool)

	for i, dev := range c.Devices {
		if dev.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
			continue
		}
		if strings.ContainsAny(dev.ID, "/+#") {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q must not contain MQTT topic characters", i, dev.ID))
		}
		if seen[dev.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicate", i, dev.ID))
		}
		seen[dev.ID] = true

		if dev.Host != "" && net.ParseIP(dev.Host) == nil {
			errs = append(errs, fmt.Sprintf("devices[%d].host %q is not an IP address", i, dev.Host))
		}
		if dev.RefreshInterval < 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].refresh_interval cannot be negative", i))
		}
	}
	return errs
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetNetworkInterval returns the network info refresh interval.
func (c *Config) GetNetworkInterval() time.Duration {
	return time.Duration(c.Bridge.NetworkInterval) * time.Second
}

// GetDebounce returns the refresh debounce window.
func (c *Config) GetDebounce() time.Duration {
	return time.Duration(c.Refresh.Debounce) * time.Second
}

// GetTransportTimeout returns the RPC reply timeout.
func (c *Config) GetTransportTimeout() time.Duration {
	return time.Duration(c.Transport.Timeout) * time.Second
}

// RefreshInterval returns the polling period for dev.
func (c *Config) RefreshInterval(dev DeviceConfig) time.Duration {
	if dev.RefreshInterval > 0 {
		return time.Duration(dev.RefreshInterval) * time.Second
	}
	return time.Duration(c.Refresh.Interval) * time.Second
}
