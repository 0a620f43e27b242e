package gatekeeper

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/classifier"
	"github.com/nazarick/gatekeeper/service/engine"
)

// Config is a serialisable representation of the gatekeeper configuration.
// It can be populated from YAML or JSON; the zero value inherits package
// defaults for every nested section.
type Config struct {
	Gateway    GatewayConfig     `json:"gateway" yaml:"gateway"`
	Store      StoreConfig       `json:"store" yaml:"store"`
	Timeouts   TimeoutConfig     `json:"timeouts" yaml:"timeouts"`
	Classifier classifier.Config `json:"classifier" yaml:"classifier"`
	Voice      VoiceConfig       `json:"voice" yaml:"voice"`
}

// GatewayConfig configures the protocol listener.
type GatewayConfig struct {
	// Addr is the host:port to bind; loopback by default, matching the
	// original deployment where agents and operator fronts share a machine.
	Addr string `json:"addr" yaml:"addr"`
}

// StoreConfig selects the persistence backend. An empty BaseURL keeps
// everything in memory (tests, dry runs); any afs-compatible URL makes
// rules, requests and decisions durable.
type StoreConfig struct {
	BaseURL string `json:"baseURL" yaml:"baseURL"`
}

// TimeoutConfig holds the pending windows per risk level as duration
// strings. Higher risk gets a shorter window; there is no infinite setting.
type TimeoutConfig struct {
	Low      string `json:"low" yaml:"low"`
	Medium   string `json:"medium" yaml:"medium"`
	High     string `json:"high" yaml:"high"`
	Critical string `json:"critical" yaml:"critical"`
}

// VoiceConfig wires the optional voice notification sink. Empty endpoint
// disables it.
type VoiceConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	SecretURL string `json:"secretURL" yaml:"secretURL"`
	SecretKey string `json:"secretKey" yaml:"secretKey"`
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{Addr: "127.0.0.1:8765"},
		Timeouts: TimeoutConfig{
			Low:      "5m",
			Medium:   "2m",
			High:     "1m",
			Critical: "30s",
		},
		Classifier: classifier.DefaultConfig(),
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(location string) (*Config, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", location, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", location, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr must not be empty")
	}
	if _, err := c.engineConfig(); err != nil {
		return err
	}
	return nil
}

// engineConfig converts the duration strings into the engine configuration.
func (c *Config) engineConfig() (engine.Config, error) {
	defaults := engine.DefaultConfig()
	entries := []struct {
		level permission.RiskLevel
		value string
	}{
		{permission.RiskLow, c.Timeouts.Low},
		{permission.RiskMedium, c.Timeouts.Medium},
		{permission.RiskHigh, c.Timeouts.High},
		{permission.RiskCritical, c.Timeouts.Critical},
	}
	for _, entry := range entries {
		if entry.value == "" {
			continue
		}
		window, err := time.ParseDuration(entry.value)
		if err != nil {
			return defaults, fmt.Errorf("invalid %v timeout %q: %w", entry.level, entry.value, err)
		}
		defaults.Timeouts[entry.level] = window
	}
	if err := defaults.Validate(); err != nil {
		return defaults, err
	}
	return defaults, nil
}
