package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // "text" or "json"
	BLE       BLEConfig     `yaml:"ble"`
	Catalog   CatalogConfig `yaml:"catalog"`
	Storage   StorageConfig `yaml:"storage"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
}

// BLEConfig holds Bluetooth timing settings.
type BLEConfig struct {
	ScanTimeout      time.Duration `yaml:"scan_timeout"`      // pairing scan length
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"` // identification deadline
	FindTimeout      time.Duration `yaml:"find_timeout"`      // scan for a paired bulb before each command
	DisconnectDelay  time.Duration `yaml:"disconnect_delay"`  // grace period before disconnecting after a write
}

// CatalogConfig selects the bulb catalog.
type CatalogConfig struct {
	Profile        string `yaml:"profile"`         // "flic" or "mipow"
	ControlService string `yaml:"control_service"` // mipow only; 16-bit UUID
}

// StorageConfig holds the SQLite settings.
type StorageConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// MQTTConfig holds the broker and topic settings.
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ClientID        string `yaml:"client_id"` // generated when empty
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TLS             bool   `yaml:"tls"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	QoS             int    `yaml:"qos"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gomipow")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dbPath := filepath.Join(home, ".local", "share", "gomipow", "gomipow.db")

	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		BLE: BLEConfig{
			ScanTimeout:      5 * time.Second,
			DiscoveryTimeout: 5 * time.Second,
			FindTimeout:      5 * time.Second,
			DisconnectDelay:  3 * time.Second,
		},
		Catalog: CatalogConfig{
			Profile: "flic",
		},
		Storage: StorageConfig{
			Path:        dbPath,
			BusyTimeout: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            1883,
			TopicPrefix:     "gomipow",
			DiscoveryPrefix: "homeassistant",
			QoS:             1,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in storage.path is expanded to the user's home
// directory, and an empty mqtt.client_id gets a random one.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Storage.Path = expandTilde(cfg.Storage.Path)
	cfg.EnsureClientID()

	return cfg, nil
}

// EnsureClientID fills an empty MQTT client id with "gomipow-<uuid>".
func (c *Config) EnsureClientID() {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "gomipow-" + uuid.NewString()
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	for name, d := range map[string]time.Duration{
		"ble.scan_timeout":      c.BLE.ScanTimeout,
		"ble.discovery_timeout": c.BLE.DiscoveryTimeout,
		"ble.find_timeout":      c.BLE.FindTimeout,
		"ble.disconnect_delay":  c.BLE.DisconnectDelay,
		"storage.busy_timeout":  c.Storage.BusyTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}

	switch c.Catalog.Profile {
	case "flic":
		if c.Catalog.ControlService != "" {
			return fmt.Errorf("catalog.control_service only applies to the mipow profile")
		}
	case "mipow":
		if s := c.Catalog.ControlService; s != "" {
			if _, err := strconv.ParseUint(s, 16, 16); err != nil || len(s) != 4 {
				return fmt.Errorf("catalog.control_service must be a 16-bit UUID like \"ff02\", got %q", s)
			}
		}
	default:
		return fmt.Errorf("catalog.profile must be \"flic\" or \"mipow\", got %q", c.Catalog.Profile)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			return fmt.Errorf("mqtt.host must not be empty")
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt.port must be between 1 and 65535, got %d", c.MQTT.Port)
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1, or 2, got %d", c.MQTT.QoS)
		}
		for name, p := range map[string]string{
			"mqtt.topic_prefix":     c.MQTT.TopicPrefix,
			"mqtt.discovery_prefix": c.MQTT.DiscoveryPrefix,
		} {
			if p == "" || strings.ContainsAny(p, "+#") || strings.HasSuffix(p, "/") {
				return fmt.Errorf("%s must be a non-empty topic without wildcards or a trailing slash, got %q", name, p)
			}
		}
	}

	return nil
}

const defaultHeader = `# gomipow configuration
#
# Durations use Go syntax: 500ms, 5s, 1m.
# catalog.profile: flic (multi-family Flic bulbs) or mipow (single family).
# mqtt.client_id: leave empty to generate one on every start.

`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the written path, or "" if a file already
// existed.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshalling default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

// ParseLogLevel converts a log_level string to a slog.Level. Unknown values
// map to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
