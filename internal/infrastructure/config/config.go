package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Minerwatch Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Miners   []MinerConfig  `yaml:"miners"`
	Poller   PollerConfig   `yaml:"poller"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	TSDB     TSDBConfig     `yaml:"tsdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// MinerConfig describes one mining rig to poll.
type MinerConfig struct {
	// Name is a human-readable identifier used in topics, logs and storage.
	Name string `yaml:"name"`

	// Endpoint is the miner's API address in "host:port" form.
	// The port is mandatory; cgminer-family APIs default to 4028.
	Endpoint string `yaml:"endpoint"`

	// Dialect selects the API flavour: "cgminer", "bosminer" or "kawpow".
	// Empty means cgminer. Use "auto" to probe the miner at startup.
	Dialect string `yaml:"dialect"`

	// Labels are free-form key/value pairs attached to every metric
	// written for this miner (rack position, owner, pool, etc.).
	Labels map[string]string `yaml:"labels"`
}

// PollerConfig contains polling loop settings.
type PollerConfig struct {
	// CycleTime is the interval between poll cycles in seconds.
	CycleTime int `yaml:"cycletime"`

	// ConnectTimeout is the TCP connect timeout per miner in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig contains per-request retry settings.
// Zero values fall back to the miner package defaults.
type RetryConfig struct {
	// Deadline is the overall budget for one request in seconds.
	Deadline int `yaml:"deadline"`

	// ShortBase is the base backoff for transient failures in seconds.
	ShortBase int `yaml:"short_base"`

	// LongBase is the base backoff for connectivity failures in seconds.
	LongBase int `yaml:"long_base"`

	// MaxDelay caps a single backoff sleep in seconds.
	MaxDelay int `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays bounds how long poll history is kept. Older rows
	// are pruned in the background. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TSDBConfig contains VictoriaMetrics connection settings.
// An alternative metrics sink for sites running VictoriaMetrics
// instead of (or alongside) InfluxDB.
type TSDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MINERWATCH_SECTION_KEY
// For example: MINERWATCH_DATABASE_PATH, MINERWATCH_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Minerwatch",
			Timezone: "UTC",
		},
		Poller: PollerConfig{
			CycleTime:      30,
			ConnectTimeout: 10,
		},
		Database: DatabaseConfig{
			Path:          "./data/minerwatch.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "minerwatch-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MINERWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("MINERWATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Poller
	if v := os.Getenv("MINERWATCH_POLLER_CYCLETIME"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Poller.CycleTime = n
		}
	}

	// MQTT
	if v := os.Getenv("MINERWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MINERWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MINERWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("MINERWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// knownDialects lists the accepted miner.dialect values.
var knownDialects = map[string]bool{
	"":         true,
	"cgminer":  true,
	"bosminer": true,
	"kawpow":   true,
	"auto":     true,
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Miner validation
	seen := make(map[string]bool, len(c.Miners))
	for i, m := range c.Miners {
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("miners[%d].name is required", i))
		} else if seen[m.Name] {
			errs = append(errs, fmt.Sprintf("miners[%d].name %q is duplicated", i, m.Name))
		}
		seen[m.Name] = true

		if m.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("miners[%d].endpoint is required", i))
		}
		if !knownDialects[m.Dialect] {
			errs = append(errs, fmt.Sprintf("miners[%d].dialect %q is not one of cgminer, bosminer, kawpow, auto", i, m.Dialect))
		}
	}

	// Poller validation
	if c.Poller.CycleTime < 1 {
		errs = append(errs, "poller.cycletime must be at least 1 second")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set MINERWATCH_INFLUXDB_TOKEN)")
		}
	}

	// TSDB validation
	if c.TSDB.Enabled && c.TSDB.URL == "" {
		errs = append(errs, "tsdb.url is required when tsdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CycleInterval returns the poll cycle interval as a Duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Poller.CycleTime) * time.Second
}

// ConnectTimeout returns the per-miner connect timeout as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Poller.ConnectTimeout) * time.Second
}

// HistoryRetention returns the poll history retention window as a
// Duration. Zero means keep everything.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}
