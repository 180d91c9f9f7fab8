package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for launchdeck.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Supervisor   SupervisorConfig    `yaml:"supervisor"`
	Output       OutputConfig        `yaml:"output"`
	Poller       PollerConfig        `yaml:"poller"`
	ProcessTypes []ProcessTypeConfig `yaml:"process_types"`
	Database     DatabaseConfig      `yaml:"database"`
	MQTT         MQTTConfig          `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig      `yaml:"influxdb"`
	Logging      LoggingConfig       `yaml:"logging"`
}

// SupervisorConfig contains instance lifecycle settings.
type SupervisorConfig struct {
	// MaxInstancesPerType caps the number of live instances of one process type.
	MaxInstancesPerType int `yaml:"max_instances_per_type"`

	// GracefulTimeout is how long an interactive stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`

	// BulkGracefulTimeout is the SIGTERM grace used when stopping everything at once.
	BulkGracefulTimeout time.Duration `yaml:"bulk_graceful_timeout"`

	// ExitWaitTimeout bounds the wait for exit confirmation after SIGKILL.
	ExitWaitTimeout time.Duration `yaml:"exit_wait_timeout"`

	// ReclaimCommand is run after a kill-all to release accelerator memory.
	// Empty disables the hook.
	ReclaimCommand []string `yaml:"reclaim_command"`
}

// OutputConfig contains output capture settings.
type OutputConfig struct {
	BufferCapacity     int           `yaml:"buffer_capacity"`
	DisplayCap         int           `yaml:"display_cap"`
	CompactionInterval time.Duration `yaml:"compaction_interval"`
	LogEnabled         bool          `yaml:"log_enabled"`
	LogDir             string        `yaml:"log_dir"`
}

// PollerConfig contains status polling settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ProcessTypeConfig describes one launchable tool.
type ProcessTypeConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"work_dir"`
	Env     []string `yaml:"env"`

	// Autostart is the number of instances started when the service comes up.
	Autostart int `yaml:"autostart"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// PublishLines mirrors every captured output line onto the broker.
	// Off by default because chatty tools produce a lot of traffic.
	PublishLines bool `yaml:"publish_lines"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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
// Environment variables follow the pattern: LAUNCHDECK_SECTION_KEY
// For example: LAUNCHDECK_DATABASE_PATH, LAUNCHDECK_OUTPUT_LOG_DIR
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML, applying defaults, environment
// overrides and validation exactly as Load does.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// A file that lists no process types keeps the built-in catalog.
	if len(cfg.ProcessTypes) == 0 {
		cfg.ProcessTypes = DefaultProcessTypes()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration, used when no file is supplied.
func Default() *Config {
	cfg := defaultConfig()
	cfg.ProcessTypes = DefaultProcessTypes()
	return cfg
}

// DefaultProcessTypes returns the tools launchdeck knows out of the box.
func DefaultProcessTypes() []ProcessTypeConfig {
	return []ProcessTypeConfig{
		{Name: "Ollama", Command: "ollama", Args: []string{"serve"}},
		{Name: "ComfyUI", Command: "python3", Args: []string{"main.py", "--listen"}, WorkDir: "~/ComfyUI"},
		{Name: "OpenWebUI", Command: "open-webui", Args: []string{"serve"}},
		{Name: "Automatic1111", Command: "./webui.sh", Args: []string{"--api"}, WorkDir: "~/stable-diffusion-webui"},
	}
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Supervisor: SupervisorConfig{
			MaxInstancesPerType: 5,
			GracefulTimeout:     10 * time.Second,
			BulkGracefulTimeout: 5 * time.Second,
			ExitWaitTimeout:     5 * time.Second,
		},
		Output: OutputConfig{
			BufferCapacity:     10000,
			DisplayCap:         1000,
			CompactionInterval: 500 * time.Millisecond,
			LogEnabled:         true,
			LogDir:             "./data/logs",
		},
		Poller: PollerConfig{
			Interval: 2 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/launchdeck.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "launchdeck",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LAUNCHDECK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("LAUNCHDECK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Output
	if v := os.Getenv("LAUNCHDECK_OUTPUT_LOG_DIR"); v != "" {
		cfg.Output.LogDir = v
	}
	if v := os.Getenv("LAUNCHDECK_OUTPUT_LOG_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Output.LogEnabled = b
		}
	}

	// Supervisor
	if v := os.Getenv("LAUNCHDECK_SUPERVISOR_MAX_INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Supervisor.MaxInstancesPerType = n
		}
	}

	// MQTT
	if v := os.Getenv("LAUNCHDECK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LAUNCHDECK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LAUNCHDECK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("LAUNCHDECK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Every problem is reported, not just the first one.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Supervisor validation
	if c.Supervisor.MaxInstancesPerType < 1 {
		errs = append(errs, "supervisor.max_instances_per_type must be at least 1")
	}
	if c.Supervisor.GracefulTimeout <= 0 {
		errs = append(errs, "supervisor.graceful_timeout must be positive")
	}
	if c.Supervisor.BulkGracefulTimeout <= 0 {
		errs = append(errs, "supervisor.bulk_graceful_timeout must be positive")
	}
	if c.Supervisor.ExitWaitTimeout <= 0 {
		errs = append(errs, "supervisor.exit_wait_timeout must be positive")
	}

	// Output validation
	if c.Output.DisplayCap < 2 {
		errs = append(errs, "output.display_cap must be at least 2")
	}
	if c.Output.BufferCapacity < c.Output.DisplayCap {
		errs = append(errs, "output.buffer_capacity must not be smaller than output.display_cap")
	}
	if c.Output.LogEnabled && c.Output.LogDir == "" {
		errs = append(errs, "output.log_dir is required when output.log_enabled is set")
	}

	// Poller validation
	if c.Poller.Interval <= 0 {
		errs = append(errs, "poller.interval must be positive")
	}

	// Process type validation
	seen := make(map[string]bool, len(c.ProcessTypes))
	for i, pt := range c.ProcessTypes {
		switch {
		case pt.Name == "":
			errs = append(errs, fmt.Sprintf("process_types[%d].name is required", i))
		case seen[pt.Name]:
			errs = append(errs, fmt.Sprintf("process_types[%d].name %q is duplicated", i, pt.Name))
		}
		seen[pt.Name] = true
		if pt.Command == "" {
			errs = append(errs, fmt.Sprintf("process_types[%d].command is required", i))
		}
		if pt.Autostart < 0 || pt.Autostart > c.Supervisor.MaxInstancesPerType {
			errs = append(errs, fmt.Sprintf("process_types[%d].autostart must be between 0 and %d", i, c.Supervisor.MaxInstancesPerType))
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && (c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ProcessType returns the process type with the given name.
func (c *Config) ProcessType(name string) (ProcessTypeConfig, bool) {
	for _, pt := range c.ProcessTypes {
		if pt.Name == name {
			return pt, true
		}
	}
	return ProcessTypeConfig{}, false
}
