package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the meshbridge daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Radio      RadioConfig      `yaml:"radio"`
	Database   DatabaseConfig   `yaml:"database"`
	Health     HealthConfig     `yaml:"health"`
	WriteGuard WriteGuardConfig `yaml:"write_guard"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// NodeConfig identifies this bridge instance.
type NodeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// RadioConfig describes how to reach the mesh-radio device.
type RadioConfig struct {
	// Mode selects the transport: "serial" or "tcp".
	Mode string `yaml:"mode"`

	// Serial contains serial device settings (used when Mode == "serial").
	Serial SerialConfig `yaml:"serial"`

	// TCP contains network device settings (used when Mode == "tcp").
	TCP TCPConfig `yaml:"tcp"`

	// Reconnect contains connection recovery settings shared by both transports.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// SerialConfig contains serial device settings.
type SerialConfig struct {
	// Path is the device path, e.g. "/dev/ttyUSB0".
	Path string `yaml:"path"`

	// BaudRate is the serial line speed. Default: 115200.
	BaudRate int `yaml:"baud_rate"`

	// PortLockWaitSeconds is how long to wait for another process to
	// release the device before giving up. Default: 30.
	PortLockWaitSeconds int `yaml:"port_lock_wait_seconds"`
}

// TCPConfig contains network device settings.
type TCPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SetupTimeoutSeconds bounds connection establishment. Default: 10.
	SetupTimeoutSeconds int `yaml:"setup_timeout_seconds"`

	// ReadTimeoutSeconds bounds individual socket reads. Default: 5.
	ReadTimeoutSeconds int `yaml:"read_timeout_seconds"`
}

// ReconnectConfig contains connection recovery settings.
type ReconnectConfig struct {
	// MaxRetries is the number of open attempts per connect call. Default: 5.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelaySeconds is the base delay between open attempts; the actual
	// delay grows linearly with the attempt number. Default: 5.
	RetryDelaySeconds int `yaml:"retry_delay_seconds"`

	// MaxRetryDelaySeconds caps the delay between attempts. Default: 60.
	MaxRetryDelaySeconds int `yaml:"max_retry_delay_seconds"`

	// AutoReconnect enables the background reconnect monitor. Default: true.
	AutoReconnect bool `yaml:"auto_reconnect"`

	// GracePeriodSeconds is how long after a successful connect that
	// disconnect notifications are ignored. Default: 5.
	GracePeriodSeconds int `yaml:"grace_period_seconds"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HealthConfig contains I/O health monitor settings.
type HealthConfig struct {
	// Enabled turns the periodic I/O health check on or off. Default: true.
	Enabled bool `yaml:"enabled"`

	// CooldownSeconds is the minimum interval between checks. Default: 900.
	CooldownSeconds int `yaml:"cooldown_seconds"`

	// FailureThreshold is the consecutive-failure count that triggers
	// escalation. Default: 3.
	FailureThreshold int `yaml:"failure_threshold"`

	// ScratchDir is a RAM-backed directory for filesystem probes.
	// Default: "/dev/shm".
	ScratchDir string `yaml:"scratch_dir"`
}

// WriteGuardConfig contains write-failure escalation settings.
type WriteGuardConfig struct {
	// WindowSeconds is the sliding window over which failures are counted.
	// Default: 300.
	WindowSeconds int `yaml:"window_seconds"`

	// ErrorThreshold is the failure count within the window that triggers
	// escalation. Default: 10.
	ErrorThreshold int `yaml:"error_threshold"`

	// MaxStoredFailures bounds the failure record ring. Default: 100.
	MaxStoredFailures int `yaml:"max_stored_failures"`
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
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
// For example: MESHBRIDGE_RADIO_SERIAL_PATH, MESHBRIDGE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:   "meshbridge-001",
			Name: "meshbridge",
		},
		Radio: RadioConfig{
			Mode: "serial",
			Serial: SerialConfig{
				Path:                "/dev/ttyUSB0",
				BaudRate:            115200,
				PortLockWaitSeconds: 30,
			},
			TCP: TCPConfig{
				Host:                "localhost",
				Port:                4403,
				SetupTimeoutSeconds: 10,
				ReadTimeoutSeconds:  5,
			},
			Reconnect: ReconnectConfig{
				MaxRetries:           5,
				RetryDelaySeconds:    5,
				MaxRetryDelaySeconds: 60,
				AutoReconnect:        true,
				GracePeriodSeconds:   5,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/meshbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Health: HealthConfig{
			Enabled:          true,
			CooldownSeconds:  900,
			FailureThreshold: 3,
			ScratchDir:       "/dev/shm",
		},
		WriteGuard: WriteGuardConfig{
			WindowSeconds:     300,
			ErrorThreshold:    10,
			MaxStoredFailures: 100,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meshbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
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
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MESHBRIDGE_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}

	// Radio
	if v := os.Getenv("MESHBRIDGE_RADIO_MODE"); v != "" {
		cfg.Radio.Mode = v
	}
	if v := os.Getenv("MESHBRIDGE_RADIO_SERIAL_PATH"); v != "" {
		cfg.Radio.Serial.Path = v
	}
	if v := os.Getenv("MESHBRIDGE_RADIO_TCP_HOST"); v != "" {
		cfg.Radio.TCP.Host = v
	}
	if v := os.Getenv("MESHBRIDGE_RADIO_TCP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Radio.TCP.Port = port
		}
	}

	// Database
	if v := os.Getenv("MESHBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MESHBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("MESHBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}

	switch c.Radio.Mode {
	case "serial":
		if c.Radio.Serial.Path == "" {
			errs = append(errs, "radio.serial.path is required in serial mode")
		}
	case "tcp":
		if c.Radio.TCP.Host == "" {
			errs = append(errs, "radio.tcp.host is required in tcp mode")
		}
		if c.Radio.TCP.Port < 1 || c.Radio.TCP.Port > 65535 {
			errs = append(errs, "radio.tcp.port must be between 1 and 65535")
		}
	default:
		errs = append(errs, fmt.Sprintf("radio.mode must be \"serial\" or \"tcp\", got %q", c.Radio.Mode))
	}

	if c.Radio.Reconnect.MaxRetries < 1 {
		errs = append(errs, "radio.reconnect.max_retries must be at least 1")
	}
	if c.Radio.Reconnect.MaxRetryDelaySeconds < c.Radio.Reconnect.RetryDelaySeconds {
		errs = append(errs, "radio.reconnect.max_retry_delay_seconds must not be below retry_delay_seconds")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Health.FailureThreshold < 1 {
		errs = append(errs, "health.failure_threshold must be at least 1")
	}
	if c.WriteGuard.ErrorThreshold < 1 {
		errs = append(errs, "write_guard.error_threshold must be at least 1")
	}
	if c.WriteGuard.MaxStoredFailures < 1 {
		errs = append(errs, "write_guard.max_stored_failures must be at least 1")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PortLockWait returns the serial port lock wait as a Duration.
func (c *Config) PortLockWait() time.Duration {
	return time.Duration(c.Radio.Serial.PortLockWaitSeconds) * time.Second
}

// RetryDelay returns the base retry delay as a Duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Radio.Reconnect.RetryDelaySeconds) * time.Second
}

// MaxRetryDelay returns the retry delay ceiling as a Duration.
func (c *Config) MaxRetryDelay() time.Duration {
	return time.Duration(c.Radio.Reconnect.MaxRetryDelaySeconds) * time.Second
}

// GracePeriod returns the post-connect grace period as a Duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Radio.Reconnect.GracePeriodSeconds) * time.Second
}

// HealthCooldown returns the health check cooldown as a Duration.
func (c *Config) HealthCooldown() time.Duration {
	return time.Duration(c.Health.CooldownSeconds) * time.Second
}

// WriteGuardWindow returns the write failure window as a Duration.
func (c *Config) WriteGuardWindow() time.Duration {
	return time.Duration(c.WriteGuard.WindowSeconds) * time.Second
}
