package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the garden core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site         SiteConfig         `yaml:"site"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// TelemetryConfig contains settings for the UDP telemetry server.
type TelemetryConfig struct {
	// BindAddress is the local address the UDP socket binds to.
	BindAddress string `yaml:"bind_address"`

	// Port is the well-known UDP port sensor nodes send to.
	// Default: 12345
	Port int `yaml:"port"`

	// PacketLogPath is the append-only diagnostic file every datagram is written to.
	// Empty disables the file.
	PacketLogPath string `yaml:"packet_log_path"`

	// Advertise publishes the endpoint over mDNS as _garden-telemetry._udp.
	Advertise bool `yaml:"advertise"`

	// InstanceName is the mDNS instance name used when Advertise is set.
	InstanceName string `yaml:"instance_name"`
}

// ProvisioningConfig contains settings for the firmware provisioning workflow.
type ProvisioningConfig struct {
	// FirmwarePath is the sketch directory passed to the toolchain.
	FirmwarePath string `yaml:"firmware_path"`

	// DefaultFQBN is the board profile used when FLASH_FQBN is unset.
	DefaultFQBN string `yaml:"default_fqbn"`

	// ToolchainCandidates are checked in order before falling back to PATH.
	ToolchainCandidates []string `yaml:"toolchain_candidates"`

	// SerialPrefixes are device base names considered sensor nodes.
	SerialPrefixes []string `yaml:"serial_prefixes"`

	// BaudRate for the registration line.
	BaudRate int `yaml:"baud_rate"`

	// RegistrationTimeout bounds the wait for the node's identity line.
	RegistrationTimeout time.Duration `yaml:"registration_timeout"`

	// PollInterval is the serial polling period during registration.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GARDEN_SECTION_KEY
// For example: GARDEN_DATABASE_PATH, GARDEN_TELEMETRY_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadOrDefault behaves like Load, but a missing file yields the defaults
// (still subject to environment overrides and validation).
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = finish(defaultConfig())
	return cfg, false, err
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "garden-001",
			Name: "Rice Holistic Garden",
		},
		Database: DatabaseConfig{
			Path:        "./data/garden.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "garden-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			BindAddress:   "0.0.0.0",
			Port:          12345,
			PacketLogPath: "/tmp/server.log",
			InstanceName:  "garden-core",
		},
		Provisioning: ProvisioningConfig{
			FirmwarePath: "firmware/plant_sensor",
			DefaultFQBN:  "arduino:samd:nano_33_iot",
			ToolchainCandidates: []string{
				"/usr/local/bin/arduino-cli",
				"/usr/bin/arduino-cli",
			},
			SerialPrefixes:      []string{"ttyACM", "ttyUSB"},
			BaudRate:            115200,
			RegistrationTimeout: 60 * time.Second,
			PollInterval:        100 * time.Millisecond,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GARDEN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GARDEN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GARDEN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GARDEN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GARDEN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GARDEN_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GARDEN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Telemetry
	if v := os.Getenv("GARDEN_TELEMETRY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Telemetry.Port = port
		}
	}
	if v, ok := os.LookupEnv("GARDEN_TELEMETRY_PACKET_LOG"); ok {
		cfg.Telemetry.PacketLogPath = v
	}

	// Provisioning
	if v := os.Getenv("GARDEN_PROVISIONING_FIRMWARE_PATH"); v != "" {
		cfg.Provisioning.FirmwarePath = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Telemetry.Port < 1 || c.Telemetry.Port > 65535 {
		errs = append(errs, "telemetry.port must be between 1 and 65535")
	}

	if c.Provisioning.FirmwarePath == "" {
		errs = append(errs, "provisioning.firmware_path is required")
	}
	if len(c.Provisioning.SerialPrefixes) == 0 {
		errs = append(errs, "provisioning.serial_prefixes must not be empty")
	}
	if c.Provisioning.BaudRate <= 0 {
		errs = append(errs, "provisioning.baud_rate must be positive")
	}
	if c.Provisioning.RegistrationTimeout <= 0 {
		errs = append(errs, "provisioning.registration_timeout must be positive")
	}
	if c.Provisioning.PollInterval <= 0 || c.Provisioning.PollInterval > c.Provisioning.RegistrationTimeout {
		errs = append(errs, "provisioning.poll_interval must be positive and below registration_timeout")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
