package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Timerly daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Timerly   TimerlyConfig   `yaml:"timerly"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// TimerlyConfig controls device polling and command dispatch.
type TimerlyConfig struct {
	// PollInterval is the base polling interval per device (seconds).
	PollInterval int `yaml:"poll_interval"`

	// RequestTimeout bounds every GET /timer call (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// FailureThreshold is the number of consecutive failed polls tolerated
	// before a device is reported unavailable.
	FailureThreshold int `yaml:"failure_threshold"`

	// PostExpiryDelay is added to a timer's end time before the extra refresh (milliseconds).
	PostExpiryDelay int `yaml:"post_expiry_delay"`

	// CommandTimeout bounds every outbound POST to a device (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// DefaultTimerType is used until a timer type has been selected and persisted.
	DefaultTimerType string `yaml:"default_timer_type"`
}

// DiscoveryConfig contains the discovery source settings.
type DiscoveryConfig struct {
	MDNS   MDNSConfig         `yaml:"mdns"`
	MQTT   MQTTDiscovery      `yaml:"mqtt"`
	Mock   bool               `yaml:"mock"`
	Static []StaticDeviceConf `yaml:"static"`
}

// MDNSConfig contains mDNS browsing settings.
type MDNSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
	// Window is how long one browse runs before it is restarted (seconds).
	Window int `yaml:"window"`
}

// MQTTDiscovery enables device announcements over the MQTT bus.
type MQTTDiscovery struct {
	Enabled bool `yaml:"enabled"`
}

// StaticDeviceConf is a device announced from configuration instead of the network.
type StaticDeviceConf struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
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

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket hub settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings. Tokens are issued elsewhere;
// the daemon only verifies them on mutating endpoints.
type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A .env file next to the working directory, if one exists
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: TIMERLY_SECTION_KEY
// For example: TIMERLY_DATABASE_PATH, TIMERLY_FAILURE_THRESHOLD
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

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
// timerlyctl uses it when no config file is present.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Timerly: TimerlyConfig{
			PollInterval:     15,
			RequestTimeout:   5,
			FailureThreshold: 2,
			PostExpiryDelay:  1000,
			CommandTimeout:   5,
			DefaultTimerType: "DEFAULT",
		},
		Discovery: DiscoveryConfig{
			MDNS: MDNSConfig{
				Enabled: true,
				Service: "_tvtimer._tcp",
				Domain:  "local.",
				Window:  300,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/timerly.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "timerly-core",
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
			Port:    8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TIMERLY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Polling
	if v, ok := envInt("TIMERLY_POLL_INTERVAL"); ok {
		cfg.Timerly.PollInterval = v
	}
	if v, ok := envInt("TIMERLY_FAILURE_THRESHOLD"); ok {
		cfg.Timerly.FailureThreshold = v
	}
	if v, ok := envInt("TIMERLY_REQUEST_TIMEOUT"); ok {
		cfg.Timerly.RequestTimeout = v
	}

	// Discovery
	if v := os.Getenv("TIMERLY_DISCOVERY_MOCK"); v != "" {
		cfg.Discovery.Mock = v == "true" || v == "1"
	}

	// Database
	if v := os.Getenv("TIMERLY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TIMERLY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TIMERLY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TIMERLY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TIMERLY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt("TIMERLY_API_PORT"); ok {
		cfg.API.Port = v
	}

	// InfluxDB
	if v := os.Getenv("TIMERLY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("TIMERLY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Timerly.PollInterval <= 0 {
		errs = append(errs, "timerly.poll_interval must be positive")
	}
	if c.Timerly.RequestTimeout <= 0 {
		errs = append(errs, "timerly.request_timeout must be positive")
	}
	if c.Timerly.FailureThreshold < 1 {
		errs = append(errs, "timerly.failure_threshold must be at least 1")
	}
	if c.Timerly.PostExpiryDelay < 0 {
		errs = append(errs, "timerly.post_expiry_delay must not be negative")
	}
	if c.Timerly.CommandTimeout <= 0 {
		errs = append(errs, "timerly.command_timeout must be positive")
	}

	for i, d := range c.Discovery.Static {
		if d.Name == "" || d.Address == "" {
			errs = append(errs, fmt.Sprintf("discovery.static[%d] needs name and address", i))
		}
		if d.Port < 1 || d.Port > 65535 {
			errs = append(errs, fmt.Sprintf("discovery.static[%d].port must be between 1 and 65535", i))
		}
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

	const minJWTSecretLength = 32
	if c.Security.JWT.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when jwt is enabled (set TIMERLY_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the base device polling interval.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Timerly.PollInterval) * time.Second
}

// GetRequestTimeout returns the per-poll HTTP timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Timerly.RequestTimeout) * time.Second
}

// GetPostExpiryDelay returns the delay added to a timer end before the extra refresh.
func (c *Config) GetPostExpiryDelay() time.Duration {
	return time.Duration(c.Timerly.PostExpiryDelay) * time.Millisecond
}

// GetCommandTimeout returns the per-command HTTP timeout.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Timerly.CommandTimeout) * time.Second
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
