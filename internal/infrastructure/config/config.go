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

// Realtime backends supported for the device-facing channel.
const (
	RealtimeBackendMQTT  = "mqtt"
	RealtimeBackendRedis = "redis"
)

// Config is the root configuration structure for the dispenser core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Database     DatabaseConfig     `yaml:"database"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Redis        RedisConfig        `yaml:"redis"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
}

// ServiceConfig identifies this installation.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
//
// The same database file holds the durable device configuration records,
// the claim registry read path and the local key-value slots used by the
// wizard progress store and the validation cache.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RealtimeConfig selects the low-latency store consumed by device firmware.
type RealtimeConfig struct {
	// Backend is "mqtt" (retained topics) or "redis" (JSON values).
	Backend string `yaml:"backend"`

	// ReadTimeoutMS bounds a single real-time read (milliseconds).
	// For MQTT this is how long to wait for a retained message.
	ReadTimeoutMS int `yaml:"read_timeout_ms"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// RedisConfig contains Redis connection settings for the redis realtime backend.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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

// InfluxDBConfig contains InfluxDB connection settings for the sync journal.
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

// JWTConfig contains session token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// ProvisioningConfig tunes the provisioning wizard and its collaborators.
// Millisecond fields keep the YAML readable for sub-second values.
type ProvisioningConfig struct {
	// DebounceMS collapses device-id validation requests (default 500).
	DebounceMS int `yaml:"debounce_ms"`

	// ValidationCacheTTLSeconds is how long an "available" result is reused (default 300).
	ValidationCacheTTLSeconds int `yaml:"validation_cache_ttl_seconds"`

	// RetryAttempts is the total number of attempts per store call (default 3).
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryBaseDelayMS is multiplied by the attempt number between attempts (default 1000).
	RetryBaseDelayMS int `yaml:"retry_base_delay_ms"`

	// ConnectivityGraceMS is the wait before reading the device connectivity flag (default 2000).
	ConnectivityGraceMS int `yaml:"connectivity_grace_ms"`

	// ProgressTTLHours discards saved wizard progress older than this (default 168 = 7 days).
	ProgressTTLHours int `yaml:"progress_ttl_hours"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. .env file in the working directory, if present (never overrides the real environment)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: DISPENSER_SECTION_KEY
// For example: DISPENSER_DATABASE_PATH, DISPENSER_REALTIME_BACKEND
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// Used by tooling that can run without a config file (the provision CLI).
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadDotEnv loads ./.env into the process environment. A missing file is not an error.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "dispenser-001",
			Name: "Dispenser Core",
		},
		Database: DatabaseConfig{
			Path:        "./data/dispenser.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Realtime: RealtimeConfig{
			Backend:       RealtimeBackendMQTT,
			ReadTimeoutMS: 1500,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "dispenser-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Redis: RedisConfig{
			URL:       "redis://localhost:6379/0",
			KeyPrefix: "dispenser",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
		Provisioning: ProvisioningConfig{
			DebounceMS:                500,
			ValidationCacheTTLSeconds: 300,
			RetryAttempts:             3,
			RetryBaseDelayMS:          1000,
			ConnectivityGraceMS:       2000,
			ProgressTTLHours:          168,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DISPENSER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("DISPENSER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Realtime
	if v := os.Getenv("DISPENSER_REALTIME_BACKEND"); v != "" {
		cfg.Realtime.Backend = strings.ToLower(v)
	}

	// MQTT
	if v := os.Getenv("DISPENSER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DISPENSER_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("DISPENSER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DISPENSER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Redis
	if v := os.Getenv("DISPENSER_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}

	// API
	if v := os.Getenv("DISPENSER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("DISPENSER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("DISPENSER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Realtime.Backend {
	case RealtimeBackendMQTT:
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	case RealtimeBackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, "redis.url is required when realtime.backend is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("realtime.backend must be %q or %q", RealtimeBackendMQTT, RealtimeBackendRedis))
	}
	if c.Realtime.ReadTimeoutMS <= 0 {
		errs = append(errs, "realtime.read_timeout_ms must be positive")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Session tokens gate access to device configuration; a weak secret
	// would let anyone write Wi-Fi credentials to a dispenser.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set DISPENSER_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	p := c.Provisioning
	if p.RetryAttempts < 1 {
		errs = append(errs, "provisioning.retry_attempts must be at least 1")
	}
	if p.DebounceMS < 0 || p.RetryBaseDelayMS < 0 || p.ConnectivityGraceMS < 0 {
		errs = append(errs, "provisioning delays must not be negative")
	}
	if p.ValidationCacheTTLSeconds <= 0 {
		errs = append(errs, "provisioning.validation_cache_ttl_seconds must be positive")
	}
	if p.ProgressTTLHours <= 0 {
		errs = append(errs, "provisioning.progress_ttl_hours must be positive")
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

// ReadTimeout returns the real-time read timeout as a Duration.
func (r RealtimeConfig) ReadTimeout() time.Duration {
	return time.Duration(r.ReadTimeoutMS) * time.Millisecond
}

// Debounce returns the device-id validation debounce window.
func (p ProvisioningConfig) Debounce() time.Duration {
	return time.Duration(p.DebounceMS) * time.Millisecond
}

// ValidationCacheTTL returns how long "available" results are cached.
func (p ProvisioningConfig) ValidationCacheTTL() time.Duration {
	return time.Duration(p.ValidationCacheTTLSeconds) * time.Second
}

// RetryBaseDelay returns the base delay of the linear retry schedule.
func (p ProvisioningConfig) RetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelayMS) * time.Millisecond
}

// ConnectivityGrace returns the wait before the Wi-Fi connectivity probe.
func (p ProvisioningConfig) ConnectivityGrace() time.Duration {
	return time.Duration(p.ConnectivityGraceMS) * time.Millisecond
}

// ProgressTTL returns the maximum age of restorable wizard progress.
func (p ProvisioningConfig) ProgressTTL() time.Duration {
	return time.Duration(p.ProgressTTLHours) * time.Hour
}
