package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the LwM2M gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway"`
	API          APIConfig          `yaml:"api"`
	CoAP         CoAPConfig         `yaml:"coap"`
	Notification NotificationConfig `yaml:"notification"`
	Client       ClientConfig       `yaml:"client"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
}

// GatewayConfig identifies this gateway instance.
type GatewayConfig struct {
	Name string `yaml:"name"`
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

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// CoAPConfig contains the LwM2M/CoAP listener settings.
type CoAPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// LifetimeCheckInterval is how often registrations are checked for
	// lifetime expiry, in seconds.
	LifetimeCheckInterval int `yaml:"lifetime_check_interval"`
}

// NotificationConfig controls push delivery and the async response queue.
type NotificationConfig struct {
	// PushTimeoutMS bounds a single callback POST.
	PushTimeoutMS int `yaml:"push_timeout_ms"`

	// PushAttempts is the number of push attempts before falling back to the queue.
	PushAttempts int `yaml:"push_attempts"`

	// QueueLimit caps the async response queue. 0 means unbounded.
	QueueLimit int `yaml:"queue_limit"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker guarding callback pushes.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// OpenTimeout is how long the breaker stays open, in seconds.
	OpenTimeout int `yaml:"open_timeout"`
}

// ClientConfig holds defaults for the emulated device session.
type ClientConfig struct {
	HandshakeTimeoutMS int `yaml:"handshake_timeout_ms"`
	DrainDelayMS       int `yaml:"drain_delay_ms"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// WebSocketConfig contains settings for the /events stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is a name (debug, info, warn, error) or a numeric level 0-5.
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. When disabled the API is open.
type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`

	// Algorithm is one of HS256, HS384, HS512.
	Algorithm string `yaml:"algorithm"`

	// ExpirationTime is the token lifetime in seconds.
	ExpirationTime int          `yaml:"expiration_time"`
	Users          []UserConfig `yaml:"users"`
}

// UserConfig is a statically configured API user.
type UserConfig struct {
	Name string `yaml:"name"`

	// Secret is either an argon2id PHC string or a plain secret.
	Secret string `yaml:"secret"`

	// Scope lists "METHOD PATH" regular expression pairs the user may access.
	Scope []string `yaml:"scope"`
}

// DiscoveryConfig contains service discovery settings.
type DiscoveryConfig struct {
	SSDP SSDPConfig `yaml:"ssdp"`
}

// SSDPConfig configures the SSDP responder.
type SSDPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Group     string `yaml:"group"`
	Interface string `yaml:"interface"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LWM2MGW_SECTION_KEY
// For example: LWM2MGW_DATABASE_PATH, LWM2MGW_API_PORT
func Load(path string) (*Config, error) {
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Name: "lwm2m-gateway",
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
		CoAP: CoAPConfig{
			Host:                  "",
			Port:                  5683,
			LifetimeCheckInterval: 1,
		},
		Notification: NotificationConfig{
			PushTimeoutMS: 5000,
			PushAttempts:  1,
			QueueLimit:    0,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				OpenTimeout:      30,
			},
		},
		Client: ClientConfig{
			HandshakeTimeoutMS: 10000,
			DrainDelayMS:       100,
		},
		Database: DatabaseConfig{
			Path:        "./data/lwm2m-gateway.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lwm2m-gateway",
			},
			QoS:         1,
			TopicPrefix: "lwm2m",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "lwm2m",
			BatchSize:     100,
			FlushInterval: 10,
		},
		WebSocket: WebSocketConfig{
			Path:           "/events",
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
				Algorithm:      "HS256",
				ExpirationTime: 3600,
			},
		},
		Discovery: DiscoveryConfig{
			SSDP: SSDPConfig{
				Group: "[ff05::c]:1900",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LWM2MGW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := envInt("LWM2MGW_API_PORT"); v > 0 {
		cfg.API.Port = v
	}
	if v := envInt("LWM2MGW_COAP_PORT"); v > 0 {
		cfg.CoAP.Port = v
	}

	if v := os.Getenv("LWM2MGW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("LWM2MGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LWM2MGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LWM2MGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("LWM2MGW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("LWM2MGW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LWM2MGW_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// envInt returns the integer value of an environment variable, or 0 when
// unset or unparsable.
func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

// Validate checks the configuration for errors and security issues.
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	if c.CoAP.Port < 1 || c.CoAP.Port > 65535 {
		errs = append(errs, "coap.port must be between 1 and 65535")
	}

	if c.Notification.PushTimeoutMS <= 0 {
		errs = append(errs, "notification.push_timeout_ms must be positive")
	}
	if c.Notification.PushAttempts < 1 {
		errs = append(errs, "notification.push_attempts must be at least 1")
	}
	if c.Notification.QueueLimit < 0 {
		errs = append(errs, "notification.queue_limit must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled {
		if _, err := url.ParseRequestURI(c.InfluxDB.URL); err != nil {
			errs = append(errs, "influxdb.url must be a valid URL")
		}
	}

	errs = append(errs, c.validateJWT()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateJWT() []string {
	jwt := c.Security.JWT
	if !jwt.Enabled {
		return nil
	}

	var errs []string
	const minJWTSecretLength = 32
	if jwt.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set LWM2MGW_JWT_SECRET environment variable)")
	} else if len(jwt.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	switch jwt.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Sprintf("security.jwt.algorithm %q is not supported", jwt.Algorithm))
	}

	if jwt.ExpirationTime <= 0 {
		errs = append(errs, "security.jwt.expiration_time must be positive")
	}

	for i, u := range jwt.Users {
		if u.Name == "" || u.Secret == "" {
			errs = append(errs, fmt.Sprintf("security.jwt.users[%d] requires name and secret", i))
		}
	}

	return errs
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

// PushTimeout returns the per-attempt callback push timeout.
func (c *Config) PushTimeout() time.Duration {
	return time.Duration(c.Notification.PushTimeoutMS) * time.Millisecond
}

// HandshakeTimeout returns the client registration handshake timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Client.HandshakeTimeoutMS) * time.Millisecond
}

// DrainDelay returns how long a stopped client keeps its transport open.
func (c *Config) DrainDelay() time.Duration {
	return time.Duration(c.Client.DrainDelayMS) * time.Millisecond
}
