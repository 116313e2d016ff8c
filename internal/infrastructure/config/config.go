package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoint names. A bridge always has exactly two sides.
const (
	EndpointA = "a"
	EndpointB = "b"
)

// QoSPreserve is the rule QoS setting that keeps the QoS of the source message.
const QoSPreserve = "preserve"

// Config is the root configuration structure for Span Bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Rules     []RuleConfig    `yaml:"rules"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig contains bridge identity and forwarding policy settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance.
	// Used in MQTT client IDs, the availability topic, and loop fingerprints.
	// If empty, a random ID is generated at startup.
	ID string `yaml:"id"`

	// QueueDepth is the bounded depth of each destination publish queue.
	// Default: 128.
	QueueDepth int `yaml:"queue_depth"`

	// PublishWait is the bounded backpressure wait applied when a destination
	// queue is full (seconds). After the wait expires, QoS 0 messages evict
	// the oldest queued request; QoS 1+ messages keep blocking.
	// Default: 2 seconds.
	PublishWait int `yaml:"publish_wait"`

	// DrainGrace is the maximum time to spend draining publish queues during
	// graceful shutdown (seconds). Default: 10 seconds.
	DrainGrace int `yaml:"drain_grace"`

	// StartupTimeout is how long to wait for both endpoints to connect before
	// entering Running anyway with sessions reconnecting in background
	// (seconds). Default: 15 seconds.
	StartupTimeout int `yaml:"startup_timeout"`

	// FingerprintTTL is how long forwarded-message fingerprints are retained
	// for loop detection (seconds). Default: 60 seconds.
	FingerprintTTL int `yaml:"fingerprint_ttl"`
}

// EndpointsConfig holds the two broker endpoints bridged by this instance.
type EndpointsConfig struct {
	A EndpointConfig `yaml:"a"`
	B EndpointConfig `yaml:"b"`
}

// EndpointConfig contains connection settings for one MQTT broker endpoint.
type EndpointConfig struct {
	Host         string          `yaml:"host"`
	Port         int             `yaml:"port"`
	TLS          TLSConfig       `yaml:"tls"`
	ClientID     string          `yaml:"client_id"`
	Auth         AuthConfig      `yaml:"auth"`
	KeepAlive    int             `yaml:"keep_alive"`
	CleanSession bool            `yaml:"clean_session"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`
}

// TLSConfig contains TLS settings for a broker connection.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CAFile is an optional PEM file with CA certificates to trust.
	// If empty, the system pool is used.
	CAFile string `yaml:"ca_file"`

	// CertFile/KeyFile are an optional client certificate pair.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// InsecureSkipVerify disables server certificate verification.
	// Only for development against self-signed brokers.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// AuthConfig contains MQTT authentication credentials.
// Credentials are opaque to the bridge; they are passed straight to the client.
type AuthConfig struct {
	Username string `yaml:"username"`

	// Password for broker authentication.
	// WARNING: Never log this value. Use String() for safe logging.
	Password string `yaml:"password"`
}

// ReconnectConfig contains reconnect timing for one endpoint.
type ReconnectConfig struct {
	// InitialDelay is the retry interval for the initial connect (seconds).
	// The initial connect retries at this fixed interval until the broker
	// is reachable. Default: 1 second.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the backoff applied after a lost connection (seconds).
	// Reconnect attempts start at 1 second and double up to this cap.
	// Default: 60 seconds.
	MaxDelay int `yaml:"max_delay"`
}

// String returns a string representation with the password masked.
// Use this for logging to prevent credential exposure.
func (e EndpointConfig) String() string {
	password := ""
	if e.Auth.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("EndpointConfig{Host:%q, Port:%d, TLS:%t, ClientID:%q, Username:%q, Password:%s}",
		e.Host, e.Port, e.TLS.Enabled, e.ClientID, e.Auth.Username, password)
}

// MarshalJSON implements json.Marshaler to redact the password in JSON output.
// This prevents accidental password exposure in logs or API responses.
func (e EndpointConfig) MarshalJSON() ([]byte, error) {
	type redacted EndpointConfig
	safe := redacted(e)
	if safe.Auth.Password != "" {
		safe.Auth.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// RuleConfig describes one topic forwarding rule.
// Rules are evaluated in order; all matching rules fire (fan-out).
type RuleConfig struct {
	// Source is the endpoint the rule listens on: "a" or "b".
	Source string `yaml:"source"`

	// Pattern is an MQTT topic filter with standard wildcard semantics:
	// "+" matches a single level, "#" matches the remaining levels (terminal only).
	Pattern string `yaml:"pattern"`

	// Destination is the endpoint the rule publishes to: "a" or "b".
	// Must differ from Source (a bridge must not map an endpoint to itself).
	Destination string `yaml:"destination"`

	// Template is the destination topic. Captured wildcard segments are
	// referenced by index: {0}, {1}, ... in filter order.
	Template string `yaml:"template"`

	// QoS is the forwarded QoS: "preserve" (default), "0", "1", or "2".
	QoS string `yaml:"qos"`

	// Retain controls the retained flag on forwarded messages:
	// "preserve" (default) or "never".
	Retain string `yaml:"retain"`
}

// InfluxDBConfig contains settings for the optional metrics sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains settings for the optional HTTP status endpoint.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	// Timeouts are HTTP server timeouts (seconds).
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
// Environment variables follow the pattern: SPANBRIDGE_SECTION_KEY
// For example: SPANBRIDGE_ENDPOINT_A_HOST, SPANBRIDGE_ENDPOINT_B_PASSWORD
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

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			QueueDepth:     128,
			PublishWait:    2,
			DrainGrace:     10,
			StartupTimeout: 15,
			FingerprintTTL: 60,
		},
		Endpoints: EndpointsConfig{
			A: defaultEndpoint("span-bridge-a"),
			B: defaultEndpoint("span-bridge-b"),
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8181,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// defaultEndpoint returns an EndpointConfig with sensible defaults.
func defaultEndpoint(clientID string) EndpointConfig {
	return EndpointConfig{
		Host:         "localhost",
		Port:         1883,
		ClientID:     clientID,
		KeepAlive:    60,
		CleanSession: true,
		Reconnect: ReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SPANBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Endpoint A
	if v := os.Getenv("SPANBRIDGE_ENDPOINT_A_HOST"); v != "" {
		cfg.Endpoints.A.Host = v
	}
	if v := os.Getenv("SPANBRIDGE_ENDPOINT_A_USERNAME"); v != "" {
		cfg.Endpoints.A.Auth.Username = v
	}
	if v := os.Getenv("SPANBRIDGE_ENDPOINT_A_PASSWORD"); v != "" {
		cfg.Endpoints.A.Auth.Password = v
	}

	// Endpoint B
	if v := os.Getenv("SPANBRIDGE_ENDPOINT_B_HOST"); v != "" {
		cfg.Endpoints.B.Host = v
	}
	if v := os.Getenv("SPANBRIDGE_ENDPOINT_B_USERNAME"); v != "" {
		cfg.Endpoints.B.Auth.Username = v
	}
	if v := os.Getenv("SPANBRIDGE_ENDPOINT_B_PASSWORD"); v != "" {
		cfg.Endpoints.B.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SPANBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// The bridge must not start with an invalid rule set; rule mistakes are
// caught here, not at forwarding time.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if c.Bridge.QueueDepth < 1 {
		errs = append(errs, "bridge.queue_depth must be at least 1")
	}
	if c.Bridge.PublishWait < 0 {
		errs = append(errs, "bridge.publish_wait must not be negative")
	}
	if c.Bridge.DrainGrace < 0 {
		errs = append(errs, "bridge.drain_grace must not be negative")
	}

	// Endpoint validation
	errs = append(errs, validateEndpoint(EndpointA, c.Endpoints.A)...)
	errs = append(errs, validateEndpoint(EndpointB, c.Endpoints.B)...)

	// Rule validation
	if len(c.Rules) == 0 {
		errs = append(errs, "rules: at least one forwarding rule is required")
	}
	for i, r := range c.Rules {
		errs = append(errs, validateRule(i, r)...)
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateEndpoint checks one endpoint's connection settings.
func validateEndpoint(name string, e EndpointConfig) []string {
	var errs []string

	if e.Host == "" {
		errs = append(errs, fmt.Sprintf("endpoints.%s.host is required", name))
	}
	if e.Port < 1 || e.Port > 65535 {
		errs = append(errs, fmt.Sprintf("endpoints.%s.port must be between 1 and 65535", name))
	}
	if e.ClientID == "" {
		errs = append(errs, fmt.Sprintf("endpoints.%s.client_id is required", name))
	}
	if e.Reconnect.InitialDelay < 1 {
		errs = append(errs, fmt.Sprintf("endpoints.%s.reconnect.initial_delay must be at least 1", name))
	}
	if e.Reconnect.MaxDelay < e.Reconnect.InitialDelay {
		errs = append(errs, fmt.Sprintf("endpoints.%s.reconnect.max_delay must be >= initial_delay", name))
	}
	if e.TLS.Enabled && (e.TLS.CertFile == "") != (e.TLS.KeyFile == "") {
		errs = append(errs, fmt.Sprintf("endpoints.%s.tls: cert_file and key_file must be set together", name))
	}

	return errs
}

// validateRule checks one forwarding rule's structure.
// Pattern/template semantics are validated further when the rule set is
// compiled; this catches the configuration-shape mistakes.
func validateRule(i int, r RuleConfig) []string {
	var errs []string

	if r.Source != EndpointA && r.Source != EndpointB {
		errs = append(errs, fmt.Sprintf("rules[%d].source must be %q or %q", i, EndpointA, EndpointB))
	}
	if r.Destination != EndpointA && r.Destination != EndpointB {
		errs = append(errs, fmt.Sprintf("rules[%d].destination must be %q or %q", i, EndpointA, EndpointB))
	}
	if r.Source != "" && r.Source == r.Destination {
		errs = append(errs, fmt.Sprintf("rules[%d]: destination must differ from source (a bridge must not map an endpoint to itself)", i))
	}
	if r.Pattern == "" {
		errs = append(errs, fmt.Sprintf("rules[%d].pattern is required", i))
	}
	if r.Template == "" {
		errs = append(errs, fmt.Sprintf("rules[%d].template is required", i))
	}
	switch r.QoS {
	case "", QoSPreserve, "0", "1", "2":
	default:
		errs = append(errs, fmt.Sprintf("rules[%d].qos must be \"preserve\", \"0\", \"1\", or \"2\"", i))
	}
	switch r.Retain {
	case "", "preserve", "never":
	default:
		errs = append(errs, fmt.Sprintf("rules[%d].retain must be \"preserve\" or \"never\"", i))
	}

	return errs
}

// Endpoint returns the configuration for the named endpoint ("a" or "b").
func (c *Config) Endpoint(name string) EndpointConfig {
	if name == EndpointB {
		return c.Endpoints.B
	}
	return c.Endpoints.A
}

// GetPublishWait returns the backpressure wait as a Duration.
func (c *Config) GetPublishWait() time.Duration {
	return time.Duration(c.Bridge.PublishWait) * time.Second
}

// GetDrainGrace returns the shutdown drain grace period as a Duration.
func (c *Config) GetDrainGrace() time.Duration {
	return time.Duration(c.Bridge.DrainGrace) * time.Second
}

// GetStartupTimeout returns the startup connect timeout as a Duration.
func (c *Config) GetStartupTimeout() time.Duration {
	return time.Duration(c.Bridge.StartupTimeout) * time.Second
}

// GetFingerprintTTL returns the loop fingerprint retention as a Duration.
func (c *Config) GetFingerprintTTL() time.Duration {
	return time.Duration(c.Bridge.FingerprintTTL) * time.Second
}
