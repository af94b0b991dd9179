// Package config handles gateway configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Upstream  UpstreamConfig  `json:"upstream"`
	Session   SessionConfig   `json:"session"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the gateway's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                      // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket/CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max request body size; default 1MB
}

// AuthConfig defines credential verification settings.
type AuthConfig struct {
	Issuer            string   `json:"issuer"`                        // identity-provider issuer URL (JWKS discovery)
	SessionTokenTTL   Duration `json:"session_token_ttl,omitempty"`   // session-token lifetime (default 1h)
	SessionTokenBytes int      `json:"session_token_bytes,omitempty"` // random bytes per issued token (default 32)
}

// UpstreamConfig defines the realtime service the gateway relays to.
type UpstreamConfig struct {
	URL            string   `json:"url"`                       // upstream WebSocket URL
	APIKey         string   `json:"api_key,omitempty"`         // bearer credential for the upstream service
	ConnectTimeout Duration `json:"connect_timeout,omitempty"` // per-connection dial timeout (default 15s)
}

// SessionConfig defines per-connection behavior.
type SessionConfig struct {
	HeartbeatInterval Duration `json:"heartbeat_interval,omitempty"` // liveness sweep interval (default 30s)
	LifecycleInterval Duration `json:"lifecycle_interval,omitempty"` // max-age sweep interval (default 1m)
	MaxAge            Duration `json:"max_age,omitempty"`            // forced close after this age (default 30m)
	MaxMessageBytes   int64    `json:"max_message_bytes,omitempty"`  // max WebSocket message from client; default 64KB
	MaxPerPrincipal   int      `json:"max_per_principal,omitempty"`  // max concurrent connections per principal; default 10
}

// StorageConfig defines database settings for session tokens and audit events.
type StorageConfig struct {
	Driver         string   `json:"driver"`                    // "sqlite" (default) or "postgres"
	DSN            string   `json:"dsn"`                       // e.g. "passage.db" or ":memory:"
	AuditRetention Duration `json:"audit_retention,omitempty"` // audit event retention; default 30 days
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines HTTP rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.Issuer == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	return nil
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Auth.SessionTokenTTL.Duration == 0 {
		c.Auth.SessionTokenTTL.Duration = 1 * time.Hour
	}
	if c.Auth.SessionTokenBytes == 0 {
		c.Auth.SessionTokenBytes = 32
	}
	if c.Upstream.ConnectTimeout.Duration == 0 {
		c.Upstream.ConnectTimeout.Duration = 15 * time.Second
	}
	if c.Session.HeartbeatInterval.Duration == 0 {
		c.Session.HeartbeatInterval.Duration = 30 * time.Second
	}
	if c.Session.LifecycleInterval.Duration == 0 {
		c.Session.LifecycleInterval.Duration = 1 * time.Minute
	}
	if c.Session.MaxAge.Duration == 0 {
		c.Session.MaxAge.Duration = 30 * time.Minute
	}
	if c.Session.MaxMessageBytes == 0 {
		c.Session.MaxMessageBytes = 64 * 1024 // 64KB
	}
	if c.Session.MaxPerPrincipal == 0 {
		c.Session.MaxPerPrincipal = 10
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "passage.db"
	}
	if c.Storage.AuditRetention.Duration == 0 {
		c.Storage.AuditRetention.Duration = 30 * 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
}
