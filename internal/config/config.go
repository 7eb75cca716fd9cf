// Package config loads, overrides, and validates the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	OIDC    OIDCConfig    `yaml:"oidc"`
	Claims  ClaimsConfig  `yaml:"claims"`
	Storage StorageConfig `yaml:"storage"`
	TLS     TLSConfig     `yaml:"tls"`
	Log     LogConfig     `yaml:"log"`
}

// ListenConfig defines where the daemon listens for requests
type ListenConfig struct {
	HTTP   string `yaml:"http"`   // HTTP server address (e.g., "127.0.0.1:8952")
	Socket string `yaml:"socket"` // Unix socket path for CLI control requests
}

// OIDCConfig defines how the implicit-flow login link is built
type OIDCConfig struct {
	Issuer           string            `yaml:"issuer"`            // Issuer URL, used for discovery when authorize_url is empty
	AuthorizeURL     string            `yaml:"authorize_url"`     // Authorization endpoint; skips discovery when set
	ClientID         string            `yaml:"client_id"`         // OAuth client ID
	RedirectURI      string            `yaml:"redirect_uri"`      // Where the provider sends the browser back
	Scopes           []string          `yaml:"scopes"`            // Requested scopes
	AuthParams       map[string]string `yaml:"auth_params"`       // Extra authorization request parameters
	DiscoveryTimeout int               `yaml:"discovery_timeout"` // Discovery timeout in seconds
}

// ClaimsConfig names the access-token claims that carry the identity
type ClaimsConfig struct {
	Subject string `yaml:"subject"` // Claim path for the subject (default "sub")
	Email   string `yaml:"email"`   // Claim path for the email (default "email")
}

// StorageConfig selects where the session is persisted
type StorageConfig struct {
	Driver string      `yaml:"driver"` // bbolt, sqlite, redis, memory
	Path   string      `yaml:"path"`   // Database file for bbolt and sqlite
	Bucket string      `yaml:"bucket"` // BBolt bucket name
	Key    string      `yaml:"key"`    // Key holding the session record
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig defines the Redis connection for the redis driver
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// TLSConfig defines TLS settings for the HTTP server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Storage drivers.
const (
	DriverBBolt  = "bbolt"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Drivers lists the accepted storage.driver values.
var Drivers = []string{DriverBBolt, DriverSQLite, DriverRedis, DriverMemory}

// envOverrides holds the IMPLICIT_SESSION_* environment variables.
// Unset variables leave the file value untouched.
type envOverrides struct {
	Issuer        string   `env:"IMPLICIT_SESSION_OIDC_ISSUER"`
	AuthorizeURL  string   `env:"IMPLICIT_SESSION_OIDC_AUTHORIZE_URL"`
	ClientID      string   `env:"IMPLICIT_SESSION_OIDC_CLIENT_ID"`
	RedirectURI   string   `env:"IMPLICIT_SESSION_OIDC_REDIRECT_URI"`
	Scopes        []string `env:"IMPLICIT_SESSION_OIDC_SCOPES" envSeparator:","`
	StorageDriver string   `env:"IMPLICIT_SESSION_STORAGE_DRIVER"`
	StoragePath   string   `env:"IMPLICIT_SESSION_STORAGE_PATH"`
	RedisAddr     string   `env:"IMPLICIT_SESSION_REDIS_ADDR"`
	RedisPassword string   `env:"IMPLICIT_SESSION_REDIS_PASSWORD"`
	LogLevel      string   `env:"IMPLICIT_SESSION_LOG_LEVEL"`
	LogFormat     string   `env:"IMPLICIT_SESSION_LOG_FORMAT"`
	ListenHTTP    string   `env:"IMPLICIT_SESSION_LISTEN_HTTP"`
	ListenSocket  string   `env:"IMPLICIT_SESSION_LISTEN_SOCKET"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			HTTP:   "127.0.0.1:8952",
			Socket: filepath.Join(os.TempDir(), "implicit-session.sock"),
		},
		OIDC: OIDCConfig{
			RedirectURI:      "http://127.0.0.1:8952/redirect",
			Scopes:           []string{"openid", "email"},
			DiscoveryTimeout: 30,
		},
		Claims: ClaimsConfig{
			Subject: "sub",
			Email:   "email",
		},
		Storage: StorageConfig{
			Driver: DriverBBolt,
			Path:   "implicit-session.db",
			Key:    "user",
		},
		TLS: TLSConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	var e envOverrides
	if err := env.Parse(&e); err != nil {
		return err
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	// OIDC overrides
	set(&c.OIDC.Issuer, e.Issuer)
	set(&c.OIDC.AuthorizeURL, e.AuthorizeURL)
	set(&c.OIDC.ClientID, e.ClientID)
	set(&c.OIDC.RedirectURI, e.RedirectURI)
	if len(e.Scopes) > 0 {
		c.OIDC.Scopes = e.Scopes
	}

	// Storage overrides
	set(&c.Storage.Driver, e.StorageDriver)
	set(&c.Storage.Path, e.StoragePath)
	set(&c.Storage.Redis.Addr, e.RedisAddr)
	set(&c.Storage.Redis.Password, e.RedisPassword)

	// Log overrides
	set(&c.Log.Level, e.LogLevel)
	set(&c.Log.Format, e.LogFormat)

	// Listen overrides
	set(&c.Listen.HTTP, e.ListenHTTP)
	set(&c.Listen.Socket, e.ListenSocket)

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Validate checks the configuration and reports every problem found, not
// just the first.
func (c *Config) Validate() error {
	return errors.Join(
		c.validateOIDC(),
		c.validateClaims(),
		c.validateStorage(),
		c.validateTLS(),
		c.validateLog(),
		c.validateListen(),
	)
}

func (c *Config) validateOIDC() error {
	var errs []error
	o := c.OIDC

	switch {
	case o.Issuer == "" && o.AuthorizeURL == "":
		errs = append(errs, errors.New("oidc.issuer or oidc.authorize_url is required"))
	case o.Issuer != "" && !isHTTPURL(o.Issuer):
		errs = append(errs, errors.New("oidc.issuer must be a valid HTTP(S) URL"))
	case o.AuthorizeURL != "" && !isHTTPURL(o.AuthorizeURL):
		errs = append(errs, errors.New("oidc.authorize_url must be a valid HTTP(S) URL"))
	}

	if o.ClientID == "" {
		errs = append(errs, errors.New("oidc.client_id is required"))
	}
	if o.RedirectURI == "" {
		errs = append(errs, errors.New("oidc.redirect_uri is required"))
	} else if !isHTTPURL(o.RedirectURI) {
		errs = append(errs, errors.New("oidc.redirect_uri must be a valid HTTP(S) URL"))
	}
	if len(o.Scopes) == 0 {
		errs = append(errs, errors.New("oidc.scopes must not be empty"))
	}
	if o.DiscoveryTimeout <= 0 {
		errs = append(errs, errors.New("oidc.discovery_timeout must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) validateClaims() error {
	if c.Claims.Subject == "" || c.Claims.Email == "" {
		return errors.New("claims.subject and claims.email are required")
	}
	return nil
}

func (c *Config) validateStorage() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverBBolt, DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver))
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be one of: %s", strings.Join(Drivers, ", ")))
	}
	if c.Storage.Key == "" {
		errs = append(errs, errors.New("storage.key is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateTLS() error {
	if !c.TLS.Enabled {
		return nil
	}
	if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
		return errors.New("tls.cert_file and tls.key_file are required when TLS is enabled")
	}

	var errs []error
	if _, err := os.Stat(c.TLS.CertFile); err != nil {
		errs = append(errs, fmt.Errorf("tls.cert_file not found: %w", err))
	}
	if _, err := os.Stat(c.TLS.KeyFile); err != nil {
		errs = append(errs, fmt.Errorf("tls.key_file not found: %w", err))
	}
	return errors.Join(errs...)
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

func (c *Config) validateLog() error {
	var errs []error
	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %s", strings.Join(logLevels, ", ")))
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %s", strings.Join(logFormats, ", ")))
	}
	return errors.Join(errs...)
}

func (c *Config) validateListen() error {
	var errs []error
	if c.Listen.HTTP == "" {
		errs = append(errs, errors.New("listen.http is required"))
	}
	if c.Listen.Socket == "" {
		errs = append(errs, errors.New("listen.socket is required"))
	}
	return errors.Join(errs...)
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Redact returns a deep-enough copy of the config with secrets redacted for safe logging
func (c *Config) Redact() *Config {
	redacted := *c
	// Deep copy reference fields to avoid sharing them with the original
	if c.OIDC.Scopes != nil {
		redacted.OIDC.Scopes = make([]string, len(c.OIDC.Scopes))
		copy(redacted.OIDC.Scopes, c.OIDC.Scopes)
	}
	if c.OIDC.AuthParams != nil {
		redacted.OIDC.AuthParams = make(map[string]string, len(c.OIDC.AuthParams))
		for k, v := range c.OIDC.AuthParams {
			redacted.OIDC.AuthParams[k] = v
		}
	}
	if redacted.Storage.Redis.Password != "" {
		redacted.Storage.Redis.Password = "[REDACTED]"
	}
	return &redacted
}
