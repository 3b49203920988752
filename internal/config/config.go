// Package config handles loading and validating the storefront configuration
// from YAML files with environment variable substitution.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level storefront configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Identity  IdentityConfig  `yaml:"identity"`
	Storage   StorageConfig   `yaml:"storage"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Debug     DebugConfig     `yaml:"debug"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig defines the Echo HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns host:port for the listener.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// APIConfig defines how the storefront reaches the listings backend.
type APIConfig struct {
	BaseURL   string          `yaml:"base_url"`
	DocsURL   string          `yaml:"docs_url"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig defines client-side request rate limiting. A zero
// PerSecond disables the limiter.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// IdentityConfig defines the identity provider endpoints and credentials.
type IdentityConfig struct {
	APIKey          string       `yaml:"api_key"`
	IdentityURL     string       `yaml:"identity_url"`
	TokenURL        string       `yaml:"token_url"`
	CredentialsFile string       `yaml:"credentials_file"`
	Google          GoogleConfig `yaml:"google"`
}

// GoogleConfig defines the OAuth2 client used for federated sign-in. Google
// sign-in is disabled when ClientID is empty.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	Issuer       string `yaml:"issuer"`
}

// Enabled reports whether federated sign-in is configured.
func (g *GoogleConfig) Enabled() bool {
	return g.ClientID != ""
}

// StorageConfig defines the object storage service used for listing images.
// Uploads are disabled when URL is empty.
type StorageConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Bucket string `yaml:"bucket"`
}

// MonitorConfig defines the backend health check schedule.
type MonitorConfig struct {
	HealthInterval time.Duration `yaml:"health_interval"`
}

// TelemetryConfig defines OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// DebugConfig gates development-only features.
type DebugConfig struct {
	AllowRoleAssignment bool `yaml:"allow_role_assignment"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads and parses a YAML config file, performing environment variable
// substitution and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the YAML content.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyAPIDefaults(&cfg.API)
	applyIdentityDefaults(&cfg.Identity)
	applyStorageDefaults(&cfg.Storage)
	applyMonitorDefaults(&cfg.Monitor)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(s *ServerConfig) {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 3000
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
}

func applyAPIDefaults(a *APIConfig) {
	if a.BaseURL == "" {
		a.BaseURL = "http://localhost:8080/api"
	}
	a.BaseURL = strings.TrimRight(a.BaseURL, "/")
	if a.Timeout == 0 {
		a.Timeout = 10 * time.Second
	}
	if a.RateLimit.PerSecond > 0 && a.RateLimit.Burst == 0 {
		a.RateLimit.Burst = 1
	}
}

func applyIdentityDefaults(i *IdentityConfig) {
	if i.IdentityURL == "" {
		i.IdentityURL = "https://identitytoolkit.googleapis.com"
	}
	if i.TokenURL == "" {
		i.TokenURL = "https://securetoken.googleapis.com"
	}
	if i.Google.Issuer == "" {
		i.Google.Issuer = "https://accounts.google.com"
	}
}

func applyStorageDefaults(s *StorageConfig) {
	if s.Bucket == "" {
		s.Bucket = "cars"
	}
}

func applyMonitorDefaults(m *MonitorConfig) {
	if m.HealthInterval == 0 {
		m.HealthInterval = 30 * time.Second
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.ServiceName == "" {
		t.ServiceName = "automarket"
	}
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if err := absoluteURL("api.base_url", cfg.API.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if cfg.API.DocsURL != "" {
		if err := absoluteURL("api.docs_url", cfg.API.DocsURL); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.API.RateLimit.PerSecond < 0 {
		errs = append(errs, fmt.Errorf("api.rate_limit.per_second must not be negative"))
	}

	if cfg.Identity.APIKey == "" {
		errs = append(errs, fmt.Errorf("identity.api_key is required"))
	}
	if cfg.Identity.Google.Enabled() && cfg.Identity.Google.RedirectURL == "" {
		errs = append(
			errs,
			fmt.Errorf("identity.google.redirect_url is required when client_id is set"),
		)
	}

	if cfg.Storage.URL != "" {
		if err := absoluteURL("storage.url", cfg.Storage.URL); err != nil {
			errs = append(errs, err)
		}
		if cfg.Storage.APIKey == "" {
			errs = append(errs, fmt.Errorf("storage.api_key is required when storage.url is set"))
		}
	}

	if cfg.Monitor.HealthInterval < time.Second {
		errs = append(errs, fmt.Errorf("monitor.health_interval must be at least 1s"))
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(
			errs,
			fmt.Errorf("logging.format must be one of: text, json (got %q)", cfg.Logging.Format),
		)
	}

	return errors.Join(errs...)
}

func absoluteURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL (got %q)", field, raw)
	}
	return nil
}
