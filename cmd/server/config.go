// Package main provides the BuildGate server CLI.
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Registration RegistrationConfig `yaml:"registration"`
	Accounts     AccountsConfig     `yaml:"accounts"`
	Roles        RolesConfig        `yaml:"roles"`
	Federated    FederatedConfig    `yaml:"federated"`
	SMTP         SMTPConfig         `yaml:"smtp"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Verbose      bool               `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string    `yaml:"address"` // HTTP listen address (default: :8080)
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS settings for the server.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig contains token and lockout settings. The JWT secret and
// CSRF key come from the environment, not the file.
type AuthConfig struct {
	AccessTokenTTLMinutes  int `yaml:"access_token_ttl_minutes"`
	RefreshTokenTTLHours   int `yaml:"refresh_token_ttl_hours"`
	LockoutThreshold       int `yaml:"lockout_threshold"`
	LockoutDurationMinutes int `yaml:"lockout_duration_minutes"`
	RateLimitPerIP         int `yaml:"rate_limit_per_ip"`
	RateLimitPerAccount    int `yaml:"rate_limit_per_account"`
}

// RegistrationConfig controls the self-registration flow.
type RegistrationConfig struct {
	// WindowDays is how long an activation key stays valid.
	WindowDays int `yaml:"window_days"`
	// BaseURL is the externally visible URL used in activation links.
	BaseURL string `yaml:"base_url"`
}

// AccountsConfig names the built-in service accounts.
type AccountsConfig struct {
	APIUser       string `yaml:"api_user"`
	AdminUser     string `yaml:"admin_user"`
	StalenessDays int    `yaml:"staleness_days"`
}

// RolesConfig bounds the role query endpoint.
type RolesConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// FederatedConfig controls the identity provider integration.
type FederatedConfig struct {
	// Header carrying the persistent identifier set by the fronting proxy.
	Header string `yaml:"header"`
}

// SMTPConfig contains mail delivery settings. Leaving the host empty
// logs mail instead of sending it.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // default: :9090
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/buildgate.db"
	}
	if c.Auth.AccessTokenTTLMinutes == 0 {
		c.Auth.AccessTokenTTLMinutes = 15
	}
	if c.Auth.RefreshTokenTTLHours == 0 {
		c.Auth.RefreshTokenTTLHours = 7 * 24
	}
	if c.Auth.LockoutThreshold == 0 {
		c.Auth.LockoutThreshold = 5
	}
	if c.Auth.LockoutDurationMinutes == 0 {
		c.Auth.LockoutDurationMinutes = 30
	}
	if c.Registration.WindowDays == 0 {
		c.Registration.WindowDays = 7
	}
	if c.Registration.BaseURL == "" {
		c.Registration.BaseURL = "http://localhost:8080"
	}
	if c.Accounts.APIUser == "" {
		c.Accounts.APIUser = "buildsvc"
	}
	if c.Accounts.AdminUser == "" {
		c.Accounts.AdminUser = "admin"
	}
	if c.Accounts.StalenessDays == 0 {
		c.Accounts.StalenessDays = 365
	}
	if c.Roles.RPS == 0 {
		c.Roles.RPS = 10
	}
	if c.Roles.Burst == 0 {
		c.Roles.Burst = 20
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}
	if c.Registration.WindowDays < 1 {
		return fmt.Errorf("registration.window_days must be positive")
	}
	if c.Accounts.APIUser == c.Accounts.AdminUser {
		return fmt.Errorf("accounts.api_user and accounts.admin_user must differ")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required when smtp.host is set")
	}
	return nil
}
