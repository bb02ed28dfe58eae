package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config represents the server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Federation FederationConfig `yaml:"federation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	// Name identifies this instance; it names the .sock and .lock files.
	Name        string `yaml:"name"`
	Socket      string `yaml:"socket"`
	Bind        string `yaml:"bind"`
	Hostname    string `yaml:"hostname"`
	Ephemeral   bool   `yaml:"ephemeral"`
	TLSCert     string `yaml:"tls_cert"`
	TLSKey      string `yaml:"tls_key"`
	MaxSessions int    `yaml:"max_sessions"`
	Scrollback  int    `yaml:"scrollback"`
}

type AuthConfig struct {
	Token          string   `yaml:"token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

type FederationConfig struct {
	ConfigPath string   `yaml:"config_path"`
	Blocklist  []string `yaml:"blocklist"`
	Allowlist  []string `yaml:"allowlist"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

var instanceNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// Default returns the configuration used when no file or flag overrides it.
func Default() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		Server: ServerConfig{
			Name:        "default",
			Bind:        "127.0.0.1:7171",
			Hostname:    hostname,
			MaxSessions: 64,
			Scrollback:  10000,
		},
		Auth: AuthConfig{
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides secrets from the environment.
func (c *Config) ApplyEnv() {
	if token := os.Getenv("PERCH_TOKEN"); token != "" {
		c.Auth.Token = token
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !instanceNameRe.MatchString(c.Server.Name) {
		return fmt.Errorf("server.name %q is invalid: 1-100 chars of [A-Za-z0-9._-]", c.Server.Name)
	}
	if c.Server.MaxSessions < 1 {
		return fmt.Errorf("server.max_sessions must be at least 1")
	}
	if c.Server.Scrollback < 0 {
		return fmt.Errorf("server.scrollback must not be negative")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if c.Auth.RateLimitRPS < 0 {
		return fmt.Errorf("auth.rate_limit_rps must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
