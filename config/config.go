// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mobibase/mobibase/domain/password"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Account  AccountConfig  `yaml:"account"`
	Password PasswordConfig `yaml:"password"`
	Files    FilesConfig    `yaml:"files"`
	Mail     MailConfig     `yaml:"mail"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	PublicURL    string        `yaml:"public_url"`
	MasterKey    string        `yaml:"master_key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// AccountConfig configures user account behavior.
type AccountConfig struct {
	AllowClientClassCreation        bool          `yaml:"allow_client_class_creation"`
	PrivateUsers                    bool          `yaml:"private_users"`
	VerifyUserEmails                bool          `yaml:"verify_user_emails"`
	PreventLoginWithUnverifiedEmail bool          `yaml:"prevent_login_with_unverified_email"`
	RevokeSessionOnPasswordReset    *bool         `yaml:"revoke_session_on_password_reset"`
	SessionTTL                      time.Duration `yaml:"session_ttl"`
}

// PasswordConfig configures the password policy. All fields are optional;
// an empty section disables the policy.
type PasswordConfig struct {
	Pattern           string `yaml:"pattern"`
	ValidationMessage string `yaml:"validation_message"`
	ForbidUsername    bool   `yaml:"forbid_username"`
	MaxHistory        int    `yaml:"max_history"`
}

// FilesConfig configures file reference expansion.
type FilesConfig struct {
	BaseURL string `yaml:"base_url"`
}

// MailConfig configures SMTP delivery of verification emails. An empty
// host logs emails instead of sending them.
type MailConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	From        string        `yaml:"from"`
	FromName    string        `yaml:"from_name"`
	UseTLS      bool          `yaml:"use_tls"`
	UseImplicit bool          `yaml:"use_implicit_tls"`
	Timeout     time.Duration `yaml:"timeout"`
	AppName     string        `yaml:"app_name"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PasswordPolicy converts the password section into a domain policy.
// Load has already validated the pattern, so compilation cannot fail here.
func (c *Config) PasswordPolicy() password.Policy {
	policy := password.Policy{
		ValidationMessage: c.Password.ValidationMessage,
		ForbidUsername:    c.Password.ForbidUsername,
		MaxHistory:        c.Password.MaxHistory,
	}
	if c.Password.Pattern != "" {
		policy.Pattern = regexp.MustCompile(c.Password.Pattern)
	}
	return policy
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	MOBIBASE_SERVER_HOST       - Server host (default: 0.0.0.0)
//	MOBIBASE_SERVER_PORT       - Server port (default: 1337)
//	MOBIBASE_PUBLIC_URL        - Public base URL for Location headers
//	MOBIBASE_MASTER_KEY        - Master key (required)
//	MOBIBASE_DATABASE_DRIVER   - Database driver: sqlite or memory
//	MOBIBASE_DATABASE_DSN      - Database path (default: mobibase.db)
//	MOBIBASE_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	MOBIBASE_LOG_FORMAT        - Log format: json or console (default: json)
//	MOBIBASE_METRICS_ENABLED   - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if os.Getenv("MOBIBASE_MASTER_KEY") != "" {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set MOBIBASE_MASTER_KEY")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("MOBIBASE_MASTER_KEY") != ""
}

// applyEnvOverrides applies MOBIBASE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("MOBIBASE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("MOBIBASE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MOBIBASE_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("MOBIBASE_MASTER_KEY"); v != "" {
		cfg.Server.MasterKey = v
	}
	if v := os.Getenv("MOBIBASE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("MOBIBASE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("MOBIBASE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("MOBIBASE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Account configuration
	if v := os.Getenv("MOBIBASE_ALLOW_CLIENT_CLASS_CREATION"); v != "" {
		cfg.Account.AllowClientClassCreation = parseBool(v)
	}
	if v := os.Getenv("MOBIBASE_PRIVATE_USERS"); v != "" {
		cfg.Account.PrivateUsers = parseBool(v)
	}
	if v := os.Getenv("MOBIBASE_VERIFY_USER_EMAILS"); v != "" {
		cfg.Account.VerifyUserEmails = parseBool(v)
	}
	if v := os.Getenv("MOBIBASE_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Account.SessionTTL = d
		}
	}

	// Logging configuration
	if v := os.Getenv("MOBIBASE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MOBIBASE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("MOBIBASE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("MOBIBASE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 1337
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "mobibase.db"
	}

	if cfg.Account.RevokeSessionOnPasswordReset == nil {
		revoke := true
		cfg.Account.RevokeSessionOnPasswordReset = &revoke
	}
	if cfg.Account.SessionTTL == 0 {
		cfg.Account.SessionTTL = 365 * 24 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.MasterKey == "" {
		return fmt.Errorf("server.master_key is required")
	}

	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Password.MaxHistory < 0 || cfg.Password.MaxHistory > 20 {
		return fmt.Errorf("password.max_history must be between 0 and 20")
	}
	if cfg.Password.Pattern != "" {
		if _, err := regexp.Compile(cfg.Password.Pattern); err != nil {
			return fmt.Errorf("password.pattern: %w", err)
		}
	}

	return nil
}
