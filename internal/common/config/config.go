// Package config provides configuration management for Devchain.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Devchain.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Project  ProjectConfig  `mapstructure:"project"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Session  SessionConfig  `mapstructure:"session"`
	Worktree WorktreeConfig `mapstructure:"worktree"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// ProjectConfig identifies the main project this coordinator serves.
// Worktree sandboxes get their own generated project ids.
type ProjectConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// DatabaseConfig holds database connection configuration.
// When Driver is "sqlite" (the default) only Path is used; the postgres
// fields are for the pgx-backed option.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	// Enabled controls whether the container runtime is available.
	// When true and the daemon is reachable, sessions and worktree sandboxes
	// may run in containers; otherwise the process runtime is used.
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
}

// SessionConfig holds agent session runtime configuration.
type SessionConfig struct {
	// DefaultCommand is the command launched for an agent session when the
	// agent profile does not specify one.
	DefaultCommand string `mapstructure:"defaultCommand"`

	// DefaultImage is the container image used for container-runtime sessions.
	DefaultImage string `mapstructure:"defaultImage"`

	// TermCols and TermRows size the PTY for process-runtime sessions.
	TermCols int `mapstructure:"termCols"`
	TermRows int `mapstructure:"termRows"`

	// GatedProviders lists provider profiles whose launches are refused
	// until their precondition is met. Callers branch on the code, not
	// the message.
	GatedProviders []GatedProvider `mapstructure:"gatedProviders"`
}

// GatedProvider gates session launches for one provider profile.
type GatedProvider struct {
	ProfileID string `mapstructure:"profileId"`
	Name      string `mapstructure:"name"`
	Code      string `mapstructure:"code"`
	Message   string `mapstructure:"message"`
}

// WorktreeConfig holds git worktree sandbox configuration.
type WorktreeConfig struct {
	BasePath      string `mapstructure:"basePath"`      // Base directory for worktrees (default: ~/.devchain/worktrees)
	DefaultBranch string `mapstructure:"defaultBranch"` // Default base branch (default: main)
	MaxPerProject int    `mapstructure:"maxPerProject"` // Max concurrent worktrees per project
	TemplatePath  string `mapstructure:"templatePath"`  // templates.yaml catalog (optional)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("DEVCHAIN_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Project defaults
	v.SetDefault("project.id", "main")
	v.SetDefault("project.name", "Main")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./devchain.db")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "devchain")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "devchain")
	v.SetDefault("database.sslMode", "disable")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "devchain")
	v.SetDefault("nats.maxReconnects", 10)

	// Docker defaults
	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.defaultNetwork", "devchain-network")

	// Session defaults
	v.SetDefault("session.defaultCommand", "")
	v.SetDefault("session.defaultImage", "devchain/agent:latest")
	v.SetDefault("session.termCols", 120)
	v.SetDefault("session.termRows", 32)

	// Worktree defaults
	v.SetDefault("worktree.basePath", "~/.devchain/worktrees")
	v.SetDefault("worktree.defaultBranch", "main")
	v.SetDefault("worktree.maxPerProject", 16)
	v.SetDefault("worktree.templatePath", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix DEVCHAIN_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/devchain/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DEVCHAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("database.path", "DEVCHAIN_DB_PATH")
	_ = v.BindEnv("database.driver", "DEVCHAIN_DB_DRIVER")
	_ = v.BindEnv("worktree.basePath", "DEVCHAIN_WORKTREE_BASE_PATH")
	_ = v.BindEnv("session.defaultImage", "DEVCHAIN_SESSION_DEFAULT_IMAGE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/devchain/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Project.ID == "" {
		errs = append(errs, "project.id must not be empty")
	}

	if cfg.Worktree.MaxPerProject <= 0 {
		errs = append(errs, "worktree.maxPerProject must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
