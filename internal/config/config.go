// Package config provides Viper-based configuration loading for the arena server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this backend instance in logs.
	Name string `mapstructure:"name"`
	// ShutdownTimeout bounds how long services get to stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// CacheTTL is how long point lookups stay cached.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// CacheSize caps the number of cached lookup keys.
	CacheSize int `mapstructure:"cache_size"`
	// HealthInterval is how often the pool is pinged in the background.
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// ListenerConfig holds the framed TCP listener settings.
type ListenerConfig struct {
	// Host is the bind address for the RPC listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the RPC listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-frame read deadline. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-frame write deadline. Zero disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxFrameSize is the largest payload accepted from a client.
	MaxFrameSize int `mapstructure:"max_frame_size"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (l ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// SessionConfig holds session registry timings.
type SessionConfig struct {
	// IdleTimeout is the inactivity after which a session is reaped.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// PlayTimeInterval is the play-time accrual period.
	PlayTimeInterval time.Duration `mapstructure:"play_time_interval"`
}

// MatchmakingConfig holds matchmaking engine settings.
type MatchmakingConfig struct {
	// RulesFile is an optional YAML file of per-mode thresholds.
	// Empty means built-in defaults.
	RulesFile string `mapstructure:"rules_file"`
	// PollInterval is the general and casual engine cadence.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// RankedPollInterval is the ranked engine cadence.
	RankedPollInterval time.Duration `mapstructure:"ranked_poll_interval"`
	// BaseWait seeds the estimated wait shown to queued players.
	BaseWait time.Duration `mapstructure:"base_wait"`
	// RankedMode is the mode name ranked entries are grouped under.
	RankedMode string `mapstructure:"ranked_mode"`
	// Servers maps a region to the game-server endpoints it can allocate.
	Servers map[string][]string `mapstructure:"servers"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Listener    ListenerConfig    `mapstructure:"listener"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Session     SessionConfig     `mapstructure:"session"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateServer(c.Server),
		validateDatabase(c.Database),
		validateListener(c.Listener),
		validateLogging(c.Logging),
		validateSession(c.Session),
		validateMatchmaking(c.Matchmaking),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if d.CacheTTL <= 0 {
		errs = append(errs, "database.cache_ttl must be positive")
	}
	if d.CacheSize < 1 {
		errs = append(errs, fmt.Sprintf("database.cache_size must be >= 1, got %d", d.CacheSize))
	}
	if d.HealthInterval <= 0 {
		errs = append(errs, "database.health_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateListener(l ListenerConfig) error {
	var errs []string
	if l.Port < 0 || l.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listener.port must be 0-65535, got %d", l.Port))
	}
	if l.ReadTimeout < 0 {
		errs = append(errs, "listener.read_timeout must not be negative")
	}
	if l.WriteTimeout < 0 {
		errs = append(errs, "listener.write_timeout must not be negative")
	}
	if l.MaxFrameSize < 2 {
		errs = append(errs, fmt.Sprintf("listener.max_frame_size must be >= 2, got %d", l.MaxFrameSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.IdleTimeout <= 0 {
		errs = append(errs, "session.idle_timeout must be positive")
	}
	if s.SweepInterval <= 0 {
		errs = append(errs, "session.sweep_interval must be positive")
	}
	if s.PlayTimeInterval <= 0 {
		errs = append(errs, "session.play_time_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateMatchmaking(m MatchmakingConfig) error {
	var errs []string
	if m.PollInterval <= 0 {
		errs = append(errs, "matchmaking.poll_interval must be positive")
	}
	if m.RankedPollInterval <= 0 {
		errs = append(errs, "matchmaking.ranked_poll_interval must be positive")
	}
	if m.BaseWait < 0 {
		errs = append(errs, "matchmaking.base_wait must not be negative")
	}
	if m.RankedMode == "" {
		errs = append(errs, "matchmaking.ranked_mode must not be empty")
	}
	for region, endpoints := range m.Servers {
		if len(endpoints) == 0 {
			errs = append(errs, fmt.Sprintf("matchmaking.servers.%s must list at least one endpoint", region))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with ARENA_ prefix
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance holding only the built-in defaults.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "arena")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.password", "arena")
	v.SetDefault("database.name", "arena")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.cache_ttl", "5m")
	v.SetDefault("database.cache_size", 10000)
	v.SetDefault("database.health_interval", "30s")

	v.SetDefault("listener.host", "0.0.0.0")
	v.SetDefault("listener.port", 7777)
	v.SetDefault("listener.read_timeout", "0s")
	v.SetDefault("listener.write_timeout", "10s")
	v.SetDefault("listener.max_frame_size", 1<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("session.idle_timeout", "5m")
	v.SetDefault("session.sweep_interval", "60s")
	v.SetDefault("session.play_time_interval", "60s")

	v.SetDefault("matchmaking.rules_file", "")
	v.SetDefault("matchmaking.poll_interval", "1s")
	v.SetDefault("matchmaking.ranked_poll_interval", "2s")
	v.SetDefault("matchmaking.base_wait", "30s")
	v.SetDefault("matchmaking.ranked_mode", "ranked")
}
