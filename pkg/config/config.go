// Package config loads the service configuration from YAML with defaults
// and RULEENGINE_* environment overrides.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Rules   RulesConfig   `yaml:"rules"`
	Engine  EngineConfig  `yaml:"engine"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP and gRPC listeners.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"http_address"`
	// GRPCAddress "off" disables the gRPC listener.
	GRPCAddress     string        `yaml:"grpc_address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	BodyLimit       int           `yaml:"body_limit"`
	UI              bool          `yaml:"ui"`
}

// RulesConfig locates rule files.
type RulesConfig struct {
	Path     string        `yaml:"path"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// EngineConfig sets evaluation budgets.
type EngineConfig struct {
	RuleConditionLimit   int           `yaml:"rule_condition_limit"`
	GlobalConditionLimit int           `yaml:"global_condition_limit"`
	RuleTimeout          time.Duration `yaml:"rule_timeout"`
	MemoSize             int           `yaml:"memo_size"`
}

// CacheConfig selects the parsed-tree cache backend.
type CacheConfig struct {
	// Backend is one of "memory", "sqlite" or "none".
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	PurgeSchedule string        `yaml:"purge_schedule"`
	SQLite        SQLiteConfig  `yaml:"sqlite"`
}

// SQLiteConfig configures the SQLite cache backend.
type SQLiteConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
