package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RULEENGINE_"

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
		ApplyDefaults(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithEnvOverrides is Load followed by RULEENGINE_SECTION_FIELD
// environment overrides, which always win over the file.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// applyEnvOverrides applies environment overrides. Malformed values are
// reported instead of being silently ignored.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	var errs []FieldError
	str := func(name string, p *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*p = v
		}
	}
	integer := func(name string, p *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: "must be an integer"})
				return
			}
			*p = i
		}
	}
	boolean := func(name string, p *bool) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: "must be a boolean"})
				return
			}
			*p = b
		}
	}
	duration := func(name string, p *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: "must be a duration"})
				return
			}
			*p = d
		}
	}

	str("SERVER_HTTP_ADDRESS", &cfg.Server.HTTPAddress)
	str("SERVER_GRPC_ADDRESS", &cfg.Server.GRPCAddress)
	duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	integer("SERVER_BODY_LIMIT", &cfg.Server.BodyLimit)
	boolean("SERVER_UI", &cfg.Server.UI)

	str("RULES_PATH", &cfg.Rules.Path)
	boolean("RULES_WATCH", &cfg.Rules.Watch)
	duration("RULES_DEBOUNCE", &cfg.Rules.Debounce)

	integer("ENGINE_RULE_CONDITION_LIMIT", &cfg.Engine.RuleConditionLimit)
	integer("ENGINE_GLOBAL_CONDITION_LIMIT", &cfg.Engine.GlobalConditionLimit)
	duration("ENGINE_RULE_TIMEOUT", &cfg.Engine.RuleTimeout)
	integer("ENGINE_MEMO_SIZE", &cfg.Engine.MemoSize)

	str("CACHE_BACKEND", &cfg.Cache.Backend)
	duration("CACHE_TTL", &cfg.Cache.TTL)
	str("CACHE_PURGE_SCHEDULE", &cfg.Cache.PurgeSchedule)
	str("CACHE_SQLITE_PATH", &cfg.Cache.SQLite.Path)
	duration("CACHE_SQLITE_BUSY_TIMEOUT", &cfg.Cache.SQLite.BusyTimeout)

	str("LOGGING_LEVEL", &cfg.Logging.Level)
	str("LOGGING_FORMAT", &cfg.Logging.Format)

	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("METRICS_PATH", &cfg.Metrics.Path)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
