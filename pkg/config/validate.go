package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/lemonberrylabs/ruleengine/pkg/logging"
)

// FieldError is a validation error for one configuration field.
type FieldError struct {
	// Field is the dotted path to the field, e.g. "engine.rule_timeout".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error found.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing every problem.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(cfg.Server.HTTPAddress); err != nil {
		add("server.http_address", "invalid address %q", cfg.Server.HTTPAddress)
	}
	if cfg.Server.GRPCAddress != "" && cfg.Server.GRPCAddress != "off" {
		if _, _, err := net.SplitHostPort(cfg.Server.GRPCAddress); err != nil {
			add("server.grpc_address", "invalid address %q", cfg.Server.GRPCAddress)
		}
	}
	if cfg.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout", "must not be negative")
	}
	if cfg.Server.BodyLimit < 0 {
		add("server.body_limit", "must not be negative")
	}

	if cfg.Rules.Debounce < 0 {
		add("rules.debounce", "must not be negative")
	}

	if cfg.Engine.RuleConditionLimit < 0 {
		add("engine.rule_condition_limit", "must not be negative")
	}
	if cfg.Engine.GlobalConditionLimit < 0 {
		add("engine.global_condition_limit", "must not be negative")
	}
	if cfg.Engine.GlobalConditionLimit > 0 && cfg.Engine.RuleConditionLimit > cfg.Engine.GlobalConditionLimit {
		add("engine.rule_condition_limit", "must not exceed engine.global_condition_limit")
	}
	if cfg.Engine.RuleTimeout < 0 {
		add("engine.rule_timeout", "must not be negative")
	}
	if cfg.Engine.MemoSize < 0 {
		add("engine.memo_size", "must not be negative")
	}

	switch cfg.Cache.Backend {
	case "memory", "none":
	case "sqlite":
		if cfg.Cache.SQLite.Path == "" {
			add("cache.sqlite.path", "required for the sqlite backend")
		}
	default:
		add("cache.backend", "must be one of memory, sqlite, none; got %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL < 0 {
		add("cache.ttl", "must not be negative")
	}
	if cfg.Cache.PurgeSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Cache.PurgeSchedule); err != nil {
			add("cache.purge_schedule", "invalid schedule: %v", err)
		}
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if _, err := logging.ParseFormat(cfg.Logging.Format); err != nil {
		add("logging.format", "%v", err)
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /")
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
