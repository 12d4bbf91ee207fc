package config

import "time"

// Default values for configuration fields.
const (
	DefaultHTTPAddress     = "127.0.0.1:8080"
	DefaultGRPCAddress     = "127.0.0.1:9090"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = 1 << 20 // 1MB

	DefaultRulesPath     = "./rules"
	DefaultRulesDebounce = 100 * time.Millisecond

	DefaultRuleConditionLimit   = 1000
	DefaultGlobalConditionLimit = 5000
	DefaultRuleTimeout          = time.Second
	DefaultMemoSize             = 1000

	DefaultCacheBackend       = "memory"
	DefaultCacheTTL           = 24 * time.Hour
	DefaultCachePurgeSchedule = "@every 1h"
	DefaultSQLitePath         = "data/ast-cache.db"
	DefaultSQLiteBusyTimeout  = 5 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsPath = "/metrics"
)

// Default returns a configuration with every field at its default.
func Default() *Config {
	cfg := &Config{
		Server:  ServerConfig{UI: true},
		Rules:   RulesConfig{Watch: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults. Booleans are left
// alone since false is a valid choice; Default sets their initial values.
func ApplyDefaults(cfg *Config) {
	setString(&cfg.Server.HTTPAddress, DefaultHTTPAddress)
	setString(&cfg.Server.GRPCAddress, DefaultGRPCAddress)
	setDuration(&cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)
	setInt(&cfg.Server.BodyLimit, DefaultBodyLimit)

	setString(&cfg.Rules.Path, DefaultRulesPath)
	setDuration(&cfg.Rules.Debounce, DefaultRulesDebounce)

	setInt(&cfg.Engine.RuleConditionLimit, DefaultRuleConditionLimit)
	setInt(&cfg.Engine.GlobalConditionLimit, DefaultGlobalConditionLimit)
	setDuration(&cfg.Engine.RuleTimeout, DefaultRuleTimeout)
	setInt(&cfg.Engine.MemoSize, DefaultMemoSize)

	setString(&cfg.Cache.Backend, DefaultCacheBackend)
	setDuration(&cfg.Cache.TTL, DefaultCacheTTL)
	setString(&cfg.Cache.PurgeSchedule, DefaultCachePurgeSchedule)
	setString(&cfg.Cache.SQLite.Path, DefaultSQLitePath)
	setDuration(&cfg.Cache.SQLite.BusyTimeout, DefaultSQLiteBusyTimeout)

	setString(&cfg.Logging.Level, DefaultLogLevel)
	setString(&cfg.Logging.Format, DefaultLogFormat)

	setString(&cfg.Metrics.Path, DefaultMetricsPath)
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

func setDuration(p *time.Duration, v time.Duration) {
	if *p == 0 {
		*p = v
	}
}
