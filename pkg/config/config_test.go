package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddress, cfg.Server.HTTPAddress)
	assert.True(t, cfg.Server.UI)
	assert.True(t, cfg.Rules.Watch)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, DefaultRuleConditionLimit, cfg.Engine.RuleConditionLimit)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, DefaultCacheTTL, cfg.Cache.TTL)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_address: "0.0.0.0:8081"
  ui: false
rules:
  path: /etc/rules
  watch: false
engine:
  rule_condition_limit: 50
  rule_timeout: 250ms
cache:
  backend: sqlite
  sqlite:
    path: /tmp/cache.db
logging:
  level: debug
  format: text
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8081", cfg.Server.HTTPAddress)
	assert.False(t, cfg.Server.UI)
	assert.Equal(t, "/etc/rules", cfg.Rules.Path)
	assert.False(t, cfg.Rules.Watch)
	assert.Equal(t, 50, cfg.Engine.RuleConditionLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.RuleTimeout)
	assert.Equal(t, DefaultGlobalConditionLimit, cfg.Engine.GlobalConditionLimit)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, "/tmp/cache.db", cfg.Cache.SQLite.Path)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled, "untouched booleans keep their defaults")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "server: [\n"))
	assert.ErrorContains(t, err, "failed to parse")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.HTTPAddress = "nope"
	cfg.Engine.RuleConditionLimit = 10
	cfg.Engine.GlobalConditionLimit = 5
	cfg.Cache.Backend = "redis"
	cfg.Cache.PurgeSchedule = "every tuesday"
	cfg.Logging.Level = "loud"
	cfg.Metrics.Path = "metrics"

	err := Validate(cfg)
	var verr ValidationError
	require.True(t, errors.As(err, &verr))

	fields := make([]string, len(verr.Errors))
	for i, fe := range verr.Errors {
		fields[i] = fe.Field
	}
	assert.ElementsMatch(t, []string{
		"server.http_address",
		"engine.rule_condition_limit",
		"cache.backend",
		"cache.purge_schedule",
		"logging.level",
		"metrics.path",
	}, fields)
	assert.Contains(t, err.Error(), "6 errors")
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"RULEENGINE_SERVER_HTTP_ADDRESS":       ":9000",
		"RULEENGINE_RULES_WATCH":               "false",
		"RULEENGINE_ENGINE_RULE_TIMEOUT":       "2s",
		"RULEENGINE_ENGINE_MEMO_SIZE":          "10",
		"RULEENGINE_CACHE_BACKEND":             "none",
		"RULEENGINE_LOGGING_LEVEL":             "warn",
		"RULEENGINE_METRICS_ENABLED":           "",
		"UNRELATED_SERVER_HTTP_ADDRESS":        "ignored",
		"RULEENGINE_CACHE_SQLITE_BUSY_TIMEOUT": "1s",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	require.NoError(t, applyEnvOverrides(cfg, lookup))

	assert.Equal(t, ":9000", cfg.Server.HTTPAddress)
	assert.False(t, cfg.Rules.Watch)
	assert.Equal(t, 2*time.Second, cfg.Engine.RuleTimeout)
	assert.Equal(t, 10, cfg.Engine.MemoSize)
	assert.Equal(t, "none", cfg.Cache.Backend)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled, "empty values are ignored")
	assert.Equal(t, time.Second, cfg.Cache.SQLite.BusyTimeout)
	assert.NoError(t, Validate(cfg))
}

func TestEnvOverridesRejectMalformedValues(t *testing.T) {
	env := map[string]string{
		"RULEENGINE_ENGINE_MEMO_SIZE":    "lots",
		"RULEENGINE_RULES_WATCH":         "sometimes",
		"RULEENGINE_ENGINE_RULE_TIMEOUT": "soon",
	}
	err := applyEnvOverrides(Default(), func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Errors, 3)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("RULEENGINE_ENGINE_GLOBAL_CONDITION_LIMIT", "7")
	t.Setenv("RULEENGINE_ENGINE_RULE_CONDITION_LIMIT", "3")
	cfg, err := LoadWithEnvOverrides("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.GlobalConditionLimit)

	t.Setenv("RULEENGINE_ENGINE_RULE_CONDITION_LIMIT", "30")
	_, err = LoadWithEnvOverrides("")
	assert.ErrorContains(t, err, "after environment overrides")
}
