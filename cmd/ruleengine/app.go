package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lemonberrylabs/ruleengine/pkg/cache"
	"github.com/lemonberrylabs/ruleengine/pkg/config"
	"github.com/lemonberrylabs/ruleengine/pkg/expr"
	"github.com/lemonberrylabs/ruleengine/pkg/metrics"
	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
	"github.com/lemonberrylabs/ruleengine/pkg/stdlib"
	"github.com/lemonberrylabs/ruleengine/pkg/store"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	funcs     *stdlib.Registry
	astCache  cache.Store
	collector *metrics.Collector
	engine    *runtime.Engine
	store     *store.Store
	closers   []func() error
}

// newApp wires the engine from cfg. Metrics are only collected when
// withMetrics is set and enabled in the configuration.
func newApp(cfg *config.Config, logger *slog.Logger, withMetrics bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, funcs: stdlib.NewRegistry()}

	astCache, err := a.openCache()
	if err != nil {
		return nil, err
	}
	a.astCache = astCache

	parserOpts := []expr.CachedParserOption{
		expr.WithTTL(cfg.Cache.TTL),
		expr.WithLogger(logger.With("component", "ast-cache")),
	}
	engineOpts := []runtime.EngineOption{
		runtime.WithEngineLogger(logger.With("component", "engine")),
		runtime.WithRuleLimit(cfg.Engine.RuleConditionLimit),
		runtime.WithGlobalLimit(cfg.Engine.GlobalConditionLimit),
		runtime.WithRuleTimeout(cfg.Engine.RuleTimeout),
		runtime.WithMemoSize(cfg.Engine.MemoSize),
	}
	if withMetrics && cfg.Metrics.Enabled {
		a.collector = metrics.NewCollector(nil)
		parserOpts = append(parserOpts, expr.WithLookupHook(a.collector.ObserveCacheLookup))
		engineOpts = append(engineOpts, runtime.WithRecorder(a.collector))
	}
	engineOpts = append(engineOpts, runtime.WithParser(expr.NewCachedParser(astCache, parserOpts...)))

	a.engine = runtime.NewEngine(a.funcs, engineOpts...)
	a.store = store.New(store.WithValidator(a.engine.CheckSyntax))
	return a, nil
}

func (a *app) openCache() (cache.Store, error) {
	switch a.cfg.Cache.Backend {
	case "none":
		return cache.NopStore{}, nil
	case "sqlite":
		path := a.cfg.Cache.SQLite.Path
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create cache directory: %w", err)
			}
		}
		s, err := cache.NewSQLiteStoreWithConfig(cache.SQLiteConfig{
			Path:        path,
			BusyTimeout: a.cfg.Cache.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		a.logger.Info("using sqlite parse cache", "path", path)
		return s, nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

// purgeScheduler returns a scheduler for the configured cache, or nil when
// the backend keeps nothing to purge.
func (a *app) purgeScheduler() *cache.PurgeScheduler {
	purger, ok := a.astCache.(cache.Purger)
	if !ok {
		return nil
	}
	var onPurge func(int, error)
	if a.collector != nil {
		onPurge = a.collector.ObservePurge
	}
	return cache.NewPurgeScheduler(purger, a.cfg.Cache.PurgeSchedule, onPurge, a.logger)
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
