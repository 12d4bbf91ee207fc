// Package metrics exposes rule evaluation measurements to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// Namespace prefixes every metric name.
const Namespace = "ruleengine"

// Outcome label values for rule evaluations.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeError     = "error"
	OutcomeOverLimit = "over_limit"
	OutcomeSkipped   = "skipped"
)

// Collector records rule engine metrics into its own registry.
//
// Metrics:
//   - ruleengine_rule_evaluations_total{rule,outcome}
//   - ruleengine_rule_errors_total{kind}
//   - ruleengine_rule_duration_seconds{rule}
//   - ruleengine_rule_conditions{rule}
//   - ruleengine_runs_total{limit_reached}
//   - ruleengine_run_duration_seconds
//   - ruleengine_ast_cache_lookups_total{result}
//   - ruleengine_ast_cache_purged_total
type Collector struct {
	registry *prometheus.Registry

	evaluations   *prometheus.CounterVec
	errors        *prometheus.CounterVec
	ruleDuration  *prometheus.HistogramVec
	ruleCost      *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	cacheLookups  *prometheus.CounterVec
	cachePurged   prometheus.Counter
	purgeFailures prometheus.Counter
}

var _ runtime.Recorder = (*Collector)(nil)

// NewCollector creates a collector. A nil registry gets a fresh one that
// also carries the Go and process collectors.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: registry,
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations by outcome.",
		}, []string{"rule", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rule_errors_total",
			Help:      "Rule failures by error kind.",
		}, []string{"kind"}),
		ruleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "rule_duration_seconds",
			Help:      "Time spent evaluating a single rule.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05, .25},
		}, []string{"rule"}),
		ruleCost: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "rule_conditions",
			Help:      "Condition count charged by a single rule.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"rule"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Batch runs, split by whether the global condition limit was reached.",
		}, []string{"limit_reached"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Time spent on a batch run.",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ast_cache_lookups_total",
			Help:      "Parsed-tree cache lookups by result.",
		}, []string{"result"}),
		cachePurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ast_cache_purged_total",
			Help:      "Expired parsed-tree cache entries removed.",
		}),
		purgeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ast_cache_purge_failures_total",
			Help:      "Failed parsed-tree cache purges.",
		}),
	}

	registry.MustRegister(
		c.evaluations,
		c.errors,
		c.ruleDuration,
		c.ruleCost,
		c.runs,
		c.runDuration,
		c.cacheLookups,
		c.cachePurged,
		c.purgeFailures,
	)
	return c
}

// Registry returns the registry metrics are recorded into.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveRule implements runtime.Recorder.
func (c *Collector) ObserveRule(rule string, res runtime.RuleResult) {
	outcome := Outcome(res)
	c.evaluations.WithLabelValues(rule, outcome).Inc()
	if res.Skipped {
		return
	}
	if res.Err != nil {
		kind := string(types.KindInternal)
		if re, ok := types.AsRuleError(res.Err); ok {
			kind = string(re.Kind)
		}
		c.errors.WithLabelValues(kind).Inc()
	}
	c.ruleDuration.WithLabelValues(rule).Observe(res.Duration.Seconds())
	c.ruleCost.WithLabelValues(rule).Observe(float64(res.Conditions))
}

// ObserveRun implements runtime.Recorder.
func (c *Collector) ObserveRun(res *runtime.RunResult) {
	limit := "false"
	if res.LimitReached {
		limit = "true"
	}
	c.runs.WithLabelValues(limit).Inc()
	c.runDuration.Observe(res.Duration.Seconds())
}

// ObserveCacheLookup records a parsed-tree cache lookup. It fits
// expr.WithLookupHook.
func (c *Collector) ObserveCacheLookup(hit bool) {
	if hit {
		c.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.cacheLookups.WithLabelValues("miss").Inc()
}

// ObservePurge records the outcome of a cache purge.
func (c *Collector) ObservePurge(removed int, err error) {
	if err != nil {
		c.purgeFailures.Inc()
		return
	}
	c.cachePurged.Add(float64(removed))
}

// Outcome classifies a rule result for the outcome label.
func Outcome(res runtime.RuleResult) string {
	switch {
	case res.Skipped:
		return OutcomeSkipped
	case res.Err != nil:
		return OutcomeError
	case res.OverLimit:
		return OutcomeOverLimit
	case res.Matched:
		return OutcomeMatched
	}
	return OutcomeUnmatched
}
