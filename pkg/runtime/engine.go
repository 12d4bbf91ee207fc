package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lemonberrylabs/ruleengine/pkg/cache"
	"github.com/lemonberrylabs/ruleengine/pkg/cost"
	"github.com/lemonberrylabs/ruleengine/pkg/expr"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// MaxRulesPerRun is the maximum number of rules a single run accepts.
const MaxRulesPerRun = 10_000

// ErrCancelled is returned by Run after Cancel has been called.
var ErrCancelled = errors.New("run cancelled")

// Rule is a named condition.
type Rule struct {
	Name    string
	Pattern string
}

// RuleResult is the outcome of one rule within a run.
type RuleResult struct {
	Name       string
	Matched    bool
	Value      types.Value
	Conditions int
	Duration   time.Duration
	// Err is set when the rule failed to parse or evaluate. A failed rule
	// never matches.
	Err error
	// OverLimit is set when the rule exceeded its own condition budget.
	OverLimit bool
	// Skipped is set for rules not run because the run's budget was spent.
	Skipped bool
	// Variables holds the assignments the rule made.
	Variables map[string]types.Value
}

// RunResult is the outcome of a batch run.
type RunResult struct {
	RunID        string
	Rules        []RuleResult
	Conditions   int
	Duration     time.Duration
	LimitReached bool
}

// Matched returns the names of matching rules in run order.
func (r *RunResult) Matched() []string {
	var names []string
	for _, rr := range r.Rules {
		if rr.Matched {
			names = append(names, rr.Name)
		}
	}
	return names
}

// Recorder receives per-rule and per-run measurements.
type Recorder interface {
	ObserveRule(rule string, res RuleResult)
	ObserveRun(res *RunResult)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRule(string, RuleResult) {}
func (nopRecorder) ObserveRun(*RunResult)          {}

// Engine evaluates batches of rules.
type Engine struct {
	funcs       expr.FunctionRegistry
	parser      *expr.CachedParser
	logger      *slog.Logger
	recorder    Recorder
	ruleLimit   cost.Limiter
	globalLimit cost.Limiter
	ruleTimeout time.Duration
	memoSize    int

	mu        sync.Mutex
	cancelled bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithParser sets the parser used to obtain rule trees.
func WithParser(p *expr.CachedParser) EngineOption {
	return func(e *Engine) { e.parser = p }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithRuleLimit sets the condition budget of a single rule. Zero disables it.
func WithRuleLimit(n int) EngineOption {
	return func(e *Engine) { e.ruleLimit = cost.Limiter{Threshold: n} }
}

// WithGlobalLimit sets the condition budget of a whole run. Zero disables it.
func WithGlobalLimit(n int) EngineOption {
	return func(e *Engine) { e.globalLimit = cost.Limiter{Threshold: n} }
}

// WithRuleTimeout bounds the evaluation time of a single rule.
func WithRuleTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.ruleTimeout = d }
}

// WithMemoSize sets the per-run function memo capacity.
func WithMemoSize(n int) EngineOption {
	return func(e *Engine) { e.memoSize = n }
}

// NewEngine creates an engine calling host functions from funcs.
func NewEngine(funcs expr.FunctionRegistry, opts ...EngineOption) *Engine {
	e := &Engine{
		funcs:    funcs,
		logger:   slog.New(slog.DiscardHandler),
		recorder: nopRecorder{},
		memoSize: cache.DefaultMemoSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parser == nil {
		e.parser = expr.NewCachedParser(nil, expr.WithLogger(e.logger))
	}
	return e
}

// Run evaluates rules in order against vars. Each rule gets its own child
// scope. A rule that fails is reported as not matching and the run goes on.
// Function results are memoized across the whole run.
//
// Run only returns an error when ctx is done or the engine was cancelled;
// the partial result is returned alongside it.
func (e *Engine) Run(ctx context.Context, rules []Rule, vars *Vars) (*RunResult, error) {
	if len(rules) > MaxRulesPerRun {
		return nil, fmt.Errorf("run has %d rules, maximum is %d", len(rules), MaxRulesPerRun)
	}
	if vars == nil {
		vars = NewVars()
	}
	e.mu.Lock()
	e.cancelled = false
	e.mu.Unlock()

	res := &RunResult{RunID: uuid.NewString(), Rules: make([]RuleResult, 0, len(rules))}
	log := e.logger.With("run_id", res.RunID)
	memo := cache.NewMemo(e.memoSize)
	start := time.Now()

	var runErr error
	for _, rule := range rules {
		if runErr == nil {
			runErr = e.stopped(ctx)
		}
		if runErr != nil || res.LimitReached {
			res.Rules = append(res.Rules, RuleResult{Name: rule.Name, Skipped: true, Value: types.Null})
			continue
		}

		rr := e.runRule(ctx, rule, vars, memo)
		res.Conditions += rr.Conditions
		if rr.Err != nil {
			log.Warn("rule failed", "rule", rule.Name, "error", rr.Err)
		}
		if rr.OverLimit {
			log.Warn("rule exceeded condition limit", "rule", rule.Name,
				"conditions", rr.Conditions, "limit", e.ruleLimit.Threshold)
		}
		if e.globalLimit.Exceeded(res.Conditions) {
			res.LimitReached = true
			log.Warn("run exceeded condition limit", "conditions", res.Conditions,
				"limit", e.globalLimit.Threshold)
		}
		e.recorder.ObserveRule(rule.Name, rr)
		res.Rules = append(res.Rules, rr)
	}

	res.Duration = time.Since(start)
	e.recorder.ObserveRun(res)
	log.Debug("run finished", "rules", len(rules), "matched", len(res.Matched()),
		"conditions", res.Conditions, "duration", res.Duration)
	if runErr != nil {
		return res, fmt.Errorf("run %s: %w", res.RunID, runErr)
	}
	return res, nil
}

func (e *Engine) runRule(ctx context.Context, rule Rule, vars *Vars, memo *cache.Memo) RuleResult {
	rr := RuleResult{Name: rule.Name, Value: types.Null}
	start := time.Now()

	node, err := e.parser.Parse(ctx, rule.Pattern)
	if err != nil {
		rr.Err = err
		rr.Duration = time.Since(start)
		return rr
	}

	if e.ruleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.ruleTimeout)
		defer cancel()
	}

	counter := &cost.Counter{}
	ev := expr.NewEvaluator(e.funcs, expr.WithCounter(counter), expr.WithMemo(memo))
	scope := vars.Child()
	v, err := ev.Evaluate(ctx, node, scope)
	rr.Conditions = counter.Count()
	rr.Variables = scope.Export()
	rr.Duration = time.Since(start)
	if err != nil {
		rr.Err = err
		return rr
	}
	rr.Value = v
	rr.Matched = expr.ResultBool(v)
	if e.ruleLimit.Exceeded(rr.Conditions) {
		rr.OverLimit = true
		rr.Matched = false
	}
	return rr
}

func (e *Engine) stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled {
		return ErrCancelled
	}
	return nil
}

// EvalResult is the outcome of evaluating a single expression.
type EvalResult struct {
	Value      types.Value
	Conditions int
	Duration   time.Duration
	Variables  map[string]types.Value
}

// Evaluate parses and evaluates a single expression against vars with a
// fresh memo. Errors are returned as *types.RuleError where possible.
func (e *Engine) Evaluate(ctx context.Context, text string, vars *Vars) (*EvalResult, error) {
	if vars == nil {
		vars = NewVars()
	}
	start := time.Now()
	node, err := e.parser.Parse(ctx, text)
	if err != nil {
		return nil, err
	}
	if e.ruleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.ruleTimeout)
		defer cancel()
	}
	counter := &cost.Counter{}
	ev := expr.NewEvaluator(e.funcs, expr.WithCounter(counter), expr.WithMemo(cache.NewMemo(e.memoSize)))
	scope := vars.Child()
	v, err := ev.Evaluate(ctx, node, scope)
	if err != nil {
		return nil, err
	}
	return &EvalResult{
		Value:      v,
		Conditions: counter.Count(),
		Duration:   time.Since(start),
		Variables:  scope.Export(),
	}, nil
}

// CheckSyntax checks text against the engine's function registry.
func (e *Engine) CheckSyntax(text string) error {
	return expr.CheckSyntax(text, e.funcs)
}

// Cancel stops a running batch before its next rule.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = true
}
