package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		res  runtime.RuleResult
		want string
	}{
		{runtime.RuleResult{Matched: true}, OutcomeMatched},
		{runtime.RuleResult{}, OutcomeUnmatched},
		{runtime.RuleResult{Err: errors.New("x")}, OutcomeError},
		{runtime.RuleResult{OverLimit: true}, OutcomeOverLimit},
		{runtime.RuleResult{Skipped: true, Err: errors.New("x")}, OutcomeSkipped},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.res))
	}
}

func TestObserveRule(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveRule("spam", runtime.RuleResult{Matched: true, Conditions: 3, Duration: time.Millisecond})
	c.ObserveRule("spam", runtime.RuleResult{Err: types.NewDivideByZeroError(types.NewInt(1), types.NewInt(0))})
	c.ObserveRule("spam", runtime.RuleResult{Err: errors.New("plain")})
	c.ObserveRule("other", runtime.RuleResult{Skipped: true})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.evaluations.WithLabelValues("spam", OutcomeMatched)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.evaluations.WithLabelValues("spam", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.evaluations.WithLabelValues("other", OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues(string(types.KindDivideByZero))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues(string(types.KindInternal))))
	assert.Equal(t, 1, testutil.CollectAndCount(c.ruleDuration))
}

func TestObserveRunAndCache(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.ObserveRun(&runtime.RunResult{LimitReached: true, Duration: time.Millisecond})
	c.ObserveRun(&runtime.RunResult{})
	c.ObserveCacheLookup(true)
	c.ObserveCacheLookup(false)
	c.ObserveCacheLookup(false)
	c.ObservePurge(4, nil)
	c.ObservePurge(0, errors.New("locked"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.cachePurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.purgeFailures))
}

func TestHandler(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveCacheLookup(true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `ruleengine_ast_cache_lookups_total{result="hit"} 1`))
	assert.Contains(t, string(body), "go_goroutines")
}
