package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/ruleengine/pkg/metrics"
	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
	"github.com/lemonberrylabs/ruleengine/pkg/stdlib"
	"github.com/lemonberrylabs/ruleengine/pkg/store"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

func setupServer(t *testing.T, opts ...Option) (*Server, *store.Store) {
	t.Helper()
	engine := runtime.NewEngine(stdlib.NewRegistry())
	st := store.New(store.WithValidator(engine.CheckSyntax))
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return New(st, engine, opts...), st
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func errorStatus(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "missing error envelope in %v", body)
	return e["status"].(string)
}

func TestCheckSyntax(t *testing.T) {
	srv, _ := setupServer(t)

	code, body := doJSON(t, srv, "POST", "/v1/syntax:check", map[string]string{"expression": `lcase("A") == "a"`})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["valid"])

	code, body = doJSON(t, srv, "POST", "/v1/syntax:check", map[string]string{"expression": `"unclosed`})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["valid"])
	detail := body["error"].(map[string]interface{})
	assert.Equal(t, string(types.KindUnclosedString), detail["kind"])
	assert.Equal(t, "syntax", detail["category"])

	_, body = doJSON(t, srv, "POST", "/v1/syntax:check", map[string]string{"expression": `nosuchfn(1)`})
	assert.Equal(t, string(types.KindUnknownFunction), body["error"].(map[string]interface{})["kind"])
}

func TestEvaluate(t *testing.T) {
	srv, _ := setupServer(t)

	code, body := doJSON(t, srv, "POST", "/v1/expressions:evaluate", map[string]interface{}{
		"expression": "x := user_edits * 2; x > 20",
		"variables":  map[string]interface{}{"USER_EDITS": 12},
	})
	require.Equal(t, http.StatusOK, code, "body: %v", body)
	assert.Equal(t, true, body["value"])
	assert.Equal(t, true, body["result"])
	assert.Equal(t, "bool", body["type"])
	assert.EqualValues(t, 1, body["conditions"])
	assert.Equal(t, map[string]interface{}{"x": 24.0}, body["variables"])
}

func TestEvaluateErrors(t *testing.T) {
	srv, _ := setupServer(t)

	tests := []struct {
		expression string
		code       int
		status     string
	}{
		{"1 / 0", http.StatusUnprocessableEntity, "FAILED_PRECONDITION"},
		{"(1 + ", http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"user_name := 1", http.StatusUnprocessableEntity, "FAILED_PRECONDITION"},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			code, body := doJSON(t, srv, "POST", "/v1/expressions:evaluate", map[string]interface{}{
				"expression": tt.expression,
				"variables":  map[string]interface{}{"user_name": "Bob"},
			})
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, errorStatus(t, body))
		})
	}
}

func TestEvaluateDeferredVariables(t *testing.T) {
	loader := func(_ context.Context, params []types.Value) (types.Value, error) {
		return types.NewString("page:" + params[0].AsString()), nil
	}
	srv, _ := setupServer(t, WithVarsOptions(runtime.WithLoader("page-title", loader)))

	code, body := doJSON(t, srv, "POST", "/v1/expressions:evaluate", map[string]interface{}{
		"expression": `page_title == "page:42"`,
		"deferred": map[string]interface{}{
			"page_title": map[string]interface{}{"method": "page-title", "params": []interface{}{"42"}},
		},
	})
	require.Equal(t, http.StatusOK, code, "body: %v", body)
	assert.Equal(t, true, body["result"])
}

func TestRuleCRUD(t *testing.T) {
	srv, _ := setupServer(t)

	code, body := doJSON(t, srv, "POST", "/v1/rules", map[string]interface{}{
		"name":    "spam",
		"pattern": `added_text contains "pills"`,
		"actions": []string{"tag"},
		"tags":    []string{"spam"},
	})
	require.Equal(t, http.StatusCreated, code, "body: %v", body)
	assert.Equal(t, true, body["enabled"])
	firstRev := body["revisionId"]

	code, body = doJSON(t, srv, "POST", "/v1/rules", map[string]interface{}{"name": "spam", "pattern": "true"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_EXISTS", errorStatus(t, body))

	code, body = doJSON(t, srv, "POST", "/v1/rules?ruleId=broken", map[string]interface{}{"pattern": "(1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ARGUMENT", errorStatus(t, body))
	assert.NotNil(t, body["error"].(map[string]interface{})["details"])

	code, body = doJSON(t, srv, "PATCH", "/v1/rules/spam", map[string]interface{}{"enabled": false})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["enabled"])
	assert.NotEqual(t, firstRev, body["revisionId"])
	assert.Equal(t, `added_text contains "pills"`, body["pattern"])

	code, body = doJSON(t, srv, "GET", "/v1/rules/spam/history", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["revisions"], 2)

	code, body = doJSON(t, srv, "GET", "/v1/rules?enabled=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["rules"])

	code, body = doJSON(t, srv, "GET", "/v1/rules?tag=spam", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["rules"], 1)

	code, _ = doJSON(t, srv, "DELETE", "/v1/rules/spam", nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, body = doJSON(t, srv, "GET", "/v1/rules/spam", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errorStatus(t, body))
}

func TestTestRules(t *testing.T) {
	srv, st := setupServer(t)
	for _, r := range []store.Rule{
		{Name: "pills", Pattern: `added_text contains "pills"`, Actions: []string{"disallow"}, Enabled: true},
		{Name: "newbie", Pattern: `user_edits < 5`, Enabled: true},
		{Name: "broken", Pattern: `1 / 0`, Enabled: true},
		{Name: "off", Pattern: `true`, Enabled: false},
	} {
		_, err := st.CreateRule(r)
		require.NoError(t, err)
	}

	code, body := doJSON(t, srv, "POST", "/v1/rules:test", map[string]interface{}{
		"variables": map[string]interface{}{"added_text": "buy pills", "user_edits": 100},
	})
	require.Equal(t, http.StatusOK, code, "body: %v", body)
	assert.Equal(t, []interface{}{"pills"}, body["matched"])
	assert.NotEmpty(t, body["runId"])

	results := body["results"].([]interface{})
	require.Len(t, results, 3, "disabled rules are not run")
	for _, r := range results {
		item := r.(map[string]interface{})
		switch item["name"] {
		case "pills":
			assert.Equal(t, []interface{}{"disallow"}, item["actions"])
		case "broken":
			assert.Equal(t, false, item["matched"])
			assert.Equal(t, "dividebyzero", item["error"].(map[string]interface{})["kind"])
		}
	}

	r, err := st.GetRule("pills")
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.Hits)
}

func TestTestRulesInline(t *testing.T) {
	srv, st := setupServer(t)

	code, body := doJSON(t, srv, "POST", "/v1/rules:test", map[string]interface{}{
		"variables": map[string]interface{}{"n": 3},
		"inline": []map[string]string{
			{"pattern": "n > 2"},
			{"name": "never", "pattern": "n > 10"},
		},
	})
	require.Equal(t, http.StatusOK, code, "body: %v", body)
	assert.Equal(t, []interface{}{"inline-0"}, body["matched"])
	assert.Equal(t, 0, st.Len())

	code, body = doJSON(t, srv, "POST", "/v1/rules:test", map[string]interface{}{"rules": []string{"missing"}})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errorStatus(t, body))
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewCollector(prometheus.NewRegistry())
	srv, _ := setupServer(t, WithMetricsHandler("", collector.Handler()))
	collector.ObserveCacheLookup(true)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ruleengine_ast_cache_lookups_total")
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := setupServer(t)
	code, body := doJSON(t, srv, "GET", "/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errorStatus(t, body))
}
