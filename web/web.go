// Package web provides the embedded web UI for browsing rules and trying
// expressions.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/ruleengine/pkg/expr"
	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
	"github.com/lemonberrylabs/ruleengine/pkg/store"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler serves the web UI pages.
type Handler struct {
	store   *store.Store
	engine  *runtime.Engine
	funcMap template.FuncMap
}

// pageData wraps all page-specific data with common fields.
type pageData struct {
	NavActive string
	Data      interface{}
}

// New creates a new web UI handler.
func New(s *store.Store, engine *runtime.Engine) *Handler {
	return &Handler{
		store:  s,
		engine: engine,
		funcMap: template.FuncMap{
			"timeAgo":    timeAgo,
			"formatTime": formatTime,
			"stateClass": stateClass,
			"stateIcon":  stateIcon,
			"truncate":   truncate,
			"countLines": countLines,
			"join":       strings.Join,
			"duration":   formatDuration,
		},
	}
}

func (h *Handler) render(c *fiber.Ctx, page string, navActive string, data interface{}) error {
	// Parse per page so define blocks do not collide across pages.
	tmpl := template.Must(
		template.New("").Funcs(h.funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+page),
	)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, page, pageData{NavActive: navActive, Data: data}); err != nil {
		return c.Status(500).SendString(fmt.Sprintf("template error: %v", err))
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Send(buf.Bytes())
}

// Register adds web UI routes to the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.dashboard)
	app.Get("/ui/rules/:rule", h.ruleDetail)
	app.Get("/ui/playground", h.playground)
	app.Post("/ui/playground", h.playground)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/ui")
	})
}

type dashboardContent struct {
	Rules         []*store.Rule
	EnabledCount  int
	DisabledCount int
	TotalHits     int64
}

type ruleDetailContent struct {
	Rule      *store.Rule
	Revisions []store.Revision
}

type notFoundContent struct {
	Message string
}

type playgroundContent struct {
	Expression string
	Variables  string
	Evaluated  bool
	Value      string
	Type       string
	Matched    bool
	Conditions int
	Duration   time.Duration
	Error      string
}

func (h *Handler) dashboard(c *fiber.Ctx) error {
	rules := h.store.ListRules(store.ListFilter{Tag: c.Query("tag")})
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Hits > rules[j].Hits
	})

	content := dashboardContent{Rules: rules}
	for _, r := range rules {
		if r.Enabled {
			content.EnabledCount++
		} else {
			content.DisabledCount++
		}
		content.TotalHits += r.Hits
	}
	return h.render(c, "dashboard.html", "dashboard", content)
}

func (h *Handler) ruleDetail(c *fiber.Ctx) error {
	r, err := h.store.GetRule(c.Params("rule"))
	if err != nil {
		return h.render(c, "notfound.html", "dashboard", notFoundContent{
			Message: fmt.Sprintf("Rule %q not found.", c.Params("rule")),
		})
	}
	revs, _ := h.store.History(r.Name)
	// newest first
	for i, j := 0, len(revs)-1; i < j; i, j = i+1, j-1 {
		revs[i], revs[j] = revs[j], revs[i]
	}
	return h.render(c, "rule.html", "dashboard", ruleDetailContent{Rule: r, Revisions: revs})
}

func (h *Handler) playground(c *fiber.Ctx) error {
	content := playgroundContent{
		Expression: c.FormValue("expression"),
		Variables:  c.FormValue("variables", "{}"),
	}
	if c.Method() != fiber.MethodPost || content.Expression == "" {
		return h.render(c, "playground.html", "playground", content)
	}

	content.Evaluated = true
	input, err := parseVariables(content.Variables)
	if err != nil {
		content.Error = err.Error()
		return h.render(c, "playground.html", "playground", content)
	}
	res, err := h.engine.Evaluate(c.UserContext(), content.Expression, runtime.VarsFromJSON(input))
	if err != nil {
		content.Error = describeError(err)
		return h.render(c, "playground.html", "playground", content)
	}
	content.Value = res.Value.GoString()
	content.Type = res.Value.Type().String()
	content.Matched = expr.ResultBool(res.Value)
	content.Conditions = res.Conditions
	content.Duration = res.Duration
	return h.render(c, "playground.html", "playground", content)
}

// parseVariables reads the playground variables as YAML, which also
// accepts JSON objects.
func parseVariables(src string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if strings.TrimSpace(src) == "" {
		return out, nil
	}
	if err := yaml.Unmarshal([]byte(src), &out); err != nil {
		return nil, fmt.Errorf("invalid variables: %w", err)
	}
	return out, nil
}

func describeError(err error) string {
	if re, ok := types.AsRuleError(err); ok {
		return fmt.Sprintf("%s (%s at char %d): %s", re.Kind, re.Category, re.Pos, re.Detail())
	}
	return err.Error()
}

// --- Template Helpers ---

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func stateClass(enabled bool) string {
	if enabled {
		return "state-enabled"
	}
	return "state-disabled"
}

func stateIcon(enabled bool) template.HTML {
	if enabled {
		return "&#10003;"
	}
	return "&#9632;"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
