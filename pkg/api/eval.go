package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/ruleengine/pkg/expr"
	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
	"github.com/lemonberrylabs/ruleengine/pkg/store"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

type deferredRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type varsRequest struct {
	Variables map[string]interface{}     `json:"variables"`
	Deferred  map[string]deferredRequest `json:"deferred"`
}

func (s *Server) buildVars(req varsRequest) *runtime.Vars {
	vars := runtime.VarsFromJSON(req.Variables, s.varOpts...)
	for name, d := range req.Deferred {
		params := make([]types.Value, len(d.Params))
		for i, p := range d.Params {
			params[i] = types.ValueFromJSON(p)
		}
		vars.SetDeferred(name, runtime.Deferred{Method: d.Method, Params: params})
	}
	return vars
}

type syntaxRequest struct {
	Expression string `json:"expression"`
}

func (s *Server) checkSyntax(c *fiber.Ctx) error {
	var req syntaxRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(fmt.Sprintf("invalid request body: %v", err))
	}
	if err := s.engine.CheckSyntax(req.Expression); err != nil {
		detail := ruleErrorDetail(err)
		if detail == nil {
			return err
		}
		return c.JSON(fiber.Map{"valid": false, "error": detail})
	}
	return c.JSON(fiber.Map{"valid": true})
}

type evaluateRequest struct {
	Expression string `json:"expression"`
	varsRequest
}

func (s *Server) evaluate(c *fiber.Ctx) error {
	var req evaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(fmt.Sprintf("invalid request body: %v", err))
	}
	res, err := s.engine.Evaluate(c.UserContext(), req.Expression, s.buildVars(req.varsRequest))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"value":      res.Value,
		"type":       res.Value.Type().String(),
		"result":     expr.ResultBool(res.Value),
		"conditions": res.Conditions,
		"durationUs": res.Duration.Microseconds(),
		"variables":  res.Variables,
	})
}

type inlineRule struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

type testRulesRequest struct {
	varsRequest
	// Rules selects stored rules by name. Empty means every enabled rule.
	Rules []string `json:"rules"`
	Tag   string   `json:"tag"`
	// Inline rules are evaluated without being stored.
	Inline []inlineRule `json:"inline"`
}

// testRules runs stored or inline rules against one set of variables and
// records hits for the stored rules that matched.
func (s *Server) testRules(c *fiber.Ctx) error {
	var req testRulesRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(fmt.Sprintf("invalid request body: %v", err))
	}

	var rules []runtime.Rule
	actions := make(map[string][]string)
	stored := make(map[string]bool)
	if len(req.Inline) > 0 {
		for i, r := range req.Inline {
			name := r.Name
			if name == "" {
				name = fmt.Sprintf("inline-%d", i)
			}
			rules = append(rules, runtime.Rule{Name: name, Pattern: r.Pattern})
		}
	} else {
		selected, err := s.selectRules(req.Rules, req.Tag)
		if err != nil {
			return err
		}
		for _, r := range selected {
			rules = append(rules, runtime.Rule{Name: r.Name, Pattern: r.Pattern})
			actions[r.Name] = r.Actions
			stored[r.Name] = true
		}
	}

	if len(rules) > runtime.MaxRulesPerRun {
		return invalidArgument(fmt.Sprintf("%d rules selected, maximum is %d", len(rules), runtime.MaxRulesPerRun))
	}

	run, err := s.engine.Run(c.UserContext(), rules, s.buildVars(req.varsRequest))
	if err != nil {
		return err
	}

	var hits []string
	results := make([]fiber.Map, len(run.Rules))
	for i, rr := range run.Rules {
		item := fiber.Map{
			"name":       rr.Name,
			"matched":    rr.Matched,
			"conditions": rr.Conditions,
			"durationUs": rr.Duration.Microseconds(),
		}
		if rr.OverLimit {
			item["overLimit"] = true
		}
		if rr.Skipped {
			item["skipped"] = true
		}
		if rr.Err != nil {
			if d := ruleErrorDetail(rr.Err); d != nil {
				item["error"] = d
			} else {
				item["error"] = fiber.Map{"message": rr.Err.Error()}
			}
		}
		if rr.Matched {
			item["actions"] = nonNil(actions[rr.Name])
			if stored[rr.Name] {
				hits = append(hits, rr.Name)
			}
		}
		results[i] = item
	}
	if len(hits) > 0 {
		s.store.RecordHits(hits)
	}

	return c.JSON(fiber.Map{
		"runId":        run.RunID,
		"matched":      nonNil(run.Matched()),
		"conditions":   run.Conditions,
		"limitReached": run.LimitReached,
		"durationUs":   run.Duration.Microseconds(),
		"results":      results,
	})
}

func (s *Server) selectRules(names []string, tag string) ([]*store.Rule, error) {
	if len(names) == 0 {
		return s.store.ListRules(store.ListFilter{Tag: tag, EnabledOnly: true}), nil
	}
	out := make([]*store.Rule, 0, len(names))
	for _, name := range names {
		r, err := s.store.GetRule(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
