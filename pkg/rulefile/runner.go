package rulefile

import (
	"context"
	"fmt"
	"slices"

	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
)

// TestResult is the outcome of one test case.
type TestResult struct {
	File     string
	Name     string
	Expected []string
	Matched  []string
	Passed   bool
	// Errors holds the rules that failed to evaluate, keyed by rule name.
	Errors map[string]error
}

// RunTests runs every test case of set against the enabled rules of the
// file that declares it. A test passes when the matching rules are exactly
// the expected ones, in any order.
func RunTests(ctx context.Context, engine *runtime.Engine, set *Set) ([]TestResult, error) {
	var results []TestResult
	for _, f := range set.Files {
		var rules []runtime.Rule
		for _, r := range f.Rules {
			if r.Enabled {
				rules = append(rules, runtime.Rule{Name: r.Name, Pattern: r.Pattern})
			}
		}
		for _, tc := range f.Tests {
			run, err := engine.Run(ctx, rules, runtime.VarsFromJSON(tc.Vars))
			if err != nil {
				return results, fmt.Errorf("%s: %s: %w", f.Path, tc.Name, err)
			}

			tr := TestResult{
				File:     f.Path,
				Name:     tc.Name,
				Expected: sortedCopy(tc.Expect),
				Matched:  sortedCopy(run.Matched()),
			}
			for _, rr := range run.Rules {
				if rr.Err != nil {
					if tr.Errors == nil {
						tr.Errors = make(map[string]error)
					}
					tr.Errors[rr.Name] = rr.Err
				}
			}
			tr.Passed = slices.Equal(tr.Expected, tr.Matched)
			results = append(results, tr)
		}
	}
	return results, nil
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return out
}
