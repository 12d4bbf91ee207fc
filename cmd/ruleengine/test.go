package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/ruleengine/pkg/rulefile"
)

func newTestCmd(root *rootOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "test [path...]",
		Short: "Run the tests declared in rule files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if len(args) == 0 {
				args = []string{cfg.Rules.Path}
			}
			return runTests(cmd, a, args, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print passing tests and rule errors")
	return cmd
}

func runTests(cmd *cobra.Command, a *app, paths []string, verbose bool) error {
	out := cmd.OutOrStdout()
	passed, failed := 0, 0
	for _, path := range paths {
		set, err := rulefile.NewLoader(path, a.engine.CheckSyntax, a.logger).Load(cmd.Context())
		if err != nil {
			return err
		}
		results, err := rulefile.RunTests(cmd.Context(), a.engine, set)
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Passed {
				passed++
				if verbose {
					fmt.Fprintf(out, "PASS %s: %s\n", r.File, r.Name)
				}
			} else {
				failed++
				fmt.Fprintf(out, "FAIL %s: %s\n     expected [%s]\n     matched  [%s]\n",
					r.File, r.Name, strings.Join(r.Expected, ", "), strings.Join(r.Matched, ", "))
			}
			if verbose || !r.Passed {
				names := make([]string, 0, len(r.Errors))
				for name := range r.Errors {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(out, "     rule %s: %v\n", name, r.Errors[name])
				}
			}
		}
	}
	fmt.Fprintf(out, "%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		return errors.New("rule tests failed")
	}
	return nil
}
