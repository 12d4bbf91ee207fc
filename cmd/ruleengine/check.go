package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/ruleengine/pkg/rulefile"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var expression string
	cmd := &cobra.Command{
		Use:   "check [path...]",
		Short: "Check the syntax of rule files or a single expression",
		Long: "Check parses every rule in the given files or directories and validates\n" +
			"function names and argument counts. Without arguments the configured\n" +
			"rule path is checked.",
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

			out := cmd.OutOrStdout()
			if expression != "" {
				return checkExpression(out, a, expression)
			}
			if len(args) == 0 {
				args = []string{cfg.Rules.Path}
			}
			return checkPaths(cmd, a, args)
		},
	}
	cmd.Flags().StringVarP(&expression, "expr", "e", "", "Check this expression instead of rule files")
	return cmd
}

func checkExpression(out io.Writer, a *app, expression string) error {
	if err := a.engine.CheckSyntax(expression); err != nil {
		fmt.Fprintln(out, formatRuleError(expression, err))
		return errors.New("expression is invalid")
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func checkPaths(cmd *cobra.Command, a *app, paths []string) error {
	out := cmd.OutOrStdout()
	failed := false
	total := 0
	for _, path := range paths {
		set, err := rulefile.NewLoader(path, a.engine.CheckSyntax, a.logger).Load(cmd.Context())
		if set != nil {
			for _, f := range set.Files {
				total += len(f.Rules)
				fmt.Fprintf(out, "ok   %s (%d rules, %d tests)\n", f.Path, len(f.Rules), len(f.Tests))
			}
		}
		if err != nil {
			failed = true
			for _, e := range unjoin(err) {
				fmt.Fprintf(out, "FAIL %v\n", e)
			}
		}
	}
	if failed {
		return errors.New("some rule files are invalid")
	}
	fmt.Fprintf(out, "%d rules checked\n", total)
	return nil
}

// unjoin flattens an errors.Join tree into its leaves.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, unjoin(e)...)
		}
		return out
	}
	return []error{err}
}

// formatRuleError renders err with a caret under the failing position.
func formatRuleError(source string, err error) string {
	re, ok := types.AsRuleError(err)
	if !ok || re.Pos < 0 || re.Pos > len(source) {
		return err.Error()
	}
	line, col := 0, 0
	start := 0
	for i := 0; i < re.Pos; i++ {
		if source[i] == '\n' {
			line++
			col = 0
			start = i + 1
			continue
		}
		col++
	}
	end := start
	for end < len(source) && source[end] != '\n' {
		end++
	}
	return fmt.Sprintf("%s: %s\n  %d | %s\n    | %s^", re.Kind, re.Detail(), line+1, source[start:end], strings.Repeat(" ", col))
}
