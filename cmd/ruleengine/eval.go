package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/ruleengine/pkg/expr"
	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
)

type evalOptions struct {
	file     string
	varsFile string
	vars     []string
	output   string
}

func newEvalCmd(root *rootOptions) *cobra.Command {
	opts := &evalOptions{}
	cmd := &cobra.Command{
		Use:   "eval [expression]",
		Short: "Evaluate an expression against a set of variables",
		Example: `  ruleengine eval 'lcase(user_name) == "bob"' --var user_name=Bob
  ruleengine eval -f rule.txt --vars edit.yaml -o json`,
		Args: cobra.MaximumNArgs(1),
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
			return runEval(cmd, a, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read the expression from a file, - for stdin")
	cmd.Flags().StringVar(&opts.varsFile, "vars", "", "YAML or JSON file of variables")
	cmd.Flags().StringArrayVar(&opts.vars, "var", nil, "Variable as name=value; the value is read as YAML")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "Output format: text or json")
	return cmd
}

func runEval(cmd *cobra.Command, a *app, opts *evalOptions, args []string) error {
	expression, err := readExpression(cmd.InOrStdin(), opts.file, args)
	if err != nil {
		return err
	}
	input, err := readVariables(opts.varsFile, opts.vars)
	if err != nil {
		return err
	}

	res, err := a.engine.Evaluate(cmd.Context(), expression, runtime.VarsFromJSON(input))
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), formatRuleError(expression, err))
		return errors.New("evaluation failed")
	}

	out := cmd.OutOrStdout()
	switch opts.output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"value":      res.Value,
			"type":       res.Value.Type().String(),
			"result":     expr.ResultBool(res.Value),
			"conditions": res.Conditions,
			"variables":  res.Variables,
		})
	case "text":
		fmt.Fprintf(out, "%s (%s)\n", res.Value.GoString(), res.Value.Type())
		fmt.Fprintf(out, "matches: %t, conditions: %d, time: %s\n",
			expr.ResultBool(res.Value), res.Conditions, res.Duration)
		return nil
	}
	return fmt.Errorf("unknown output format %q", opts.output)
}

func readExpression(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case file == "-":
		b, err := io.ReadAll(stdin)
		return string(b), err
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read expression: %w", err)
		}
		return string(b), nil
	case len(args) == 1:
		return args[0], nil
	}
	return "", errors.New("an expression argument or --file is required")
}

// readVariables merges the variables file with --var flags, flags last.
func readVariables(file string, pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{})
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read variables: %w", err)
		}
		if err := yaml.Unmarshal(b, &vars); err != nil {
			return nil, fmt.Errorf("failed to parse variables %q: %w", file, err)
		}
	}
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q, expected name=value", p)
		}
		var v interface{}
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		vars[name] = v
	}
	return vars, nil
}
