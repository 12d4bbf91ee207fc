// Package rulefile reads rule definitions from YAML documents and keeps a
// rule store in sync with a directory of them.
//
// A rule file looks like:
//
//	rules:
//	  - name: link-spam
//	    description: New accounts adding many links
//	    pattern: user_edits < 10 & rcount("https?://", added_text) > 5
//	    actions: [warn, tag]
//	    tags: [spam]
//	tests:
//	  - name: spammer
//	    vars: {user_edits: 1, added_text: "http://a http://b http://c http://d http://e http://f"}
//	    expect: [link-spam]
package rulefile

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/ruleengine/pkg/store"
)

// MaxRulesPerFile is the maximum number of rules in one document.
const MaxRulesPerFile = 1000

// MaxSourceSize is the maximum rule file size in bytes (1 MB).
const MaxSourceSize = 1 << 20

// ParseError represents an error encountered while reading a rule file.
type ParseError struct {
	Message  string
	Location string // e.g., "rule 'spam' in rules.yaml:12"
}

func (e *ParseError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("parse error at %s: %s", e.Location, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

// TestCase is an example input together with the rules it must match.
type TestCase struct {
	Name   string
	Vars   map[string]interface{}
	Expect []string
}

// File is a parsed rule document.
type File struct {
	Path  string
	Rules []store.Rule
	Tests []TestCase
}

// Parse parses a rule document. path is only used in error locations.
func Parse(source []byte, path string) (*File, error) {
	if len(source) > MaxSourceSize {
		return nil, &ParseError{
			Message:  fmt.Sprintf("source size %d exceeds maximum %d bytes", len(source), MaxSourceSize),
			Location: path,
		}
	}

	var raw yaml.Node
	if err := yaml.Unmarshal(source, &raw); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid YAML: %v", err), Location: path}
	}
	file := &File{Path: path}

	// An empty document holds no rules.
	if raw.Kind != yaml.DocumentNode || len(raw.Content) == 0 {
		return file, nil
	}
	root := raw.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{Message: "rule file must be a mapping", Location: loc(path, root)}
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]

		switch key {
		case "rules":
			rules, err := parseRules(val, path)
			if err != nil {
				return nil, err
			}
			file.Rules = rules
		case "tests":
			tests, err := parseTests(val, path)
			if err != nil {
				return nil, err
			}
			file.Tests = tests
		default:
			return nil, &ParseError{
				Message:  fmt.Sprintf("unknown key '%s'", key),
				Location: loc(path, root.Content[i]),
			}
		}
	}
	return file, nil
}

func loc(path string, node *yaml.Node) string {
	if path == "" {
		return fmt.Sprintf("line %d", node.Line)
	}
	return fmt.Sprintf("%s:%d", path, node.Line)
}

// parseRules parses the rules sequence.
func parseRules(node *yaml.Node, path string) ([]store.Rule, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, &ParseError{Message: "rules must be a sequence", Location: loc(path, node)}
	}
	if len(node.Content) > MaxRulesPerFile {
		return nil, &ParseError{
			Message:  fmt.Sprintf("%d rules exceed maximum %d", len(node.Content), MaxRulesPerFile),
			Location: loc(path, node),
		}
	}

	seen := make(map[string]bool)
	rules := make([]store.Rule, 0, len(node.Content))
	for _, item := range node.Content {
		rule, err := parseRule(item, path)
		if err != nil {
			return nil, err
		}
		if seen[rule.Name] {
			return nil, &ParseError{
				Message:  fmt.Sprintf("duplicate rule '%s'", rule.Name),
				Location: loc(path, item),
			}
		}
		seen[rule.Name] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// parseRule parses a single rule mapping. Rules are enabled unless they say otherwise.
func parseRule(node *yaml.Node, path string) (store.Rule, error) {
	rule := store.Rule{Enabled: true}
	if node.Kind != yaml.MappingNode {
		return rule, &ParseError{Message: "rule must be a mapping", Location: loc(path, node)}
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		var err error
		switch key {
		case "name":
			rule.Name, err = scalarString(val, path)
		case "description":
			rule.Description, err = scalarString(val, path)
		case "pattern":
			rule.Pattern, err = scalarString(val, path)
			rule.Pattern = strings.TrimRight(rule.Pattern, "\n")
		case "actions":
			rule.Actions, err = stringList(val, path)
		case "tags":
			rule.Tags, err = stringList(val, path)
		case "enabled":
			rule.Enabled, err = scalarBool(val, path)
		default:
			err = &ParseError{Message: fmt.Sprintf("unknown key '%s' in rule", key), Location: loc(path, node.Content[i])}
		}
		if err != nil {
			return rule, err
		}
	}

	if rule.Name == "" {
		return rule, &ParseError{Message: "rule must have a 'name'", Location: loc(path, node)}
	}
	if strings.TrimSpace(rule.Pattern) == "" {
		return rule, &ParseError{
			Message:  "rule must have a 'pattern'",
			Location: fmt.Sprintf("rule '%s' in %s", rule.Name, loc(path, node)),
		}
	}
	return rule, nil
}

// parseTests parses the tests sequence.
func parseTests(node *yaml.Node, path string) ([]TestCase, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, &ParseError{Message: "tests must be a sequence", Location: loc(path, node)}
	}

	tests := make([]TestCase, 0, len(node.Content))
	for n, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, &ParseError{Message: "test must be a mapping", Location: loc(path, item)}
		}
		tc := TestCase{Name: fmt.Sprintf("test-%d", n+1), Vars: map[string]interface{}{}}
		for i := 0; i+1 < len(item.Content); i += 2 {
			key := item.Content[i].Value
			val := item.Content[i+1]

			var err error
			switch key {
			case "name":
				tc.Name, err = scalarString(val, path)
			case "vars":
				vars, ok := nodeToInterface(val).(map[string]interface{})
				if !ok {
					err = &ParseError{Message: "vars must be a mapping", Location: loc(path, val)}
				}
				tc.Vars = vars
			case "expect":
				tc.Expect, err = stringList(val, path)
			default:
				err = &ParseError{Message: fmt.Sprintf("unknown key '%s' in test", key), Location: loc(path, item.Content[i])}
			}
			if err != nil {
				return nil, err
			}
		}
		tests = append(tests, tc)
	}
	return tests, nil
}

func scalarString(node *yaml.Node, path string) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", &ParseError{Message: "expected a string", Location: loc(path, node)}
	}
	return node.Value, nil
}

func scalarBool(node *yaml.Node, path string) (bool, error) {
	if node.Kind == yaml.ScalarNode {
		if b, ok := scalarToInterface(node).(bool); ok {
			return b, nil
		}
	}
	return false, &ParseError{Message: "expected a boolean", Location: loc(path, node)}
}

// stringList accepts a sequence of scalars or a single scalar.
func stringList(node *yaml.Node, path string) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil, nil
		}
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			s, err := scalarString(item, path)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, &ParseError{Message: "expected a list of strings", Location: loc(path, node)}
}

// nodeToInterface converts a yaml.Node to a Go interface{}.
func nodeToInterface(node *yaml.Node) interface{} {
	switch node.Kind {
	case yaml.ScalarNode:
		return scalarToInterface(node)
	case yaml.SequenceNode:
		result := make([]interface{}, len(node.Content))
		for i, item := range node.Content {
			result[i] = nodeToInterface(item)
		}
		return result
	case yaml.MappingNode:
		result := make(map[string]interface{})
		for i := 0; i+1 < len(node.Content); i += 2 {
			result[node.Content[i].Value] = nodeToInterface(node.Content[i+1])
		}
		return result
	case yaml.AliasNode:
		return nodeToInterface(node.Alias)
	}
	return nil
}

// scalarToInterface converts a YAML scalar node to the matching Go type.
func scalarToInterface(node *yaml.Node) interface{} {
	switch node.ShortTag() {
	case "!!null":
		return nil
	case "!!bool":
		switch strings.ToLower(node.Value) {
		case "true", "yes", "on":
			return true
		}
		return false
	case "!!int":
		if i, err := strconv.ParseInt(node.Value, 0, 64); err == nil {
			return i
		}
	case "!!float":
		if f, err := strconv.ParseFloat(node.Value, 64); err == nil {
			return f
		}
	}
	return node.Value
}
