package rulefile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lemonberrylabs/ruleengine/pkg/store"
)

// Checker validates a rule pattern, typically expr.CheckSyntax bound to a
// function registry.
type Checker func(pattern string) error

// Set is the combined content of every rule file under a path.
type Set struct {
	Files []*File
}

// Rules returns the rules of all files in load order.
func (s *Set) Rules() []store.Rule {
	var out []store.Rule
	for _, f := range s.Files {
		out = append(out, f.Rules...)
	}
	return out
}

// Tests returns the test cases of all files in load order.
func (s *Set) Tests() []TestCase {
	var out []TestCase
	for _, f := range s.Files {
		out = append(out, f.Tests...)
	}
	return out
}

// Loader reads rule files from a file or directory.
type Loader struct {
	path   string
	check  Checker
	logger *slog.Logger
}

// NewLoader creates a loader for path. check may be nil.
func NewLoader(path string, check Checker, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, check: check, logger: logger}
}

// Load reads every .yaml and .yml file under the loader's path. Files are
// read in lexical order. All problems are reported together; when the
// returned error is non-nil the Set holds only the files that were valid.
func (l *Loader) Load(ctx context.Context) (*Set, error) {
	paths, err := l.files()
	if err != nil {
		return nil, err
	}

	set := &Set{}
	var errs []error
	owner := make(map[string]string)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := l.LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := claimNames(owner, f); err != nil {
			errs = append(errs, err)
			continue
		}
		set.Files = append(set.Files, f)
	}

	l.logger.Info("loaded rule files",
		"path", l.path,
		"file_count", len(set.Files),
		"rule_count", len(set.Rules()),
		"error_count", len(errs),
	)
	return set, errors.Join(errs...)
}

func claimNames(owner map[string]string, f *File) error {
	for _, r := range f.Rules {
		if other, ok := owner[r.Name]; ok {
			return &ParseError{
				Message:  fmt.Sprintf("rule '%s' is already defined in %s", r.Name, other),
				Location: f.Path,
			}
		}
	}
	for _, r := range f.Rules {
		owner[r.Name] = f.Path
	}
	return nil
}

// LoadFile reads and checks a single rule file.
func (l *Loader) LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}
	f, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	if l.check != nil {
		for _, r := range f.Rules {
			if err := l.check(r.Pattern); err != nil {
				return nil, &ParseError{
					Message:  err.Error(),
					Location: fmt.Sprintf("rule '%s' in %s", r.Name, path),
				}
			}
		}
	}

	l.logger.Debug("loaded rule file",
		"path", path,
		"rule_count", len(f.Rules),
		"test_count", len(f.Tests),
	)
	return f, nil
}

func (l *Loader) files() ([]string, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %q: %w", l.path, err)
	}
	if !info.IsDir() {
		return []string{l.path}, nil
	}

	var paths []string
	err = filepath.WalkDir(l.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != l.path {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && isRuleFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %q: %w", l.path, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func isRuleFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Syncer mirrors loaded rule sets into a store. Rules that disappear from the
// files are deleted from the store; rules created through other means are
// left alone.
type Syncer struct {
	store  *store.Store
	logger *slog.Logger

	mu    sync.Mutex
	owned map[string]bool
}

// NewSyncer creates a syncer writing to s.
func NewSyncer(s *store.Store, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{store: s, logger: logger, owned: make(map[string]bool)}
}

// Apply writes every rule of set to the store and removes the rules that an
// earlier Apply wrote but set no longer contains.
func (s *Syncer) Apply(set *Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	next := make(map[string]bool)
	for _, r := range set.Rules() {
		if _, err := s.store.PutRule(r); err != nil {
			errs = append(errs, err)
			continue
		}
		next[r.Name] = true
	}
	removed := 0
	for name := range s.owned {
		if next[name] {
			continue
		}
		if err := s.store.DeleteRule(name); err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	s.owned = next

	s.logger.Info("synced rule files into store", "rules", len(next), "removed", removed)
	return errors.Join(errs...)
}
