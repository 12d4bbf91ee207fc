// Package store provides in-memory storage for rules and their revisions.
package store

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a rule does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a rule whose name is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalid is returned for rules that fail validation.
	ErrInvalid = errors.New("invalid rule")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// Rule represents a stored rule.
type Rule struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Pattern     string    `json:"pattern" yaml:"pattern"`
	Actions     []string  `json:"actions,omitempty" yaml:"actions,omitempty"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	RevisionID  string    `json:"revisionId" yaml:"-"`
	CreateTime  time.Time `json:"createTime" yaml:"-"`
	UpdateTime  time.Time `json:"updateTime" yaml:"-"`
	Hits        int64     `json:"hits" yaml:"-"`
	LastHit     time.Time `json:"lastHit,omitempty" yaml:"-"`
}

func (r *Rule) clone() *Rule {
	c := *r
	c.Actions = slices.Clone(r.Actions)
	c.Tags = slices.Clone(r.Tags)
	return &c
}

// HasTag reports whether the rule carries tag.
func (r *Rule) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// Revision is a snapshot of a rule taken at every write.
type Revision struct {
	RevisionID  string    `json:"revisionId"`
	Description string    `json:"description,omitempty"`
	Pattern     string    `json:"pattern"`
	Actions     []string  `json:"actions,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreateTime  time.Time `json:"createTime"`
}

// Update holds the fields of a partial update. Nil fields are left alone.
type Update struct {
	Description *string
	Pattern     *string
	Actions     *[]string
	Tags        *[]string
	Enabled     *bool
}

// ListFilter narrows ListRules.
type ListFilter struct {
	Tag         string
	EnabledOnly bool
}

// Validator checks a rule pattern before it is stored.
type Validator func(pattern string) error

// Option configures a Store.
type Option func(*Store)

// WithValidator makes the store reject patterns for which fn returns an error.
func WithValidator(fn Validator) Option {
	return func(s *Store) { s.validate = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a thread-safe in-memory storage for rules.
type Store struct {
	mu       sync.RWMutex
	rules    map[string]*Rule
	history  map[string][]Revision
	validate Validator
	now      func() time.Time
}

// New creates a new empty store.
func New(opts ...Option) *Store {
	s := &Store{
		rules:   make(map[string]*Rule),
		history: make(map[string][]Revision),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) check(name, pattern string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: name %q must match %s", ErrInvalid, name, namePattern)
	}
	if s.validate != nil {
		if err := s.validate(pattern); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
		}
	}
	return nil
}

// snapshot records the current state of r as a new revision. Callers hold s.mu.
func (s *Store) snapshot(r *Rule) {
	r.RevisionID = uuid.NewString()
	s.history[r.Name] = append(s.history[r.Name], Revision{
		RevisionID:  r.RevisionID,
		Description: r.Description,
		Pattern:     r.Pattern,
		Actions:     slices.Clone(r.Actions),
		Tags:        slices.Clone(r.Tags),
		Enabled:     r.Enabled,
		CreateTime:  r.UpdateTime,
	})
}

// CreateRule stores a new rule.
func (s *Store) CreateRule(r Rule) (*Rule, error) {
	if err := s.check(r.Name, r.Pattern); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.Name]; exists {
		return nil, fmt.Errorf("rule '%s' %w", r.Name, ErrAlreadyExists)
	}
	now := s.now()
	stored := r.clone()
	stored.CreateTime = now
	stored.UpdateTime = now
	stored.Hits = 0
	stored.LastHit = time.Time{}
	s.snapshot(stored)
	s.rules[r.Name] = stored
	return stored.clone(), nil
}

// PutRule creates the rule or replaces its definition, keeping its
// statistics. A new revision is only recorded when the definition changed.
func (s *Store) PutRule(r Rule) (*Rule, error) {
	if err := s.check(r.Name, r.Pattern); err != nil {
		return nil, err
	}

	s.mu.Lock()
	existing, ok := s.rules[r.Name]
	s.mu.Unlock()
	if !ok {
		created, err := s.CreateRule(r)
		if errors.Is(err, ErrAlreadyExists) {
			return s.PutRule(r)
		}
		return created, err
	}

	desc, pattern, actions, tags, enabled := r.Description, r.Pattern, r.Actions, r.Tags, r.Enabled
	if existing.Description == desc && existing.Pattern == pattern && existing.Enabled == enabled &&
		slices.Equal(existing.Actions, actions) && slices.Equal(existing.Tags, tags) {
		return s.GetRule(r.Name)
	}
	return s.UpdateRule(r.Name, Update{
		Description: &desc, Pattern: &pattern, Actions: &actions, Tags: &tags, Enabled: &enabled,
	})
}

// GetRule retrieves a rule by name.
func (s *Store) GetRule(name string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[name]
	if !ok {
		return nil, fmt.Errorf("rule '%s' %w", name, ErrNotFound)
	}
	return r.clone(), nil
}

// ListRules returns the rules matching f, sorted by name.
func (s *Store) ListRules(f ListFilter) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Rule
	for _, r := range s.rules {
		if f.EnabledOnly && !r.Enabled {
			continue
		}
		if f.Tag != "" && !r.HasTag(f.Tag) {
			continue
		}
		result = append(result, r.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// UpdateRule applies a partial update and records a new revision.
func (s *Store) UpdateRule(name string, u Update) (*Rule, error) {
	s.mu.RLock()
	current, ok := s.rules[name]
	var pattern string
	if ok {
		pattern = current.Pattern
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rule '%s' %w", name, ErrNotFound)
	}
	if u.Pattern != nil {
		pattern = *u.Pattern
	}
	if err := s.check(name, pattern); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[name]
	if !ok {
		return nil, fmt.Errorf("rule '%s' %w", name, ErrNotFound)
	}
	if u.Description != nil {
		r.Description = *u.Description
	}
	if u.Pattern != nil {
		r.Pattern = *u.Pattern
	}
	if u.Actions != nil {
		r.Actions = slices.Clone(*u.Actions)
	}
	if u.Tags != nil {
		r.Tags = slices.Clone(*u.Tags)
	}
	if u.Enabled != nil {
		r.Enabled = *u.Enabled
	}
	r.UpdateTime = s.now()
	s.snapshot(r)
	return r.clone(), nil
}

// DeleteRule removes a rule and its history.
func (s *Store) DeleteRule(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[name]; !ok {
		return fmt.Errorf("rule '%s' %w", name, ErrNotFound)
	}
	delete(s.rules, name)
	delete(s.history, name)
	return nil
}

// History returns the revisions of a rule, oldest first.
func (s *Store) History(name string) ([]Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs, ok := s.history[name]
	if !ok {
		return nil, fmt.Errorf("rule '%s' %w", name, ErrNotFound)
	}
	out := make([]Revision, len(revs))
	copy(out, revs)
	return out, nil
}

// RecordHits increments the hit counter of every named rule that exists.
func (s *Store) RecordHits(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, name := range names {
		if r, ok := s.rules[name]; ok {
			r.Hits++
			r.LastHit = now
		}
	}
}

// Len returns the number of stored rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
