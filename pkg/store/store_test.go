package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestCreateAndGet(t *testing.T) {
	s := New(WithClock(fixedClock()))
	created, err := s.CreateRule(Rule{Name: "spam", Pattern: "true", Tags: []string{"spam"}, Enabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, created.RevisionID)
	assert.Equal(t, created.CreateTime, created.UpdateTime)

	got, err := s.GetRule("spam")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	// Returned rules are copies.
	got.Tags[0] = "changed"
	again, _ := s.GetRule("spam")
	assert.Equal(t, []string{"spam"}, again.Tags)

	_, err = s.CreateRule(Rule{Name: "spam", Pattern: "false"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.GetRule("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidation(t *testing.T) {
	s := New(WithValidator(func(p string) error {
		if p == "bad" {
			return errors.New("syntax error")
		}
		return nil
	}))

	_, err := s.CreateRule(Rule{Name: "Bad Name", Pattern: "true"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreateRule(Rule{Name: "ok", Pattern: "bad"})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "syntax error")

	_, err = s.CreateRule(Rule{Name: "ok", Pattern: "true"})
	require.NoError(t, err)

	bad := "bad"
	_, err = s.UpdateRule("ok", Update{Pattern: &bad})
	assert.ErrorIs(t, err, ErrInvalid)
	r, _ := s.GetRule("ok")
	assert.Equal(t, "true", r.Pattern)
}

func TestUpdateRecordsHistory(t *testing.T) {
	s := New(WithClock(fixedClock()))
	first, err := s.CreateRule(Rule{Name: "r1", Pattern: "a == 1", Enabled: true})
	require.NoError(t, err)

	pattern := "a == 2"
	disabled := false
	updated, err := s.UpdateRule("r1", Update{Pattern: &pattern, Enabled: &disabled})
	require.NoError(t, err)
	assert.NotEqual(t, first.RevisionID, updated.RevisionID)
	assert.True(t, updated.UpdateTime.After(updated.CreateTime))

	revs, err := s.History("r1")
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, "a == 1", revs[0].Pattern)
	assert.True(t, revs[0].Enabled)
	assert.Equal(t, "a == 2", revs[1].Pattern)
	assert.False(t, revs[1].Enabled)
	assert.Equal(t, updated.RevisionID, revs[1].RevisionID)

	_, err = s.UpdateRule("nope", Update{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutRule(t *testing.T) {
	s := New()
	r := Rule{Name: "r1", Pattern: "x", Enabled: true}

	created, err := s.PutRule(r)
	require.NoError(t, err)

	same, err := s.PutRule(r)
	require.NoError(t, err)
	assert.Equal(t, created.RevisionID, same.RevisionID, "unchanged rule gets no new revision")

	r.Pattern = "y"
	changed, err := s.PutRule(r)
	require.NoError(t, err)
	assert.NotEqual(t, created.RevisionID, changed.RevisionID)

	revs, _ := s.History("r1")
	assert.Len(t, revs, 2)
}

func TestListAndDelete(t *testing.T) {
	s := New()
	for i, name := range []string{"c", "a", "b"} {
		_, err := s.CreateRule(Rule{Name: name, Pattern: "true", Enabled: i != 1, Tags: []string{fmt.Sprintf("t%d", i%2)}})
		require.NoError(t, err)
	}

	var names []string
	for _, r := range s.ListRules(ListFilter{}) {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	assert.Len(t, s.ListRules(ListFilter{EnabledOnly: true}), 2)
	tagged := s.ListRules(ListFilter{Tag: "t0"})
	require.Len(t, tagged, 2)
	assert.Equal(t, "b", tagged[0].Name)

	require.NoError(t, s.DeleteRule("a"))
	assert.ErrorIs(t, s.DeleteRule("a"), ErrNotFound)
	_, err := s.History("a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, s.Len())
}

func TestRecordHits(t *testing.T) {
	s := New(WithClock(fixedClock()))
	_, err := s.CreateRule(Rule{Name: "r1", Pattern: "true"})
	require.NoError(t, err)

	s.RecordHits([]string{"r1", "missing", "r1"})
	r, _ := s.GetRule("r1")
	assert.Equal(t, int64(2), r.Hits)
	assert.False(t, r.LastHit.IsZero())
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("r%d", i%5)
			_, _ = s.PutRule(Rule{Name: name, Pattern: fmt.Sprintf("%d", i)})
			s.RecordHits([]string{name})
			_ = s.ListRules(ListFilter{})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, s.Len())
}
