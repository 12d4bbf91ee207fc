package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, s Store, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v1"), time.Minute))
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	// last writer wins
	require.NoError(t, s.Set(ctx, "k", []byte("v2"), time.Minute))
	got, _, _ = s.Get(ctx, "k")
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Set(ctx, "forever", []byte("x"), 0))

	clock.Advance(2 * time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry should have expired")

	_, ok, err = s.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok, "zero ttl never expires")
}

func TestMemoryStore(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore()
	s.now = clock.Now
	storeContract(t, s, clock)

	require.NoError(t, s.Set(context.Background(), "short", []byte("y"), time.Second))
	clock.Advance(time.Hour)
	n, err := s.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Set(context.Background(), "k", buf, 0))
	buf[0] = 'z'
	got, _, _ := s.Get(context.Background(), "k")
	assert.Equal(t, "abc", string(got))
}

func TestSQLiteStore(t *testing.T) {
	clock := newClock()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer s.Close()
	s.now = clock.Now

	storeContract(t, s, clock)

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))
	clock.Advance(time.Minute)

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	// "k" from the contract run and "a" are expired.
	assert.Equal(t, 2, n)

	_, ok, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore("")
	assert.Error(t, err)
}

func TestNopStore(t *testing.T) {
	var s Store = NopStore{}
	require.NoError(t, s.Set(context.Background(), "k", []byte("v"), 0))
	_, ok, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemo(t *testing.T) {
	m := NewMemo(0)
	args := []types.Value{types.NewInt(1)}

	_, ok := m.Get("lcase", args)
	assert.False(t, ok)

	m.Put("lcase", args, types.NewString("one"))
	v, ok := m.Get("lcase", args)
	require.True(t, ok)
	assert.Equal(t, "one", v.AsString())

	_, ok = m.Get("lcase", []types.Value{types.NewString("1")})
	assert.False(t, ok, "string and int arguments must not share a key")
	_, ok = m.Get("lcase", []types.Value{types.NewFloat(1)})
	assert.False(t, ok, "float and int arguments must not share a key")
	_, ok = m.Get("ucase", args)
	assert.False(t, ok)

	hits, misses := m.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 4, misses)
}

func TestMemoArrayKeys(t *testing.T) {
	m := NewMemo(10)
	a := []types.Value{types.NewStringArray([]string{"a,b"})}
	b := []types.Value{types.NewStringArray([]string{"a", "b"})}
	m.Put("count", a, types.NewInt(1))
	_, ok := m.Get("count", b)
	assert.False(t, ok)
}

func TestMemoClearsWhenFull(t *testing.T) {
	m := NewMemo(DefaultMemoSize)
	for i := 0; i < DefaultMemoSize; i++ {
		m.Put("f", []types.Value{types.NewInt(int64(i))}, types.True)
	}
	assert.Equal(t, DefaultMemoSize, m.Len())

	// Overwriting an existing key does not count as growth.
	m.Put("f", []types.Value{types.NewInt(0)}, types.False)
	assert.Equal(t, DefaultMemoSize, m.Len())

	m.Put("f", []types.Value{types.NewInt(-1)}, types.True)
	assert.Equal(t, 1, m.Len())

	m.Reset()
	assert.Equal(t, 0, m.Len())
}
