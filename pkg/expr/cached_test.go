package expr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lemonberrylabs/ruleengine/pkg/cache"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// failingStore is a cache.Store whose every call fails.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store offline")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store offline")
}

const cachedRule = "names := ['a', 'b']; names[] := lcase(user); user in names & n == 10 | nope"

func runCached(t *testing.T, p *CachedParser) (types.Value, int) {
	t.Helper()
	node, err := p.Parse(context.Background(), cachedRule)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	env := newTestEnv()
	env.vars["user"] = types.NewString("a")
	ev := NewEvaluator(newTestFuncs())
	v, err := ev.Evaluate(context.Background(), node, env)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return v, ev.ConditionCount()
}

func TestCachedParserColdAndWarmAgree(t *testing.T) {
	store := cache.NewMemoryStore()
	p := NewCachedParser(store)

	coldValue, coldCount := runCached(t, p)
	warmValue, warmCount := runCached(t, p)

	assertValue(t, warmValue, coldValue)
	if coldCount != warmCount {
		t.Errorf("condition count cold=%d warm=%d", coldCount, warmCount)
	}
	assertValue(t, coldValue, types.True)
	if coldCount != 3 {
		t.Errorf("condition count = %d, want 3", coldCount)
	}

	hits, misses := p.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d hits %d misses, want 1 and 1", hits, misses)
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d entries, want 1", store.Len())
	}

	direct, err := Parse(cachedRule)
	if err != nil {
		t.Fatal(err)
	}
	cached, err := p.Parse(context.Background(), cachedRule)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(direct, cached); diff != "" {
		t.Errorf("cached tree differs from a direct parse (-direct +cached):\n%s", diff)
	}
}

func TestCachedParserWithoutWorkingStore(t *testing.T) {
	want, wantCount := runCached(t, NewCachedParser(nil))
	for name, store := range map[string]cache.Store{
		"nop":     cache.NopStore{},
		"failing": failingStore{},
	} {
		t.Run(name, func(t *testing.T) {
			p := NewCachedParser(store)
			for i := 0; i < 2; i++ {
				got, count := runCached(t, p)
				assertValue(t, got, want)
				if count != wantCount {
					t.Errorf("condition count = %d, want %d", count, wantCount)
				}
			}
			if hits, _ := p.Stats(); hits != 0 {
				t.Errorf("hits = %d, want 0", hits)
			}
		})
	}
}

func TestCachedParserDiscardsCorruptEntries(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	if err := store.Set(ctx, CacheKey("1 + 1"), []byte("garbage"), time.Hour); err != nil {
		t.Fatal(err)
	}
	var lookups []bool
	p := NewCachedParser(store, WithLookupHook(func(hit bool) { lookups = append(lookups, hit) }))

	node, err := p.Parse(ctx, "1 + 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sexpr(node); got != "(+ 1 1)" {
		t.Errorf("got %s", got)
	}
	if _, err := p.Parse(ctx, "1 + 1"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]bool{false, true}, lookups); diff != "" {
		t.Errorf("lookups mismatch (-want +got):\n%s", diff)
	}
}

func TestCachedParserDoesNotCacheErrors(t *testing.T) {
	store := cache.NewMemoryStore()
	p := NewCachedParser(store)
	for i := 0; i < 2; i++ {
		_, err := p.Parse(context.Background(), "1 +")
		if re, ok := types.AsRuleError(err); !ok || re.Kind != types.KindUnexpectedToken {
			t.Fatalf("expected unexpectedtoken, got %v", err)
		}
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d entries, want 0", store.Len())
	}
}

func TestCachedParserConcurrentMisses(t *testing.T) {
	p := NewCachedParser(cache.NewMemoryStore(), WithTTL(time.Minute))
	want, err := Parse(cachedRule)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	trees := make(chan Node, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			node, err := p.Parse(context.Background(), cachedRule)
			if err != nil {
				errs <- err
				return
			}
			trees <- node
		}()
	}
	wg.Wait()
	close(errs)
	close(trees)

	for err := range errs {
		t.Errorf("parse: %v", err)
	}
	for node := range trees {
		if diff := cmp.Diff(want, node); diff != "" {
			t.Errorf("tree mismatch (-want +got):\n%s", diff)
		}
	}
	hits, misses := p.Stats()
	if hits+misses != 16 {
		t.Errorf("lookups = %d, want 16", hits+misses)
	}
}

func TestCacheKeyTracksText(t *testing.T) {
	if CacheKey("a == 1") == CacheKey("a == 2") {
		t.Error("different rules share a cache key")
	}
	if CacheKey("a == 1") != CacheKey("a == 1") {
		t.Error("cache key is not stable")
	}
}

func TestCachedParserSkipsTreesTooDeepToStore(t *testing.T) {
	store := cache.NewMemoryStore()
	p := NewCachedParser(store)
	text := "1" + strings.Repeat("+1", MaxEncodedDepth+1000)

	want, err := Parse(text)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		got, err := p.Parse(context.Background(), text)
		if err != nil {
			t.Fatalf("parse %d: %v", i, err)
		}
		if got.Kind() != want.Kind() || got.Position() != want.Position() {
			t.Errorf("parse %d returned %s at %d, want %s at %d", i, got.Kind(), got.Position(), want.Kind(), want.Position())
		}
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d entries, want 0", store.Len())
	}
	if hits, misses := p.Stats(); hits != 0 || misses != 3 {
		t.Errorf("stats = %d hits %d misses, want 0 and 3", hits, misses)
	}
}
