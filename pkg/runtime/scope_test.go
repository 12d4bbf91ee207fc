package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lemonberrylabs/ruleengine/pkg/expr"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

func TestVarsCaseInsensitive(t *testing.T) {
	v := NewVars()
	v.SetVar("User_Name", types.NewString("bob"))

	got, ok, err := v.Get("USER_NAME")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.AsString() != "bob" {
		t.Errorf("got %v, want bob", got)
	}
	if !v.IsReservedName("user_name") {
		t.Error("host variable should be reserved")
	}
	if err := v.Set("user_NAME", types.Null); err == nil {
		t.Error("assigning a reserved name should fail")
	}
}

func TestVarsChildScopes(t *testing.T) {
	root := NewVars()
	root.SetVar("shared", types.NewInt(1))

	a := root.Child()
	b := root.Child()
	if err := a.Set("local", types.NewInt(2)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, ok, _ := a.Get("shared"); !ok {
		t.Error("child should see parent variables")
	}
	if _, ok, _ := b.Get("local"); ok {
		t.Error("sibling should not see another child's assignment")
	}
	if _, ok, _ := root.Get("local"); ok {
		t.Error("parent should not see a child's assignment")
	}
	if !a.IsReservedName("SHARED") {
		t.Error("reserved names are inherited")
	}

	exported := a.Export()
	if len(exported) != 1 || exported["local"].AsInt() != 2 {
		t.Errorf("Export = %v, want only local", exported)
	}
	if got := strings.Join(a.Names(), ","); got != "local,shared" {
		t.Errorf("Names = %q", got)
	}
}

func TestVarsDeferredResolvedOnce(t *testing.T) {
	var calls atomic.Int32
	v := NewVars(WithLoader("page-age", func(_ context.Context, params []types.Value) (types.Value, error) {
		calls.Add(1)
		return types.NewInt(int64(len(params[0].AsString()))), nil
	}))
	v.SetDeferred("page_age", Deferred{Method: "page-age", Params: []types.Value{types.NewString("Main_Page")}})

	if !v.Exists("page_age") {
		t.Fatal("deferred variable should exist before resolution")
	}
	if calls.Load() != 0 {
		t.Fatal("Exists must not resolve")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			child := v.Child()
			got, ok, err := child.Get("PAGE_AGE")
			if err != nil || !ok || got.AsInt() != 9 {
				t.Errorf("Get = %v, %v, %v", got, ok, err)
			}
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
	if !v.IsReservedName("page_age") {
		t.Error("deferred variable should be reserved")
	}
}

func TestVarsDeferredErrors(t *testing.T) {
	boom := errors.New("backend down")
	v := NewVars(WithLoader("fails", func(context.Context, []types.Value) (types.Value, error) {
		return types.Null, boom
	}))
	v.SetDeferred("a", Deferred{Method: "fails"})
	v.SetDeferred("b", Deferred{Method: "missing"})

	if _, _, err := v.Get("a"); !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped loader error", err)
	}
	if _, _, err := v.Get("b"); err == nil {
		t.Error("expected error for unknown method")
	}

	node, err := expr.Parse("a == 1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = expr.Evaluate(node, v)
	re, ok := types.AsRuleError(err)
	if !ok || re.Kind != types.KindVariableResolver {
		t.Errorf("got %v, want variableresolver", err)
	}
}

func TestVarsLoaderContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "tenant-1")
	v := NewVars(WithContext(ctx), WithLoader("tenant", func(ctx context.Context, _ []types.Value) (types.Value, error) {
		return types.NewString(ctx.Value(key{}).(string)), nil
	}))
	v.SetDeferred("tenant", Deferred{Method: "tenant"})

	got, _, err := v.Get("tenant")
	if err != nil {
		t.Fatal(err)
	}
	if got.AsString() != "tenant-1" {
		t.Errorf("got %v, want tenant-1", got)
	}
}

func TestVarsFromJSON(t *testing.T) {
	v := VarsFromJSON(map[string]interface{}{
		"Edits": float64(3),
		"tags":  []interface{}{"a", "b"},
		"score": 0.5,
	})

	edits, _, _ := v.Get("edits")
	if edits.Type() != types.TypeInt || edits.AsInt() != 3 {
		t.Errorf("edits = %#v, want int 3", edits)
	}
	tags, _, _ := v.Get("tags")
	if tags.Len() != 2 {
		t.Errorf("tags = %#v", tags)
	}
	score, _, _ := v.Get("score")
	if score.Type() != types.TypeFloat {
		t.Errorf("score = %#v, want float", score)
	}
}
