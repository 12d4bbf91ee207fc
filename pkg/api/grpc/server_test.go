package grpcapi

import (
	"context"
	"log/slog"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
	"github.com/lemonberrylabs/ruleengine/pkg/stdlib"
	"github.com/lemonberrylabs/ruleengine/pkg/store"
)

func startTestServer(t *testing.T) (*grpc.ClientConn, *store.Store) {
	t.Helper()
	engine := runtime.NewEngine(stdlib.NewRegistry())
	st := store.New(store.WithValidator(engine.CheckSyntax))
	srv := New(st, engine, slog.New(slog.DiscardHandler))

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go srv.grpc.Serve(lis)
	t.Cleanup(srv.grpc.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, st
}

func call(t *testing.T, conn *grpc.ClientConn, method string, req map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(context.Background(), method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func TestCheckSyntax(t *testing.T) {
	conn, _ := startTestServer(t)

	resp, err := call(t, conn, CheckSyntaxMethod, map[string]interface{}{"expression": `1 + 1 == 2`})
	if err != nil {
		t.Fatalf("CheckSyntax: %v", err)
	}
	if resp["valid"] != true {
		t.Errorf("valid = %v, want true", resp["valid"])
	}

	resp, err = call(t, conn, CheckSyntaxMethod, map[string]interface{}{"expression": `1 +`})
	if err != nil {
		t.Fatalf("CheckSyntax: %v", err)
	}
	if resp["valid"] != false {
		t.Fatalf("valid = %v, want false", resp["valid"])
	}
	detail := resp["error"].(map[string]interface{})
	if detail["category"] != "syntax" {
		t.Errorf("category = %v, want syntax", detail["category"])
	}
}

func TestEvaluate(t *testing.T) {
	conn, _ := startTestServer(t)

	resp, err := call(t, conn, EvaluateMethod, map[string]interface{}{
		"expression": `count(groups) + user_edits`,
		"variables": map[string]interface{}{
			"groups":     []interface{}{"user", "sysop"},
			"user_edits": 3,
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp["value"] != 5.0 {
		t.Errorf("value = %v, want 5", resp["value"])
	}
	if resp["type"] != "int" {
		t.Errorf("type = %v, want int", resp["type"])
	}
}

func TestEvaluateErrorCodes(t *testing.T) {
	conn, _ := startTestServer(t)

	tests := []struct {
		expression string
		want       codes.Code
	}{
		{"1 / 0", codes.FailedPrecondition},
		{"(", codes.InvalidArgument},
	}
	for _, tt := range tests {
		_, err := call(t, conn, EvaluateMethod, map[string]interface{}{"expression": tt.expression})
		if got := status.Code(err); got != tt.want {
			t.Errorf("%q: code = %v, want %v (%v)", tt.expression, got, tt.want, err)
		}
	}
}

func TestTestRules(t *testing.T) {
	conn, st := startTestServer(t)
	for _, r := range []store.Rule{
		{Name: "long-text", Pattern: `length(added_text) > 5`, Tags: []string{"size"}, Enabled: true},
		{Name: "short-text", Pattern: `length(added_text) < 5`, Tags: []string{"size"}, Enabled: true},
		{Name: "other", Pattern: `true`, Enabled: true},
	} {
		if _, err := st.CreateRule(r); err != nil {
			t.Fatalf("CreateRule: %v", err)
		}
	}

	resp, err := call(t, conn, TestRulesMethod, map[string]interface{}{
		"tag":       "size",
		"variables": map[string]interface{}{"added_text": "hello world"},
	})
	if err != nil {
		t.Fatalf("TestRules: %v", err)
	}
	matched := resp["matched"].([]interface{})
	if len(matched) != 1 || matched[0] != "long-text" {
		t.Errorf("matched = %v, want [long-text]", matched)
	}
	if n := len(resp["results"].([]interface{})); n != 2 {
		t.Errorf("got %d results, want 2", n)
	}

	r, err := st.GetRule("long-text")
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if r.Hits != 1 {
		t.Errorf("hits = %d, want 1", r.Hits)
	}

	_, err = call(t, conn, TestRulesMethod, map[string]interface{}{"rules": []interface{}{"missing"}})
	if status.Code(err) != codes.NotFound {
		t.Errorf("code = %v, want NotFound", status.Code(err))
	}
}
