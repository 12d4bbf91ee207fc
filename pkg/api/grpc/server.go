// Package grpcapi exposes the rule engine as the ruleengine.v1.RuleEngine
// gRPC service. Requests and responses are google.protobuf.Struct messages
// carrying the same fields as the REST API.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lemonberrylabs/ruleengine/pkg/expr"
	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
	"github.com/lemonberrylabs/ruleengine/pkg/store"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ruleengine.v1.RuleEngine"

// Full method names.
const (
	CheckSyntaxMethod = "/" + ServiceName + "/CheckSyntax"
	EvaluateMethod    = "/" + ServiceName + "/Evaluate"
	TestRulesMethod   = "/" + ServiceName + "/TestRules"
)

// RuleEngineServer is the server API for the RuleEngine service.
type RuleEngineServer interface {
	CheckSyntax(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TestRules(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(call func(RuleEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RuleEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(RuleEngineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the RuleEngine service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuleEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckSyntax", Handler: unaryHandler(RuleEngineServer.CheckSyntax, CheckSyntaxMethod)},
		{MethodName: "Evaluate", Handler: unaryHandler(RuleEngineServer.Evaluate, EvaluateMethod)},
		{MethodName: "TestRules", Handler: unaryHandler(RuleEngineServer.TestRules, TestRulesMethod)},
	},
	Metadata: "ruleengine/v1/ruleengine.proto",
}

// Server implements RuleEngineServer.
type Server struct {
	store   *store.Store
	engine  *runtime.Engine
	logger  *slog.Logger
	varOpts []runtime.VarsOption
	grpc    *grpc.Server
}

var _ RuleEngineServer = (*Server)(nil)

// New creates a new gRPC server. varOpts are applied to the variables of
// every request.
func New(st *store.Store, engine *runtime.Engine, logger *slog.Logger, varOpts ...runtime.VarsOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:   st,
		engine:  engine,
		logger:  logger.With("component", "grpc"),
		varOpts: varOpts,
	}
	gs := grpc.NewServer(grpc.UnaryInterceptor(srv.logCalls))
	gs.RegisterService(&ServiceDesc, srv)
	srv.grpc = gs
	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.grpc.Serve(lis)
}

// GracefulStop gracefully stops the gRPC server.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

func (s *Server) logCalls(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil && status.Code(err) == codes.Internal {
		s.logger.Error("rpc failed", "method", info.FullMethod, "error", err)
	}
	return resp, err
}

// CheckSyntax reports whether the "expression" field parses.
func (s *Server) CheckSyntax(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	text := stringField(req, "expression")
	out := map[string]interface{}{"valid": true}
	if err := s.engine.CheckSyntax(text); err != nil {
		re, ok := types.AsRuleError(err)
		if !ok {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out["valid"] = false
		out["error"] = errorToMap(re)
	}
	return toStruct(out)
}

// Evaluate evaluates the "expression" field against "variables".
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.engine.Evaluate(ctx, stringField(req, "expression"), s.buildVars(req))
	if err != nil {
		return nil, toStatus(err)
	}
	vars := make(map[string]interface{}, len(res.Variables))
	for k, v := range res.Variables {
		vars[k] = v.ToGoValue()
	}
	return toStruct(map[string]interface{}{
		"value":      res.Value.ToGoValue(),
		"type":       res.Value.Type().String(),
		"result":     expr.ResultBool(res.Value),
		"conditions": res.Conditions,
		"variables":  vars,
	})
}

// TestRules runs the enabled stored rules, optionally narrowed by "tag" or
// by a "rules" list of names, against "variables".
func (s *Server) TestRules(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var selected []*store.Rule
	if names := listField(req, "rules"); len(names) > 0 {
		for _, name := range names {
			r, err := s.store.GetRule(name)
			if err != nil {
				return nil, toStatus(err)
			}
			selected = append(selected, r)
		}
	} else {
		selected = s.store.ListRules(store.ListFilter{Tag: stringField(req, "tag"), EnabledOnly: true})
	}
	if len(selected) > runtime.MaxRulesPerRun {
		return nil, status.Errorf(codes.InvalidArgument, "%d rules selected, maximum is %d", len(selected), runtime.MaxRulesPerRun)
	}

	rules := make([]runtime.Rule, len(selected))
	for i, r := range selected {
		rules[i] = runtime.Rule{Name: r.Name, Pattern: r.Pattern}
	}
	run, err := s.engine.Run(ctx, rules, s.buildVars(req))
	if err != nil {
		return nil, toStatus(err)
	}

	matched := run.Matched()
	if len(matched) > 0 {
		s.store.RecordHits(matched)
	}
	results := make([]interface{}, len(run.Rules))
	for i, rr := range run.Rules {
		item := map[string]interface{}{
			"name":       rr.Name,
			"matched":    rr.Matched,
			"conditions": rr.Conditions,
			"overLimit":  rr.OverLimit,
			"skipped":    rr.Skipped,
		}
		if rr.Err != nil {
			if re, ok := types.AsRuleError(rr.Err); ok {
				item["error"] = errorToMap(re)
			} else {
				item["error"] = map[string]interface{}{"message": rr.Err.Error()}
			}
		}
		results[i] = item
	}
	matchedList := make([]interface{}, len(matched))
	for i, m := range matched {
		matchedList[i] = m
	}
	return toStruct(map[string]interface{}{
		"runId":        run.RunID,
		"matched":      matchedList,
		"conditions":   run.Conditions,
		"limitReached": run.LimitReached,
		"results":      results,
	})
}

func (s *Server) buildVars(req *structpb.Struct) *runtime.Vars {
	var input map[string]interface{}
	if v, ok := req.GetFields()["variables"]; ok && v.GetStructValue() != nil {
		input = v.GetStructValue().AsMap()
	}
	return runtime.VarsFromJSON(input, s.varOpts...)
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func listField(req *structpb.Struct, name string) []string {
	var out []string
	for _, v := range req.GetFields()[name].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func errorToMap(re *types.RuleError) map[string]interface{} {
	params := make([]interface{}, len(re.Params))
	for i, p := range re.ParamStrings() {
		params[i] = p
	}
	return map[string]interface{}{
		"kind":     string(re.Kind),
		"category": re.Category.String(),
		"position": re.Pos,
		"message":  re.Message,
		"params":   params,
	}
}

func toStruct(m map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps engine and store errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if re, ok := types.AsRuleError(err); ok {
		switch {
		case re.Kind == types.KindTimeout:
			return status.Error(codes.DeadlineExceeded, re.Error())
		case re.Category == types.CategorySyntax:
			return status.Error(codes.InvalidArgument, re.Error())
		case re.Kind == types.KindInternal:
			return status.Error(codes.Internal, re.Error())
		}
		return status.Error(codes.FailedPrecondition, re.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
