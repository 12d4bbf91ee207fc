// Package api implements the REST API for checking, evaluating and managing
// rules.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/lemonberrylabs/ruleengine/pkg/runtime"
	"github.com/lemonberrylabs/ruleengine/pkg/store"
	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// DefaultBodyLimit caps request bodies.
const DefaultBodyLimit = 1 << 20

// Server is the REST API server.
type Server struct {
	app     *fiber.App
	store   *store.Store
	engine  *runtime.Engine
	logger  *slog.Logger
	varOpts []runtime.VarsOption
	metrics     http.Handler
	metricsPath string
	limit       int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetricsHandler serves h at GET path, "/metrics" when path is empty.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithVarsOptions applies opts to the variables built for every request,
// typically to register deferred-variable loaders.
func WithVarsOptions(opts ...runtime.VarsOption) Option {
	return func(s *Server) { s.varOpts = append(s.varOpts, opts...) }
}

// WithBodyLimit overrides DefaultBodyLimit.
func WithBodyLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.limit = n
		}
	}
}

// New creates a new API server.
func New(st *store.Store, engine *runtime.Engine, opts ...Option) *Server {
	srv := &Server{
		store:  st,
		engine: engine,
		logger:      slog.Default(),
		metricsPath: "/metrics",
		limit:       DefaultBodyLimit,
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.logger = srv.logger.With("component", "api")

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             srv.limit,
		ErrorHandler:          srv.handleError,
	})
	app.Use(recover.New())
	app.Use(requestid.New())

	app.Post("/v1/syntax\\:check", srv.checkSyntax)
	app.Post("/v1/expressions\\:evaluate", srv.evaluate)

	app.Post("/v1/rules\\:test", srv.testRules)
	app.Post("/v1/rules", srv.createRule)
	app.Get("/v1/rules", srv.listRules)
	app.Get("/v1/rules/:rule", srv.getRule)
	app.Patch("/v1/rules/:rule", srv.updateRule)
	app.Delete("/v1/rules/:rule", srv.deleteRule)
	app.Get("/v1/rules/:rule/history", srv.ruleHistory)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "rules": srv.store.Len()})
	})
	if srv.metrics != nil {
		app.Get(srv.metricsPath, adaptor.HTTPHandler(srv.metrics))
	}

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// apiError is an error with an HTTP status attached.
type apiError struct {
	code    int
	status  string
	message string
	detail  *errorDetail
}

func (e *apiError) Error() string { return e.message }

// errorDetail describes a rule error in responses.
type errorDetail struct {
	Kind     string   `json:"kind"`
	Category string   `json:"category"`
	Position int      `json:"position"`
	Message  string   `json:"message"`
	Params   []string `json:"params,omitempty"`
}

func ruleErrorDetail(err error) *errorDetail {
	re, ok := types.AsRuleError(err)
	if !ok {
		return nil
	}
	return &errorDetail{
		Kind:     string(re.Kind),
		Category: re.Category.String(),
		Position: re.Pos,
		Message:  re.Message,
		Params:   re.ParamStrings(),
	}
}

func invalidArgument(msg string) *apiError {
	return &apiError{code: fiber.StatusBadRequest, status: "INVALID_ARGUMENT", message: msg}
}

// toAPIError maps domain errors onto HTTP statuses.
func toAPIError(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return &apiError{code: fe.Code, status: statusName(fe.Code), message: fe.Message}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &apiError{code: fiber.StatusNotFound, status: "NOT_FOUND", message: err.Error()}
	case errors.Is(err, store.ErrAlreadyExists):
		return &apiError{code: fiber.StatusConflict, status: "ALREADY_EXISTS", message: err.Error()}
	case errors.Is(err, store.ErrInvalid):
		return &apiError{code: fiber.StatusBadRequest, status: "INVALID_ARGUMENT", message: err.Error(), detail: ruleErrorDetail(err)}
	}
	if re, ok := types.AsRuleError(err); ok {
		ae := &apiError{message: re.Error(), detail: ruleErrorDetail(re)}
		switch {
		case re.Kind == types.KindTimeout:
			ae.code, ae.status = fiber.StatusGatewayTimeout, "DEADLINE_EXCEEDED"
		case re.Category == types.CategorySyntax:
			ae.code, ae.status = fiber.StatusBadRequest, "INVALID_ARGUMENT"
		case re.Kind == types.KindInternal:
			ae.code, ae.status = fiber.StatusInternalServerError, "INTERNAL"
		default:
			ae.code, ae.status = fiber.StatusUnprocessableEntity, "FAILED_PRECONDITION"
		}
		return ae
	}
	return &apiError{code: fiber.StatusInternalServerError, status: "INTERNAL", message: err.Error()}
}

func statusName(code int) string {
	switch code {
	case fiber.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "UNIMPLEMENTED"
	case fiber.StatusRequestEntityTooLarge:
		return "RESOURCE_EXHAUSTED"
	}
	return "INTERNAL"
}

// handleError renders every handler error in the
// {"error":{"code","message","status"}} envelope.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	ae := toAPIError(err)
	if ae.code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"request_id", c.Locals(requestid.ConfigDefault.ContextKey),
			"error", err)
	}
	body := fiber.Map{
		"code":    ae.code,
		"message": ae.message,
		"status":  ae.status,
	}
	if ae.detail != nil {
		body["details"] = ae.detail
	}
	return c.Status(ae.code).JSON(fiber.Map{"error": body})
}
