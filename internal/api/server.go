package api

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/board-automation/internal/metrics"
	"github.com/p-blackswan/board-automation/internal/requestid"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
}

// Server is the automation API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures a new API server.
func NewServer(cfg ServerConfig, handlers *Handlers, met *metrics.Metrics, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:      app,
		handlers: handlers,
		logger:   logger.With().Str("component", "api_server").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg, logger)
	s.setupRoutes(handlers, met)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, logger zerolog.Logger) {
	// Recovery middleware
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware: honor an inbound ID, mint one otherwise.
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.With(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	// CORS middleware
	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		}))
	}

	// Rate limiter
	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	// Auth middleware
	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, logger))

	// Audit middleware (log every request, skipping noisy probes)
	s.app.Use(func(c *fiber.Ctx) error {
		if probePath(c.Path()) {
			return c.Next()
		}

		reqLogger := requestid.Logger(c.UserContext(), logger)
		reqLogger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Msg("api request")

		return c.Next()
	})
}

// probePath reports whether the path is a health or metrics probe, which
// bypasses auth, rate limiting, and audit logging.
func probePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

func (s *Server) setupRoutes(h *Handlers, met *metrics.Metrics) {
	// Probe endpoints (no auth required, handled in auth middleware)
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	// Prometheus metrics
	if met != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(met.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	// API v1 routes
	v1 := s.app.Group("/api/v1")

	// Rule collection per project
	v1.Get("/projects/:projectID/rules", h.ListRules)
	v1.Post("/projects/:projectID/rules", requireRole(RoleOperator), h.CreateRule)
	v1.Post("/projects/:projectID/rules/pause-all", requireRole(RoleOperator), h.PauseAll)
	v1.Post("/projects/:projectID/rules/resume-all", requireRole(RoleOperator), h.ResumeAll)
	v1.Post("/projects/:projectID/rules/enable-all", requireRole(RoleOperator), h.EnableAll)

	// Single rule
	v1.Get("/rules/:id", h.GetRule)
	v1.Put("/rules/:id", requireRole(RoleOperator), h.UpdateRule)
	v1.Delete("/rules/:id", requireRole(RoleOperator), h.DeleteRule)
	v1.Post("/rules/:id/enable", requireRole(RoleOperator), h.EnableRule)
	v1.Post("/rules/:id/disable", requireRole(RoleOperator), h.DisableRule)
	v1.Post("/rules/:id/run", requireRole(RoleOperator), h.RunRule)
	v1.Post("/rules/:id/dry-run", h.DryRunRule)
	v1.Get("/rules/:id/executions", h.ListExecutions)

	// Board event ingestion
	v1.Post("/events", requireRole(RoleOperator), h.IngestEvent)

	// Undo
	v1.Get("/undo", h.PeekUndo)
	v1.Post("/undo", requireRole(RoleOperator), h.PerformUndo)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		// Don't leak internal details in production
		if code == fiber.StatusInternalServerError {
			if !strings.Contains(detail, "test") {
				detail = "An internal error occurred"
			}
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    "Internal Server Error",
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
