package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Role is the access level granted to an authenticated client.
type Role string

const (
	RoleOperator Role = "operator" // full access
	RoleReadOnly Role = "readonly" // read-only surface
)

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Mode        string // "api-key" or "none"
	APIKey      string // operator credential, env API_KEY
	ReadOnlyKey string // optional read-only credential, env READONLY_API_KEY
}

// NewAuthMiddleware validates the Authorization bearer credential and
// stores the granted role for requireRole. Probe endpoints stay open.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" {
			c.Locals("role", RoleOperator)
			return c.Next()
		}
		if probePath(c.Path()) {
			return c.Next()
		}

		header := c.Get("Authorization")
		if header == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(header, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}

		token := strings.TrimPrefix(header, "Bearer ")
		switch {
		case cfg.APIKey != "" && token == cfg.APIKey:
			c.Locals("role", RoleOperator)
		case cfg.ReadOnlyKey != "" && token == cfg.ReadOnlyKey:
			c.Locals("role", RoleReadOnly)
		default:
			logger.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized",
				"Invalid API key")
		}
		return c.Next()
	}
}

// requireRole rejects clients whose granted role is below the minimum.
func requireRole(minRole Role) fiber.Handler {
	level := map[Role]int{
		RoleReadOnly: 1,
		RoleOperator: 2,
	}

	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(Role)
		if level[role] < level[minRole] {
			return problemResponse(c, fiber.StatusForbidden,
				"insufficient_role", "Forbidden",
				"Insufficient permissions for this operation")
		}
		return c.Next()
	}
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
