package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-grader/internal/utils"
)

// Auth role constants used by WithAuth.
const (
	AuthRoleAny     = "any"
	AuthRoleGrader  = "grader"
	AuthRoleStudent = "student"
)

// GraderRoles may create sessions and grade documents.
var GraderRoles = []string{"teacher", "admin"}

// AuthOptions configures WithAuth.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a single handler with authentication and role guards.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser || role != AuthRoleAny

	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id")
		if requireUser && userID == nil {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		currentRole := normalizeRoleValue(c.Locals("user_role"))
		switch role {
		case AuthRoleAny:
		case AuthRoleGrader:
			if !isGrader(currentRole) {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"required": GraderRoles})
			}
		default:
			if currentRole != role {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"required": []string{role}})
			}
		}

		return handler(c)
	}
}

func isGrader(role string) bool {
	for _, allowed := range GraderRoles {
		if role == allowed {
			return true
		}
	}
	return false
}
