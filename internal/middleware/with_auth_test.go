package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-grader/internal/middleware"
)

func withIdentity(userID interface{}, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID != nil {
			c.Locals("user_id", userID)
		}
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	}
}

func TestWithAuthGraderAllowsTeacherAndAdmin(t *testing.T) {
	for _, role := range []string{"Teacher", "admin"} {
		app := fiber.New()
		app.Use(withIdentity(uint(1), role))
		app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusNoContent)
		}, middleware.AuthOptions{Role: middleware.AuthRoleGrader}))

		resp := perform(t, app)
		require.Equal(t, fiber.StatusNoContent, resp.StatusCode, role)
	}
}

func TestWithAuthGraderRejectsStudent(t *testing.T) {
	app := fiber.New()
	app.Use(withIdentity(uint(10), "student"))
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	}, middleware.AuthOptions{Role: middleware.AuthRoleGrader}))

	resp := perform(t, app)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestWithAuthStudentRole(t *testing.T) {
	app := fiber.New()
	app.Use(withIdentity(uint(10), "Student"))
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	}, middleware.AuthOptions{Role: middleware.AuthRoleStudent}))

	resp := perform(t, app)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestWithAuthAnyRequiresUserWhenAsked(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true}))

	resp := perform(t, app)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWithAuthAnyAllowsAnonymousByDefault(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{Role: middleware.AuthRoleAny}))

	resp := perform(t, app)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func perform(t *testing.T, app *fiber.App) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}
