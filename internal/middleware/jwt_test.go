package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func newJWTApp(secret string) *fiber.App {
	app := fiber.New()
	app.Use(JWTProtected(secret))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("user_id"), "role": c.Locals("user_role")})
	})
	return app
}

func TestJWTProtectedAcceptsIssuedToken(t *testing.T) {
	token, err := IssueToken("secret", 42, "Teacher", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := newJWTApp("secret").Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := newJWTApp("secret")
	defaulted, err := IssueToken("secret", 1, "admin", 0)
	require.NoError(t, err)
	foreign, err := IssueToken("other", 1, "admin", time.Minute)
	require.NoError(t, err)

	cases := map[string]string{
		"missing":      "",
		"wrong scheme": "Basic abc",
		"foreign":      "Bearer " + foreign,
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, name)
	}

	// A non-positive ttl falls back to the default lifetime.
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+defaulted)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTProtectedQueryTokenOnlyForWebsocket(t *testing.T) {
	app := newJWTApp("secret")
	token, err := IssueToken("secret", 3, "teacher", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami?token="+token, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/whoami?token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken("", 1, "admin", time.Minute)
	require.ErrorIs(t, err, ErrTokenSecretMissing)
}
