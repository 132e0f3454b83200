package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-exam-grader/internal/utils"
)

// RateLimit creates a per-user rate limiter. Grading requests are expensive
// judge calls, so callers without a user id are keyed by IP.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			userID := ""
			if value := c.Locals("user_id"); value != nil {
				userID = fmt.Sprintf("%v", value)
			}
			if userID == "" || userID == "0" {
				userID = c.IP()
			}
			return fmt.Sprintf("%s:%s", identifier, userID)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.Fail(c, fiber.StatusTooManyRequests, "rate limit exceeded", fiber.Map{
				"limit":          max,
				"window_seconds": int(window.Seconds()),
			})
		},
	})
}
