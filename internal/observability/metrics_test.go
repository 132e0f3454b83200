package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesGradingCollectors(t *testing.T) {
	PairsEvaluated().WithLabelValues("judged").Inc()
	LeaderboardCache().WithLabelValues("miss").Inc()
	ProgressSubscribers().Set(2)

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `grading_pairs_evaluated_total{outcome="judged"}`)
	require.Contains(t, string(body), `grading_leaderboard_cache_total{result="miss"}`)
	require.Contains(t, string(body), "grading_progress_subscribers 2")
}

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	require.NotPanics(t, func() {
		RegisterMetrics()
		RegisterMetrics()
	})
}
