package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_DATABASE_URL", "postgres://localhost/gema")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, "openai", cfg.AIProvider)
	require.Equal(t, 60*time.Second, cfg.JudgeTimeout)
	require.Equal(t, 5*time.Minute, cfg.LeaderboardCacheTTL)
	require.Equal(t, 4, cfg.GradingWorkers)
	require.Equal(t, 2000, cfg.KnowledgeChunkSize)
	require.Equal(t, 200, cfg.KnowledgeChunkOverlap)
	require.Equal(t, 3, cfg.KnowledgeTopK)
	require.Equal(t, int64(20*1024*1024), cfg.MaxUploadBytes())
	require.Equal(t, "gema.grading.progress", cfg.NATSSubject)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEMA_AI_PROVIDER", "Anthropic")
	t.Setenv("GEMA_JUDGE_TIMEOUT", "15s")
	t.Setenv("GEMA_GRADING_WORKERS", "8")
	t.Setenv("GEMA_APP_PORT", ":9000")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.AIProvider)
	require.Equal(t, 15*time.Second, cfg.JudgeTimeout)
	require.Equal(t, 8, cfg.GradingWorkers)
	require.Equal(t, ":9000", cfg.HTTPAddress())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("GEMA_AI_PROVIDER", "llama")
	_, err := Load()
	require.ErrorContains(t, err, "unsupported ai provider")

	t.Setenv("GEMA_AI_PROVIDER", "openai")
	t.Setenv("GEMA_JUDGE_TIMEOUT", "soon")
	_, err = Load()
	require.ErrorContains(t, err, "invalid judge timeout")
}

func TestValidateRequiresServerSettings(t *testing.T) {
	err := Config{}.Validate()
	require.ErrorContains(t, err, "jwt secret")
	require.ErrorContains(t, err, "database url")
}
