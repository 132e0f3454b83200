package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service and CLI.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	NATSSubject            string
	JWTSecret              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	LeaderboardCacheTTL    time.Duration
	AIProvider             string
	OpenAIAPIKey           string
	OpenAIModel            string
	OpenAIBaseURL          string
	EmbeddingModel         string
	AnthropicAPIKey        string
	AnthropicModel         string
	JudgeTimeout           time.Duration
	GradingWorkers         int
	MaxUploadMB            int
	GradingRateLimit       int
	KnowledgeDir           string
	KnowledgeChunkSize     int
	KnowledgeChunkOverlap  int
	KnowledgeTopK          int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// MaxUploadBytes is the largest accepted upload.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Validate checks the settings the HTTP server cannot run without. The CLI
// only needs judge credentials and skips this.
func (c Config) Validate() error {
	var problems []string
	if c.JWTSecret == "" {
		problems = append(problems, "jwt secret must be provided")
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "database url must be provided")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Exam Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("nats.subject", "gema.grading.progress")
	v.SetDefault("cloudinary.folder", "gema/exams")
	v.SetDefault("leaderboard.cache_ttl", "5m")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("judge.timeout", "60s")
	v.SetDefault("grading.workers", 4)
	v.SetDefault("grading.max_upload_mb", 20)
	v.SetDefault("grading.rate_limit", 30)
	v.SetDefault("knowledge.chunk_size", 2000)
	v.SetDefault("knowledge.chunk_overlap", 200)
	v.SetDefault("knowledge.top_k", 3)

	ttl, err := parseDuration(v.GetString("leaderboard.cache_ttl"), 5*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid leaderboard cache ttl: %w", err)
	}

	judgeTimeout, err := parseDuration(v.GetString("judge.timeout"), 60*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid judge timeout: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		NATSSubject:            v.GetString("nats.subject"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		LeaderboardCacheTTL:    ttl,
		AIProvider:             strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:           v.GetString("openai_api_key"),
		OpenAIModel:            v.GetString("openai.model"),
		OpenAIBaseURL:          v.GetString("openai.base_url"),
		EmbeddingModel:         v.GetString("openai.embedding_model"),
		AnthropicAPIKey:        v.GetString("anthropic_api_key"),
		AnthropicModel:         v.GetString("anthropic.model"),
		JudgeTimeout:           judgeTimeout,
		GradingWorkers:         v.GetInt("grading.workers"),
		MaxUploadMB:            v.GetInt("grading.max_upload_mb"),
		GradingRateLimit:       v.GetInt("grading.rate_limit"),
		KnowledgeDir:           v.GetString("knowledge.dir"),
		KnowledgeChunkSize:     v.GetInt("knowledge.chunk_size"),
		KnowledgeChunkOverlap:  v.GetInt("knowledge.chunk_overlap"),
		KnowledgeTopK:          v.GetInt("knowledge.top_k"),
	}

	switch cfg.AIProvider {
	case "openai", "anthropic":
	default:
		return Config{}, fmt.Errorf("unsupported ai provider %q", cfg.AIProvider)
	}

	if cfg.GradingWorkers <= 0 {
		cfg.GradingWorkers = 4
	}

	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}

	return cfg, nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
