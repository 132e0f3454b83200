// Package app builds the grading components shared by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-grader/internal/config"
	"github.com/noah-isme/gema-exam-grader/internal/grading"
	"github.com/noah-isme/gema-exam-grader/pkg/ai"
)

// NewJudge returns the judge for the configured provider.
func NewJudge(cfg config.Config, logger zerolog.Logger) (ai.Judge, error) {
	switch cfg.AIProvider {
	case "anthropic":
		return ai.NewAnthropicJudge(ai.AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
			Logger: logger,
		})
	case "openai", "":
		return ai.NewOpenAIJudge(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.AIProvider)
	}
}

// NewRetriever loads reference material when a knowledge directory is
// configured. Embeddings always come from OpenAI, so without an OpenAI key
// grading runs without reference context.
func NewRetriever(ctx context.Context, cfg config.Config, logger zerolog.Logger) (ai.ContextProvider, error) {
	log := logger.With().Str("component", "knowledge").Logger()
	if cfg.KnowledgeDir == "" {
		return ai.NoContext{}, nil
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Str("dir", cfg.KnowledgeDir).Msg("knowledge dir ignored: openai api key missing for embeddings")
		return ai.NoContext{}, nil
	}

	embedder, err := ai.NewOpenAIEmbedder(ai.OpenAIConfig{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		EmbeddingModel: cfg.EmbeddingModel,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	kb := ai.NewKnowledgeBase(embedder, ai.KnowledgeConfig{
		ChunkSize:    cfg.KnowledgeChunkSize,
		ChunkOverlap: cfg.KnowledgeChunkOverlap,
		TopK:         cfg.KnowledgeTopK,
	})
	chunks, err := kb.LoadDir(ctx, cfg.KnowledgeDir)
	if err != nil {
		return nil, fmt.Errorf("load knowledge dir: %w", err)
	}

	log.Info().Str("dir", cfg.KnowledgeDir).Int("chunks", chunks).Msg("knowledge base loaded")
	return kb, nil
}

// NewEvaluator wires the judge and retriever into a document evaluator.
func NewEvaluator(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*grading.Evaluator, error) {
	judge, err := NewJudge(cfg, logger)
	if err != nil {
		return nil, err
	}
	retriever, err := NewRetriever(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return grading.NewEvaluator(judge, retriever, logger, grading.EvaluatorConfig{JudgeTimeout: cfg.JudgeTimeout}), nil
}
