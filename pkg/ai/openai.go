package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const providerOpenAI = "openai"

// OpenAIConfig defines configuration options for the OpenAI judge and embedder.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float32
	Logger         zerolog.Logger
}

func (cfg OpenAIConfig) client() *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(config)
}

// OpenAIJudge implements Judge against the OpenAI chat completion API.
type OpenAIJudge struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIJudge builds a new judge using the provided configuration.
func NewOpenAIJudge(cfg OpenAIConfig) (*OpenAIJudge, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &OpenAIJudge{
		client: cfg.client(),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-exam-grader/pkg/ai/openai"),
		logger: logger,
	}, nil
}

// Judge sends the grading request to OpenAI and returns the reply text.
func (j *OpenAIJudge) Judge(parent context.Context, req JudgeRequest) (string, error) {
	ctx, span := j.tracer.Start(parent, "openai.judge", trace.WithAttributes(
		attribute.String("model", j.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       j.cfg.Model,
		MaxTokens:   j.cfg.MaxTokens,
		Temperature: j.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: judgeSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildJudgePrompt(req),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := j.client.CreateChatCompletion(ctx, request)
	observeJudge(providerOpenAI, j.cfg.Model, start)
	if err != nil {
		failJudge(span, providerOpenAI, j.cfg.Model, err)
		return "", fmt.Errorf("openai judge: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		failJudge(span, providerOpenAI, j.cfg.Model, err)
		return "", err
	}

	j.logger.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("openai judge completed")

	return resp.Choices[0].Message.Content, nil
}

// OpenAIEmbedder implements Embedder with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	tracer trace.Tracer
}

// NewOpenAIEmbedder builds an embedder using the provided configuration.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	model := openai.EmbeddingModel(cfg.EmbeddingModel)
	if model == "" {
		model = openai.SmallEmbedding3
	}
	return &OpenAIEmbedder{
		client: cfg.client(),
		model:  model,
		tracer: otel.Tracer("github.com/noah-isme/gema-exam-grader/pkg/ai/openai"),
	}, nil
}

// Embed returns one vector per input text, in input order.
func (e *OpenAIEmbedder) Embed(parent context.Context, texts []string) ([][]float32, error) {
	ctx, span := e.tracer.Start(parent, "openai.embed", trace.WithAttributes(
		attribute.String("model", string(e.model)),
		attribute.Int("inputs", len(texts)),
	))
	defer span.End()

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	embeddingDuration.WithLabelValues(string(e.model)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("openai embed: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("openai embed: unexpected index %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for idx, vector := range vectors {
		if vector == nil {
			return nil, fmt.Errorf("openai embed: missing vector %d", idx)
		}
	}
	return vectors, nil
}
