package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const providerAnthropic = "anthropic"

// AnthropicConfig defines configuration options for the Anthropic judge.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Logger      zerolog.Logger
}

// AnthropicJudge implements Judge against the Anthropic messages API.
type AnthropicJudge struct {
	client anthropic.Client
	cfg    AnthropicConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewAnthropicJudge builds a new judge using the provided configuration.
func NewAnthropicJudge(cfg AnthropicConfig) (*AnthropicJudge, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &AnthropicJudge{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-exam-grader/pkg/ai/anthropic"),
		logger: logger,
	}, nil
}

// Judge sends the grading request to Anthropic and returns the reply text.
func (j *AnthropicJudge) Judge(parent context.Context, req JudgeRequest) (string, error) {
	ctx, span := j.tracer.Start(parent, "anthropic.judge", trace.WithAttributes(
		attribute.String("model", j.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(j.cfg.Model),
		MaxTokens: j.cfg.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: judgeSystemPrompt()}},
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(buildJudgePrompt(req)),
			},
		}},
		Temperature: anthropic.Float(j.cfg.Temperature),
	}

	message, err := j.client.Messages.New(ctx, params)
	observeJudge(providerAnthropic, j.cfg.Model, start)
	if err != nil {
		failJudge(span, providerAnthropic, j.cfg.Model, err)
		return "", fmt.Errorf("anthropic judge: %w", err)
	}

	var text strings.Builder
	for _, content := range message.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	if text.Len() == 0 {
		err := fmt.Errorf("no text content returned from anthropic")
		failJudge(span, providerAnthropic, j.cfg.Model, err)
		return "", err
	}

	j.logger.Debug().
		Int64("input_tokens", message.Usage.InputTokens).
		Int64("output_tokens", message.Usage.OutputTokens).
		Msg("anthropic judge completed")

	return text.String(), nil
}
