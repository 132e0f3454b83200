package grading

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-exam-grader/internal/observability"
	"github.com/noah-isme/gema-exam-grader/internal/rubric"
	"github.com/noah-isme/gema-exam-grader/internal/segment"
	"github.com/noah-isme/gema-exam-grader/pkg/ai"
)

// DefaultFeedback is recorded when the judge could not produce a usable reply.
const DefaultFeedback = "could not evaluate answer"

const (
	defaultJudgeTimeout = 60 * time.Second
	judgeAttempts       = 2
)

// EvaluationResult is the graded outcome of one question/answer pair.
type EvaluationResult struct {
	Index           int                `json:"question_index"`
	Question        string             `json:"question"`
	Answer          string             `json:"answer"`
	Score           float64            `json:"score"`
	MaxScore        float64            `json:"max_score"`
	Feedback        string             `json:"feedback"`
	Concepts        []string           `json:"concepts"`
	CriterionScores map[string]float64 `json:"criterion_scores"`
	Allocation      rubric.Allocation  `json:"allocation"`
	Flagged         bool               `json:"flagged"`
	FlagReason      string             `json:"flag_reason,omitempty"`
}

// DocumentResult is the graded outcome of one student document.
type DocumentResult struct {
	Results    []EvaluationResult `json:"results"`
	TotalScore float64            `json:"total_score"`
	MaxTotal   float64            `json:"max_total"`
}

// FlaggedCount returns how many pairs fell back to the default result.
func (d DocumentResult) FlaggedCount() int {
	count := 0
	for _, result := range d.Results {
		if result.Flagged {
			count++
		}
	}
	return count
}

// EvaluatorConfig tunes judge calls.
type EvaluatorConfig struct {
	JudgeTimeout time.Duration
}

// Evaluator grades documents pair by pair with an external judge.
type Evaluator struct {
	judge     ai.Judge
	retriever ai.ContextProvider
	sanitizer *bluemonday.Policy
	timeout   time.Duration
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewEvaluator constructs an evaluator. A nil retriever means no reference material.
func NewEvaluator(judge ai.Judge, retriever ai.ContextProvider, logger zerolog.Logger, cfg EvaluatorConfig) *Evaluator {
	if retriever == nil {
		retriever = ai.NoContext{}
	}
	if cfg.JudgeTimeout <= 0 {
		cfg.JudgeTimeout = defaultJudgeTimeout
	}
	return &Evaluator{
		judge:     judge,
		retriever: retriever,
		sanitizer: bluemonday.StrictPolicy(),
		timeout:   cfg.JudgeTimeout,
		tracer:    otel.Tracer("github.com/noah-isme/gema-exam-grader/internal/grading"),
		logger:    logger.With().Str("component", "grading_evaluator").Logger(),
	}
}

// EvaluateDocument segments raw document lines and grades every pair.
func (e *Evaluator) EvaluateDocument(ctx context.Context, lines []string, r rubric.Rubric, maxScore float64) DocumentResult {
	return e.EvaluatePairs(ctx, segment.Segment(lines), r, maxScore)
}

// EvaluatePairs grades pairs strictly in order. Judge failures never abort the
// document; the affected pair receives the default flagged result.
func (e *Evaluator) EvaluatePairs(ctx context.Context, pairs []segment.Pair, r rubric.Rubric, maxScore float64) DocumentResult {
	ctx, span := e.tracer.Start(ctx, "grading.evaluate_document", trace.WithAttributes(
		attribute.Int("pairs", len(pairs)),
	))
	defer span.End()

	doc := DocumentResult{Results: make([]EvaluationResult, 0, len(pairs))}
	for _, pair := range pairs {
		result := e.EvaluatePair(ctx, pair, r, maxScore)
		doc.Results = append(doc.Results, result)
		doc.TotalScore += result.Score
	}
	doc.TotalScore = rubric.Round1(doc.TotalScore)
	if maxScore > 0 {
		doc.MaxTotal = float64(len(pairs)) * maxScore
	}
	return doc
}

// EvaluatePair retrieves context for one pair, asks the judge (retrying once)
// and reconciles the rubric scores.
func (e *Evaluator) EvaluatePair(ctx context.Context, pair segment.Pair, r rubric.Rubric, maxScore float64) EvaluationResult {
	logger := e.logger.With().Int("question_index", pair.Index).Logger()

	passages, err := e.retrieve(ctx, pair.Question)
	if err != nil {
		logger.Warn().Err(err).Msg("context retrieval failed, grading without reference material")
		passages = nil
	}

	request := ai.JudgeRequest{
		Question: pair.Question,
		Answer:   pair.Answer,
		Context:  passages,
		MaxScore: maxScore,
		Rubric:   rubricItems(r, maxScore),
	}

	var lastErr error
	for attempt := 1; attempt <= judgeAttempts; attempt++ {
		judgment, err := e.judgeOnce(ctx, request)
		if err == nil {
			result := e.buildResult(pair, judgment, r, maxScore)
			observability.PairsEvaluated().WithLabelValues(string(result.Allocation.Mode)).Inc()
			return result
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt).Msg("judge attempt failed")
		if ctx.Err() != nil {
			break
		}
	}

	observability.PairsEvaluated().WithLabelValues("fallback").Inc()
	logger.Error().Err(lastErr).Msg("judge unavailable, recording default result")
	return DefaultResult(pair, r, maxScore, lastErr)
}

// retrieve looks up reference material with the same per-call timeout and
// single retry as the judge.
func (e *Evaluator) retrieve(ctx context.Context, query string) ([]string, error) {
	var lastErr error
	for attempt := 1; attempt <= judgeAttempts; attempt++ {
		passages, err := e.retrieveOnce(ctx, query)
		if err == nil {
			return passages, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (e *Evaluator) retrieveOnce(parent context.Context, query string) ([]string, error) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	return e.retriever.Retrieve(ctx, query)
}

func (e *Evaluator) judgeOnce(parent context.Context, req ai.JudgeRequest) (Judgment, error) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	reply, err := e.judge.Judge(ctx, req)
	if err != nil {
		return Judgment{}, err
	}
	return ParseJudgment(reply)
}

func (e *Evaluator) buildResult(pair segment.Pair, judgment Judgment, r rubric.Rubric, maxScore float64) EvaluationResult {
	alloc := rubric.Allocate(judgment.Score, maxScore, r, judgment.Criteria)
	if len(alloc.Faults) > 0 {
		e.logger.Debug().Int("question_index", pair.Index).Strs("faults", alloc.Faults).Msg("rubric scores reconciled")
	}

	concepts := make([]string, 0, len(judgment.Concepts))
	for _, concept := range judgment.Concepts {
		if clean := e.clean(concept); clean != "" {
			concepts = append(concepts, clean)
		}
	}

	return EvaluationResult{
		Index:           pair.Index,
		Question:        pair.Question,
		Answer:          pair.Answer,
		Score:           alloc.Score,
		MaxScore:        maxScore,
		Feedback:        e.clean(judgment.Feedback),
		Concepts:        concepts,
		CriterionScores: alloc.Map(),
		Allocation:      alloc,
	}
}

func (e *Evaluator) clean(text string) string {
	return strings.TrimSpace(html.UnescapeString(e.sanitizer.Sanitize(text)))
}

// DefaultResult is the zero-score result recorded when judging failed.
func DefaultResult(pair segment.Pair, r rubric.Rubric, maxScore float64, cause error) EvaluationResult {
	alloc := rubric.Allocate(0.0, maxScore, r, nil)
	reason := "judge unavailable"
	if cause != nil {
		reason = fmt.Sprintf("judge unavailable: %v", cause)
	}
	return EvaluationResult{
		Index:           pair.Index,
		Question:        pair.Question,
		Answer:          pair.Answer,
		Score:           0,
		MaxScore:        maxScore,
		Feedback:        DefaultFeedback,
		Concepts:        []string{},
		CriterionScores: alloc.Map(),
		Allocation:      alloc,
		Flagged:         true,
		FlagReason:      reason,
	}
}

func rubricItems(r rubric.Rubric, maxScore float64) []ai.RubricItem {
	items := make([]ai.RubricItem, 0, len(r))
	for _, c := range r {
		items = append(items, ai.RubricItem{
			Name:   c.Name,
			Weight: c.Weight,
			Points: rubric.Round1(r.Bound(c, maxScore)),
		})
	}
	return items
}
