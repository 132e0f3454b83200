package grading

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/gema-exam-grader/internal/rubric"
	"github.com/noah-isme/gema-exam-grader/pkg/ai"
)

// ErrMissingScore indicates the judge replied with JSON that has no numeric overall score.
var ErrMissingScore = errors.New("judge reply has no score")

// Judgment is the judge's decoded reply. Values are kept as decoded so that
// non-numeric scores can be reported instead of silently dropped.
type Judgment struct {
	Score    any
	Feedback string
	Concepts []string
	// Criteria holds every other key of the reply, typically score_<criterion>.
	Criteria map[string]any
}

// ParseJudgment extracts the first JSON object from a judge reply.
func ParseJudgment(reply string) (Judgment, error) {
	payload, err := ai.ExtractObject[map[string]any](reply)
	if err != nil {
		return Judgment{}, err
	}

	score, ok := payload["score"]
	if !ok || score == nil {
		return Judgment{}, ErrMissingScore
	}
	if _, numeric := rubric.Coerce(score); !numeric {
		return Judgment{}, fmt.Errorf("%w: non-numeric value %v", ErrMissingScore, score)
	}

	judgment := Judgment{
		Score:    score,
		Feedback: stringValue(payload["feedback"]),
		Concepts: conceptList(payload["concepts"]),
		Criteria: make(map[string]any, len(payload)),
	}
	for key, value := range payload {
		switch key {
		case "score", "feedback", "concepts":
			continue
		}
		judgment.Criteria[key] = value
	}
	return judgment, nil
}

func stringValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}

// conceptList accepts either a JSON array or a comma separated string.
func conceptList(v any) []string {
	var raw []string
	switch value := v.(type) {
	case []any:
		for _, item := range value {
			raw = append(raw, stringValue(item))
		}
	case string:
		raw = strings.Split(value, ",")
	}

	concepts := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			concepts = append(concepts, item)
		}
	}
	return concepts
}
