package ai

import "context"

// RubricItem describes one grading criterion offered to the judge.
type RubricItem struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Points float64 `json:"points"`
}

// JudgeRequest contains everything a model needs to grade one answer.
type JudgeRequest struct {
	Question string
	Answer   string
	Context  []string
	MaxScore float64
	Rubric   []RubricItem
}

// Judge grades a single answer and returns the model's reply verbatim. The
// reply is untrusted free text that is expected to embed a JSON object.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (string, error)
}

// Embedder turns text into vectors for similarity search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ContextProvider returns reference passages relevant to a question.
type ContextProvider interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// NoContext is a ContextProvider without a knowledge base.
type NoContext struct{}

// Retrieve always returns no passages.
func (NoContext) Retrieve(context.Context, string) ([]string, error) {
	return nil, nil
}
