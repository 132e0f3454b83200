package grading

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-grader/internal/rubric"
	"github.com/noah-isme/gema-exam-grader/pkg/ai"
)

type countingEvaluator struct {
	active, peak atomic.Int32
	inner        DocumentEvaluator
}

func (c *countingEvaluator) EvaluateDocument(ctx context.Context, lines []string, r rubric.Rubric, maxScore float64) DocumentResult {
	now := c.active.Add(1)
	for {
		peak := c.peak.Load()
		if now <= peak || c.peak.CompareAndSwap(peak, now) {
			break
		}
	}
	defer c.active.Add(-1)
	return c.inner.EvaluateDocument(ctx, lines, r, maxScore)
}

func scoreByAnswerJudge() *recordingJudge {
	return &recordingJudge{reply: func(_ int, req ai.JudgeRequest) (string, error) {
		if strings.Contains(req.Answer, "wrong") {
			return `{"score": 1, "concepts": ["guessing"]}`, nil
		}
		return `{"score": 5, "concepts": ["arithmetic", "geography"]}`, nil
	}}
}

func TestRunClassGradesEveryDocument(t *testing.T) {
	evaluator := &countingEvaluator{inner: newTestEvaluator(scoreByAnswerJudge(), nil)}
	docs := []Document{
		LinesDocument("alice", []string{"Q1: What is 2+2?", "A1: 4", "Q2: Capital of France?", "A2: Paris"}),
		{StudentID: "bob", Load: func(context.Context) ([]string, error) { return nil, errors.New("corrupt file") }},
		LinesDocument("carol", []string{"Q1: What is 2+2?", "A1: wrong", "Q2: Capital of France?", "A2: Paris"}),
	}

	var updates []ProgressUpdate
	outcomes := RunClass(context.Background(), evaluator, docs, examRubric, 5, ClassConfig{
		Workers:  2,
		Progress: func(update ProgressUpdate) { updates = append(updates, update) },
	})

	require.Len(t, outcomes, 3)
	require.Equal(t, "alice", outcomes[0].StudentID)
	require.NoError(t, outcomes[0].Err)
	require.Equal(t, StudentSummary{StudentID: "alice", TotalScore: 10, MaxTotal: 10, Percentage: 100, PairCount: 2}, outcomes[0].Summary)

	require.EqualError(t, outcomes[1].Err, "corrupt file")
	require.Equal(t, StudentSummary{StudentID: "bob"}, outcomes[1].Summary)

	require.Equal(t, 6.0, outcomes[2].Summary.TotalScore)
	require.Equal(t, 60.0, outcomes[2].Summary.Percentage)

	require.Len(t, updates, 3)
	for idx, update := range updates {
		require.Equal(t, idx+1, update.Done)
		require.Equal(t, 3, update.Total)
	}
	require.LessOrEqual(t, evaluator.peak.Load(), int32(2))
}

func TestRunClassCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	judge := scoreByAnswerJudge()
	outcomes := RunClass(ctx, newTestEvaluator(judge, nil), []Document{
		LinesDocument("alice", []string{"Q1: a?", "A1: b"}),
	}, examRubric, 5, ClassConfig{})

	require.ErrorIs(t, outcomes[0].Err, context.Canceled)
	require.Equal(t, 0, judge.calls())
}

func TestPercentage(t *testing.T) {
	require.Equal(t, 66.67, Percentage(2, 3))
	require.Equal(t, 0.0, Percentage(4, 0))
}

func TestLeaderboardSortsAndFilters(t *testing.T) {
	entries := Leaderboard([]StudentSummary{
		{StudentID: "carol", TotalScore: 6, Percentage: 60},
		{StudentID: "alice", TotalScore: 10, Percentage: 100},
		{StudentID: "dave", TotalScore: 2, Percentage: 20},
		{StudentID: "bob", TotalScore: 6, Percentage: 60},
	}, 50)

	require.Len(t, entries, 3)
	require.Equal(t, []string{"alice", "bob", "carol"}, []string{entries[0].StudentID, entries[1].StudentID, entries[2].StudentID})
	require.Equal(t, []int{1, 2, 3}, []int{entries[0].Rank, entries[1].Rank, entries[2].Rank})
}

func TestAnalyze(t *testing.T) {
	docs := []DocumentResult{
		{Results: []EvaluationResult{
			{Index: 1, Question: "What is 2+2?", Score: 5, Concepts: []string{"arithmetic"}},
			{Index: 2, Question: "Capital of France?", Score: 5, Concepts: []string{"geography", "arithmetic"}},
			{Index: 3, Question: "Define mass.", Score: 1},
		}},
		{Results: []EvaluationResult{
			{Index: 1, Question: "What is 2+2?", Score: 1, Concepts: []string{"guessing"}},
			{Index: 2, Question: "Capital of France?", Score: 4},
		}},
	}
	summaries := []StudentSummary{
		{StudentID: "alice", TotalScore: 11, Percentage: 70},
		{StudentID: "bob", TotalScore: 5, Percentage: 50},
	}

	analytics := Analyze(summaries, docs)

	require.Equal(t, 2, analytics.Students)
	require.Equal(t, 8.0, analytics.AverageScore)
	require.Equal(t, 60.0, analytics.AveragePercentage)
	require.Equal(t, []QuestionStat{
		{Index: 1, Question: "What is 2+2?", AverageScore: 3, Answers: 2},
		{Index: 2, Question: "Capital of France?", AverageScore: 4.5, Answers: 2},
		{Index: 3, Question: "Define mass.", AverageScore: 1, Answers: 1},
	}, analytics.Questions)
	require.Equal(t, []int{3, 1, 2}, []int{analytics.Hardest[0].Index, analytics.Hardest[1].Index, analytics.Hardest[2].Index})
	require.Equal(t, []ConceptCount{
		{Concept: "arithmetic", Count: 2},
		{Concept: "geography", Count: 1},
		{Concept: "guessing", Count: 1},
	}, analytics.Concepts)
}

func TestAnalyzeEmptyClass(t *testing.T) {
	analytics := Analyze(nil, nil)

	require.Equal(t, 0, analytics.Students)
	require.NotNil(t, analytics.Questions)
	require.Empty(t, analytics.Hardest)
	require.Empty(t, analytics.Concepts)
}
