package grading

import (
	"context"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-exam-grader/internal/observability"
	"github.com/noah-isme/gema-exam-grader/internal/rubric"
)

const (
	defaultWorkers   = 4
	hardestQuestions = 3
	topConcepts      = 10
)

// DocumentEvaluator grades one student document.
type DocumentEvaluator interface {
	EvaluateDocument(ctx context.Context, lines []string, r rubric.Rubric, maxScore float64) DocumentResult
}

// Document is one student's submission. Load is called from a worker goroutine.
type Document struct {
	StudentID string
	Load      func(ctx context.Context) ([]string, error)
}

// LinesDocument wraps already decoded lines.
func LinesDocument(studentID string, lines []string) Document {
	return Document{
		StudentID: studentID,
		Load: func(context.Context) ([]string, error) {
			return lines, nil
		},
	}
}

// StudentSummary aggregates one student's document.
type StudentSummary struct {
	StudentID    string  `json:"student_id"`
	TotalScore   float64 `json:"total_score"`
	MaxTotal     float64 `json:"max_total"`
	Percentage   float64 `json:"percentage"`
	PairCount    int     `json:"pair_count"`
	FlaggedCount int     `json:"flagged_count"`
}

// Summarize derives a student summary from a graded document.
func Summarize(studentID string, doc DocumentResult) StudentSummary {
	return StudentSummary{
		StudentID:    studentID,
		TotalScore:   doc.TotalScore,
		MaxTotal:     doc.MaxTotal,
		Percentage:   Percentage(doc.TotalScore, doc.MaxTotal),
		PairCount:    len(doc.Results),
		FlaggedCount: doc.FlaggedCount(),
	}
}

// Percentage returns 100*total/max rounded to two decimals, or 0 without a maximum.
func Percentage(total, maxTotal float64) float64 {
	if maxTotal <= 0 {
		return 0
	}
	return round2(100 * total / maxTotal)
}

// StudentOutcome is the result of grading one document within a class run.
// Err is set when the document could not be loaded or the run was cancelled.
type StudentOutcome struct {
	StudentID string
	Result    DocumentResult
	Summary   StudentSummary
	Err       error
}

// ProgressUpdate reports a finished document. Done counts completed documents.
type ProgressUpdate struct {
	Done    int
	Total   int
	Outcome StudentOutcome
}

// ClassConfig tunes a class run.
type ClassConfig struct {
	Workers int
	// Progress, when set, is called once per finished document. Calls are serialised.
	Progress func(ProgressUpdate)
}

// RunClass grades documents concurrently with a bounded worker pool. Outcomes
// are returned in input order; a failing document never stops the others.
func RunClass(ctx context.Context, evaluator DocumentEvaluator, docs []Document, r rubric.Rubric, maxScore float64, cfg ClassConfig) []StudentOutcome {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	outcomes := make([]StudentOutcome, len(docs))
	var (
		mu   sync.Mutex
		done int
	)
	report := func(outcome StudentOutcome) {
		status := "ok"
		if outcome.Err != nil {
			status = "error"
		}
		observability.DocumentsGraded().WithLabelValues(status).Inc()

		if cfg.Progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		cfg.Progress(ProgressUpdate{Done: done, Total: len(docs), Outcome: outcome})
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for idx, doc := range docs {
		g.Go(func() error {
			outcome := StudentOutcome{StudentID: doc.StudentID}
			if err := ctx.Err(); err != nil {
				outcome.Err = err
			} else if lines, err := doc.Load(ctx); err != nil {
				outcome.Err = err
			} else {
				outcome.Result = evaluator.EvaluateDocument(ctx, lines, r, maxScore)
				outcome.Summary = Summarize(doc.StudentID, outcome.Result)
			}
			if outcome.Err != nil {
				outcome.Summary = StudentSummary{StudentID: doc.StudentID}
			}
			outcomes[idx] = outcome
			report(outcome)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// LeaderboardEntry is a ranked student summary.
type LeaderboardEntry struct {
	Rank int `json:"rank"`
	StudentSummary
}

// Leaderboard sorts summaries by total score, highest first, keeping only
// students at or above minPercentage.
func Leaderboard(summaries []StudentSummary, minPercentage float64) []LeaderboardEntry {
	filtered := make([]StudentSummary, 0, len(summaries))
	for _, summary := range summaries {
		if summary.Percentage >= minPercentage {
			filtered = append(filtered, summary)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].TotalScore != filtered[j].TotalScore {
			return filtered[i].TotalScore > filtered[j].TotalScore
		}
		return filtered[i].StudentID < filtered[j].StudentID
	})

	entries := make([]LeaderboardEntry, len(filtered))
	for idx, summary := range filtered {
		entries[idx] = LeaderboardEntry{Rank: idx + 1, StudentSummary: summary}
	}
	return entries
}

// QuestionStat is the class-wide performance on one question position.
type QuestionStat struct {
	Index        int     `json:"question_index"`
	Question     string  `json:"question"`
	AverageScore float64 `json:"average_score"`
	Answers      int     `json:"answers"`
}

// ConceptCount is how often a concept was identified across the class.
type ConceptCount struct {
	Concept string `json:"concept"`
	Count   int    `json:"count"`
}

// ClassAnalytics summarises a whole session.
type ClassAnalytics struct {
	Students          int            `json:"students"`
	AverageScore      float64        `json:"average_score"`
	AveragePercentage float64        `json:"average_percentage"`
	Questions         []QuestionStat `json:"questions"`
	Hardest           []QuestionStat `json:"hardest"`
	Concepts          []ConceptCount `json:"concepts"`
}

// Analyze computes per-question averages, the hardest questions and the most
// frequent concepts from the graded documents of a class.
func Analyze(summaries []StudentSummary, docs []DocumentResult) ClassAnalytics {
	analytics := ClassAnalytics{
		Students:  len(summaries),
		Questions: []QuestionStat{},
		Hardest:   []QuestionStat{},
		Concepts:  []ConceptCount{},
	}

	if len(summaries) > 0 {
		var totalScore, totalPct float64
		for _, summary := range summaries {
			totalScore += summary.TotalScore
			totalPct += summary.Percentage
		}
		analytics.AverageScore = round2(totalScore / float64(len(summaries)))
		analytics.AveragePercentage = round2(totalPct / float64(len(summaries)))
	}

	type accumulator struct {
		question string
		sum      float64
		count    int
	}
	byIndex := make(map[int]*accumulator)
	concepts := make(map[string]int)
	for _, doc := range docs {
		for _, result := range doc.Results {
			acc, ok := byIndex[result.Index]
			if !ok {
				acc = &accumulator{question: result.Question}
				byIndex[result.Index] = acc
			}
			acc.sum += result.Score
			acc.count++
			for _, concept := range result.Concepts {
				concepts[concept]++
			}
		}
	}

	for index, acc := range byIndex {
		analytics.Questions = append(analytics.Questions, QuestionStat{
			Index:        index,
			Question:     acc.question,
			AverageScore: round2(acc.sum / float64(acc.count)),
			Answers:      acc.count,
		})
	}
	sort.Slice(analytics.Questions, func(i, j int) bool {
		return analytics.Questions[i].Index < analytics.Questions[j].Index
	})

	hardest := append([]QuestionStat(nil), analytics.Questions...)
	sort.SliceStable(hardest, func(i, j int) bool {
		return hardest[i].AverageScore < hardest[j].AverageScore
	})
	if len(hardest) > hardestQuestions {
		hardest = hardest[:hardestQuestions]
	}
	analytics.Hardest = append(analytics.Hardest, hardest...)

	for concept, count := range concepts {
		analytics.Concepts = append(analytics.Concepts, ConceptCount{Concept: concept, Count: count})
	}
	sort.Slice(analytics.Concepts, func(i, j int) bool {
		if analytics.Concepts[i].Count != analytics.Concepts[j].Count {
			return analytics.Concepts[i].Count > analytics.Concepts[j].Count
		}
		return analytics.Concepts[i].Concept < analytics.Concepts[j].Concept
	})
	if len(analytics.Concepts) > topConcepts {
		analytics.Concepts = analytics.Concepts[:topConcepts]
	}

	return analytics
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
