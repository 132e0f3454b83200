package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-exam-grader/internal/grading"
	"github.com/noah-isme/gema-exam-grader/internal/rubric"
)

type gradeFailure struct {
	StudentID string `json:"student_id"`
	Error     string `json:"error"`
}

type gradedStudent struct {
	grading.StudentSummary
	Results []grading.EvaluationResult `json:"results,omitempty"`
}

type gradeOutput struct {
	Rubric      rubric.Rubric              `json:"rubric"`
	MaxScore    float64                    `json:"max_score"`
	Students    []gradedStudent            `json:"students"`
	Failures    []gradeFailure             `json:"failures"`
	Leaderboard []grading.LeaderboardEntry `json:"leaderboard"`
	Analytics   grading.ClassAnalytics     `json:"analytics"`
}

func newGradeCommand(rt *runtime) *cobra.Command {
	var (
		criteria      []string
		workers       int
		minPercentage float64
		details       bool
	)

	cmd := &cobra.Command{
		Use:   "grade <file>...",
		Short: "Grade one or more student documents",
		Long: "Grade documents against a rubric given as repeated --criterion Name=points flags.\n" +
			"Each file is one student; the file name without extension is the student id.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := parseCriteria(criteria)
			if err != nil {
				return err
			}
			r, maxScore, err := rubric.FromPoints(points)
			if err != nil {
				return err
			}
			if minPercentage < 0 || minPercentage > 100 {
				return fmt.Errorf("min-percentage must be between 0 and 100")
			}

			docs, err := fileDocuments(args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			evaluator, err := rt.opts.NewEvaluator(ctx, rt.cfg, rt.logger)
			if err != nil {
				return err
			}

			if workers <= 0 {
				workers = rt.cfg.GradingWorkers
			}
			outcomes := grading.RunClass(ctx, evaluator, docs, r, maxScore, grading.ClassConfig{
				Workers: workers,
				Progress: func(update grading.ProgressUpdate) {
					rt.logger.Info().
						Str("student_id", update.Outcome.StudentID).
						Int("done", update.Done).
						Int("total", update.Total).
						Msg("document graded")
				},
			})

			return writeJSON(cmd, buildGradeOutput(r, maxScore, outcomes, minPercentage, details))
		},
	}

	cmd.Flags().StringArrayVarP(&criteria, "criterion", "c", nil, "rubric criterion as Name=points (repeatable)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "documents graded concurrently (defaults to GEMA_GRADING_WORKERS)")
	cmd.Flags().Float64Var(&minPercentage, "min-percentage", 0, "leaderboard threshold")
	cmd.Flags().BoolVar(&details, "details", false, "include per-question evaluations")
	_ = cmd.MarkFlagRequired("criterion")

	return cmd
}

func parseCriteria(values []string) ([]rubric.Points, error) {
	points := make([]rubric.Points, 0, len(values))
	for _, value := range values {
		name, raw, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("criterion %q must look like Name=points", value)
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || p < 0 {
			return nil, fmt.Errorf("criterion %q has invalid points", value)
		}
		points = append(points, rubric.Points{Name: name, Points: p})
	}
	return points, nil
}

func fileDocuments(paths []string) ([]grading.Document, error) {
	seen := make(map[string]string, len(paths))
	docs := make([]grading.Document, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}

		studentID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if previous, dup := seen[studentID]; dup {
			return nil, fmt.Errorf("%s and %s map to the same student %q", previous, path, studentID)
		}
		seen[studentID] = path

		file := path
		docs = append(docs, grading.Document{
			StudentID: studentID,
			Load: func(context.Context) ([]string, error) {
				return readDocument(file)
			},
		})
	}
	return docs, nil
}

func buildGradeOutput(r rubric.Rubric, maxScore float64, outcomes []grading.StudentOutcome, minPercentage float64, details bool) gradeOutput {
	out := gradeOutput{
		Rubric:   r,
		MaxScore: maxScore,
		Students: []gradedStudent{},
		Failures: []gradeFailure{},
	}

	summaries := make([]grading.StudentSummary, 0, len(outcomes))
	results := make([]grading.DocumentResult, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			out.Failures = append(out.Failures, gradeFailure{StudentID: outcome.StudentID, Error: outcome.Err.Error()})
			continue
		}
		student := gradedStudent{StudentSummary: outcome.Summary}
		if details {
			student.Results = outcome.Result.Results
		}
		out.Students = append(out.Students, student)
		summaries = append(summaries, outcome.Summary)
		results = append(results, outcome.Result)
	}

	out.Leaderboard = grading.Leaderboard(summaries, minPercentage)
	out.Analytics = grading.Analyze(summaries, results)
	return out
}
