package ai

import (
	"fmt"
	"strconv"
	"strings"
)

func judgeSystemPrompt() string {
	return "You are a strict examiner grading a student's written exam answer. " +
		"Respond only with a single JSON object and no other text."
}

func buildJudgePrompt(req JudgeRequest) string {
	builder := strings.Builder{}
	builder.WriteString("## Reference Material (may be incomplete)\n")
	if len(req.Context) == 0 {
		builder.WriteString("(none)\n")
	} else {
		builder.WriteString(strings.Join(req.Context, "\n\n"))
		builder.WriteString("\n")
	}

	builder.WriteString("\n## Question\n")
	builder.WriteString(req.Question)
	builder.WriteString("\n\n## Student Answer\n")
	builder.WriteString(strings.Join(strings.Fields(req.Answer), " "))

	maxScore := formatNumber(req.MaxScore)
	builder.WriteString("\n\n## Instructions\n")
	builder.WriteString("1. Check whether the answer is correct based on the reference material.\n")
	builder.WriteString("2. If the reference material does not cover the question, use your general knowledge.\n")
	builder.WriteString("3. Match concepts semantically even when the wording differs from the reference material.\n")
	fmt.Fprintf(&builder, "4. Give an overall score from 0 (completely wrong) to %s (perfect).\n", maxScore)
	builder.WriteString("5. Provide short feedback explaining the score.\n")
	builder.WriteString("6. List the key concepts the answer demonstrates.\n")

	fields := []string{`"score": <number>`, `"feedback": "<text>"`, `"concepts": ["<concept>"]`}
	if len(req.Rubric) > 0 {
		builder.WriteString("\n## Rubric\n")
		for _, item := range req.Rubric {
			fmt.Fprintf(&builder, "- %s: up to %s points\n", item.Name, formatNumber(item.Points))
			fields = append(fields, fmt.Sprintf(`"score_%s": <number>`, item.Name))
		}
		builder.WriteString("Score every rubric criterion; the criterion scores must add up to the overall score.\n")
	}

	builder.WriteString("\nRespond ONLY with valid JSON like:\n{ ")
	builder.WriteString(strings.Join(fields, ", "))
	builder.WriteString(" }")
	return builder.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
