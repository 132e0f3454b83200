package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyPrefixes(t *testing.T) {
	cases := []struct {
		line string
		kind MarkerKind
	}{
		{"Q1: What is 2+2?", MarkerQuestionPrefix},
		{"question 3) Define entropy", MarkerQuestionPrefix},
		{"Ques. Name the planets", MarkerQuestionPrefix},
		{"QUE-4 Explain osmosis", MarkerQuestionPrefix},
		{"A1: 4", MarkerAnswerPrefix},
		{"Ans) It is an element", MarkerAnswerPrefix},
		{"Solution: integrate by parts", MarkerAnswerPrefix},
		{"sol 2 - x = 3", MarkerAnswerPrefix},
		{"Answer. Paris", MarkerAnswerPrefix},
		{"A force of attraction.", MarkerNone},
		{"What is gravity?", MarkerNone},
		{"The quantity of matter", MarkerNone},
	}

	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			require.Equal(t, tc.kind, Classify(tc.line).Kind)
		})
	}
}

func TestClassifyInlineMarkers(t *testing.T) {
	c := Classify("Q: Capital of France? A: Paris")
	require.True(t, c.QuestionPrefix)
	require.True(t, c.InlineQuestion.Found)
	require.Equal(t, 0, c.InlineQuestion.Offset)
	require.True(t, c.InlineAnswer.Found)
	require.Equal(t, 22, c.InlineAnswer.Offset)
	require.True(t, c.SameLinePair())

	c = Classify("Read this first, then Q2. explain")
	require.Equal(t, MarkerInlineQuestion, c.Kind)
	require.Equal(t, 22, c.Offset)
	require.False(t, c.SameLinePair())

	c = Classify("Photosynthesis Ans: light to sugar")
	require.Equal(t, MarkerInlineAnswer, c.Kind)
	require.Equal(t, 15, c.Offset)
	require.True(t, c.StartsAnswer())
}

func TestClassifyIgnoresHyphenInline(t *testing.T) {
	c := Classify("This is a well-known a - b result")
	require.False(t, c.InlineAnswer.Found)
	require.Equal(t, MarkerNone, c.Kind)
}

func TestClassifyAnswerBeforeQuestion(t *testing.T) {
	c := Classify("A: see Q1. for details")
	require.True(t, c.AnswerPrefix)
	require.True(t, c.InlineQuestion.Found)
	require.False(t, c.SameLinePair())
	require.Equal(t, MarkerAnswerPrefix, c.Kind)
}

func TestStripPrefixes(t *testing.T) {
	require.Equal(t, "What is 2+2?", StripQuestionPrefix("Q1: What is 2+2?"))
	require.Equal(t, "Define mass.", StripQuestionPrefix("  question 2)  Define mass."))
	require.Equal(t, "4", StripAnswerPrefix("A1: 4"))
	require.Equal(t, "Paris", StripAnswerPrefix("Answer - Paris"))
	require.Equal(t, "no marker here", StripAnswerPrefix("no marker here"))
}
