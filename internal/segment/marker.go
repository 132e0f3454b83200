package segment

import (
	"regexp"
	"strings"
)

// MarkerKind identifies the lexical cue that introduces a question or answer.
type MarkerKind int

const (
	MarkerNone MarkerKind = iota
	MarkerQuestionPrefix
	MarkerAnswerPrefix
	MarkerInlineQuestion
	MarkerInlineAnswer
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerQuestionPrefix:
		return "question_prefix"
	case MarkerAnswerPrefix:
		return "answer_prefix"
	case MarkerInlineQuestion:
		return "inline_question"
	case MarkerInlineAnswer:
		return "inline_answer"
	default:
		return "none"
	}
}

const (
	questionAliases = `(?:q|question|que|ques)`
	answerAliases   = `(?:a|ans|answer|solution|sol)`
)

var (
	questionPrefixPattern = regexp.MustCompile(`(?i)^\s*` + questionAliases + `\s*(?:\d+)?\s*[:.)\-]\s*`)
	answerPrefixPattern   = regexp.MustCompile(`(?i)^\s*` + answerAliases + `\s*(?:\d+)?\s*[:.)\-]\s*`)

	// Inline markers do not accept "-" so hyphenated words never split a line.
	inlineQuestionPattern = regexp.MustCompile(`(?i)\b` + questionAliases + `\s*(?:\d+)?\s*[:.)]`)
	inlineAnswerPattern   = regexp.MustCompile(`(?i)\b` + answerAliases + `\s*(?:\d+)?\s*[:.)]`)
)

// Match locates a marker inside a line. Offset is the byte offset where the
// marker text begins.
type Match struct {
	Found  bool
	Offset int
}

// Classification is the marker classifier's verdict for a single line.
type Classification struct {
	Kind           MarkerKind
	Offset         int
	QuestionPrefix bool
	AnswerPrefix   bool
	InlineQuestion Match
	InlineAnswer   Match
}

// HasMarker reports whether any question or answer cue was found.
func (c Classification) HasMarker() bool {
	return c.Kind != MarkerNone
}

// SameLinePair reports whether the line carries a complete question followed
// by its answer.
func (c Classification) SameLinePair() bool {
	return c.InlineQuestion.Found && c.InlineAnswer.Found && c.InlineAnswer.Offset > c.InlineQuestion.Offset
}

// StartsAnswer reports whether the line opens an answer field, either at the
// start of the line or inline.
func (c Classification) StartsAnswer() bool {
	return c.AnswerPrefix || c.InlineAnswer.Found
}

// Classify inspects a single line for question and answer markers.
func Classify(line string) Classification {
	c := Classification{
		QuestionPrefix: questionPrefixPattern.MatchString(line),
		AnswerPrefix:   answerPrefixPattern.MatchString(line),
	}
	if loc := inlineQuestionPattern.FindStringIndex(line); loc != nil {
		c.InlineQuestion = Match{Found: true, Offset: loc[0]}
	}
	if loc := inlineAnswerPattern.FindStringIndex(line); loc != nil {
		c.InlineAnswer = Match{Found: true, Offset: loc[0]}
	}

	switch {
	case c.QuestionPrefix:
		c.Kind = MarkerQuestionPrefix
	case c.AnswerPrefix:
		c.Kind = MarkerAnswerPrefix
	case c.InlineQuestion.Found:
		c.Kind = MarkerInlineQuestion
		c.Offset = c.InlineQuestion.Offset
	case c.InlineAnswer.Found:
		c.Kind = MarkerInlineAnswer
		c.Offset = c.InlineAnswer.Offset
	}

	return c
}

// StripQuestionPrefix removes a leading question marker such as "Q2:".
func StripQuestionPrefix(text string) string {
	return stripPrefix(questionPrefixPattern, text)
}

// StripAnswerPrefix removes a leading answer marker such as "Ans)".
func StripAnswerPrefix(text string) string {
	return stripPrefix(answerPrefixPattern, text)
}

func stripPrefix(pattern *regexp.Regexp, text string) string {
	if loc := pattern.FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
	}
	return strings.TrimSpace(text)
}
