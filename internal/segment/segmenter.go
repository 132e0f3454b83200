package segment

import "strings"

// Mode is the segmenter's position relative to the pair being assembled.
type Mode int

const (
	Scanning Mode = iota
	AccumulatingQuestion
	AccumulatingAnswer
)

func (m Mode) String() string {
	switch m {
	case AccumulatingQuestion:
		return "accumulating_question"
	case AccumulatingAnswer:
		return "accumulating_answer"
	default:
		return "scanning"
	}
}

// Pair is a resolved question together with the student's answer. Index is the
// 1-based position of the question within the document.
type Pair struct {
	Index    int    `json:"question_index"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type historyEntry struct {
	text  string
	class Classification
}

// State carries everything the segmenter knows between two lines. Like the
// result of append, a State returned by Transition supersedes the one passed
// in; the old value must not be reused.
type State struct {
	Mode     Mode
	question []string
	answer   []string
	// implicit marks an answer that follows an unmarked line ending in "?".
	implicit bool
	// history holds the lines seen since the last emitted pair, oldest first.
	history  []historyEntry
	previous string
}

// NewState returns the initial scanning state.
func NewState() State {
	return State{Mode: Scanning}
}

// Transition consumes one line and its classification and returns the next
// state together with any pairs completed by this line.
func Transition(s State, line Line, c Classification) (State, []Pair) {
	var emitted []Pair
	switch s.Mode {
	case AccumulatingQuestion:
		s, emitted = s.continueQuestion(line.Text, c)
	case AccumulatingAnswer:
		s, emitted = s.continueAnswer(line.Text, c)
	default:
		s, emitted = s.scan(line.Text, c)
	}
	s.previous = line.Text
	return s, emitted
}

// Finish flushes whatever pair is pending once the input is exhausted.
func Finish(s State) []Pair {
	switch s.Mode {
	case AccumulatingQuestion:
		return s.recoverQuestion()
	case AccumulatingAnswer:
		return s.flushAnswer()
	default:
		return nil
	}
}

// Segment turns raw document lines into ordered question/answer pairs. It never
// fails: a document without recognisable structure yields no pairs.
func Segment(raw []string) []Pair {
	var pairs []Pair
	state := NewState()
	for _, line := range Normalize(raw) {
		var emitted []Pair
		state, emitted = Transition(state, line, Classify(line.Text))
		pairs = append(pairs, emitted...)
	}
	pairs = append(pairs, Finish(state)...)

	for idx := range pairs {
		pairs[idx].Index = idx + 1
	}
	return pairs
}

func (s State) scan(text string, c Classification) (State, []Pair) {
	s.history = append(s.history, historyEntry{text: text, class: c})

	switch {
	case c.SameLinePair():
		question := StripQuestionPrefix(text[:c.InlineAnswer.Offset])
		answer := StripAnswerPrefix(text[c.InlineAnswer.Offset:])
		if question == "" {
			return s.startAnswer(s.lookbackQuestion(), answer, false), nil
		}
		if answer == "" {
			// "Q: ... A:" with the answer on the following lines.
			return s.startAnswer(question, "", false), nil
		}
		s = s.reset()
		s.history = nil
		return s, []Pair{{Question: question, Answer: answer}}

	case c.QuestionPrefix || (c.InlineQuestion.Found && !c.AnswerPrefix):
		s = s.reset()
		s.Mode = AccumulatingQuestion
		s.question = appendText(nil, StripQuestionPrefix(text))
		return s, nil

	case c.AnswerPrefix:
		return s.startAnswer(s.lookbackQuestion(), StripAnswerPrefix(text), false), nil

	case !c.HasMarker() && strings.HasSuffix(text, "?"):
		return s.startAnswer(text, "", true), nil
	}

	return s, nil
}

func (s State) continueQuestion(text string, c Classification) (State, []Pair) {
	s.history = append(s.history, historyEntry{text: text, class: c})

	switch {
	case c.QuestionPrefix:
		return s.boundary(text, c, s.recoverQuestion())

	case c.AnswerPrefix:
		return s.startAnswer(joinText(s.question), StripAnswerPrefix(text), false), nil

	case c.InlineAnswer.Found:
		question := appendText(s.question, text[:c.InlineAnswer.Offset])
		return s.startAnswer(joinText(question), StripAnswerPrefix(text[c.InlineAnswer.Offset:]), false), nil
	}

	s.question = appendText(s.question, text)
	return s, nil
}

func (s State) continueAnswer(text string, c Classification) (State, []Pair) {
	s.history = append(s.history, historyEntry{text: text, class: c})

	var atBoundary bool
	if s.implicit {
		atBoundary = c.HasMarker() || strings.HasSuffix(text, "?")
	} else {
		atBoundary = c.QuestionPrefix || c.AnswerPrefix || c.InlineAnswer.Found
	}
	if atBoundary {
		return s.boundary(text, c, s.flushAnswer())
	}

	s.answer = appendText(s.answer, text)
	return s, nil
}

// boundary closes the pending pair and re-evaluates the boundary line from the
// scanning state.
func (s State) boundary(text string, c Classification, flushed []Pair) (State, []Pair) {
	// The boundary line was recorded by the caller; scan records it again.
	s.history = s.history[:len(s.history)-1]
	if len(flushed) > 0 {
		s.history = nil
	}
	s = s.reset()

	next, emitted := s.scan(text, c)
	return next, append(flushed, emitted...)
}

func (s State) startAnswer(question, answer string, implicit bool) State {
	s = s.reset()
	s.Mode = AccumulatingAnswer
	s.implicit = implicit
	s.question = appendText(nil, question)
	s.answer = appendText(nil, answer)
	return s
}

// lookbackQuestion finds the question an orphan answer belongs to: the most
// recent question-marked line not yet used by a pair, otherwise the line
// immediately before the answer.
func (s State) lookbackQuestion() string {
	// The last history entry is the answer line itself.
	for idx := len(s.history) - 2; idx >= 0; idx-- {
		entry := s.history[idx]
		if entry.class.QuestionPrefix || entry.class.InlineQuestion.Found {
			return StripQuestionPrefix(entry.text)
		}
	}
	return s.previous
}

func (s State) flushAnswer() []Pair {
	return makePair(joinText(s.question), joinText(s.answer))
}

// recoverQuestion handles a marked question that never met an answer marker.
// Continuation lines after the first complete sentence are taken as the answer;
// a single dangling line is dropped.
func (s State) recoverQuestion() []Pair {
	if len(s.question) < 2 {
		return nil
	}
	split := 0
	for idx := 0; idx < len(s.question)-1; idx++ {
		if endsSentence(s.question[idx]) {
			split = idx
			break
		}
	}
	return makePair(joinText(s.question[:split+1]), joinText(s.question[split+1:]))
}

func (s State) reset() State {
	s.Mode = Scanning
	s.question = nil
	s.answer = nil
	s.implicit = false
	return s
}

func makePair(question, answer string) []Pair {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return nil
	}
	return []Pair{{Question: question, Answer: answer}}
}

func appendText(parts []string, text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return parts
	}
	return append(parts, text)
}

func joinText(parts []string) string {
	return strings.Join(parts, " ")
}

func endsSentence(text string) bool {
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "?") ||
		strings.HasSuffix(text, "!") || strings.HasSuffix(text, ":")
}
