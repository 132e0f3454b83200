package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// maxObjectStarts bounds how many opening braces are tried, keeping extraction
// linear in the reply length.
const maxObjectStarts = 64

var (
	// ErrNoJSONObject indicates that a model reply carried no JSON object at all.
	ErrNoJSONObject = errors.New("no json object in response")
	// ErrTooManyCandidates indicates the reply opened too many objects before a valid one.
	ErrTooManyCandidates = errors.New("too many json candidates in response")
)

// ExtractError reports why a model reply could not be turned into a JSON object.
type ExtractError struct {
	// Candidates is the number of balanced {...} spans that were tried.
	Candidates int
	Err        error
}

func (e *ExtractError) Error() string {
	if e.Candidates == 0 {
		return fmt.Sprintf("extract json: %v", e.Err)
	}
	return fmt.Sprintf("extract json: %d candidate(s) rejected: %v", e.Candidates, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// ExtractJSONObject returns the first balanced, syntactically valid JSON object
// embedded in text. Prose, markdown fences and braces inside string literals are
// tolerated; invalid candidates are skipped. At most maxObjectStarts opening
// braces are tried.
func ExtractJSONObject(text string) (string, error) {
	candidates := 0
	starts := 0
	var lastErr error

	for start := strings.IndexByte(text, '{'); start >= 0; {
		if starts == maxObjectStarts {
			return "", &ExtractError{Candidates: candidates, Err: ErrTooManyCandidates}
		}
		starts++

		if end, ok := balancedEnd(text, start); ok {
			candidates++
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
			lastErr = fmt.Errorf("invalid object at offset %d", start)
		}

		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	if candidates == 0 {
		return "", &ExtractError{Err: ErrNoJSONObject}
	}
	return "", &ExtractError{Candidates: candidates, Err: lastErr}
}

// ExtractObject extracts the first JSON object from text and decodes it into T.
// Numbers are decoded as json.Number.
func ExtractObject[T any](text string) (T, error) {
	var result T

	raw, err := ExtractJSONObject(text)
	if err != nil {
		return result, err
	}

	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&result); err != nil {
		return result, &ExtractError{Candidates: 1, Err: err}
	}
	return result, nil
}

// balancedEnd finds the brace closing the object opened at start.
func balancedEnd(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for idx := start; idx < len(text); idx++ {
		ch := text[idx]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return idx, true
			}
		}
	}
	return 0, false
}
