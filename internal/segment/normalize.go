package segment

import "strings"

// Line is a trimmed, non-empty unit of document text together with its
// position in the source sequence.
type Line struct {
	Index int
	Text  string
}

// Normalize trims every raw line and drops the empty ones. Index refers to the
// position in raw so callers can map pairs back to the source document.
func Normalize(raw []string) []Line {
	lines := make([]Line, 0, len(raw))
	for idx, text := range raw {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		lines = append(lines, Line{Index: idx, Text: trimmed})
	}
	return lines
}

// SplitLines breaks extracted document text into physical lines.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}
