package caption

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Window is not safe for concurrent use.
type Window struct {
	maxLines        int
	maxCharsPerLine int
	lines           []string
}

func NewWindow(maxLines, maxCharsPerLine int) *Window {
	return &Window{
		maxLines:        max(maxLines, 1),
		maxCharsPerLine: max(maxCharsPerLine, 1),
	}
}

func (w *Window) AddToken(token string) {
	if n := len(w.lines); n > 0 {
		last := w.lines[n-1]
		if utf8.RuneCountInString(last)+1+utf8.RuneCountInString(token) <= w.maxCharsPerLine {
			w.lines[n-1] = last + " " + token
			return
		}
	}
	if len(w.lines) >= w.maxLines {
		w.lines = append(w.lines[:0], w.lines[len(w.lines)-w.maxLines+1:]...)
	}
	w.lines = append(w.lines, token)
}

func (w *Window) Content() string {
	var b strings.Builder
	for _, line := range w.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func (w *Window) Limits() (maxLines, maxCharsPerLine int) {
	return w.maxLines, w.maxCharsPerLine
}

func (w *Window) Resize(maxLines, maxCharsPerLine int) {
	tokens := words(strings.Join(w.lines, "\n"))
	w.lines = nil
	w.maxLines = max(maxLines, 1)
	w.maxCharsPerLine = max(maxCharsPerLine, 1)
	for _, tok := range tokens {
		w.AddToken(tok)
	}
}

// Tokenize keeps whitespace runs as tokens of their own.
func Tokenize(s string) []string {
	var tokens []string
	start := 0
	for i, r := range s {
		if i == start {
			continue
		}
		prev, _ := utf8.DecodeLastRuneInString(s[:i])
		if unicode.IsSpace(prev) != unicode.IsSpace(r) {
			tokens = append(tokens, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

func words(s string) []string {
	var out []string
	for _, tok := range Tokenize(s) {
		if !isSpace(tok) {
			out = append(out, tok)
		}
	}
	return out
}

func isSpace(tok string) bool {
	return strings.TrimFunc(tok, unicode.IsSpace) == ""
}
