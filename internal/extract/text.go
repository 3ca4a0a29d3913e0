package extract

import (
	"regexp"
	"strings"
)

// TruncationMarker joins the head and tail of oversized text.
const TruncationMarker = "\n\n[... content truncated ...]\n\n"

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reControl    = regexp.MustCompile(`[\x00\x0b\x0c]`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
)

// Normalize collapses line ending and whitespace noise. Line breaks are
// kept; three or more newlines become one blank line.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reControl.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Truncate keeps the first two thirds and the last third of the budget when
// s is longer than max runes, joined by TruncationMarker. The result never
// exceeds max runes; text that already fits is returned unchanged.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}

	marker := []rune(TruncationMarker)
	budget := max - len(marker)
	if budget <= 0 {
		return string(runes[:max])
	}

	head := budget * 2 / 3
	tail := budget - head

	var b strings.Builder
	b.Grow(max * 4)
	b.WriteString(strings.TrimRight(string(runes[:head]), " \n"))
	b.WriteString(TruncationMarker)
	b.WriteString(strings.TrimLeft(string(runes[len(runes)-tail:]), " \n"))
	return b.String()
}
