package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const maxFreeTextLength = 2000

var plainTextPolicy = bluemonday.StrictPolicy()

// PlainText turns user supplied free text (notes, reasons) into plain text: markup is stripped,
// control characters removed, whitespace collapsed per line, and the result capped in length.
func PlainText(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	stripped := html.UnescapeString(plainTextPolicy.Sanitize(trimmed))

	normalized := strings.ReplaceAll(strings.ReplaceAll(stripped, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		line = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) && !unicode.IsSpace(r) {
				return -1
			}
			return r
		}, line)
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	result := strings.TrimSpace(strings.Join(lines, "\n"))
	if runes := []rune(result); len(runes) > maxFreeTextLength {
		result = strings.TrimSpace(string(runes[:maxFreeTextLength]))
	}
	return result
}
