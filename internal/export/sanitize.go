package export

import (
	"strings"
	"time"
)

// formulaPrefixes start a formula (or a DDE payload) in spreadsheet software.
const formulaPrefixes = "=+-@\t\r"

// SanitizeValue neutralizes a value that a spreadsheet would evaluate as a
// formula by prefixing it with a single quote.
func SanitizeValue(value string) string {
	if value == "" {
		return value
	}
	if strings.ContainsRune(formulaPrefixes, rune(value[0])) {
		return "'" + value
	}
	return value
}

// sanitizeFilename creates a safe filename stem from a review name
func sanitizeFilename(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	result := strings.TrimRight(b.String(), "_")
	if len(result) > 50 {
		result = strings.TrimRight(result[:50], "_")
	}
	if result == "" {
		result = "review"
	}
	return result
}

// Filename builds "<review>_<answer-type>_<timestamp>.xlsx".
func Filename(reviewName string, answerType AnswerType, at time.Time) string {
	return sanitizeFilename(reviewName) + "_" + answerType.suffix() + "_" + at.Format("20060102_150405") + ".xlsx"
}
