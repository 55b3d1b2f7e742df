package ocr

import (
	"regexp"
	"strings"
)

var (
	reCR       = regexp.MustCompile(`\r\n?`)
	reSpaceRun = regexp.MustCompile(` {2,}`)
	reBlankRun = regexp.MustCompile(`\n{3,}`)
	reZeroForO = regexp.MustCompile(`\b0([1-9])\b`)
	reBoxNoise = regexp.MustCompile(`(?m)^\s*[_\-]{3,}\s*$`)
)

// Normalize cleans recognized text for storage: unix line endings, single
// spaces, at most one blank line in a row, no trailing space per line. A
// standalone "0" before a digit is tesseract misreading a letter O and gets
// swapped back. Form feeds pass through untouched so page boundaries stay
// visible downstream.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCR.ReplaceAllString(s, "\n")
	s = strings.ReplaceAll(s, "\t", " ")
	s = reSpaceRun.ReplaceAllString(s, " ")
	s = reBlankRun.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " ")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(reZeroForO.ReplaceAllString(s, "O$1"))
}
