package ocr

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reDate      = regexp.MustCompile(`\b(19|20)\d{2}[-/.]\d{1,2}[-/.]\d{1,2}\b|\b\d{1,2}[-/.]\d{1,2}[-/.](19|20)\d{2}\b`)
	reAlphaWord = regexp.MustCompile(`[A-Za-z]{3,}`)
)

// Gate for trusting an embedded PDF text layer over a full OCR pass.
const (
	minMeaningfulChars = 50
	minMeaningfulWords = 10
)

// hasMeaningfulText reports whether extracted text looks like document prose
// rather than the stray characters a scanned PDF sometimes carries in its
// text layer.
func hasMeaningfulText(s string) bool {
	t := strings.TrimSpace(s)
	if len(t) < minMeaningfulChars {
		return false
	}
	words := reAlphaWord.FindAllString(t, minMeaningfulWords)
	return len(words) >= minMeaningfulWords
}

// naive heuristic confidence based on decoded text characteristics
func heuristicConfidence(txt string) float32 {
	// very simple: boost for prose-shaped output (real words, sane
	// letter ratio, date-ish tokens). Each adds a little.
	score := float32(0.2) // base
	if len(reAlphaWord.FindAllString(txt, minMeaningfulWords)) >= minMeaningfulWords {
		score += 0.2
	}
	if letterRatio(txt) > 0.5 {
		score += 0.2
	}
	if reDate.MatchString(txt) {
		score += 0.1
	}
	if len(txt) > 120 {
		score += 0.1
	} // enough content
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// letterRatio is the share of letters among non-space characters.
func letterRatio(s string) float64 {
	var letters, total int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}
