package extract

import (
	"regexp"
	"strings"

	"gatescan/internal/domain/ticket"
)

// OCR output is noisy: incidental numbers, prices, dates and venue text
// surround the actual code. The heuristic below assumes the ticket code is
// the longest plausible alphanumeric run on the ticket. It is a heuristic,
// not a parser; candidates still go through human confirmation when the
// workflow is configured for it.

// whitespace covers spaces, tabs, CR/LF and any other control characters.
// Runs collapse to a single space so adjacent words never fuse into one
// candidate. Symbols such as '-' or '#' are kept and also act as separators.
var whitespace = regexp.MustCompile(`[\s\p{Cc}]+`)

// rules ordered most specific first. Each matches non-overlapping runs in the
// normalized text.
var rules = []*regexp.Regexp{
	regexp.MustCompile(`[A-Z0-9]{10,}`),
	regexp.MustCompile(`[A-Z0-9]{8,}`),
	regexp.MustCompile(`[0-9]{8,}`),
	regexp.MustCompile(`[A-Z]{2,}[0-9]{6,}`),
	regexp.MustCompile(`[0-9]{6,}[A-Z]{2,}`),
}

const minLength = 6

// confusable characters OCR routinely invents out of glare and fold lines. A
// candidate made of nothing else is garbage.
const confusable = "OI01"

// Normalize uppercases and collapses whitespace and control runs to a single
// space. This is the single canonical normalization; earlier screen variants
// disagreed on the exact character class and this one subsumes them all.
func Normalize(raw string) string {
	return strings.TrimSpace(strings.ToUpper(whitespace.ReplaceAllString(raw, " ")))
}

// FromText scans recognized text for a plausible ticket code. ok is false
// when nothing plausible was found. Never panics on malformed input.
func FromText(raw string) (code ticket.Code, ok bool) {
	norm := Normalize(raw)
	if norm == "" {
		return "", false
	}

	for _, rule := range rules {
		matches := rule.FindAllString(norm, -1)
		if len(matches) == 0 {
			continue
		}

		// Longest plausible candidate wins; ties go to first occurrence.
		best := ""
		for _, m := range matches {
			if plausible(m) && len(m) > len(best) {
				best = m
			}
		}
		if best != "" {
			return ticket.Code(best), true
		}
		// A rule may match only implausible runs; later, looser rules can
		// still find the code.
	}
	return "", false
}

func plausible(c string) bool {
	if len(c) < minLength {
		return false
	}
	hasDigit := false
	allSame := true
	allConfusable := true
	for i := 0; i < len(c); i++ {
		if c[i] >= '0' && c[i] <= '9' {
			hasDigit = true
		}
		if c[i] != c[0] {
			allSame = false
		}
		if !strings.ContainsRune(confusable, rune(c[i])) {
			allConfusable = false
		}
	}
	return hasDigit && !allSame && !allConfusable
}
