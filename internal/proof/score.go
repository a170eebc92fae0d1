package proof

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/convergence/internal/ir"
)

// ParseReportScore reads the score from a report's trailing
// "Score: <integer>/100" line. The last line starting with "score:" wins;
// markdown emphasis around it is ignored. The "/100" is optional, but any
// other denominator, a non-integer, or a value outside 0-100 is
// ErrUnparseableScore.
func ParseReportScore(text string) (int, error) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.Trim(strings.TrimSpace(lines[i]), "*_ ")
		if len(line) < 6 || !strings.EqualFold(line[:6], "score:") {
			continue
		}

		value := strings.TrimSpace(line[6:])
		value = strings.Trim(value, "*_ ")
		num, denom, hasDenom := strings.Cut(value, "/")
		if hasDenom && strings.Trim(strings.TrimSpace(denom), "*_ ") != "100" {
			return 0, fmt.Errorf("%w: denominator in %q", ErrUnparseableScore, lines[i])
		}
		n, err := strconv.Atoi(strings.Trim(strings.TrimSpace(num), "*_ "))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnparseableScore, lines[i])
		}
		if n < 0 || n > 100 {
			return 0, fmt.Errorf("%w: %d out of range", ErrUnparseableScore, n)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: no score line", ErrUnparseableScore)
}

// ReportScore returns the report's structured score if it has one,
// otherwise the score parsed from its text.
func ReportScore(r ir.AgentReport) (int, error) {
	if r.Score != nil {
		if *r.Score < 0 || *r.Score > 100 {
			return 0, fmt.Errorf("%w: structured score %d out of range", ErrUnparseableScore, *r.Score)
		}
		return *r.Score, nil
	}
	return ParseReportScore(r.Text)
}

var tickerPattern = regexp.MustCompile(`\b[A-Z]{2,6}\b`)

// tickerStopwords are upper-case words reports use that are not tickers.
var tickerStopwords = map[string]bool{
	"BUY":  true,
	"SELL": true,
	"HOLD": true,
	"THE":  true,
	"AND":  true,
	"FOR":  true,
	"TOP":  true,
	"BEST": true,
}

// ExtractTopToken finds the report's headline token: the first ticker-like
// word (2-6 upper-case letters, not a stopword) on the first line that
// mentions "top" or "best". Returns "" when there is none.
func ExtractTopToken(text string) string {
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "top") && !strings.Contains(lower, "best") {
			continue
		}
		for _, word := range tickerPattern.FindAllString(line, -1) {
			if !tickerStopwords[word] {
				return word
			}
		}
	}
	return ""
}

// ReportTopToken returns the report's structured top token, or the one
// extracted from its text.
func ReportTopToken(r ir.AgentReport) string {
	if t := ir.NormalizeToken(r.TopToken); t != "" {
		return t
	}
	return ExtractTopToken(r.Text)
}
