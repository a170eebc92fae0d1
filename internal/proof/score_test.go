package proof

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/convergence/internal/ir"
)

func TestParseReportScore(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"trailing line", "Quiet day.\nScore: 72/100", 72},
		{"trailing blank lines", "Quiet day.\nScore: 72/100\n\n", 72},
		{"lower case", "score: 40/100", 40},
		{"no denominator", "Score: 65", 65},
		{"markdown", "**Score: 88/100**", 88},
		{"spaces", "Score:  9 / 100 ", 9},
		{"last score line wins", "Score: 10/100\nmore text\nScore: 20/100", 20},
		{"zero", "Score: 0/100", 0},
		{"hundred", "Score: 100/100", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReportScore(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReportScore_Unparseable(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no score line", "Whales were quiet today."},
		{"empty", ""},
		{"not a number", "Score: high/100"},
		{"decimal", "Score: 72.5/100"},
		{"out of range", "Score: 140/100"},
		{"negative", "Score: -5/100"},
		{"other denominator", "Score: 7/10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReportScore(tt.text)
			assert.ErrorIs(t, err, ErrUnparseableScore)
		})
	}
}

func TestReportScore_StructuredWins(t *testing.T) {
	score := 80
	got, err := ReportScore(ir.AgentReport{Text: "Score: 10/100", Score: &score})
	require.NoError(t, err)
	assert.Equal(t, 80, got)

	bad := 101
	_, err = ReportScore(ir.AgentReport{Score: &bad})
	assert.ErrorIs(t, err, ErrUnparseableScore)
}

func TestExtractTopToken(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"top pick", "Daily recap\nTop pick: AVAX up 12%\nScore: 70/100", "AVAX"},
		{"skips stopwords", "BEST BUY of the day: SOL", "SOL"},
		{"first matching line", "ETH was flat\nThe best performer was ARB, then OP", "ARB"},
		{"case insensitive keyword", "TOP mover LINK", "LINK"},
		{"line without ticker continues", "top movers below\nnothing\nbest: PEPE", "PEPE"},
		{"none", "ETH and BTC moved", ""},
		{"too long", "top: ABCDEFGH", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTopToken(tt.text))
		})
	}
}

func TestReportTopToken_StructuredWins(t *testing.T) {
	r := ir.AgentReport{TopToken: " avax ", Text: "Top pick: SOL"}
	assert.Equal(t, "AVAX", ReportTopToken(r))

	r.TopToken = ""
	assert.Equal(t, "SOL", ReportTopToken(r))
}
