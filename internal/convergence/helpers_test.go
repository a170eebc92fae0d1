package convergence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/convergence/internal/config"
	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
)

var (
	day1     = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	day1Noon = day1.Add(12 * time.Hour)
	window1  = Window{Start: day1, End: day1.Add(24 * time.Hour)}
)

func defaultRules(t *testing.T) *Rules {
	t.Helper()
	r, err := NewRules(config.Default())
	require.NoError(t, err)
	return r
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tipster(token string, confidence float64, signalType string, at time.Time, id string) ir.Signal {
	return ir.Signal{
		AgentKind:   ir.AgentTipster,
		TokenSymbol: token,
		RawScore:    confidence,
		SignalType:  signalType,
		ObservedAt:  at,
		SourceID:    id,
	}
}

func whale(token, grade, txType string, at time.Time, id string) ir.Signal {
	return ir.Signal{
		AgentKind:   ir.AgentWhale,
		TokenSymbol: token,
		Grade:       grade,
		SignalType:  txType,
		ObservedAt:  at,
		SourceID:    id,
	}
}

func narrative(token string, sentiment float64, at time.Time, id string) ir.Signal {
	return ir.Signal{
		AgentKind:   ir.AgentNarrative,
		TokenSymbol: token,
		RawScore:    sentiment,
		ObservedAt:  at,
		SourceID:    id,
	}
}
