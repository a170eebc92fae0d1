package convergence

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
)

// NoBoost is the multiplier returned when no convergence applies.
const NoBoost = 1.0

// BoostOracle answers whether an agent's upcoming claim should be boosted
// by a convergence it took part in. It only reads committed results and
// takes no locks, so every agent's claim job may call it concurrently.
type BoostOracle struct {
	store   *store.Store
	window  time.Duration
	timeout time.Duration
}

// NewBoostOracle creates an oracle that looks back one window.
func NewBoostOracle(st *store.Store, window, storeTimeout time.Duration) *BoostOracle {
	if storeTimeout <= 0 {
		storeTimeout = 10 * time.Second
	}
	return &BoostOracle{store: st, window: window, timeout: storeTimeout}
}

// LookupBoost returns the multiplier of the most recent result for token
// whose window ended within one window of asOf, if kind is among its
// agents. Otherwise it returns NoBoost.
//
// "No boost" is always a safe answer: a result recorded a moment after the
// lookup simply is not applied to this claim. On a store error the error is
// returned together with NoBoost.
func (o *BoostOracle) LookupBoost(ctx context.Context, kind ir.AgentKind, token string, asOf time.Time) (float64, error) {
	token = ir.NormalizeToken(token)
	if token == "" {
		return NoBoost, nil
	}

	sctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, found, err := o.store.LatestConvergence(sctx, token, asOf.UTC().Add(-o.window))
	if err != nil {
		return NoBoost, fmt.Errorf("lookup boost %s/%s: %w", kind, token, err)
	}
	if !found || !res.Involves(kind) {
		boostLookups.WithLabelValues(string(kind), "false").Inc()
		return NoBoost, nil
	}
	boostLookups.WithLabelValues(string(kind), "true").Inc()
	return res.Multiplier, nil
}
