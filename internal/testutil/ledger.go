package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/ledger"
)

// FakeLedger records submitted claims and returns tx-0001, tx-0002, ...
//
// Implements ledger.Client and ledger.Finder.
type FakeLedger struct {
	mu     sync.Mutex
	claims []ledger.Claim
	byHash map[ir.ContentHash]string
	err    error
	delay  time.Duration

	// landOnError records the claim even when err is returned, like a
	// submission that reached the chain but whose response was lost.
	landOnError bool
}

// NewFakeLedger creates an empty ledger.
func NewFakeLedger() *FakeLedger {
	return &FakeLedger{byHash: make(map[ir.ContentHash]string)}
}

// FailWith makes every submission fail with err. nil restores success.
func (l *FakeLedger) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// LandOnError makes failing submissions land anyway.
func (l *FakeLedger) LandOnError(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.landOnError = v
}

// Delay makes each submission wait d (or until ctx is done).
func (l *FakeLedger) Delay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
}

// SubmitClaim records c.
func (l *FakeLedger) SubmitClaim(ctx context.Context, c ledger.Claim) (string, error) {
	l.mu.Lock()
	delay := l.delay
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil && !l.landOnError {
		return "", l.err
	}
	l.claims = append(l.claims, c)
	ref := fmt.Sprintf("tx-%04d", len(l.claims))
	l.byHash[c.Hash] = ref
	if l.err != nil {
		return "", l.err
	}
	return ref, nil
}

// FindClaim returns the ref a claim with hash landed under.
func (l *FakeLedger) FindClaim(ctx context.Context, hash ir.ContentHash) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ref, ok := l.byHash[hash]
	return ref, ok, nil
}

// Claims returns a copy of every landed claim in submission order.
func (l *FakeLedger) Claims() []ledger.Claim {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Claim(nil), l.claims...)
}

// Submissions returns how many claims landed.
func (l *FakeLedger) Submissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.claims)
}

// SubmitOnly exposes only l.SubmitClaim, for publishers that must work
// without ledger lookups.
func (l *FakeLedger) SubmitOnly() ledger.Client {
	return submitOnly{l}
}

type submitOnly struct {
	l *FakeLedger
}

func (s submitOnly) SubmitClaim(ctx context.Context, c ledger.Claim) (string, error) {
	return s.l.SubmitClaim(ctx, c)
}
