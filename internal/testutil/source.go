package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/convergence/internal/ir"
)

// ErrSourceDown is returned by a FakeSource marked down.
var ErrSourceDown = errors.New("fake source: connection refused")

// FakeSource is an in-memory signal source with outage injection.
//
// Implements convergence.SignalSource.
type FakeSource struct {
	mu      sync.Mutex
	signals []ir.Signal
	down    map[ir.AgentKind]bool
	calls   map[ir.AgentKind]int
}

// NewFakeSource creates a source holding signals.
func NewFakeSource(signals ...ir.Signal) *FakeSource {
	return &FakeSource{
		signals: append([]ir.Signal(nil), signals...),
		down:    make(map[ir.AgentKind]bool),
		calls:   make(map[ir.AgentKind]int),
	}
}

// Add appends signals.
func (f *FakeSource) Add(signals ...ir.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signals...)
}

// SetDown makes queries for kind fail (or succeed again).
func (f *FakeSource) SetDown(kind ir.AgentKind, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[kind] = down
}

// Calls returns how many times kind was queried.
func (f *FakeSource) Calls(kind ir.AgentKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

// ListSignals returns kind's signals observed in [from, to].
func (f *FakeSource) ListSignals(ctx context.Context, kind ir.AgentKind, from, to time.Time) ([]ir.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[kind]++
	if f.down[kind] {
		return nil, ErrSourceDown
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []ir.Signal{}
	for _, s := range f.signals {
		if s.AgentKind != kind {
			continue
		}
		if s.ObservedAt.Before(from) || s.ObservedAt.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
