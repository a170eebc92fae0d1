package store

import (
	"context"
	"testing"
	"time"
)

func TestCheckpoint_OnlyMovesForward(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, found, err := s.ReadCheckpoint(ctx, "convergence")
	if err != nil {
		t.Fatalf("ReadCheckpoint failed: %v", err)
	}
	if found {
		t.Fatal("expected no checkpoint before first scan")
	}

	cp := Checkpoint{
		Name:           "convergence",
		WindowStart:    testWindowStart,
		ScannedThrough: testWindowStart.Add(6 * time.Hour),
		RunID:          "run-1",
		UpdatedAt:      testWindowStart.Add(6 * time.Hour),
	}
	changed, err := s.AdvanceCheckpoint(ctx, cp)
	if err != nil {
		t.Fatalf("AdvanceCheckpoint failed: %v", err)
	}
	if !changed {
		t.Error("first checkpoint should be stored")
	}

	stale := cp
	stale.ScannedThrough = testWindowStart.Add(time.Hour)
	stale.RunID = "run-stale"
	changed, err = s.AdvanceCheckpoint(ctx, stale)
	if err != nil {
		t.Fatalf("AdvanceCheckpoint failed: %v", err)
	}
	if changed {
		t.Error("checkpoint moved backwards")
	}

	next := cp
	next.WindowStart = testWindowStart.Add(24 * time.Hour)
	next.ScannedThrough = next.WindowStart
	next.RunID = "run-2"
	if _, err := s.AdvanceCheckpoint(ctx, next); err != nil {
		t.Fatalf("AdvanceCheckpoint failed: %v", err)
	}

	got, found, err := s.ReadCheckpoint(ctx, "convergence")
	if err != nil || !found {
		t.Fatalf("ReadCheckpoint: found=%v err=%v", found, err)
	}
	if got.RunID != "run-2" || !got.WindowStart.Equal(next.WindowStart) {
		t.Errorf("checkpoint = %+v, want run-2 in the next window", got)
	}
}
