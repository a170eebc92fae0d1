package store

import (
	"context"
	"testing"
	"time"

	"github.com/roach88/convergence/internal/ir"
)

func TestLookupProof_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, found, err := s.LookupProof(context.Background(), ir.ClaimIdentity("r-1"))
	if err != nil {
		t.Fatalf("LookupProof failed: %v", err)
	}
	if found {
		t.Error("expected found=false before any publish")
	}
}

func TestAcquirePublishLease_Exclusive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := ir.ClaimIdentity("r-1")
	now := testWindowStart

	acquired, _, err := s.AcquirePublishLease(ctx, key, "hash", "holder-a", now, time.Minute)
	if err != nil {
		t.Fatalf("AcquirePublishLease failed: %v", err)
	}
	if !acquired {
		t.Fatal("first holder should acquire the lease")
	}

	acquired, g, err := s.AcquirePublishLease(ctx, key, "hash", "holder-b", now.Add(10*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("AcquirePublishLease failed: %v", err)
	}
	if acquired {
		t.Error("second holder acquired a live lease")
	}
	if g.LeaseHolder != "holder-a" || g.Published() {
		t.Errorf("guard = %+v, want unpublished lease held by holder-a", g)
	}
}

func TestAcquirePublishLease_ExpiredLeaseCanBeTaken(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := ir.ClaimIdentity("r-1")

	if _, _, err := s.AcquirePublishLease(ctx, key, "hash", "holder-a", testWindowStart, time.Minute); err != nil {
		t.Fatalf("AcquirePublishLease failed: %v", err)
	}

	acquired, g, err := s.AcquirePublishLease(ctx, key, "hash", "holder-b", testWindowStart.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("AcquirePublishLease failed: %v", err)
	}
	if !acquired {
		t.Fatal("expired lease should be taken over")
	}
	if g.LeaseHolder != "holder-b" {
		t.Errorf("LeaseHolder = %q, want holder-b", g.LeaseHolder)
	}
}

func TestReleasePublishLease(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := ir.ClaimIdentity("r-1")

	if _, _, err := s.AcquirePublishLease(ctx, key, "hash", "holder-a", testWindowStart, time.Hour); err != nil {
		t.Fatalf("AcquirePublishLease failed: %v", err)
	}

	// A non-holder cannot release.
	if err := s.ReleasePublishLease(ctx, key, "holder-b"); err != nil {
		t.Fatalf("ReleasePublishLease failed: %v", err)
	}
	acquired, _, err := s.AcquirePublishLease(ctx, key, "hash", "holder-b", testWindowStart, time.Hour)
	if err != nil {
		t.Fatalf("AcquirePublishLease failed: %v", err)
	}
	if acquired {
		t.Fatal("lease released by non-holder")
	}

	if err := s.ReleasePublishLease(ctx, key, "holder-a"); err != nil {
		t.Fatalf("ReleasePublishLease failed: %v", err)
	}
	acquired, _, err = s.AcquirePublishLease(ctx, key, "hash", "holder-b", testWindowStart, time.Hour)
	if err != nil {
		t.Fatalf("AcquirePublishLease failed: %v", err)
	}
	if !acquired {
		t.Error("lease should be free after its holder released it")
	}
}

func TestCommitProof_AtMostOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r := createTestResult("AVAX", testWindowStart)
	if _, _, err := s.RecordConvergence(ctx, r); err != nil {
		t.Fatalf("RecordConvergence failed: %v", err)
	}
	key := r.Identity()

	g, committed, err := s.CommitProof(ctx, key, "0xfirst", r.ContentHash, testWindowStart)
	if err != nil {
		t.Fatalf("CommitProof failed: %v", err)
	}
	if !committed || g.ProofTxRef != "0xfirst" {
		t.Fatalf("committed=%v guard=%+v, want first commit to win", committed, g)
	}

	g, committed, err = s.CommitProof(ctx, key, "0xsecond", r.ContentHash, testWindowStart)
	if err != nil {
		t.Fatalf("CommitProof failed: %v", err)
	}
	if committed {
		t.Error("second commit should be rejected")
	}
	if g.ProofTxRef != "0xfirst" {
		t.Errorf("ProofTxRef = %q, want 0xfirst", g.ProofTxRef)
	}

	stored, err := s.ReadConvergence(ctx, "AVAX", testWindowStart)
	if err != nil {
		t.Fatalf("ReadConvergence failed: %v", err)
	}
	if stored.ProofTxRef != "0xfirst" || stored.ProofHash != r.ContentHash {
		t.Errorf("result proof = (%q, %q), want (0xfirst, %s)", stored.ProofTxRef, stored.ProofHash, r.ContentHash)
	}

	// A committed guard cannot be leased again.
	acquired, g, err := s.AcquirePublishLease(ctx, key, r.ContentHash, "late", testWindowStart, time.Minute)
	if err != nil {
		t.Fatalf("AcquirePublishLease failed: %v", err)
	}
	if acquired || !g.Published() {
		t.Errorf("acquired=%v published=%v, want no lease on a published guard", acquired, g.Published())
	}
}

func TestCommitProof_ClearsLease(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := ir.ClaimIdentity("r-1")

	if _, _, err := s.AcquirePublishLease(ctx, key, "hash", "holder-a", testWindowStart, time.Hour); err != nil {
		t.Fatalf("AcquirePublishLease failed: %v", err)
	}
	g, committed, err := s.CommitProof(ctx, key, "0xabc", "hash", testWindowStart.Add(time.Second))
	if err != nil {
		t.Fatalf("CommitProof failed: %v", err)
	}
	if !committed {
		t.Fatal("expected commit")
	}
	if g.LeaseHolder != "" || !g.LeaseUntil.IsZero() {
		t.Errorf("lease not cleared: %+v", g)
	}
	if !g.PublishedAt.Equal(testWindowStart.Add(time.Second)) {
		t.Errorf("PublishedAt = %v", g.PublishedAt)
	}
}

func TestCommitProof_UpdatesClaimRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	claim := ir.PublishedClaim{
		ReportID:      "r-1",
		AgentKind:     ir.AgentTipster,
		Score:         8500,
		ScoreDecimals: 2,
		Boost:         1.7,
		ContentHash:   "hash",
		CreatedAt:     testWindowStart,
	}
	if _, _, err := s.RecordClaim(ctx, claim); err != nil {
		t.Fatalf("RecordClaim failed: %v", err)
	}
	if _, _, err := s.CommitProof(ctx, ir.ClaimIdentity("r-1"), "0xclaim", "hash", testWindowStart); err != nil {
		t.Fatalf("CommitProof failed: %v", err)
	}

	got, found, err := s.ReadClaim(ctx, "r-1")
	if err != nil || !found {
		t.Fatalf("ReadClaim: found=%v err=%v", found, err)
	}
	if got.ProofTxRef != "0xclaim" {
		t.Errorf("ProofTxRef = %q, want 0xclaim", got.ProofTxRef)
	}
}

func TestCommitProof_EmptyRef(t *testing.T) {
	s := createTestStore(t)
	if _, _, err := s.CommitProof(context.Background(), ir.ClaimIdentity("r-1"), "", "hash", testWindowStart); err == nil {
		t.Error("expected error for empty tx ref")
	}
}
