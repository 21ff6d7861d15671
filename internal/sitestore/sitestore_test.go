package sitestore

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestPlacement(t *testing.T) {
	if !IsReplicated(4) || IsReplicated(3) {
		t.Fatalf("IsReplicated parity check failed")
	}
	if got := HomeSite(3); got != 4 {
		t.Errorf("HomeSite(3) = %d, want 4", got)
	}
	if got := HomeSite(13); got != 4 {
		t.Errorf("HomeSite(13) = %d, want 4", got)
	}
	if got := SitesFor(4); len(got) != NumSites {
		t.Errorf("SitesFor(4) has %d sites, want %d", len(got), NumSites)
	}
}

func TestInitialValues(t *testing.T) {
	st := New(zerolog.Nop())
	res, ok := st.CanRead(5, 0)
	if !ok {
		t.Fatalf("expected initial read of x5 to succeed")
	}
	if res.Value != 50 {
		t.Errorf("x5 initial value = %d, want 50", res.Value)
	}
}

func TestFailRecoverContinuousUptime(t *testing.T) {
	st := New(zerolog.Nop())

	st.Fail(3, 5)
	if _, ok := st.CanRead(6, 10); !ok {
		// x6 is replicated across all ten sites; site 3 failing alone
		// must not make it unreadable everywhere.
		t.Fatalf("expected x6 still readable from a surviving site")
	}

	st.Recover(3, 8)
	// A read started after recovery but before any new commit must not
	// treat site 3 as a valid source for x6 (readable flag still clear).
	res, ok := st.CanRead(6, 20)
	if !ok {
		t.Fatalf("expected x6 readable from some up site after recovery")
	}
	if res.SourceSite == 3 {
		t.Errorf("site 3 should not be readable_for_new_snapshots until a post-recovery commit")
	}

	st.WriteCommitted(6, 600, 21, "T9", SitesFor(6))
	res, ok = st.CanRead(6, 22)
	if !ok || res.Value != 600 {
		t.Errorf("expected x6 = 600 after post-recovery commit, got (%v, %v)", res, ok)
	}
}

func TestOddVariableReadableAfterRecoveryDespitePriorFailure(t *testing.T) {
	st := New(zerolog.Nop())

	st.Fail(4, 1)               // x3's only host, down before the reader ever starts
	res, ok := st.CanRead(3, 2) // txnStart = 2, while site 4 is still down
	if ok {
		t.Fatalf("x3 must be unreadable while its sole host is down, got %v", res)
	}

	st.Recover(4, 4)
	// Retried with the SAME original txnStart (2): site 4 failed inside
	// (commit_t=0, txnStart=2], but a single-home variable has no second
	// copy to have missed, so recovery alone must make it readable again.
	res, ok = st.CanRead(3, 2)
	if !ok || res.Value != 30 {
		t.Fatalf("expected x3 = 30 readable after recovery, got (%v, %v)", res, ok)
	}
}

func TestCanReadSkipsStaleReplicaAfterMissedCommit(t *testing.T) {
	st := New(zerolog.Nop())

	// Take sites 1 and 2 out of contention so site 3 is the lowest-id
	// candidate once it recovers.
	st.Fail(1, 1)
	st.Fail(2, 1)

	st.Fail(3, 1)
	st.WriteCommitted(6, 62, 2, "T5", SitesFor(6)) // site 3 misses this version
	st.Recover(3, 5)
	// A commit after recovery refreshes site 3's chain and its readable
	// flag, but only as of t=6 — its chain still skips the t=2 version.
	st.WriteCommitted(6, 63, 6, "T9", SitesFor(6))

	// txnStart=4 postdates the t=2 commit site 3 missed while down but
	// predates the t=6 refresh. Site 3 is up and readable, but its
	// chosen (t=0) version is stale relative to that missed window.
	res, ok := st.CanRead(6, 4)
	if !ok {
		t.Fatalf("expected x6 still readable from a continuously-up site")
	}
	if res.SourceSite == 3 {
		t.Errorf("site 3 missed a commit during its downtime and must not serve a stale version, got %+v", res)
	}
	if res.Value != 62 {
		t.Errorf("expected the t=2 version (62) from a continuously-up site, got %+v", res)
	}
}

func TestOddVariableSingleHome(t *testing.T) {
	st := New(zerolog.Nop())
	st.Fail(4, 1) // x3's home site

	if st.AllHostingSitesDown(3) != true {
		t.Errorf("x3's only host is down, AllHostingSitesDown should be true")
	}
	if _, ok := st.CanRead(3, 5); ok {
		t.Errorf("x3 should be unreadable while its sole host is down")
	}
}

func TestAnyVersionAfterExcludesWriter(t *testing.T) {
	st := New(zerolog.Nop())
	st.WriteCommitted(2, 99, 10, "T1", SitesFor(2))

	if st.AnyVersionAfter(2, 5, "T1") {
		t.Errorf("T1's own commit must not count against itself")
	}
	if !st.AnyVersionAfter(2, 5, "T2") {
		t.Errorf("T1's commit after time 5 should be visible to a different writer's check")
	}
	if st.AnyVersionAfter(2, 10, "T2") {
		t.Errorf("commit_t = 10 is not strictly after after = 10")
	}
}

func TestDumpIncludesDownSites(t *testing.T) {
	st := New(zerolog.Nop())
	st.Fail(1, 1)
	snaps := st.Dump()
	if len(snaps) != NumSites {
		t.Fatalf("Dump returned %d sites, want %d", len(snaps), NumSites)
	}
	if snaps[0].Up {
		t.Errorf("site 1 should be reported down in dump output")
	}
}
