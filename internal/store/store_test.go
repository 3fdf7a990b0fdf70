package store

import (
	"testing"
	"time"

	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetSlice(t *testing.T) {
	s := newTestStore(t)

	e := domain.LedgerEntry{
		SliceKey:    "C01_none_gsm8k",
		Status:      domain.StatusClaimed,
		Claimant:    "alice@pc",
		ClaimedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Target:      50,
		LastUpdated: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertSlice(e); err != nil {
		t.Fatalf("UpsertSlice error = %v", err)
	}

	got, err := s.GetSlice("C01_none_gsm8k")
	if err != nil {
		t.Fatalf("GetSlice error = %v", err)
	}
	if got.Status != domain.StatusClaimed || got.Claimant != "alice@pc" || got.Target != 50 {
		t.Errorf("got %+v", got)
	}

	// upsert overwrites
	e.Status = domain.StatusComplete
	e.Claimant = ""
	e.Recorded = 50
	if err := s.UpsertSlice(e); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSlice("C01_none_gsm8k")
	if got.Status != domain.StatusComplete || got.Claimant != "" || got.Recorded != 50 {
		t.Errorf("after upsert: %+v", got)
	}
}

func TestListSlices_Filters(t *testing.T) {
	s := newTestStore(t)
	entries := []domain.LedgerEntry{
		{SliceKey: "C01_none_gsm8k", Status: domain.StatusComplete, Target: 2, Recorded: 2},
		{SliceKey: "C03_none_gsm8k", Status: domain.StatusClaimed, Claimant: "bob@pc", Target: 2},
		{SliceKey: "C04_b1a_camelcase_pairs_gsm8k", Status: domain.StatusUnclaimed, Target: 2},
	}
	for _, e := range entries {
		if err := s.UpsertSlice(e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListSlices(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d", len(all))
	}
	if all[0].SliceKey != "C01_none_gsm8k" {
		t.Errorf("not ordered by key: %s first", all[0].SliceKey)
	}

	claimed, err := s.ListSlices(ListOptions{Status: domain.StatusClaimed})
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].Claimant != "bob@pc" {
		t.Errorf("claimed = %+v", claimed)
	}

	byWorker, err := s.ListSlices(ListOptions{Claimant: "bob@pc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byWorker) != 1 {
		t.Errorf("byWorker = %+v", byWorker)
	}
}

func TestReplace(t *testing.T) {
	s := newTestStore(t)

	// pre-existing rows must vanish on replace
	if err := s.UpsertSlice(domain.LedgerEntry{SliceKey: "old_key", Status: domain.StatusComplete}); err != nil {
		t.Fatal(err)
	}

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := ledger.Rebuild([]domain.Slice{
		{ConfigID: "C01", Pattern: "A", Strategy: "none", Benchmark: "gsm8k", Target: 1},
		{ConfigID: "C03", Pattern: "AA", Strategy: "none", Benchmark: "gsm8k", Target: 1},
	}, []domain.ClaimEvent{
		{ID: "c1", SliceKey: "C01_none_gsm8k", Worker: "alice@pc", Kind: domain.ClaimAcquire, Time: t0},
	}, nil, ledger.Options{Now: t0})

	if err := s.Replace(l); err != nil {
		t.Fatalf("Replace error = %v", err)
	}

	if _, err := s.GetSlice("old_key"); err == nil {
		t.Error("stale row survived Replace")
	}

	counts, err := s.CountByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.StatusClaimed] != 1 || counts[domain.StatusUnclaimed] != 1 {
		t.Errorf("counts = %v", counts)
	}

	workers, err := s.ListWorkers()
	if err != nil {
		t.Fatal(err)
	}
	if len(workers) != 1 || workers[0].WorkerID != "alice@pc" || workers[0].Active != 1 {
		t.Errorf("workers = %+v", workers)
	}

	rebuiltAt, err := s.RebuiltAt()
	if err != nil {
		t.Fatal(err)
	}
	if rebuiltAt.IsZero() {
		t.Error("rebuilt_at not recorded")
	}
}

func TestRebuiltAt_Empty(t *testing.T) {
	s := newTestStore(t)
	ts, err := s.RebuiltAt()
	if err != nil {
		t.Fatal(err)
	}
	if !ts.IsZero() {
		t.Errorf("rebuilt_at = %v, want zero", ts)
	}
}
