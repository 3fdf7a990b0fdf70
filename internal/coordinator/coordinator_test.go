package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/hochfrequenz/re3-harness/internal/catalog"
	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/merger"
	"github.com/hochfrequenz/re3-harness/internal/recorder"
)

// fakeTransport keeps everything local; hooks let tests inject competing
// writes at pull/publish boundaries.
type fakeTransport struct {
	published []string
	onPublish func(message string)
}

func (f *fakeTransport) Pull(ctx context.Context) error { return nil }

func (f *fakeTransport) Publish(ctx context.Context, message string) error {
	f.published = append(f.published, message)
	if f.onPublish != nil {
		f.onPublish(message)
	}
	return nil
}

func newCoordinator(t *testing.T, dataDir, worker string, transport Transport, seed int64) *Coordinator {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatal(err)
	}
	rec, err := recorder.New(dataDir, worker)
	if err != nil {
		t.Fatal(err)
	}
	return New(transport, rec, cat, Options{
		Worker:  worker,
		DataDir: dataDir,
		Target:  2,
		Rand:    rand.New(rand.NewSource(seed)),
	})
}

func TestClaimNext_ClaimsAndPublishes(t *testing.T) {
	dataDir := t.TempDir()
	transport := &fakeTransport{}
	c := newCoordinator(t, dataDir, "alice@pc", transport, 1)

	s, err := c.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext error = %v", err)
	}
	if s.Key() == "" || s.Target != 2 {
		t.Errorf("slice = %+v", s)
	}
	if len(transport.published) != 1 {
		t.Fatalf("published %d times, want 1", len(transport.published))
	}

	claims, err := recorder.LoadClaims(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 || claims[0].SliceKey != s.Key() || claims[0].Kind != domain.ClaimAcquire {
		t.Errorf("claims = %+v", claims)
	}

	state := merger.ReplayClaims(claims, merger.ReplayOptions{})[s.Key()]
	if state.Claimant != "alice@pc" {
		t.Errorf("claimant = %s", state.Claimant)
	}
}

func TestClaimNext_LostRaceReselects(t *testing.T) {
	dataDir := t.TempDir()
	rival, err := recorder.New(dataDir, "bob@pc")
	if err != nil {
		t.Fatal(err)
	}

	transport := &fakeTransport{}
	firstPublish := true
	transport.onPublish = func(string) {
		if !firstPublish {
			return
		}
		firstPublish = false
		// bob's competing claim for the same slice lands with an earlier
		// timestamp, so the merged order awards it to bob
		claims, err := recorder.LoadClaims(dataDir)
		if err != nil || len(claims) == 0 {
			t.Fatalf("load claims: %v", err)
		}
		mine := claims[len(claims)-1]
		if _, err := rival.AppendClaim(domain.ClaimEvent{
			SliceKey: mine.SliceKey,
			Kind:     domain.ClaimAcquire,
			Time:     mine.Time.Add(-time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}

	c := newCoordinator(t, dataDir, "alice@pc", transport, 2)
	s, err := c.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext error = %v", err)
	}

	claims, _ := recorder.LoadClaims(dataDir)
	states := merger.ReplayClaims(claims, merger.ReplayOptions{})
	if states[s.Key()].Claimant != "alice@pc" {
		t.Errorf("final slice %s not held by alice", s.Key())
	}

	// bob must hold the contested slice
	held := 0
	for key, st := range states {
		if st.Claimant == "bob@pc" {
			held++
			if key == s.Key() {
				t.Error("alice returned a slice bob holds")
			}
		}
	}
	if held != 1 {
		t.Errorf("bob holds %d slices, want 1", held)
	}
	if len(transport.published) != 2 {
		t.Errorf("published %d times, want 2 (lost race, then won)", len(transport.published))
	}
}

func TestClaimNext_NoSlices(t *testing.T) {
	dataDir := t.TempDir()
	rival, err := recorder.New(dataDir, "bob@pc")
	if err != nil {
		t.Fatal(err)
	}

	cat, err := catalog.Load()
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range cat.Slices(2) {
		if _, err := rival.AppendClaim(domain.ClaimEvent{SliceKey: s.Key(), Kind: domain.ClaimAcquire}); err != nil {
			t.Fatal(err)
		}
	}

	c := newCoordinator(t, dataDir, "alice@pc", &fakeTransport{}, 3)
	if _, err := c.ClaimNext(context.Background()); !errors.Is(err, ErrNoSlices) {
		t.Errorf("err = %v, want ErrNoSlices", err)
	}
}

func TestClaimNext_WinsOverStaleClaims(t *testing.T) {
	dataDir := t.TempDir()
	rival, err := recorder.New(dataDir, "dead@pc")
	if err != nil {
		t.Fatal(err)
	}

	// dead@pc claimed every slice two hours ago and never recorded a run.
	// The whole universe must still be claimable without a manual reclaim.
	cat, err := catalog.Load()
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range cat.Slices(2) {
		if _, err := rival.AppendClaim(domain.ClaimEvent{
			SliceKey: s.Key(),
			Kind:     domain.ClaimAcquire,
			Time:     time.Now().UTC().Add(-2 * time.Hour),
		}); err != nil {
			t.Fatal(err)
		}
	}

	transport := &fakeTransport{}
	c := newCoordinator(t, dataDir, "alice@pc", transport, 7)

	s, err := c.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext error = %v", err)
	}
	if len(transport.published) != 1 {
		t.Errorf("published %d times, want 1 (no lost races against dead claims)", len(transport.published))
	}

	claims, err := recorder.LoadClaims(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	st := merger.ReplayClaims(claims, merger.ReplayOptions{LivenessWindow: 30 * time.Minute})[s.Key()]
	if st.Claimant != "alice@pc" {
		t.Errorf("claimant = %s, want alice@pc superseding the stale holder", st.Claimant)
	}
}

func TestClaimNext_PhasePreference(t *testing.T) {
	dataDir := t.TempDir()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatal(err)
	}
	rec, err := recorder.New(dataDir, "alice@pc")
	if err != nil {
		t.Fatal(err)
	}
	c := New(&fakeTransport{}, rec, cat, Options{
		Worker:  "alice@pc",
		DataDir: dataDir,
		Target:  2,
		Phase:   "1a",
		Rand:    rand.New(rand.NewSource(4)),
	})

	s, err := c.ClaimNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	inPhase := false
	for _, key := range cat.Priority("1a") {
		if key == s.Key() {
			inPhase = true
		}
	}
	if !inPhase {
		t.Errorf("claimed %s, want a phase 1a slice first", s.Key())
	}
}

func TestReleaseAndFail(t *testing.T) {
	dataDir := t.TempDir()
	transport := &fakeTransport{}
	c := newCoordinator(t, dataDir, "alice@pc", transport, 5)
	ctx := context.Background()

	s, err := c.ClaimNext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Release(ctx, s.Key(), "shutting down"); err != nil {
		t.Fatalf("Release error = %v", err)
	}

	claims, _ := recorder.LoadClaims(dataDir)
	st := merger.ReplayClaims(claims, merger.ReplayOptions{})[s.Key()]
	if st.Claimant != "" {
		t.Errorf("slice still held after release: %+v", st)
	}

	if err := c.Fail(ctx, s.Key(), "endpoint down"); err != nil {
		t.Fatalf("Fail error = %v", err)
	}
	claims, _ = recorder.LoadClaims(dataDir)
	st = merger.ReplayClaims(claims, merger.ReplayOptions{})[s.Key()]
	if !st.Failed || st.Reason != "endpoint down" {
		t.Errorf("state after fail = %+v", st)
	}
}

func TestReclaimStale(t *testing.T) {
	dataDir := t.TempDir()
	rival, err := recorder.New(dataDir, "bob@pc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rival.AppendClaim(domain.ClaimEvent{
		SliceKey: "C01_none_gsm8k",
		Kind:     domain.ClaimAcquire,
		Time:     time.Now().UTC().Add(-2 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	transport := &fakeTransport{}
	c := newCoordinator(t, dataDir, "alice@pc", transport, 6)

	stale, err := c.ReclaimStale(context.Background())
	if err != nil {
		t.Fatalf("ReclaimStale error = %v", err)
	}
	if len(stale) != 1 || stale[0].SliceKey != "C01_none_gsm8k" || stale[0].Claimant != "bob@pc" {
		t.Fatalf("stale = %+v", stale)
	}

	claims, _ := recorder.LoadClaims(dataDir)
	if st := merger.ReplayClaims(claims, merger.ReplayOptions{})["C01_none_gsm8k"]; st.Claimant != "" {
		t.Errorf("slice still held after reclaim: %+v", st)
	}

	// nothing left to reclaim
	again, err := c.ReclaimStale(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second reclaim = %+v", again)
	}
}
