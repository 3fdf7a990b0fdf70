// Package merger folds the per-worker append-only logs into one consistent
// view. All workers apply the same total order, so every machine converges
// on the same winners regardless of the order pushes landed in.
package merger

import (
	"sort"
	"time"

	"github.com/hochfrequenz/re3-harness/internal/domain"
)

// RunLess is the total order over run records: earliest timestamp first,
// ties broken by worker ID, then run ID.
func RunLess(a, b domain.RunRecord) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.Worker != b.Worker {
		return a.Worker < b.Worker
	}
	return a.RunID < b.RunID
}

// ClaimLess orders claim events the same way
func ClaimLess(a, b domain.ClaimEvent) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	if a.Worker != b.Worker {
		return a.Worker < b.Worker
	}
	return a.ID < b.ID
}

// DedupeRuns returns the merged run set: one record per (slice key, item
// ID), the earliest in the total order winning. Output is sorted.
func DedupeRuns(records []domain.RunRecord) []domain.RunRecord {
	sorted := make([]domain.RunRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return RunLess(sorted[i], sorted[j]) })

	type itemKey struct{ slice, item string }
	seen := make(map[itemKey]bool, len(sorted))
	out := sorted[:0]
	for _, rec := range sorted {
		k := itemKey{rec.SliceKey(), rec.ItemID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, rec)
	}
	return out
}

// SliceClaim is the adjudicated claim state of one slice after replaying
// every claim event in order.
type SliceClaim struct {
	Claimant  string
	ClaimedAt time.Time
	Failed    bool
	Reason    string
	LastEvent time.Time
}

// ReplayOptions tunes claim adjudication. RunActivity is the newest merged
// run record per slice; a record counts as holder activity. A zero
// LivenessWindow disables supersession.
type ReplayOptions struct {
	RunActivity    map[string]time.Time
	LivenessWindow time.Duration
}

// expired reports whether the held claim no longer shields the slice at
// the time of a competing acquire
func (o ReplayOptions) expired(st SliceClaim, ev domain.ClaimEvent) bool {
	if o.LivenessWindow <= 0 {
		return false
	}
	last := st.ClaimedAt
	if ts := o.RunActivity[ev.SliceKey]; ts.After(last) {
		last = ts
	}
	return ev.Time.Sub(last) > o.LivenessWindow
}

// ReplayClaims applies claim events in the total order. Competing claims
// resolve to the earliest, with one exception: an acquire takes a held
// slice when the holder has produced no claim or run record within the
// liveness window before it, so abandoned slices re-enter the pool without
// a manual release. A release clears the holder regardless of issuer
// (manual reclaim releases another worker's stale claim). A fail is
// terminal until a later claim starts a fresh attempt.
func ReplayClaims(events []domain.ClaimEvent, opts ReplayOptions) map[string]SliceClaim {
	sorted := make([]domain.ClaimEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return ClaimLess(sorted[i], sorted[j]) })

	states := make(map[string]SliceClaim)
	for _, ev := range sorted {
		st := states[ev.SliceKey]
		st.LastEvent = ev.Time

		switch ev.Kind {
		case domain.ClaimAcquire:
			if st.Claimant == "" || st.Claimant == ev.Worker || opts.expired(st, ev) {
				st.Claimant = ev.Worker
				st.ClaimedAt = ev.Time
				st.Failed = false
				st.Reason = ""
			}
		case domain.ClaimRelease:
			st.Claimant = ""
			st.ClaimedAt = time.Time{}
		case domain.ClaimFail:
			st.Claimant = ""
			st.ClaimedAt = time.Time{}
			st.Failed = true
			st.Reason = ev.Reason
		}
		states[ev.SliceKey] = st
	}
	return states
}

// CountBySlice returns distinct recorded item counts and the newest record
// time per slice from an already-deduplicated run set.
func CountBySlice(records []domain.RunRecord) (counts map[string]int, newest map[string]time.Time) {
	counts = make(map[string]int)
	newest = make(map[string]time.Time)
	for _, rec := range records {
		key := rec.SliceKey()
		counts[key]++
		if rec.Timestamp.After(newest[key]) {
			newest[key] = rec.Timestamp
		}
	}
	return counts, newest
}
