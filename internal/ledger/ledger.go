// Package ledger materializes slice progress from the append-only logs.
// The ledger is always derived state: deleting the snapshot and rebuilding
// from the claim and run logs must reproduce it.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/merger"
)

// DefaultLivenessWindow bounds how long a claim shields a slice without
// any new run records before other workers treat it as abandoned.
const DefaultLivenessWindow = 30 * time.Minute

// Options tunes a rebuild. Zero values use the defaults.
type Options struct {
	LivenessWindow time.Duration
	Now            time.Time
}

// WorkerInfo summarizes one participant's footprint in the logs
type WorkerInfo struct {
	LastSeen time.Time `json:"last_seen"`
	Active   int       `json:"active_slices"`
	Records  int       `json:"records"`
}

// Ledger is the rebuilt view over the whole slice universe
type Ledger struct {
	Slices      map[string]domain.LedgerEntry `json:"slices"`
	Workers     map[string]WorkerInfo         `json:"workers"`
	CreatedAt   time.Time                     `json:"created_at"`
	LastUpdated time.Time                     `json:"last_updated"`
}

// StaleClaim identifies a live claim past the liveness window
type StaleClaim struct {
	SliceKey     string
	Claimant     string
	ClaimedAt    time.Time
	LastActivity time.Time
}

// Rebuild folds merged claims and runs over the slice universe.
//
// Status per slice: more distinct items than the target is a log
// inconsistency and marks the slice failed; exactly the target completes
// it; an explicit fail event marks it failed until a fresh claim; a live
// claim inside the liveness window is claimed (or in-progress once records
// exist); a claim with no activity for longer than the window no longer
// shields the slice and it reads as unclaimed.
func Rebuild(universe []domain.Slice, claims []domain.ClaimEvent, runs []domain.RunRecord, opts Options) *Ledger {
	if opts.LivenessWindow == 0 {
		opts.LivenessWindow = DefaultLivenessWindow
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}

	merged := merger.DedupeRuns(runs)
	counts, newest := merger.CountBySlice(merged)
	states := merger.ReplayClaims(claims, merger.ReplayOptions{
		RunActivity:    newest,
		LivenessWindow: opts.LivenessWindow,
	})

	l := &Ledger{
		Slices:      make(map[string]domain.LedgerEntry, len(universe)),
		Workers:     make(map[string]WorkerInfo),
		CreatedAt:   opts.Now,
		LastUpdated: opts.Now,
	}

	for _, s := range universe {
		key := s.Key()
		state := states[key]
		count := counts[key]

		entry := domain.LedgerEntry{
			SliceKey: key,
			Target:   s.Target,
			Recorded: count,
		}
		if ts := newest[key]; ts.After(state.LastEvent) {
			entry.LastUpdated = ts
		} else {
			entry.LastUpdated = state.LastEvent
		}

		switch {
		case s.Target > 0 && count > s.Target:
			entry.Status = domain.StatusFailed
			entry.Error = fmt.Sprintf("%d distinct items recorded for a target of %d", count, s.Target)
		case s.Target > 0 && count == s.Target:
			entry.Status = domain.StatusComplete
		case state.Failed:
			entry.Status = domain.StatusFailed
			entry.Error = state.Reason
		case state.Claimant != "":
			lastActivity := state.ClaimedAt
			if ts := newest[key]; ts.After(lastActivity) {
				lastActivity = ts
			}
			if opts.Now.Sub(lastActivity) > opts.LivenessWindow {
				entry.Status = domain.StatusUnclaimed
			} else {
				entry.Claimant = state.Claimant
				entry.ClaimedAt = state.ClaimedAt
				if count > 0 {
					entry.Status = domain.StatusInProgress
				} else {
					entry.Status = domain.StatusClaimed
				}
			}
		default:
			entry.Status = domain.StatusUnclaimed
		}

		l.Slices[key] = entry

		if entry.Claimant != "" {
			w := l.Workers[entry.Claimant]
			w.Active++
			l.Workers[entry.Claimant] = w
		}
	}

	for _, rec := range merged {
		w := l.Workers[rec.Worker]
		w.Records++
		if rec.Timestamp.After(w.LastSeen) {
			w.LastSeen = rec.Timestamp
		}
		l.Workers[rec.Worker] = w
	}
	for _, ev := range claims {
		w := l.Workers[ev.Worker]
		if ev.Time.After(w.LastSeen) {
			w.LastSeen = ev.Time
		}
		l.Workers[ev.Worker] = w
	}

	return l
}

// Stale lists live claims on incomplete slices whose last activity is
// older than the liveness window. Used by manual reclaim.
func Stale(universe []domain.Slice, claims []domain.ClaimEvent, runs []domain.RunRecord, opts Options) []StaleClaim {
	if opts.LivenessWindow == 0 {
		opts.LivenessWindow = DefaultLivenessWindow
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}

	merged := merger.DedupeRuns(runs)
	counts, newest := merger.CountBySlice(merged)
	states := merger.ReplayClaims(claims, merger.ReplayOptions{
		RunActivity:    newest,
		LivenessWindow: opts.LivenessWindow,
	})

	var out []StaleClaim
	for _, s := range universe {
		key := s.Key()
		state := states[key]
		if state.Claimant == "" || state.Failed {
			continue
		}
		if s.Target > 0 && counts[key] >= s.Target {
			continue
		}
		lastActivity := state.ClaimedAt
		if ts := newest[key]; ts.After(lastActivity) {
			lastActivity = ts
		}
		if opts.Now.Sub(lastActivity) > opts.LivenessWindow {
			out = append(out, StaleClaim{
				SliceKey:     key,
				Claimant:     state.Claimant,
				ClaimedAt:    state.ClaimedAt,
				LastActivity: lastActivity,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SliceKey < out[j].SliceKey })
	return out
}

// Unclaimed returns the keys currently open for claiming, sorted
func (l *Ledger) Unclaimed() []string {
	var keys []string
	for key, e := range l.Slices {
		if e.Status == domain.StatusUnclaimed {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// CountByStatus tallies slices per status
func (l *Ledger) CountByStatus() map[domain.SliceStatus]int {
	out := make(map[domain.SliceStatus]int)
	for _, e := range l.Slices {
		out[e.Status]++
	}
	return out
}

// Save writes the snapshot atomically. The snapshot is a local convenience
// cache and is never pushed to the coordination repo.
func (l *Ledger) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if l.Slices == nil {
		l.Slices = make(map[string]domain.LedgerEntry)
	}
	if l.Workers == nil {
		l.Workers = make(map[string]WorkerInfo)
	}
	return &l, nil
}
