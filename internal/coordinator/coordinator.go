// Package coordinator implements the optimistic claim protocol. There is
// no lock server: a worker pulls the shared logs, picks a random unclaimed
// slice, appends a claim to its own log and publishes. If the publish
// surfaces a competing claim, the merged order decides the winner and the
// loser re-selects.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/hochfrequenz/re3-harness/internal/catalog"
	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/ledger"
	"github.com/hochfrequenz/re3-harness/internal/merger"
	"github.com/hochfrequenz/re3-harness/internal/recorder"
)

// ErrNoSlices is returned when nothing is left to claim
var ErrNoSlices = errors.New("no unclaimed slices available")

// ErrClaimContended is returned when every claim attempt lost its race
var ErrClaimContended = errors.New("claim attempts exhausted by contention")

// Transport moves the shared logs; satisfied by channel.Channel
type Transport interface {
	Pull(ctx context.Context) error
	Publish(ctx context.Context, message string) error
}

// Options configures a Coordinator
type Options struct {
	Worker         string
	DataDir        string
	Target         int           // items per slice
	Phase          string        // priority phase, e.g. "1a"; empty disables biasing
	LivenessWindow time.Duration // zero uses the ledger default
	ClaimRetries   int           // bounded claim attempts, default 5
	Rand           *rand.Rand    // nil seeds from time
}

// Coordinator runs the claim protocol for one worker
type Coordinator struct {
	transport Transport
	rec       *recorder.Recorder
	cat       *catalog.Catalog
	opts      Options
	rng       *rand.Rand
}

// New wires a coordinator
func New(transport Transport, rec *recorder.Recorder, cat *catalog.Catalog, opts Options) *Coordinator {
	if opts.ClaimRetries == 0 {
		opts.ClaimRetries = 5
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Coordinator{transport: transport, rec: rec, cat: cat, opts: opts, rng: rng}
}

// Rebuild pulls nothing; it folds the local copy of the logs into a fresh
// ledger over the whole universe.
func (c *Coordinator) Rebuild() (*ledger.Ledger, error) {
	claims, err := recorder.LoadClaims(c.opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load claim logs: %w", err)
	}
	runs, err := recorder.LoadRuns(c.opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load run logs: %w", err)
	}
	universe := c.cat.Slices(c.opts.Target)
	return ledger.Rebuild(universe, claims, runs, ledger.Options{LivenessWindow: c.opts.LivenessWindow}), nil
}

// ClaimNext executes the full protocol: pull, select, publish, verify.
// It retries on lost races up to the claim budget and returns the slice it
// now holds.
func (c *Coordinator) ClaimNext(ctx context.Context) (domain.Slice, error) {
	for attempt := 0; attempt < c.opts.ClaimRetries; attempt++ {
		if err := c.transport.Pull(ctx); err != nil {
			return domain.Slice{}, fmt.Errorf("pull: %w", err)
		}

		key, err := c.selectSlice()
		if err != nil {
			return domain.Slice{}, err
		}

		if _, err := c.rec.AppendClaim(domain.ClaimEvent{
			SliceKey: key,
			Kind:     domain.ClaimAcquire,
		}); err != nil {
			return domain.Slice{}, fmt.Errorf("append claim: %w", err)
		}
		if err := c.transport.Publish(ctx, fmt.Sprintf("Claim %s (%s)", key, c.opts.Worker)); err != nil {
			return domain.Slice{}, fmt.Errorf("publish claim: %w", err)
		}

		// The publish may have raced another worker's claim for the same
		// slice. Re-pull and let the merged order adjudicate.
		if err := c.transport.Pull(ctx); err != nil {
			return domain.Slice{}, fmt.Errorf("pull after claim: %w", err)
		}
		won, err := c.holdsClaim(key)
		if err != nil {
			return domain.Slice{}, err
		}
		if won {
			return c.cat.Find(key, c.opts.Target)
		}
		log.Printf("coordinator: lost claim race for %s, re-selecting", key)
	}

	return domain.Slice{}, ErrClaimContended
}

// selectSlice picks a random unclaimed slice, preferring the priority
// phase list when one is configured.
func (c *Coordinator) selectSlice() (string, error) {
	l, err := c.Rebuild()
	if err != nil {
		return "", err
	}
	open := l.Unclaimed()
	if len(open) == 0 {
		return "", ErrNoSlices
	}
	openSet := make(map[string]bool, len(open))
	for _, key := range open {
		openSet[key] = true
	}

	if c.opts.Phase != "" {
		var preferred []string
		for _, key := range c.cat.Priority(c.opts.Phase) {
			if openSet[key] {
				preferred = append(preferred, key)
			}
		}
		if len(preferred) > 0 {
			return preferred[c.rng.Intn(len(preferred))], nil
		}
	}
	return open[c.rng.Intn(len(open))], nil
}

// holdsClaim reports whether this worker is the adjudicated claimant.
// Adjudication uses the same liveness window as the ledger, so a claim
// over a stale holder wins here exactly when selection offered the slice.
func (c *Coordinator) holdsClaim(key string) (bool, error) {
	claims, err := recorder.LoadClaims(c.opts.DataDir)
	if err != nil {
		return false, fmt.Errorf("load claim logs: %w", err)
	}
	runs, err := recorder.LoadRuns(c.opts.DataDir)
	if err != nil {
		return false, fmt.Errorf("load run logs: %w", err)
	}
	window := c.opts.LivenessWindow
	if window == 0 {
		window = ledger.DefaultLivenessWindow
	}
	_, newest := merger.CountBySlice(merger.DedupeRuns(runs))
	state := merger.ReplayClaims(claims, merger.ReplayOptions{
		RunActivity:    newest,
		LivenessWindow: window,
	})[key]
	return state.Claimant == c.opts.Worker, nil
}

// Release gives a slice back to the pool
func (c *Coordinator) Release(ctx context.Context, key, reason string) error {
	if _, err := c.rec.AppendClaim(domain.ClaimEvent{
		SliceKey: key,
		Kind:     domain.ClaimRelease,
		Reason:   reason,
	}); err != nil {
		return fmt.Errorf("append release: %w", err)
	}
	return c.transport.Publish(ctx, fmt.Sprintf("Release %s (%s)", key, c.opts.Worker))
}

// Fail marks a slice terminally failed
func (c *Coordinator) Fail(ctx context.Context, key, reason string) error {
	if _, err := c.rec.AppendClaim(domain.ClaimEvent{
		SliceKey: key,
		Kind:     domain.ClaimFail,
		Reason:   reason,
	}); err != nil {
		return fmt.Errorf("append fail: %w", err)
	}
	return c.transport.Publish(ctx, fmt.Sprintf("Fail %s: %s", key, reason))
}

// ReclaimStale releases every claim whose holder has gone quiet past the
// liveness window. Returns what it released.
func (c *Coordinator) ReclaimStale(ctx context.Context) ([]ledger.StaleClaim, error) {
	if err := c.transport.Pull(ctx); err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}
	claims, err := recorder.LoadClaims(c.opts.DataDir)
	if err != nil {
		return nil, err
	}
	runs, err := recorder.LoadRuns(c.opts.DataDir)
	if err != nil {
		return nil, err
	}

	stale := ledger.Stale(c.cat.Slices(c.opts.Target), claims, runs, ledger.Options{LivenessWindow: c.opts.LivenessWindow})
	if len(stale) == 0 {
		return nil, nil
	}

	for _, s := range stale {
		if _, err := c.rec.AppendClaim(domain.ClaimEvent{
			SliceKey: s.SliceKey,
			Kind:     domain.ClaimRelease,
			Reason:   fmt.Sprintf("stale claim by %s, idle since %s", s.Claimant, s.LastActivity.UTC().Format(time.RFC3339)),
		}); err != nil {
			return nil, fmt.Errorf("append release: %w", err)
		}
	}
	if err := c.transport.Publish(ctx, fmt.Sprintf("Reclaim %d stale slices (%s)", len(stale), c.opts.Worker)); err != nil {
		return nil, fmt.Errorf("publish reclaim: %w", err)
	}
	return stale, nil
}
