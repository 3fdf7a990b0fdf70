// Package batch restricts continuous claiming to scheduled run windows,
// so shared hardware only burns model time when nobody else needs it.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultWindowDuration is how long each window stays open when the
// configuration does not say otherwise.
const DefaultWindowDuration = 8 * time.Hour

// Scheduler answers whether a run window is currently open. With no
// windows configured every moment is inside a window.
type Scheduler struct {
	schedules []cron.Schedule
	exprs     []string
	duration  time.Duration
}

// NewScheduler parses the cron expressions opening run windows
func NewScheduler(exprs []string, duration time.Duration) (*Scheduler, error) {
	if duration <= 0 {
		duration = DefaultWindowDuration
	}
	s := &Scheduler{duration: duration}
	for _, expr := range exprs {
		sched, err := ParseCron(expr)
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", expr, err)
		}
		s.schedules = append(s.schedules, sched)
		s.exprs = append(s.exprs, expr)
	}
	return s, nil
}

// ParseCron parses a standard five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// InWindow reports whether some window opened within its duration before
// now. A window opened at t covers (t, t+duration].
func (s *Scheduler) InWindow(now time.Time) bool {
	if len(s.schedules) == 0 {
		return true
	}
	for _, sched := range s.schedules {
		opened := sched.Next(now.Add(-s.duration))
		if !opened.After(now) {
			return true
		}
	}
	return false
}

// NextWindow returns when the next window opens. Inside a window it
// returns now; with no windows configured it also returns now.
func (s *Scheduler) NextWindow(now time.Time) time.Time {
	if s.InWindow(now) {
		return now
	}
	var next time.Time
	for _, sched := range s.schedules {
		n := sched.Next(now)
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

// Windows returns the configured expressions
func (s *Scheduler) Windows() []string {
	return append([]string(nil), s.exprs...)
}

// Duration returns how long each window stays open
func (s *Scheduler) Duration() time.Duration {
	return s.duration
}

// Wait blocks until a window is open or the context ends
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		now := time.Now()
		if s.InWindow(now) {
			return nil
		}
		next := s.NextWindow(now)
		sleep := time.Until(next)
		if sleep > time.Minute {
			sleep = time.Minute
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
