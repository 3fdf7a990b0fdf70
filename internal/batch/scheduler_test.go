package batch

import (
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 8, 15, hour, minute, 0, 0, time.UTC)
}

func TestInWindow(t *testing.T) {
	s, err := NewScheduler([]string{"0 22 * * *"}, 8*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		now  time.Time
		want bool
	}{
		{at(23, 0), true},                           // one hour in
		{at(22, 0).Add(time.Minute), true},          // just opened
		{time.Date(2026, 8, 16, 5, 0, 0, 0, time.UTC), true}, // spans midnight
		{at(11, 0), false},
		{at(21, 59), false},
		{time.Date(2026, 8, 16, 6, 1, 0, 0, time.UTC), false}, // just closed
	}
	for _, tt := range tests {
		if got := s.InWindow(tt.now); got != tt.want {
			t.Errorf("InWindow(%s) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestInWindow_MultipleSchedules(t *testing.T) {
	s, err := NewScheduler([]string{"0 22 * * *", "0 12 * * 6"}, 2*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	// 2026-08-15 is a Saturday
	if !s.InWindow(at(13, 0)) {
		t.Error("saturday noon window should be open")
	}
	if s.InWindow(at(15, 0)) {
		t.Error("saturday noon window should have closed")
	}
}

func TestNoWindowsAlwaysOpen(t *testing.T) {
	s, err := NewScheduler(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !s.InWindow(at(3, 17)) {
		t.Error("scheduler without windows must always be open")
	}
	now := at(3, 17)
	if got := s.NextWindow(now); !got.Equal(now) {
		t.Errorf("NextWindow = %s, want now", got)
	}
}

func TestNextWindow(t *testing.T) {
	s, err := NewScheduler([]string{"0 22 * * *"}, 8*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	got := s.NextWindow(at(11, 0))
	if want := at(22, 0); !got.Equal(want) {
		t.Errorf("NextWindow = %s, want %s", got, want)
	}
	// inside a window the answer is now
	now := at(23, 30)
	if got := s.NextWindow(now); !got.Equal(now) {
		t.Errorf("NextWindow inside window = %s, want now", got)
	}
}

func TestNewScheduler_InvalidCron(t *testing.T) {
	if _, err := NewScheduler([]string{"not a cron"}, time.Hour); err == nil {
		t.Error("expected parse error")
	}
}
