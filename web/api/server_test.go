package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/store"
)

type mockStore struct {
	slices  []domain.LedgerEntry
	workers []store.WorkerRow
	rebuilt time.Time
}

func (m *mockStore) ListSlices(opts store.ListOptions) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, e := range m.slices {
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		if opts.Claimant != "" && e.Claimant != opts.Claimant {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mockStore) GetSlice(key string) (domain.LedgerEntry, error) {
	for _, e := range m.slices {
		if e.SliceKey == key {
			return e, nil
		}
	}
	return domain.LedgerEntry{}, sql.ErrNoRows
}

func (m *mockStore) CountByStatus() (map[domain.SliceStatus]int, error) {
	out := make(map[domain.SliceStatus]int)
	for _, e := range m.slices {
		out[e.Status]++
	}
	return out, nil
}

func (m *mockStore) ListWorkers() ([]store.WorkerRow, error) {
	return m.workers, nil
}

func (m *mockStore) RebuiltAt() (time.Time, error) {
	return m.rebuilt, nil
}

func testStore() *mockStore {
	return &mockStore{
		slices: []domain.LedgerEntry{
			{SliceKey: "C01_none_gsm8k", Status: domain.StatusComplete, Target: 50, Recorded: 50},
			{SliceKey: "C03_none_gsm8k", Status: domain.StatusInProgress, Claimant: "alice@pc", Target: 50, Recorded: 12},
			{SliceKey: "C04_b3a_lowercase_all_gsm8k", Status: domain.StatusUnclaimed, Target: 50},
		},
		workers: []store.WorkerRow{
			{WorkerID: "alice@pc", Active: 1, Records: 62, LastSeen: time.Now()},
		},
		rebuilt: time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestStatusHandler(t *testing.T) {
	server := NewServer(testStore(), ":8080")

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)

	if status.Total != 3 || status.Complete != 1 || status.InProgress != 1 || status.Unclaimed != 1 {
		t.Errorf("status = %+v", status)
	}
	if status.Workers != 1 {
		t.Errorf("Workers = %d, want 1", status.Workers)
	}
	if status.RebuiltAt != "2026-08-15T12:00:00Z" {
		t.Errorf("RebuiltAt = %s", status.RebuiltAt)
	}
}

func TestListSlicesHandler(t *testing.T) {
	server := NewServer(testStore(), ":8080")

	req := httptest.NewRequest("GET", "/api/slices", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var slices []SliceResponse
	json.NewDecoder(w.Body).Decode(&slices)
	if len(slices) != 3 {
		t.Errorf("slice count = %d, want 3", len(slices))
	}
}

func TestListSlicesHandler_Filters(t *testing.T) {
	server := NewServer(testStore(), ":8080")

	req := httptest.NewRequest("GET", "/api/slices?worker=alice@pc", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var slices []SliceResponse
	json.NewDecoder(w.Body).Decode(&slices)
	if len(slices) != 1 || slices[0].SliceKey != "C03_none_gsm8k" {
		t.Errorf("slices = %+v", slices)
	}
}

func TestGetSliceHandler(t *testing.T) {
	server := NewServer(testStore(), ":8080")

	req := httptest.NewRequest("GET", "/api/slices/C01_none_gsm8k", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var slice SliceResponse
	json.NewDecoder(w.Body).Decode(&slice)
	if slice.SliceKey != "C01_none_gsm8k" || slice.Recorded != 50 {
		t.Errorf("slice = %+v", slice)
	}
}

func TestGetSliceHandler_NotFound(t *testing.T) {
	server := NewServer(testStore(), ":8080")

	req := httptest.NewRequest("GET", "/api/slices/C99_none_gsm8k", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestListWorkersHandler(t *testing.T) {
	server := NewServer(testStore(), ":8080")

	req := httptest.NewRequest("GET", "/api/workers", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var workers []WorkerResponse
	json.NewDecoder(w.Body).Decode(&workers)
	if len(workers) != 1 || workers[0].WorkerID != "alice@pc" || workers[0].Records != 62 {
		t.Errorf("workers = %+v", workers)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := NewServer(testStore(), ":8080")

	req := httptest.NewRequest("POST", "/api/slices", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", w.Code)
	}
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	server := NewServer(testStore(), ":8080")
	go server.events.run()

	sub := make(chan Event, 1)
	server.events.subscribe <- sub

	server.Broadcast(Event{
		Type:    "ledger",
		Counts:  map[domain.SliceStatus]int{domain.StatusComplete: 3},
		Rebuilt: time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC),
	})

	select {
	case ev := <-sub:
		if ev.Type != "ledger" || ev.Counts[domain.StatusComplete] != 3 {
			t.Errorf("event = %+v", ev)
		}
		if ev.Rebuilt.IsZero() {
			t.Error("event lost its rebuilt timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	server := NewServer(testStore(), ":8080")
	go server.events.run()

	// unbuffered with no reader: the broadcast must close it instead of
	// blocking the hub
	stuck := make(chan Event)
	server.events.subscribe <- stuck
	server.Broadcast(Event{Type: "ledger"})

	select {
	case _, ok := <-stuck:
		if ok {
			t.Error("expected the channel closed, got an event")
		}
	case <-time.After(time.Second):
		t.Fatal("stuck subscriber never closed")
	}
}
