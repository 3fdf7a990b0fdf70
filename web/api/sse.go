package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hochfrequenz/re3-harness/internal/domain"
)

// Event is one ledger update pushed to dashboard clients, over SSE and
// the websocket feed alike
type Event struct {
	Type    string                     `json:"type"`
	Counts  map[domain.SliceStatus]int `json:"counts,omitempty"`
	Rebuilt time.Time                  `json:"rebuilt,omitzero"`
}

// eventHub fans events out to subscriber channels. A subscriber that
// cannot keep up is closed and dropped rather than allowed to stall the
// broadcast.
type eventHub struct {
	subscribers map[chan Event]bool
	events      chan Event
	subscribe   chan chan Event
	drop        chan chan Event
	mu          sync.Mutex
}

func newEventHub() *eventHub {
	return &eventHub{
		subscribers: make(map[chan Event]bool),
		events:      make(chan Event),
		subscribe:   make(chan chan Event),
		drop:        make(chan chan Event),
	}
}

func (h *eventHub) run() {
	for {
		select {
		case sub := <-h.subscribe:
			h.mu.Lock()
			h.subscribers[sub] = true
			h.mu.Unlock()

		case sub := <-h.drop:
			h.mu.Lock()
			if h.subscribers[sub] {
				delete(h.subscribers, sub)
				close(sub)
			}
			h.mu.Unlock()

		case ev := <-h.events:
			h.mu.Lock()
			for sub := range h.subscribers {
				select {
				case sub <- ev:
				default:
					delete(h.subscribers, sub)
					close(sub)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		sub := make(chan Event)
		s.events.subscribe <- sub
		go func() {
			<-r.Context().Done()
			s.events.drop <- sub
		}()

		for ev := range sub {
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\n", ev.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
