// Package api serves the read-only status API over the SQLite cache.
// Everything it reports is derived state; writes happen only through the
// shared logs.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/store"
)

// Store interface for cache queries
type Store interface {
	ListSlices(opts store.ListOptions) ([]domain.LedgerEntry, error)
	GetSlice(key string) (domain.LedgerEntry, error)
	CountByStatus() (map[domain.SliceStatus]int, error)
	ListWorkers() ([]store.WorkerRow, error)
	RebuiltAt() (time.Time, error)
}

// Server is the HTTP API server
type Server struct {
	store  Store
	addr   string
	mux    *http.ServeMux
	events *eventHub
}

// NewServer creates a new API server
func NewServer(store Store, addr string) *Server {
	s := &Server{
		store:  store,
		addr:   addr,
		mux:    http.NewServeMux(),
		events: newEventHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/slices", s.listSlicesHandler())
	s.mux.HandleFunc("/api/slices/", s.getSliceHandler())
	s.mux.HandleFunc("/api/workers", s.listWorkersHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/live", s.wsHandler())
}

// Handler exposes the mux, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go s.events.run()
	return http.ListenAndServe(s.addr, s.mux)
}

// Broadcast pushes a ledger update to all SSE and websocket clients
func (s *Server) Broadcast(event Event) {
	s.events.events <- event
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
