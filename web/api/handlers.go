package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/store"
)

// SliceResponse is the API response for a slice
type SliceResponse struct {
	SliceKey    string `json:"slice_key"`
	Status      string `json:"status"`
	Claimant    string `json:"claimant,omitempty"`
	ClaimedAt   string `json:"claimed_at,omitempty"`
	Target      int    `json:"target"`
	Recorded    int    `json:"recorded"`
	LastUpdated string `json:"last_updated,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StatusResponse is the API response for overall progress
type StatusResponse struct {
	Total      int    `json:"total"`
	Unclaimed  int    `json:"unclaimed"`
	Claimed    int    `json:"claimed"`
	InProgress int    `json:"in_progress"`
	Complete   int    `json:"complete"`
	Failed     int    `json:"failed"`
	Workers    int    `json:"workers"`
	RebuiltAt  string `json:"rebuilt_at,omitempty"`
}

// WorkerResponse is the API response for a worker
type WorkerResponse struct {
	WorkerID string `json:"worker_id"`
	LastSeen string `json:"last_seen,omitempty"`
	Active   int    `json:"active_slices"`
	Records  int    `json:"records"`
}

func sliceToResponse(e domain.LedgerEntry) SliceResponse {
	resp := SliceResponse{
		SliceKey: e.SliceKey,
		Status:   string(e.Status),
		Claimant: e.Claimant,
		Target:   e.Target,
		Recorded: e.Recorded,
		Error:    e.Error,
	}
	if !e.ClaimedAt.IsZero() {
		resp.ClaimedAt = e.ClaimedAt.UTC().Format(time.RFC3339)
	}
	if !e.LastUpdated.IsZero() {
		resp.LastUpdated = e.LastUpdated.UTC().Format(time.RFC3339)
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		counts, err := s.store.CountByStatus()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		status := StatusResponse{
			Unclaimed:  counts[domain.StatusUnclaimed],
			Claimed:    counts[domain.StatusClaimed],
			InProgress: counts[domain.StatusInProgress],
			Complete:   counts[domain.StatusComplete],
			Failed:     counts[domain.StatusFailed],
		}
		for _, n := range counts {
			status.Total += n
		}

		workers, err := s.store.ListWorkers()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		status.Workers = len(workers)

		if rebuilt, err := s.store.RebuiltAt(); err == nil && !rebuilt.IsZero() {
			status.RebuiltAt = rebuilt.UTC().Format(time.RFC3339)
		}

		writeJSON(w, status)
	}
}

func (s *Server) listSlicesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		opts := store.ListOptions{
			Status:   domain.SliceStatus(r.URL.Query().Get("status")),
			Claimant: r.URL.Query().Get("worker"),
		}

		entries, err := s.store.ListSlices(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]SliceResponse, len(entries))
		for i, e := range entries {
			responses[i] = sliceToResponse(e)
		}

		writeJSON(w, responses)
	}
}

func (s *Server) getSliceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// Path: /api/slices/{slice_key}
		key := strings.TrimPrefix(r.URL.Path, "/api/slices/")
		if key == "" {
			writeError(w, http.StatusBadRequest, "slice key required")
			return
		}

		entry, err := s.store.GetSlice(key)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "slice not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, sliceToResponse(entry))
	}
}

func (s *Server) listWorkersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		workers, err := s.store.ListWorkers()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]WorkerResponse, len(workers))
		for i, wk := range workers {
			responses[i] = WorkerResponse{
				WorkerID: wk.WorkerID,
				Active:   wk.Active,
				Records:  wk.Records,
			}
			if !wk.LastSeen.IsZero() {
				responses[i].LastSeen = wk.LastSeen.UTC().Format(time.RFC3339)
			}
		}

		writeJSON(w, responses)
	}
}
