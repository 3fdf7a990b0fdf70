// Package tui renders the experiment dashboard: overall progress, the
// config-by-benchmark matrix, the slice table and the worker list.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/store"
)

// Snapshot is one refresh worth of dashboard data
type Snapshot struct {
	Slices  []domain.LedgerEntry
	Workers []store.WorkerRow
	Rebuilt time.Time
}

// RefreshFunc loads a fresh snapshot; called on every tick
type RefreshFunc func() (Snapshot, error)

// MatrixCell aggregates one config and benchmark pair
type MatrixCell struct {
	Total      int
	Complete   int
	InProgress int
	Failed     int
}

// Model is the TUI application model
type Model struct {
	// Data
	slices  []domain.LedgerEntry
	workers []store.WorkerRow
	rebuilt time.Time

	configIDs  []string
	benchmarks []string
	matrix     map[string]map[string]MatrixCell

	refresh RefreshFunc
	loadErr error

	worker string

	// UI state
	width       int
	height      int
	activeTab   int
	sliceScroll int

	lastRefresh time.Time
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	Worker     string
	ConfigIDs  []string
	Benchmarks []string
	Refresh    RefreshFunc
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	return Model{
		worker:     cfg.Worker,
		configIDs:  cfg.ConfigIDs,
		benchmarks: cfg.Benchmarks,
		refresh:    cfg.Refresh,
		matrix:     make(map[string]map[string]MatrixCell),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.refreshCmd(),
		tickCmd(),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// RefreshMsg carries a freshly loaded snapshot
type RefreshMsg struct {
	Snapshot Snapshot
	Err      error
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refreshCmd() tea.Cmd {
	if m.refresh == nil {
		return nil
	}
	refresh := m.refresh
	return func() tea.Msg {
		snap, err := refresh()
		return RefreshMsg{Snapshot: snap, Err: err}
	}
}

// SetSnapshot replaces the dashboard data and recomputes the matrix
func (m *Model) SetSnapshot(snap Snapshot) {
	m.slices = snap.Slices
	m.workers = snap.Workers
	m.rebuilt = snap.Rebuilt
	m.lastRefresh = time.Now()
	m.rebuildMatrix()
}

func (m *Model) rebuildMatrix() {
	matrix := make(map[string]map[string]MatrixCell)
	for _, e := range m.slices {
		configID, _, benchmark, err := domain.ParseSliceKey(e.SliceKey)
		if err != nil {
			continue
		}
		row := matrix[configID]
		if row == nil {
			row = make(map[string]MatrixCell)
			matrix[configID] = row
		}
		cell := row[benchmark]
		cell.Total++
		switch e.Status {
		case domain.StatusComplete:
			cell.Complete++
		case domain.StatusInProgress, domain.StatusClaimed:
			cell.InProgress++
		case domain.StatusFailed:
			cell.Failed++
		}
		row[benchmark] = cell
	}
	m.matrix = matrix
}

func (m Model) countByStatus() map[domain.SliceStatus]int {
	out := make(map[domain.SliceStatus]int)
	for _, e := range m.slices {
		out[e.Status]++
	}
	return out
}
