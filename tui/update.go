package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "tab":
			m.activeTab = (m.activeTab + 1) % 3
			m.sliceScroll = 0
		case "m":
			m.activeTab = 0
		case "s":
			m.activeTab = 1
		case "w":
			m.activeTab = 2
		case "j", "down":
			if m.activeTab == 1 {
				if m.sliceScroll < len(m.slices)-1 {
					m.sliceScroll++
				}
			}
		case "k", "up":
			if m.activeTab == 1 && m.sliceScroll > 0 {
				m.sliceScroll--
			}
		case "g":
			m.sliceScroll = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case RefreshMsg:
		m.loadErr = msg.Err
		if msg.Err == nil {
			m.SetSnapshot(msg.Snapshot)
		}
		return m, nil
	}

	return m, nil
}
