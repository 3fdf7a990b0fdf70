package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/re3-harness/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	inProgressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	counts := m.countByStatus()
	total := len(m.slices)
	header := fmt.Sprintf(" RE3 Harness │ %s │ %d/%d complete │ %d in flight │ %d failed │ %d workers ",
		m.worker, counts[domain.StatusComplete], total,
		counts[domain.StatusClaimed]+counts[domain.StatusInProgress],
		counts[domain.StatusFailed], len(m.workers))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case 0:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderMatrix()))
		b.WriteString("\n")
	case 1:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderSlices()))
		b.WriteString("\n")
	case 2:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderWorkers()))
		b.WriteString("\n")
	}

	if m.loadErr != nil {
		b.WriteString(warningStyle.Width(m.width).Render(fmt.Sprintf(" refresh failed: %v ", m.loadErr)))
		b.WriteString("\n")
	}

	var statusBar string
	switch m.activeTab {
	case 1:
		statusBar = " [tab]switch [j/k]scroll [g]top [r]efresh [q]uit "
	default:
		statusBar = " [tab]switch [m]atrix [s]lices [w]orkers [r]efresh [q]uit "
	}
	if !m.rebuilt.IsZero() {
		statusBar += fmt.Sprintf("│ rebuilt %s ", m.rebuilt.UTC().Format("15:04:05"))
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(statusBar))

	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Matrix", "Slices", "Workers"}
	var parts []string
	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}
	return strings.Join(parts, "│")
}

// renderMatrix draws completion per config and benchmark
func (m Model) renderMatrix() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("PROGRESS MATRIX"))
	b.WriteString("\n")

	if len(m.slices) == 0 {
		b.WriteString(dimStyle.Render("  No ledger data yet. Run 're3 rebuild' first."))
		return b.String()
	}

	header := fmt.Sprintf("  %-6s", "")
	for _, bench := range m.benchmarks {
		header += fmt.Sprintf(" %-11s", bench)
	}
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	for _, configID := range m.configIDs {
		row := m.matrix[configID]
		line := fmt.Sprintf("  %-6s", configID)
		rowComplete := true
		rowActive := false
		for _, bench := range m.benchmarks {
			cell := row[bench]
			if cell.Total == 0 {
				line += fmt.Sprintf(" %-11s", "-")
				continue
			}
			line += fmt.Sprintf(" %3d/%-3d    ", cell.Complete, cell.Total)
			if cell.Complete < cell.Total {
				rowComplete = false
			}
			if cell.InProgress > 0 {
				rowActive = true
			}
		}
		switch {
		case rowComplete:
			b.WriteString(completedStyle.Render(line))
		case rowActive:
			b.WriteString(inProgressStyle.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderSlices() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("SLICES"))
	b.WriteString("\n")

	if len(m.slices) == 0 {
		b.WriteString(dimStyle.Render("  No slices loaded"))
		return b.String()
	}

	header := fmt.Sprintf("  %-34s %-12s %7s  %-16s %s",
		"Slice", "Status", "Items", "Claimant", "Updated")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	maxVisible := 15
	if m.height > 24 {
		maxVisible = m.height - 9
	}
	start := m.sliceScroll
	if start >= len(m.slices) {
		start = 0
	}
	end := start + maxVisible
	if end > len(m.slices) {
		end = len(m.slices)
	}

	for i := start; i < end; i++ {
		e := m.slices[i]
		updated := ""
		if !e.LastUpdated.IsZero() {
			updated = formatAge(time.Since(e.LastUpdated))
		}
		line := fmt.Sprintf("  %s %-32s %-12s %3d/%-3d  %-16s %s",
			statusIcon(e.Status), truncate(e.SliceKey, 32), e.Status,
			e.Recorded, e.Target, truncate(e.Claimant, 16), updated)
		b.WriteString(styleFor(e.Status).Render(line))
		b.WriteString("\n")
	}

	if len(m.slices) > maxVisible {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ... showing %d-%d of %d (j/k to scroll)", start+1, end, len(m.slices))))
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderWorkers() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("WORKERS"))
	b.WriteString("\n")

	if len(m.workers) == 0 {
		b.WriteString(dimStyle.Render("  No workers seen in the logs"))
		return b.String()
	}

	header := fmt.Sprintf("  %-24s %8s %8s  %s", "Worker", "Active", "Records", "Last seen")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	for _, w := range m.workers {
		lastSeen := "never"
		if !w.LastSeen.IsZero() {
			lastSeen = formatAge(time.Since(w.LastSeen)) + " ago"
		}
		line := fmt.Sprintf("  %-24s %8d %8d  %s", truncate(w.WorkerID, 24), w.Active, w.Records, lastSeen)
		if w.WorkerID == m.worker {
			b.WriteString(tabActiveStyle.Render(line))
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func statusIcon(s domain.SliceStatus) string {
	switch s {
	case domain.StatusComplete:
		return "✓"
	case domain.StatusInProgress, domain.StatusClaimed:
		return "●"
	case domain.StatusFailed:
		return "✗"
	default:
		return "○"
	}
}

func styleFor(s domain.SliceStatus) lipgloss.Style {
	switch s {
	case domain.StatusComplete:
		return completedStyle
	case domain.StatusInProgress, domain.StatusClaimed:
		return inProgressStyle
	case domain.StatusFailed:
		return warningStyle
	default:
		return dimStyle
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
