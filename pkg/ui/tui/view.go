package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const logo = `
 ╦╔═╗  ╔╗ ╔═╗╔╦╗╔═╗╦ ╦
 ║║ ╦  ╠╩╗╠═╣ ║ ║  ╠═╣
 ╩╚═╝  ╚═╝╩ ╩ ╩ ╚═╝╩ ╩`

// View renders the entire TUI
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, logoStyle.Width(m.width).Render(logo))

	width := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatsPanel(width),
		m.renderAccountsPanel(width),
	)
	right := m.renderLogsPanel(width)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else if m.Done() {
		sections = append(sections, helpStyle.Render("Batch finished. Press q to exit"))
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}

	return baseStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func (m Model) renderStatsPanel(width int) string {
	title := titleStyle.Render(" BATCH ")
	pending, running := m.counts()

	chunk := "-"
	if m.chunks > 0 {
		chunk = fmt.Sprintf("%d/%d", m.chunk, m.chunks)
	}

	stats := []string{
		stat("Elapsed:", formatDuration(m.elapsed())),
		stat("Chunk:", chunk),
		stat("Accounts:", fmt.Sprintf("%d total, %d running, %d pending", len(m.rows), running, pending)),
		fmt.Sprintf("%s %s %s",
			statsLabelStyle.Render("Results:"),
			successStyle.Render(fmt.Sprintf("%d ok", m.finished-m.failed)),
			errorStyle.Render(fmt.Sprintf("%d failed", m.failed))),
		stat("Recent posts:", fmt.Sprintf("%d", m.posts)),
		"",
		m.progress.View(),
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, stats...)),
	)
}

func stat(label, value string) string {
	return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), statsValueStyle.Render(value))
}

func (m Model) renderAccountsPanel(width int) string {
	title := titleStyle.Render(" ACCOUNTS ")

	lines := make([]string, 0, len(m.rows))
	for _, row := range m.rows {
		lines = append(lines, m.renderRow(row, width-6))
	}
	if len(lines) == 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(dimWhite).Render("No accounts"))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, lines...)),
	)
}

func (m Model) renderRow(row AccountRow, width int) string {
	name := fmt.Sprintf("@%-24s", row.Username)
	switch row.State {
	case AccountRunning:
		elapsed := m.now().Sub(row.Started)
		return rowActiveStyle.Render(fmt.Sprintf("%s %s %s", m.spinner.View(), name, formatDuration(elapsed)))
	case AccountDone:
		line := fmt.Sprintf("✓ %s %d posts  %s", name, row.Posts, formatDuration(row.Duration))
		return rowDoneStyle.Render(truncate(line, width))
	case AccountFailed:
		line := fmt.Sprintf("✗ %s %s  %s", name, row.Message, formatDuration(row.Duration))
		return rowFailedStyle.Render(truncate(line, width))
	default:
		return rowPendingStyle.Render("• " + name)
	}
}

func (m Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" LOG ")

	start := len(m.logMessages) - 12
	if start < 0 {
		start = 0
	}

	var logs []string
	for _, log := range m.logMessages[start:] {
		timestamp := logTimestampStyle.Render(log.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level))
		message := logMessageStyle.Render(truncate(log.Message, width-25))
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, message))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = lipgloss.NewStyle().Foreground(dimWhite).Render("No logs yet...")
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

func (m Model) renderHelp() string {
	help := `
  q/esc    - Quit (cancels a running batch)
  ctrl+l   - Clear the log
  ?        - Toggle this help

  ` + rowPendingStyle.Render("•") + ` pending   ` + rowActiveStyle.Render("running") + `   ` +
		successStyle.Render("✓ done") + `   ` + errorStyle.Render("✗ failed") + `
`
	return panelStyle.Width(m.width).Render(help)
}

func truncate(s string, n int) string {
	if n <= 3 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
