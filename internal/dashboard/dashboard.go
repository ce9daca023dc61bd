// Package dashboard implements a read-only terminal UI that polls the
// status record and the history store for display. It never mutates
// workflow state — the daemon owns that exclusively.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/avery-oss/loom/internal/history"
	"github.com/avery-oss/loom/internal/statusfile"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7eb8da"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#c9d1d9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7ec699"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#d4a054"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#d48a8a"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3d4450")).Padding(0, 2)
)

// HistoryQuerier is the subset of history.Store the dashboard needs.
type HistoryQuerier interface {
	Query(ctx context.Context, repo string, since time.Time) ([]history.Event, error)
}

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// statusMsg carries a freshly read status record (or an error reading it).
type statusMsg struct {
	status *statusfile.Status
	recent []history.Event
	err    error
}

// Model is the bubbletea model backing the dashboard.
type Model struct {
	statusPath      string
	repo            string
	history         HistoryQuerier
	refreshInterval time.Duration

	status *statusfile.Status
	recent []history.Event
	lastErr error
}

// New builds a Model. history may be nil if no history store is configured.
func New(statusPath, repo string, hist HistoryQuerier, refreshInterval time.Duration) Model {
	if refreshInterval <= 0 {
		refreshInterval = time.Second
	}
	return Model{statusPath: statusPath, repo: repo, history: hist, refreshInterval: refreshInterval}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tickCmd(m.refreshInterval))
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		status, err := statusfile.Read(m.statusPath)
		msg := statusMsg{status: status, err: err}
		if err == nil && m.history != nil {
			if events, qerr := m.history.Query(context.Background(), m.repo, time.Now().Add(-24*time.Hour)); qerr == nil {
				msg.recent = events
			}
		}
		return msg
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd(m.refreshInterval))
	case statusMsg:
		m.status = msg.status
		m.recent = msg.recent
		m.lastErr = msg.err
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("loom — %s", m.repo)))
	b.WriteString("\n\n")

	if m.lastErr != nil {
		b.WriteString(panelStyle.Render(errStyle.Render("daemon not running or status file unreadable")))
		b.WriteString("\n\n" + dimStyle.Render("press q to quit"))
		return b.String()
	}
	if m.status == nil {
		b.WriteString(panelStyle.Render(dimStyle.Render("waiting for status...")))
		return b.String()
	}

	b.WriteString(panelStyle.Render(m.renderStatus()))
	b.WriteString("\n\n")
	b.WriteString(panelStyle.Render(m.renderHistory()))
	b.WriteString("\n\n" + dimStyle.Render("press q to quit"))
	return b.String()
}

func (m Model) renderStatus() string {
	s := m.status
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("pid"), s.PID)
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("ticks"), s.TickCount)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("last tick"), s.LastTickAt.Format(time.RFC3339))
	if s.CurrentIssue != 0 {
		fmt.Fprintf(&b, "%s #%d (%s)\n", labelStyle.Render("active issue"), s.CurrentIssue, s.CurrentPhase)
	} else {
		b.WriteString(dimStyle.Render("no active issue") + "\n")
	}
	if s.LastAutoMerge != nil {
		fmt.Fprintf(&b, "%s merged=%d failed=%d\n", labelStyle.Render("automerge"), s.LastAutoMerge.Merged, s.LastAutoMerge.Failed)
	}
	if s.LastError != "" {
		b.WriteString(warnStyle.Render("last error: "+s.LastError) + "\n")
	} else {
		b.WriteString(okStyle.Render("no errors") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderHistory() string {
	if len(m.recent) == 0 {
		return dimStyle.Render("no recent events")
	}
	var b strings.Builder
	b.WriteString(labelStyle.Render("recent events") + "\n")
	start := 0
	if len(m.recent) > 10 {
		start = len(m.recent) - 10
	}
	for _, e := range m.recent[start:] {
		fmt.Fprintf(&b, "%s  #%-4d %s %s\n", e.Timestamp.Format("15:04:05"), e.Issue, e.Kind, e.Detail)
	}
	return strings.TrimRight(b.String(), "\n")
}
