// Package main implements the operator TUI (cmd/monitor): a Bubble Tea
// dashboard polling the httpapi stats/sessions endpoints, in the style of
// the gitflow-manager example's App model (poll-and-render instead of
// git-command dispatch).
package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kolabdoc/collabedit/internal/httpapi"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

const pollInterval = 2 * time.Second

type statsMsg httpapi.Stats
type sessionsMsg []httpapi.SessionSummary
type errMsg struct{ err error }
type tickMsg time.Time

// model is the root Bubble Tea model for the monitor.
type model struct {
	client  *http.Client
	baseURL string

	stats    httpapi.Stats
	sessions table.Model
	lastErr  error
	width    int
	height   int
}

func newModel(baseURL string) model {
	cols := []table.Column{
		{Title: "Session", Width: 24},
		{Title: "Document", Width: 20},
		{Title: "Participants", Width: 12},
		{Title: "Operations", Width: 10},
		{Title: "Conflicts", Width: 9},
		{Title: "Efficiency", Width: 10},
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(true), table.WithHeight(15))
	return model{
		client:   &http.Client{Timeout: 3 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: t,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetchStats(), m.fetchSessions(), tickEvery())
}

func tickEvery() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.sessions.SetHeight(msg.Height - 12)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(m.fetchStats(), m.fetchSessions())
		}

	case tickMsg:
		return m, tea.Batch(m.fetchStats(), m.fetchSessions(), tickEvery())

	case statsMsg:
		m.stats = httpapi.Stats(msg)
		m.lastErr = nil

	case sessionsMsg:
		rows := make([]table.Row, 0, len(msg))
		for _, s := range msg {
			rows = append(rows, table.Row{
				s.SessionID, s.DocumentID,
				fmt.Sprintf("%d", s.ParticipantCount),
				fmt.Sprintf("%d", s.OperationCount),
				fmt.Sprintf("%d", s.ConflictCount),
				fmt.Sprintf("%.2f", s.Efficiency),
			})
		}
		m.sessions.SetRows(rows)
		m.lastErr = nil

	case errMsg:
		m.lastErr = msg.err
	}

	var cmd tea.Cmd
	m.sessions, cmd = m.sessions.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("collabedit monitor") + "\n")
	b.WriteString(dimStyle.Render(m.baseURL) + "\n\n")
	b.WriteString(fmt.Sprintf("sessions: %d   uptime: %s\n\n",
		m.stats.NumSessions, time.Duration(m.stats.UptimeMillis)*time.Millisecond))
	b.WriteString(m.sessions.View() + "\n\n")

	if m.lastErr != nil {
		b.WriteString(errorStyle.Render("✗ "+m.lastErr.Error()) + "\n")
	} else {
		b.WriteString(okStyle.Render("✓ connected") + "\n")
	}
	b.WriteString(dimStyle.Render("[r] refresh  [q] quit"))
	return borderStyle.Render(b.String())
}
