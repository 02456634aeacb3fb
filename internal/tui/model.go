// Package tui renders a live view of jobs in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// Source lists jobs, newest first or in any stable order.
type Source interface {
	List(ctx context.Context) ([]domain.Job, error)
}

type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Quit key.Binding
}

var keys = keyMap{
	Up:   key.NewBinding(key.WithKeys("up", "k")),
	Down: key.NewBinding(key.WithKeys("down", "j")),
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c", "esc")),
}

// JobsMsg carries a refreshed job list.
type JobsMsg struct {
	Jobs []domain.Job
	Err  error
}

type tickMsg time.Time

// Model is the bubbletea model of the job watcher.
type Model struct {
	source   Source
	interval time.Duration
	jobID    string

	jobs    []domain.Job
	err     error
	cursor  int
	width   int
	height  int
	spinner spinner.Model
}

// New creates a watcher polling source every interval. A non-empty jobID
// limits the view to that job.
func New(source Source, interval time.Duration, jobID string) Model {
	if interval <= 0 {
		interval = time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StatusStyle(domain.JobVerifying)
	return Model{source: source, interval: interval, jobID: jobID, spinner: sp}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.spinner.Tick)
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobs, err := m.source.List(ctx)
		return JobsMsg{Jobs: jobs, Err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.jobs)-1 {
				m.cursor++
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case JobsMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.jobs = filterJobs(msg.Jobs, m.jobID)
			if m.cursor >= len(m.jobs) {
				m.cursor = max(len(m.jobs)-1, 0)
			}
		}
		return m, m.tick()

	case tickMsg:
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func filterJobs(jobs []domain.Job, id string) []domain.Job {
	if id == "" {
		return jobs
	}
	for _, j := range jobs {
		if j.ID == id {
			return []domain.Job{j}
		}
	}
	return nil
}

// Selected returns the job under the cursor.
func (m Model) Selected() (domain.Job, bool) {
	if m.cursor < 0 || m.cursor >= len(m.jobs) {
		return domain.Job{}, false
	}
	return m.jobs[m.cursor], true
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render("agentloop jobs"))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n\n")
	}
	if len(m.jobs) == 0 {
		b.WriteString(DimStyle.Render("no jobs"))
		b.WriteString("\n")
	}

	for i, j := range m.jobs {
		line := m.row(j)
		if i == m.cursor {
			line = CursorStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if j, ok := m.Selected(); ok {
		b.WriteString("\n")
		b.WriteString(DetailStyle.Render(detail(j)))
		b.WriteString("\n")
	}
	b.WriteString(DimStyle.Render("j/k move · q quit"))
	return b.String()
}

func (m Model) row(j domain.Job) string {
	marker := " "
	if j.Status.InPipeline() || j.Status.AwaitsAgent() {
		marker = m.spinner.View()
	}
	status := StatusStyle(j.Status).Render(fmt.Sprintf("%-16s", j.Status))
	return fmt.Sprintf("%s %-14s %s %s", marker, shortID(j.ID), status, Truncate(j.Description, 50))
}

func detail(j domain.Job) string {
	lines := []string{
		"id:        " + j.ID,
		"workspace: " + j.Workspace,
		"session:   " + orDash(j.SessionID),
		"snapshot:  " + orDash(j.LatestSnapshotID),
		fmt.Sprintf("auto-fix:  %d", j.AutoFixCount),
	}
	if j.LastReview != nil {
		lines = append(lines, fmt.Sprintf("review:    %s (%s, %d issues)",
			j.LastReview.Decision, j.LastReview.AchievedLevel, len(j.LastReview.Issues)))
	}
	if j.Reason != "" {
		lines = append(lines, ErrorStyle.Render("reason:    "+j.Reason))
	}
	if n := len(j.History); n > 0 {
		last := j.History[n-1]
		lines = append(lines, DimStyle.Render(fmt.Sprintf("last:      %s at %s", last.Action, last.Timestamp.Format(time.TimeOnly))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Truncate shortens s to n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// Run starts the watcher on the terminal and blocks until the user quits.
func Run(ctx context.Context, source Source, interval time.Duration, jobID string) error {
	p := tea.NewProgram(New(source, interval, jobID), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
