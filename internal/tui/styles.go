package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Rogers-F/agentloop/internal/domain"
)

var (
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	CursorStyle = lipgloss.NewStyle().Background(lipgloss.Color("236")).Bold(true)
	DimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	ErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	DetailStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

var statusColors = map[domain.JobStatus]lipgloss.Color{
	domain.JobIdle:            "244",
	domain.JobRunning:         "12",
	domain.JobFixing:          "13",
	domain.JobVerifying:       "11",
	domain.JobSnapshotting:    "11",
	domain.JobReviewing:       "11",
	domain.JobWaitingApproval: "214",
	domain.JobCompleted:       "10",
	domain.JobFailed:          "9",
}

// StatusStyle colours a job status for terminal output.
func StatusStyle(s domain.JobStatus) lipgloss.Style {
	c, ok := statusColors[s]
	if !ok {
		c = "7"
	}
	return lipgloss.NewStyle().Foreground(c)
}
