package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
)

// ProgressPaneModel shows workflow-wide node counts.
type ProgressPaneModel struct {
	total     int
	completed int
	running   int
	failed    int
	pending   int
	blocked   int
	status    string        // final workflow status, empty while running
	elapsed   time.Duration // set when the workflow finishes
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.WorkflowProgressEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.pending = msg.Pending
		m.blocked = msg.Blocked

	case events.WorkflowFinishedEvent:
		m.status = msg.Status
		m.elapsed = msg.Duration
	}

	return m, nil
}

// Finished reports whether a WorkflowFinishedEvent has been seen.
func (m ProgressPaneModel) Finished() bool {
	return m.status != ""
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Workflow Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(m.counts())
	b.WriteString("\n")

	if m.total > 0 {
		b.WriteString(m.bar(min(m.width-4, 40)))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString(fmt.Sprintf("\nFinished: %s in %v\n", statusStyle(m.status).Render(m.status), m.elapsed.Round(time.Millisecond)))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m ProgressPaneModel) counts() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Total:     %d\n", m.total))
	b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.completed))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.running))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString(fmt.Sprintf("Pending:   %s", StyleStatusPending.Render(fmt.Sprintf("%d", m.pending))))
	if m.blocked > 0 {
		b.WriteString(StyleStatusBlocked.Render(fmt.Sprintf(" (%d blocked)", m.blocked)))
	}
	b.WriteString("\n")
	return b.String()
}

func (m ProgressPaneModel) bar(width int) string {
	completedWidth := (m.completed * width) / m.total
	failedWidth := (m.failed * width) / m.total
	runningWidth := (m.running * width) / m.total
	pendingWidth := width - completedWidth - failedWidth - runningWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

	return fmt.Sprintf("[%s]  %d/%d", bar, m.completed, m.total)
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
