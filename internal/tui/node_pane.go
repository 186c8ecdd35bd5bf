package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
)

// Node display statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// NodeState is what the pane knows about one executed node.
type NodeState struct {
	ID        string
	Name      string
	Kind      string
	Origin    string
	Status    string
	Output    []string
	StartTime time.Time
	Duration  time.Duration
}

// NodePaneModel represents the node list and output viewport pane.
type NodePaneModel struct {
	nodes       map[string]*NodeState // nodeID -> state
	nodeOrder   []string              // start order for display
	selectedIdx int                   // which node is selected in list
	viewport    viewport.Model        // scrollable output viewport
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewNodePaneModel creates a new node pane model.
func NewNodePaneModel() NodePaneModel {
	vp := viewport.New(0, 0)
	return NodePaneModel{
		nodes:    make(map[string]*NodeState),
		viewport: vp,
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the node pane.
func (m NodePaneModel) Update(msg tea.Msg) (NodePaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.nodeOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			// Delegate other keys to viewport for scrolling
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.NodeStartedEvent:
		if _, exists := m.nodes[msg.ID]; !exists {
			m.nodes[msg.ID] = &NodeState{
				ID:        msg.ID,
				Name:      msg.Name,
				Kind:      msg.Kind,
				Origin:    msg.Origin,
				Status:    StatusRunning,
				Output:    make([]string, 0),
				StartTime: msg.Timestamp,
			}
			m.nodeOrder = append(m.nodeOrder, msg.ID)
			// Auto-select first node
			if len(m.nodeOrder) == 1 {
				m.selectedIdx = 0
				m.updateViewportContent()
			}
		}

	case events.NodeOutputEvent:
		if node, exists := m.nodes[msg.ID]; exists {
			node.Output = append(node.Output, msg.Line)
			// If this is the selected node, update viewport with debouncing
			if m.SelectedID() == msg.ID {
				m.updateTag++
				tag := m.updateTag
				return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
					return tickMsg{tag: tag}
				})
			}
		}

	case events.NodeCompletedEvent:
		if node, exists := m.nodes[msg.ID]; exists {
			node.Status = StatusCompleted
			node.Duration = msg.Duration
			node.Output = append(node.Output, fmt.Sprintf("\n[Completed in %v, %d writes]", msg.Duration, msg.Writes))
			m.refreshIfSelected(msg.ID)
		}

	case events.NodeFailedEvent:
		if node, exists := m.nodes[msg.ID]; exists {
			node.Status = StatusFailed
			node.Duration = msg.Duration
			node.Output = append(node.Output, fmt.Sprintf("\n[Failed: %v]", msg.Err))
			m.refreshIfSelected(msg.ID)
		}

	case events.DetourSplicedEvent:
		if node, exists := m.nodes[msg.Origin]; exists {
			node.Output = append(node.Output, fmt.Sprintf("[Detour: %s]", strings.Join(msg.Nodes, ", ")))
			m.refreshIfSelected(msg.Origin)
		}

	case tickMsg:
		// Only update if this tick matches the current tag (debouncing)
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

func (m *NodePaneModel) refreshIfSelected(id string) {
	if m.SelectedID() == id {
		m.updateViewportContent()
	}
}

// View renders the node pane.
func (m NodePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	// Split into two columns: node list (left) and viewport (right)
	listWidth := 25
	viewportWidth := m.width - listWidth - 4 // account for borders and padding

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderNodeList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderNodeList renders the node list column. Detour nodes are indented
// under the node that spliced them.
func (m NodePaneModel) renderNodeList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Nodes")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.nodeOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, id := range m.nodeOrder {
			node := m.nodes[id]
			indent := strings.Repeat(" ", strings.Count(id, "/"))
			name := indent + node.Name
			if len(name) > width-6 {
				name = name[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", StatusIcon(node.Status), name)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case StatusRunning:
		return StyleStatusRunning.Render("●")
	case StatusCompleted:
		return StyleStatusComplete.Render("✓")
	case StatusFailed:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedID returns the ID of the currently selected node.
func (m NodePaneModel) SelectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.nodeOrder) {
		return m.nodeOrder[m.selectedIdx]
	}
	return ""
}

// Node returns the state of a node that has started.
func (m NodePaneModel) Node(id string) (*NodeState, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

// updateViewportContent updates the viewport with the selected node's output.
func (m *NodePaneModel) updateViewportContent() {
	node, exists := m.nodes[m.SelectedID()]
	if !exists {
		m.viewport.SetContent("Waiting for nodes...")
		return
	}

	header := fmt.Sprintf("%s (%s)", node.ID, node.Kind)
	m.viewport.SetContent(header + "\n" + strings.Join(node.Output, "\n"))
	// Auto-scroll to bottom
	m.viewport.GotoBottom()
}

// resizeViewport resizes the viewport based on pane dimensions.
func (m *NodePaneModel) resizeViewport() {
	listWidth := 25
	viewportWidth := max(m.width-listWidth-4, 10)
	viewportHeight := max(m.height-4, 5) // account for borders

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *NodePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *NodePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
