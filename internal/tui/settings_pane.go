package tui

import (
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget  string
	concurrency string
	nodeTimeout string
	logLevel    string
	metricsAddr string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFromConfig()
	m.buildForm()
	return m
}

// loadFromConfig initializes form field values from config.
func (m *SettingsPaneModel) loadFromConfig() {
	m.saveTarget = "global"
	m.concurrency = strconv.Itoa(m.config.Concurrency)
	m.nodeTimeout = ""
	if m.config.NodeTimeout > 0 {
		m.nodeTimeout = time.Duration(m.config.NodeTimeout).String()
	}
	m.logLevel = m.config.Log.Level
	if m.logLevel == "" {
		m.logLevel = "info"
	}
	m.metricsAddr = m.config.MetricsAddr
}

func validateConcurrency(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateTimeout(s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fmt.Errorf("must be a duration like 30s, or empty for none")
	}
	return nil
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.taskflow/config.json)", "global"),
					huh.NewOption("Project (.taskflow/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("concurrency").
				Title("Concurrency").
				Value(&m.concurrency).
				Validate(validateConcurrency).
				Placeholder("4"),

			huh.NewInput().
				Key("nodeTimeout").
				Title("Node Timeout").
				Value(&m.nodeTimeout).
				Validate(validateTimeout).
				Placeholder("30s"),
		).Title("Execution"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("logLevel").
				Title("Log Level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&m.logLevel),

			huh.NewInput().
				Key("metricsAddr").
				Title("Metrics Address").
				Value(&m.metricsAddr).
				Placeholder(":9090"),
		).Title("Observability"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		// Cancel without saving
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.save()
	}

	return m, cmd
}

// save copies the form into the config and writes it to the chosen target.
func (m *SettingsPaneModel) save() {
	if err := m.applyFormToConfig(); err != nil {
		m.err = err
		m.saved = false
		return
	}

	targetPath := m.globalPath
	if m.saveTarget == "project" {
		targetPath = m.projectPath
	}

	if err := config.Save(m.config, targetPath); err != nil {
		m.err = err
		m.saved = false
		return
	}

	m.saved = true
	m.err = nil
	m.visible = false
}

// applyFormToConfig copies form field values back to the config struct.
func (m *SettingsPaneModel) applyFormToConfig() error {
	n, err := strconv.Atoi(m.concurrency)
	if err != nil {
		return fmt.Errorf("concurrency: %w", err)
	}
	var timeout time.Duration
	if m.nodeTimeout != "" {
		timeout, err = time.ParseDuration(m.nodeTimeout)
		if err != nil {
			return fmt.Errorf("node timeout: %w", err)
		}
	}

	next := *m.config
	next.Concurrency = n
	next.NodeTimeout = config.Duration(timeout)
	next.Log.Level = m.logLevel
	next.MetricsAddr = m.metricsAddr
	if err := next.Validate(); err != nil {
		return err
	}
	*m.config = next
	return nil
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	// Rebuild form to reset state
	if v {
		m.loadFromConfig()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
