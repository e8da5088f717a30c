package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/evanw/esbuild/pkg/api"

	"github.com/tuanbt/razzle/internal/engine"
)

type targetState struct {
	Status engine.Status
	Stats  *engine.Stats
}

// Model renders the compile status of every target.
type Model struct {
	Targets []string
	States  map[string]targetState
	Spinner spinner.Model

	// Color enables ANSI colors in formatted bundler messages.
	Color bool

	// OnInterrupt runs when ctrl+c is pressed.
	OnInterrupt func()

	Quitting bool
}

// NewModel creates a Model for the given targets, all idle.
func NewModel(targets []string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = StyleCompiling

	states := make(map[string]targetState, len(targets))
	for _, t := range targets {
		states[t] = targetState{Status: engine.StatusIdle}
	}
	return Model{Targets: targets, States: states, Spinner: s}
}

func (m Model) Init() tea.Cmd {
	return m.Spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			if m.OnInterrupt != nil {
				m.OnInterrupt()
			}
			m.Quitting = true
			return m, tea.Quit
		}

	case CompileEventMsg:
		m = m.apply(msg.Event)
		return m, nil

	case detachMsg:
		m.Quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply records ev for its own target only.
func (m Model) apply(ev engine.Event) Model {
	if _, ok := m.States[ev.Target]; !ok {
		return m
	}
	states := make(map[string]targetState, len(m.States))
	for k, v := range m.States {
		states[k] = v
	}
	states[ev.Target] = targetState{Status: ev.Status, Stats: ev.Stats}
	m.States = states
	return m
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}

	var b strings.Builder
	for _, t := range m.Targets {
		st := m.States[t]
		b.WriteString(StyleTarget.Render(t))
		b.WriteString(" ")
		switch st.Status {
		case engine.StatusIdle:
			b.WriteString(StyleDimmed.Render("waiting"))
		case engine.StatusCompiling:
			b.WriteString(m.Spinner.View() + StyleCompiling.Render(" compiling..."))
		case engine.StatusSuccess:
			b.WriteString(StyleSuccess.Render("✔ compiled") + StyleDimmed.Render(" in "+formatDuration(st.Stats)))
			if n := warnings(st.Stats); n > 0 {
				b.WriteString(StyleWarning.Render(fmt.Sprintf(" (%d warnings)", n)))
			}
		case engine.StatusFailed:
			b.WriteString(StyleFailed.Render("✖ failed to compile"))
		}
		b.WriteString("\n")

		if st.Status == engine.StatusFailed && st.Stats != nil {
			b.WriteString(StyleErrors.Render(strings.TrimRight(FormatErrors(st.Stats, m.Color), "\n")))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FormatErrors renders the bundler errors of stats.
func FormatErrors(stats *engine.Stats, color bool) string {
	return strings.Join(api.FormatMessages(stats.Errors, api.FormatMessagesOptions{
		Kind:  api.ErrorMessage,
		Color: color,
	}), "")
}

func formatDuration(stats *engine.Stats) string {
	if stats == nil {
		return "-"
	}
	return stats.Duration.Round(time.Millisecond).String()
}

func warnings(stats *engine.Stats) int {
	if stats == nil {
		return 0
	}
	return len(stats.Warnings)
}
