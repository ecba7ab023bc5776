package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// View is the plain data a Provider reports each tick: the counts the
// non-TUI run loop prints as a plain-text line, plus the channel id and
// the recent SDK event feed, all of which RenderInspectStatic renders.
type View struct {
	ChannelGID string
	State      string
	Links      int
	Connections int
	QueuedActions    int
	PendingPackages  int
	PendingFragments int

	PayloadsSent  int
	EncodesDone   int
	RecentEvents  []string
}

// Provider supplies one View per refresh tick.
type Provider interface {
	Snapshot() View
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// InspectModel is a Bubble Tea model polling a Provider on a fixed
// interval and rendering its View as a set of stat boxes plus a recent
// event feed.
type InspectModel struct {
	provider Provider
	view     View
	deadline time.Time
	quitting bool
}

// NewInspectModel constructs an InspectModel over provider. A non-zero
// deadline makes the model quit itself once that time passes, so a
// caller running a time-bounded demo doesn't need to kill the program.
func NewInspectModel(provider Provider, deadline time.Time) InspectModel {
	return InspectModel{provider: provider, view: provider.Snapshot(), deadline: deadline}
}

func (m InspectModel) Init() tea.Cmd {
	return tick()
}

func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		if !m.deadline.IsZero() && time.Time(msg).After(m.deadline) {
			m.quitting = true
			return m, tea.Quit
		}
		m.view = m.provider.Snapshot()
		return m, tick()
	}
	return m, nil
}

func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}
	return RenderInspectStatic(m.view) + "\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
}

// RenderInspectStatic renders a View without running the full TUI,
// used both as the TUI's frame body and as the non-TUI fallback.
func RenderInspectStatic(v View) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Channel %s", v.ChannelGID)))
	b.WriteString("\n")
	b.WriteString(LabelStyle.Render("State:") + " " + StateStyle(v.State).Render(v.State))
	b.WriteString("\n\n")

	boxes := []string{
		renderStatBox("Links", v.Links, highlightColor),
		renderStatBox("Conns", v.Connections, highlightColor),
		renderStatBox("Actions", v.QueuedActions, warningColor),
		renderStatBox("Packages", v.PendingPackages, warningColor),
		renderStatBox("Fragments", v.PendingFragments, warningColor),
		renderStatBox("Sent", v.PayloadsSent, successColor),
		renderStatBox("Encoded", v.EncodesDone, successColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	if len(v.RecentEvents) > 0 {
		b.WriteString("\n\n")
		b.WriteString(LabelStyle.Render("Recent events:"))
		b.WriteString("\n")
		start := 0
		if len(v.RecentEvents) > 8 {
			start = len(v.RecentEvents) - 8
		}
		for _, e := range v.RecentEvents[start:] {
			b.WriteString(ValueStyle.Render("  " + e))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)
	return boxStyle.Render(content)
}

// RunInspectTUI runs the interactive inspect view until the user quits
// or deadline passes (zero deadline means run until quit).
func RunInspectTUI(provider Provider, deadline time.Time) error {
	model := NewInspectModel(provider, deadline)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
