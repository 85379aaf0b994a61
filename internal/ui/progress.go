// Package ui renders live per-unit progress for `qcheck check --ui`.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"qcheck/internal/driver"
)

type progressModel struct {
	title   string
	events  <-chan driver.Event
	spinner spinner.Model
	prog    progress.Model
	units   []unitRow
	index   map[string]int
	phase   string
	width   int
	done    bool
}

type unitRow struct {
	name   string
	status driver.Status
	errors int
	cached bool
}

type eventMsg driver.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model fed by events until the
// channel closes. units fixes the row order.
func NewProgressModel(title string, units []string, events <-chan driver.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	rows := make([]unitRow, 0, len(units))
	index := make(map[string]int, len(units))
	for i, name := range units {
		rows = append(rows, unitRow{name: name, status: driver.StatusQueued})
		index[name] = i
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		units:   rows,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m, tea.Batch(m.apply(driver.Event(msg)), m.listen())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case progress.FrameMsg:
		next, cmd := m.prog.Update(msg)
		m.prog = next.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.units) == 0 {
		return ""
	}
	header := m.title
	if m.phase != "" {
		header = fmt.Sprintf("%s (%s)", header, m.phase)
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7")).Render(header))
	b.WriteString("\n\n")

	nameWidth := max(m.width-16, 20)
	for _, row := range m.units {
		label := statusLabel(row)
		fmt.Fprintf(&b, "  %s %s\n", styleStatus(row.status).Render(fmt.Sprintf("%12s", label)), truncate(row.name, nameWidth))
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listen() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) apply(ev driver.Event) tea.Cmd {
	if ev.Unit == "" {
		m.phase = string(ev.Stage)
		return nil
	}
	idx, ok := m.index[ev.Unit]
	if !ok {
		return nil
	}
	row := &m.units[idx]
	row.status = ev.Status
	row.errors = ev.Errors
	row.cached = ev.Stage == driver.StageCached

	finished := 0.0
	for _, r := range m.units {
		switch r.status {
		case driver.StatusAccepted, driver.StatusRejected:
			finished++
		case driver.StatusWorking:
			finished += 0.5
		}
	}
	return m.prog.SetPercent(finished / float64(len(m.units)))
}

func statusLabel(row unitRow) string {
	switch row.status {
	case driver.StatusRejected:
		return fmt.Sprintf("%d error(s)", row.errors)
	case driver.StatusAccepted:
		if row.cached {
			return "ok (cached)"
		}
		return "ok"
	case driver.StatusWorking:
		return "checking"
	}
	return "queued"
}

func styleStatus(status driver.Status) lipgloss.Style {
	switch status {
	case driver.StatusAccepted:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case driver.StatusRejected:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case driver.StatusWorking:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
}

func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
