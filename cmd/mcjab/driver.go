package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tvardek/mcjab/internal/app"
	"github.com/tvardek/mcjab/internal/session"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	stateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// driver is the minimal bubbletea model this command uses to keep the
// event loop alive and exercise internal/lineedit; it is not a full
// renderer. A real terminal UI would replace this file only.
type driver struct {
	app   *app.App
	state session.State
	log   []string
}

func newDriver(a *app.App) *driver {
	return &driver{app: a, state: session.StateOff}
}

func (d *driver) Init() tea.Cmd {
	return d.app.Init()
}

func (d *driver) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		return d.handleKey(m)
	case app.EventMsg:
		d.handleEvent(m)
		return d, d.app.Init()
	}
	return d, nil
}

func (d *driver) handleKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return d, tea.Quit
	case tea.KeyEnter:
		line := d.app.Editor().AcceptLine(true)
		if line != "" {
			d.appendLog("> " + line)
		}
	case tea.KeyBackspace:
		d.app.Editor().DeleteBackward()
	case tea.KeyRunes:
		for _, r := range m.Runes {
			_ = d.app.Editor().InsertRune(r)
		}
	}
	d.app.NotifyActivity()
	return d, nil
}

func (d *driver) handleEvent(ev app.EventMsg) {
	switch ev.Type {
	case app.EventStateChange:
		if st, ok := ev.Data.(session.State); ok {
			d.state = st
			d.appendLog(fmt.Sprintf("[state] %s", st))
		}
	case app.EventMessage:
		d.appendLog(fmt.Sprintf("[message] from %v", ev.Data))
	case app.EventMUCMessage:
		d.appendLog(fmt.Sprintf("[muc message] from %v", ev.Data))
	case app.EventPresence:
		d.appendLog(fmt.Sprintf("[presence] %v", ev.Data))
	case app.EventMUCChange:
		d.appendLog(fmt.Sprintf("[muc] %v", ev.Data))
	case app.EventMUCWhois:
		if w, ok := ev.Data.(app.WhoisInfo); ok {
			d.appendLog(fmt.Sprintf("[whois] %s in %s: affiliation=%s role=%s jid=%s",
				w.Occ.Nick, w.Room, w.Occ.Affiliation, w.Occ.Role, w.Occ.JID))
		}
	case app.EventError:
		d.appendLog(errorStyle.Render(fmt.Sprintf("[error] %v", ev.Data)))
	}
}

const maxLogLines = 200

func (d *driver) appendLog(line string) {
	d.log = append(d.log, line)
	if len(d.log) > maxLogLines {
		d.log = d.log[len(d.log)-maxLogLines:]
	}
}

func (d *driver) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("mcjab"))
	b.WriteString(" — ")
	b.WriteString(stateStyle.Render(d.state.String()))
	b.WriteString("\n\n")
	start := 0
	if len(d.log) > 20 {
		start = len(d.log) - 20
	}
	for _, line := range d.log[start:] {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("\n")
	b.WriteString(promptStyle.Render("> "))
	b.WriteString(d.app.Editor().Text())
	b.WriteByte('\n')
	return b.String()
}
