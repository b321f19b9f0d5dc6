// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/espwifi/pkg/wifi"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	monitorPollInterval = 100 * time.Millisecond
	monitorATWindow     = time.Second
	maxResponsePreview  = 512
)

type eventLevel int

const (
	eventInfo eventLevel = iota
	eventWarning
	eventError
)

// Event log entry
type eventEntry struct {
	timestamp time.Time
	message   string
	level     eventLevel
}

// driverSnapshot is the driver state shown in the status box
type driverSnapshot struct {
	state       string
	status      string
	connected   bool
	autoConnect bool
	stats       wifi.Statistics
}

// TUI model
type monitorModel struct {
	driver   *wifi.Driver
	connInfo string
	logLines <-chan string
	linkErr  func() error

	snapshot    driverSnapshot
	lastErrText string
	linkLost    bool

	input         textinput.Model
	events        []eventEntry
	maxLogEntries int
	eventView     viewport.Model

	width    int
	height   int
	quitting bool
}

// Messages
type monitorTickMsg time.Time

type atResultMsg struct {
	line string
	resp string
	err  error
}

func initialMonitorModel(d *wifi.Driver, connInfo string, logLines <-chan string, linkErr func() error) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "GET host/path | POST host/path data | AT+GMR | clear | autoconnect on"
	ti.CharLimit = wifi.DomainSize + wifi.PathSize
	ti.Width = 60
	ti.Focus()

	m := monitorModel{
		driver:        d,
		connInfo:      connInfo,
		logLines:      logLines,
		linkErr:       linkErr,
		input:         ti,
		events:        make([]eventEntry, 0),
		maxLogEntries: 200,
		eventView:     viewport.New(76, 5),
		width:         80,
		height:        24,
	}
	m.eventView.SetContent(m.renderEvents())
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTickCmd(), textinput.Blink)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(monitorPollInterval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.eventView, cmd = m.eventView.Update(msg)
			return m, cmd
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			cmd := m.execute(line)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeEventView()

	case monitorTickMsg:
		m.poll()
		return m, monitorTickCmd()

	case atResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.line, msg.err), eventError)
		} else {
			m.addLogEntry(fmt.Sprintf("%s -> %s", msg.line, oneLine(msg.resp)), eventInfo)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// execute runs one line typed into the console
func (m *monitorModel) execute(line string) tea.Cmd {
	c, err := parseMonitorCommand(line)
	if err != nil {
		m.addLogEntry(err.Error(), eventError)
		return nil
	}

	switch c.kind {
	case commandRequest:
		if err := m.driver.Submit(c.request); err != nil {
			m.addLogEntry(fmt.Sprintf("%s rejected: %v", c.request.Method, err), eventError)
			return nil
		}
		m.addLogEntry(fmt.Sprintf("Queued %s %s:%d%s", c.request.Method, c.request.Domain, c.request.Port, c.request.Path), eventInfo)

	case commandAT:
		d := m.driver
		m.addLogEntry("Sent "+c.line, eventInfo)
		return func() tea.Msg {
			resp, err := d.CustomCommand(c.line, monitorATWindow)
			return atResultMsg{line: c.line, resp: resp, err: err}
		}

	case commandClear:
		m.driver.ClearRequest()
		m.addLogEntry("Request cleared", eventWarning)

	case commandAutoConnect:
		m.driver.SetAutoConnect(c.enable)
		m.addLogEntry(fmt.Sprintf("Auto-connect %t", c.enable), eventInfo)
	}
	return nil
}

// poll collects driver output since the last tick
func (m *monitorModel) poll() {
	for drained := false; !drained; {
		select {
		case line := <-m.logLines:
			m.addLogEntry(line, eventWarning)
		default:
			drained = true
		}
	}

	d := m.driver
	if d.HasResponse() {
		m.addLogEntry("Response: "+oneLine(d.Response()), eventInfo)
	}
	if d.HasData() {
		req := d.LastRequest()
		m.addLogEntry(fmt.Sprintf("%s %s %s", req.Method, req.Path, d.Data()), eventInfo)
	}

	errText := ""
	if err := d.LastError(); err != nil {
		errText = err.Error()
	}
	if errText != m.lastErrText && errText != "" {
		m.addLogEntry(errText, eventError)
	}
	m.lastErrText = errText

	if !m.linkLost && m.linkErr != nil {
		if err := m.linkErr(); err != nil {
			m.linkLost = true
			m.addLogEntry(fmt.Sprintf("Connection lost: %v", err), eventError)
		}
	}

	m.snapshot = driverSnapshot{
		state:       d.State(),
		status:      d.Status().String(),
		connected:   d.IsConnected(),
		autoConnect: d.AutoConnect(),
		stats:       d.Statistics(),
	}
}

func (m *monitorModel) addLogEntry(message string, level eventLevel) {
	entry := eventEntry{
		timestamp: time.Now(),
		message:   message,
		level:     level,
	}
	m.events = append(m.events, entry)

	// Keep only last N entries
	if len(m.events) > m.maxLogEntries {
		m.events = m.events[len(m.events)-m.maxLogEntries:]
	}

	m.eventView.SetContent(m.renderEvents())
	m.eventView.GotoBottom()
}

func (m *monitorModel) resizeEventView() {
	logHeight := m.height - 14 // Reserve space for header, stats and input
	if logHeight < 5 {
		logHeight = 5
	}
	m.eventView.Width = m.width - 6
	m.eventView.Height = logHeight
	m.eventView.SetContent(m.renderEvents())
	m.eventView.GotoBottom()
}

// oneLine flattens a module reply for the event log
func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxResponsePreview {
		s = s[:maxResponsePreview] + "..."
	}
	if s == "" {
		return "(empty)"
	}
	return s
}

//////////////////////////////////////////////////////////////
// Rendering
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m monitorModel) renderEvents() string {
	if len(m.events) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	var b strings.Builder
	for _, entry := range m.events {
		timestamp := headerStyle.Render(entry.timestamp.Format(logTimeLayout))
		switch entry.level {
		case eventError:
			b.WriteString(fmt.Sprintf("%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message)))
		case eventWarning:
			b.WriteString(fmt.Sprintf("%s %s\n", timestamp, warningStyle.Render("ℹ "+entry.message)))
		default:
			b.WriteString(fmt.Sprintf("%s %s\n", timestamp, statsValueStyle.Render(entry.message)))
		}
	}
	return b.String()
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("ESPWIFI - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | MAC: %s | Ctrl+C to quit",
		m.connInfo, m.driver.Mode(), m.driver.MAC())))
	s.WriteString("\n\n")

	if m.linkLost {
		s.WriteString(errorStyle.Render("✗ Connection lost"))
		s.WriteString("\n\n")
	}

	// Driver state
	snap := m.snapshot
	connected := warningStyle.Render("no")
	if snap.connected {
		connected = statsValueStyle.Render("yes")
	}

	stats := strings.Builder{}
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("State:"), statsValueStyle.Render(snap.state),
		statsLabelStyle.Render("Status:"), statsValueStyle.Render(snap.status),
		statsLabelStyle.Render("Connected:"), connected,
	))
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Tx:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.stats.Transmitted)),
		statsLabelStyle.Render("Rx:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.stats.Received)),
		statsLabelStyle.Render("Failures:"), func() string {
			text := fmt.Sprintf("%d", snap.stats.Failures)
			if snap.stats.Failures > 0 {
				return errorStyle.Render(fmt.Sprintf("%s (%d timeouts, %d retried)", text, snap.stats.Timeouts, snap.stats.Retries))
			}
			return statsValueStyle.Render(text)
		}(),
	))
	if m.driver.Mode() == wifi.ModeStation {
		stats.WriteString(fmt.Sprintf("   %s %t", statsLabelStyle.Render("Auto-connect:"), snap.autoConnect))
	}

	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString(headerStyle.Render(" (PgUp/PgDn to scroll)"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.eventView.View()))
	s.WriteString("\n")

	s.WriteString(m.input.View())
	return s.String()
}
