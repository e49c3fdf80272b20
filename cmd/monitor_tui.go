// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/Thermoquad/bluestat/pkg/dispatch"
	"github.com/Thermoquad/bluestat/pkg/gatt"
	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/Thermoquad/bluestat/pkg/telemetry"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxLogEntries   = 100
	visibleLogLines = 8
	commandTimeout  = 10 * time.Second
)

// Focus states
const (
	focusCharts = iota
	focusCommand
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	deps monitorDeps

	// Data
	snapshot   telemetry.Snapshot
	status     *heater.Status
	lastStatus time.Time
	counters   gatt.Counters
	eventLog   []logEntry

	// Control
	input        textinput.Model
	focusedField int
	busy         bool

	// UI state
	width          int
	height         int
	quitting       bool
	connected      bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type eventBatchMsg struct {
	events []gatt.Event
}

type logMsg struct {
	entry logEntry
}

type commandResultMsg struct {
	message string
	err     error
}

//////////////////////////////////////////////////////////////
// Event batching
//////////////////////////////////////////////////////////////

// eventBatcher forwards session events to the TUI in 50ms batches
type eventBatcher struct {
	p  *tea.Program
	ch chan gatt.Event
}

func newEventBatcher(p *tea.Program) *eventBatcher {
	return &eventBatcher{p: p, ch: make(chan gatt.Event, 100)}
}

// add runs on the transport goroutine
func (b *eventBatcher) add(ev gatt.Event) {
	select {
	case b.ch <- ev:
	default:
	}
}

func (b *eventBatcher) run(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var batch eventBatchMsg

			// Drain all available events
		drainLoop:
			for {
				select {
				case ev := <-b.ch:
					batch.events = append(batch.events, ev)
				default:
					break drainLoop
				}
			}

			if len(batch.events) > 0 {
				b.p.Send(batch)
			}
		}
	}
}

// eventLogHook shows info and higher log entries in the event log
type eventLogHook struct {
	mu sync.Mutex
	p  *tea.Program
}

func newEventLogHook() *eventLogHook {
	return &eventLogHook{}
}

func (h *eventLogHook) attach(p *tea.Program) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.p = p
}

func (h *eventLogHook) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel, log.InfoLevel}
}

func (h *eventLogHook) Fire(e *log.Entry) error {
	h.mu.Lock()
	p := h.p
	h.mu.Unlock()
	if p == nil {
		return nil
	}

	msg := e.Message
	if err, ok := e.Data[log.ErrorKey]; ok {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	if c, ok := e.Data["characteristic"]; ok {
		msg = fmt.Sprintf("[%v] %s", c, msg)
	}
	// Send blocks until the program reads it; log calls must not
	go p.Send(logMsg{entry: logEntry{
		timestamp: e.Time,
		message:   msg,
		isError:   e.Level <= log.WarnLevel,
	}})
	return nil
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(deps monitorDeps) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "on | off | status | set-temp 22 | legacy on | learned NAME | clear"
	ti.CharLimit = 120
	ti.Width = 60
	ti.Prompt = "> "

	return monitorModel{
		deps:         deps,
		eventLog:     make([]logEntry, 0),
		input:        ti,
		focusedField: focusCharts,
		width:        80,
		height:       24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(20, m.width-12)

	case monitorTickMsg:
		m.counters = m.deps.sess.Statistics().Snapshot()
		m.snapshot = m.deps.sess.Aggregator().Snapshot()
		return m, monitorTickCmd()

	case eventBatchMsg:
		for _, ev := range msg.events {
			m.processEvent(ev)
		}
		m.snapshot = m.deps.sess.Aggregator().Snapshot()
		m.counters = m.deps.sess.Statistics().Snapshot()

	case logMsg:
		m.appendLog(msg.entry)

	case connectionEvent:
		if msg.connected {
			if m.connectionLost {
				m.addLogEntry("Reconnected", false)
			}
			m.connected = true
			m.connectionLost = false
		} else if msg.err != nil {
			m.connected = false
			m.connectionLost = true
			m.addLogEntry(fmt.Sprintf("Connection lost - reconnecting... (%v)", msg.err), true)
		}

	case commandResultMsg:
		m.busy = false
		if msg.err != nil {
			m.addLogEntry(msg.err.Error(), true)
		} else if msg.message != "" {
			m.addLogEntry(msg.message, false)
		}
	}

	if m.focusedField == focusCommand {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusCommand {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		if m.focusedField == focusCommand {
			m.focusedField = focusCharts
			m.input.Blur()
		} else {
			m.focusedField = focusCommand
			return m, m.input.Focus()
		}
		return m, nil

	case "esc":
		m.focusedField = focusCharts
		m.input.Blur()
		return m, nil

	case "c":
		if m.focusedField != focusCommand {
			m.deps.sess.Aggregator().Clear()
			m.snapshot = m.deps.sess.Aggregator().Snapshot()
			m.addLogEntry("Graph data cleared", false)
			return m, nil
		}

	case "enter":
		if m.focusedField == focusCommand {
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			return m.runCommandLine(line)
		}
	}

	if m.focusedField == focusCommand {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	connStatus := m.deps.target.Name
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	} else if !m.connected {
		connStatus = warningStyle.Render("CONNECTING...")
	}
	s.WriteString(titleStyle.Render("BLUESTAT MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=command c=clear", connStatus)))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n")
	s.WriteString(m.renderTelemetry())
	s.WriteString("\n")
	s.WriteString(m.renderHeater())
	s.WriteString("\n")
	s.WriteString(m.renderCommand())
	s.WriteString("\n")
	s.WriteString(m.renderEventLog())

	return s.String()
}

//////////////////////////////////////////////////////////////
// Styles
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

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))
)

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderStatisticsBar() string {
	c := m.counters
	errors := c.DecodeErrors + c.ReadErrors + c.WriteErrors
	errText := statsValueStyle.Render("0")
	if errors > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%d", errors))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", c.TotalNotifications)),
		statsLabelStyle.Render("Heater:"), statsValueStyle.Render(fmt.Sprintf("%d", c.HeaterFrames)),
		statsLabelStyle.Render("Telemetry:"), statsValueStyle.Render(fmt.Sprintf("%d", c.TelemetryFrames)),
		statsLabelStyle.Render("Errors:"), errText,
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f/s", c.NotificationRate)),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderTelemetry() string {
	snap := m.snapshot
	var content strings.Builder
	content.WriteString(statsLabelStyle.Render("TELEMETRY"))
	if snap.Category != "" {
		content.WriteString(headerStyle.Render(" | " + snap.Category))
	}
	content.WriteString("\n")

	if len(snap.Timestamps) == 0 {
		content.WriteString(headerStyle.Render("No telemetry data"))
		return m.box(focusCharts).Render(content.String())
	}

	chartWidth := max(10, m.width-40)
	rows := []struct {
		label   string
		display string
		values  []float64
	}{
		{"Aux V (median)", formatValue(snap.AuxDisplay.Voltage, snap.AuxDisplay.HasVoltage, "V"), snap.Aux.Voltage},
		{"Aux A (median)", formatValue(snap.AuxDisplay.Current, snap.AuxDisplay.HasCurrent, "A"), snap.Aux.Current},
		{"Aux W", formatLatest(snap.Aux.Power, "W"), snap.Aux.Power},
		{"Starter V", formatValue(snap.StarterDisplay.Voltage, snap.StarterDisplay.HasVoltage, "V"), snap.Starter.Voltage},
		{"Starter A", formatValue(snap.StarterDisplay.Current, snap.StarterDisplay.HasCurrent, "A"), snap.Starter.Current},
	}
	for _, r := range rows {
		content.WriteString(fmt.Sprintf("%-16s %s %s\n",
			statsLabelStyle.Render(r.label),
			statsValueStyle.Render(fmt.Sprintf("%9s", r.display)),
			sparkline(r.values, chartWidth)))
	}
	content.WriteString(headerStyle.Render(fmt.Sprintf("%d samples, last %s", len(snap.Timestamps), snap.Timestamps[len(snap.Timestamps)-1])))
	return m.box(focusCharts).Render(content.String())
}

func (m monitorModel) renderHeater() string {
	var content strings.Builder
	content.WriteString(statsLabelStyle.Render("HEATER"))
	content.WriteString(" | ")

	bound := m.deps.sess.Dispatcher().Bound()
	if m.status == nil {
		if bound {
			content.WriteString("Write characteristic bound, no status yet")
		} else {
			content.WriteString(headerStyle.Render("No heater characteristic"))
		}
		return boxStyle.Width(m.width - 4).Render(content.String())
	}

	content.WriteString(statsValueStyle.Render(heater.FormatStatusLine(m.status)))
	content.WriteString(headerStyle.Render(fmt.Sprintf("  (%s ago)", time.Since(m.lastStatus).Truncate(time.Second))))
	if m.deps.sess.Dispatcher().StatusPending() {
		content.WriteString(warningStyle.Render("  status requested"))
	}
	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m monitorModel) renderCommand() string {
	var content strings.Builder
	content.WriteString(statsLabelStyle.Render("COMMAND"))
	if m.busy {
		content.WriteString(warningStyle.Render(" sending..."))
	}
	content.WriteString("\n")
	content.WriteString(m.input.View())
	return m.box(focusCommand).Render(content.String())
}

func (m monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
		return boxStyle.Width(m.width - 4).Render(s.String())
	}

	startIdx := max(0, len(m.eventLog)-visibleLogLines)
	for i := startIdx; i < len(m.eventLog); i++ {
		entry := m.eventLog[i]
		icon := "i"
		style := warningStyle
		if entry.isError {
			icon = "x"
			style = errorStyle
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message))
	}
	return boxStyle.Width(m.width - 4).Render(strings.TrimRight(s.String(), "\n"))
}

func (m monitorModel) box(field int) lipgloss.Style {
	if m.focusedField == field {
		return focusedBoxStyle.Width(m.width - 4)
	}
	return boxStyle.Width(m.width - 4)
}

// sparkline scales values into block characters, newest on the right
func sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := make([]rune, len(values))
	for i, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkBlocks)-1))
		}
		out[i] = sparkBlocks[idx]
	}
	return string(out)
}

func formatValue(v float64, ok bool, unit string) string {
	if !ok {
		return "--"
	}
	return fmt.Sprintf("%.2f%s", v, unit)
}

func formatLatest(values []float64, unit string) string {
	if len(values) == 0 {
		return "--"
	}
	return formatValue(values[len(values)-1], true, unit)
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) processEvent(ev gatt.Event) {
	switch ev.Kind {
	case gatt.EventHeater:
		old := m.status
		m.status = ev.Status
		m.lastStatus = ev.Notification.Timestamp
		if old == nil || old.StateName() != ev.Status.StateName() {
			m.addLogEntry(fmt.Sprintf("Heater: %s", ev.Status.StateName()), false)
		}
	case gatt.EventInvalid:
		m.addLogEntry(fmt.Sprintf("DECODE ERROR [%s]: %v", ev.Notification.Characteristic, ev.Err), true)
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// runCommandLine parses a typed command and runs it off the UI goroutine
func (m monitorModel) runCommandLine(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	args := fields[1:]

	if name == "clear" {
		m.deps.sess.Aggregator().Clear()
		m.snapshot = m.deps.sess.Aggregator().Snapshot()
		m.addLogEntry("Graph data cleared", false)
		return m, nil
	}

	// Don't allow control commands while connection is lost
	if m.connectionLost || !m.connected {
		m.addLogEntry("Cannot send command: not connected", true)
		return m, nil
	}
	if m.busy {
		m.addLogEntry("A command is still being sent", true)
		return m, nil
	}

	d := m.deps.sess.Dispatcher()
	var run func(ctx context.Context) (string, error)

	switch name {
	case "legacy":
		if len(args) == 0 {
			m.addLogEntry("legacy requires a command name", true)
			return m, nil
		}
		variants, policy, err := parseLegacy(args)
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		legacyName := strings.ToLower(args[0])
		run = func(ctx context.Context) (string, error) {
			res, err := d.SendLegacy(ctx, legacyName, variants, policy)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Legacy %s: %d attempt(s), policy %s", legacyName, len(res.Attempts), res.Policy), nil
		}

	case "learned", "replay":
		if len(args) == 0 {
			m.addLogEntry("learned requires a command name or id", true)
			return m, nil
		}
		ref := strings.Join(args, " ")
		learned := m.deps.st.learned
		run = func(ctx context.Context) (string, error) {
			lc, err := learned.Get(ctx, ref)
			if err != nil {
				return "", err
			}
			frame, err := lc.Bytes()
			if err != nil {
				return "", err
			}
			if err := d.SendRaw(ctx, frame); err != nil {
				return "", err
			}
			return fmt.Sprintf("Replayed %q", lc.Name), nil
		}

	default:
		command, err := heater.ParseCommand(name, args...)
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		run = func(ctx context.Context) (string, error) {
			if err := d.Send(ctx, command); err != nil {
				return "", err
			}
			return fmt.Sprintf("Sent %s: %s", command, byteframe.FormatHex(command.Encode())), nil
		}
	}

	m.busy = true
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		msg, err := run(ctx)
		if errors.Is(err, dispatch.ErrNotConnected) {
			err = fmt.Errorf("cannot send command: %w", err)
		}
		return commandResultMsg{message: msg, err: err}
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.appendLog(logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
}

func (m *monitorModel) appendLog(entry logEntry) {
	m.eventLog = append(m.eventLog, entry)
	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}
}
