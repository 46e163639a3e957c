// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/Thermoquad/matrixctl/pkg/transport"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	pollIntervalSeconds = 30 // Re-read the full status every N seconds
)

// Focus states
const (
	focusOutputList = iota
	focusInputField
	focusButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// outputItem is one row of the output list
type outputItem struct {
	index int // 0-based
	kind  matrix.PortKind
	video int
	audio int
}

// Implement list.Item interface
func (o outputItem) Title() string { return fmt.Sprintf("OUT%d (%s)", o.index+1, o.kind) }
func (o outputItem) Description() string {
	return fmt.Sprintf("V %s  A %s", inputLabel(o.video), inputLabel(o.audio))
}
func (o outputItem) FilterValue() string { return strconv.Itoa(o.index + 1) }

func inputLabel(input int) string {
	if input == matrix.NoRoute {
		return "--"
	}
	return fmt.Sprintf("IN%d", input+1)
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	client   *matrix.Client
	connInfo string
	model    matrix.Model

	outputList list.Model
	state      matrix.DeviceState

	// Monitoring
	stats         matrix.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int

	// Control
	inputField   textinput.Model
	focusedField int
	audioMode    bool

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
	lastPoll       time.Time
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlBatchMsg struct {
	responses []matrix.Response
	statuses  []transport.Status
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(s *Session) controlModel {
	// Initialize text input for the input number
	ti := textinput.New()
	ti.Placeholder = "1"
	ti.CharLimit = 2
	ti.Width = 4

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	outputList := list.New([]list.Item{}, delegate, 30, 10)
	outputList.Title = "Outputs"
	outputList.SetShowStatusBar(false)
	outputList.SetShowHelp(false)
	outputList.SetFilteringEnabled(false)

	m := controlModel{
		client:        s.Client,
		connInfo:      s.Info,
		model:         s.Client.Model(),
		outputList:    outputList,
		state:         s.Client.State(),
		stats:         s.Client.Statistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		inputField:    ti,
		focusedField:  focusOutputList,
		width:         80,
		height:        24,
		lastPoll:      time.Now(),
	}
	m.connectionLost = s.Client.ConnectionStatus() != transport.StatusConnected
	m.updateOutputList()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.stats = m.client.Statistics()
		m.stats.CalculateRates()
		if !m.connectionLost && time.Since(m.lastPoll) >= time.Duration(pollIntervalSeconds)*time.Second {
			m.lastPoll = time.Now()
			m.client.QueryStatus()
			if m.model.SupportsTemperature() {
				m.client.GetTemperature()
			}
		}
		return m, controlTickCmd()

	case controlBatchMsg:
		for _, st := range msg.statuses {
			m.handleStatus(st)
		}
		for _, r := range msg.responses {
			m.processResponse(r)
		}
		m.state = m.client.State()
		m.stats = m.client.Statistics()
		m.updateOutputList()
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusInputField {
		m.inputField, cmd = m.inputField.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.focusedField == focusOutputList {
		m.outputList, cmd = m.outputList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		if m.focusedField == focusButton || m.focusedField == focusInputField {
			return m.sendRouteCommand()
		}

	case "a":
		if m.focusedField != focusInputField {
			m.audioMode = !m.audioMode
			return m, nil
		}

	case "r":
		if m.focusedField != focusInputField {
			m.sendQuery()
			return m, nil
		}

	case "up", "k", "down", "j":
		if m.focusedField == focusOutputList {
			m.outputList, _ = m.outputList.Update(msg)
			return m, nil
		}
	}

	// Pass through to focused component
	if m.focusedField == focusInputField {
		var cmd tea.Cmd
		m.inputField, cmd = m.inputField.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *controlModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	// Only the output list takes clicks
	m.outputList, _ = m.outputList.Update(msg)

	return m, nil
}

func (m *controlModel) cycleFocus(delta int) *controlModel {
	maxFocus := focusButton
	m.focusedField = (m.focusedField + delta + maxFocus + 1) % (maxFocus + 1)

	if m.focusedField == focusInputField {
		m.inputField.Focus()
	} else {
		m.inputField.Blur()
	}

	return m
}

func (m *controlModel) handleStatus(st transport.Status) {
	switch st {
	case transport.StatusConnected:
		if m.connectionLost {
			m.addLogEntry("Connected", false)
		}
		m.connectionLost = false
	case transport.StatusConnecting:
		if !m.connectionLost {
			m.addLogEntry("Connection lost - reconnecting...", true)
		}
		m.connectionLost = true
	default:
		m.connectionLost = true
		m.addLogEntry("Disconnected", true)
	}
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	buttonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	focusedButtonStyle := buttonStyle.
		Background(lipgloss.Color("10"))

	// Header
	s.WriteString(titleStyle.Render("MATRIXCTL CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch a=audio/video r=refresh", connStatus)))
	s.WriteString("\n\n")

	// Layout: left panel (outputs) | right panel (control)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusOutputList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	outputPanel := listStyle.Render(m.outputList.View())

	controlContent := m.renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, buttonStyle, focusedButtonStyle)
	controlPanel := boxStyle.Width(rightWidth).Render(controlContent)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, outputPanel, " ", controlPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderDeviceBar(statsLabelStyle, statsValueStyle, headerStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, buttonStyle, focusedButtonStyle lipgloss.Style) string {
	var s strings.Builder

	selected := m.getSelectedOutput()
	if selected == nil {
		s.WriteString(headerStyle.Render("No output selected"))
		return s.String()
	}

	mode := "Video"
	current := selected.video
	if m.audioMode {
		mode = "Audio"
		current = selected.audio
	}

	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Selected:"),
		matrix.FormatRoute(m.model, selected.index, selected.video)))
	s.WriteString(fmt.Sprintf("%s %s (current %s)\n\n", statsLabelStyle.Render("Mode:"),
		statsValueStyle.Render(mode), inputLabel(current)))

	s.WriteString(statsLabelStyle.Render(fmt.Sprintf("Input (1-%d): ", m.model.Inputs)))
	if m.focusedField == focusInputField {
		s.WriteString(m.inputField.View())
	} else {
		val := m.inputField.Value()
		if val == "" {
			val = m.inputField.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString("\n\n")

	btnText := fmt.Sprintf("[ Route %s ]", mode)
	if m.focusedField == focusButton {
		s.WriteString(focusedButtonStyle.Render(btnText))
	} else {
		s.WriteString(buttonStyle.Render(btnText))
	}
	s.WriteString("\n\n")

	// Input signal row
	s.WriteString(statsLabelStyle.Render("Signal:"))
	for i, detected := range m.state.InputSignal {
		if detected {
			s.WriteString(statsValueStyle.Render(fmt.Sprintf(" %d", i+1)))
		} else {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" %d", i+1)))
		}
	}

	return s.String()
}

func (m controlModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var classifiedPercent, malformedPercent float64
	if m.stats.TotalResponses > 0 {
		classifiedPercent = float64(m.stats.Classified) * 100.0 / float64(m.stats.TotalResponses)
		malformedPercent = float64(m.stats.Malformed) * 100.0 / float64(m.stats.TotalResponses)
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalResponses)),
		statsLabelStyle.Render("Classified:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", classifiedPercent)),
		statsLabelStyle.Render("Malformed:"), func() string {
			if malformedPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", malformedPercent))
			}
			return statsValueStyle.Render("0.0%")
		}(),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f lines/s", m.stats.ResponseRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderDeviceBar(statsLabelStyle, statsValueStyle, headerStyle, boxStyle lipgloss.Style) string {
	var content strings.Builder
	content.WriteString(statsLabelStyle.Render("DEVICE"))
	content.WriteString(" | ")

	content.WriteString(fmt.Sprintf("%s %s  ", statsLabelStyle.Render("Model:"), statsValueStyle.Render(m.model.Name)))

	ip := "--"
	if m.state.IPAddress.IsValid() {
		ip = m.state.IPAddress.String()
	}
	content.WriteString(fmt.Sprintf("%s %s  ", statsLabelStyle.Render("IP:"), statsValueStyle.Render(ip)))

	if m.model.SupportsTemperature() {
		content.WriteString(fmt.Sprintf("%s %s  ",
			statsLabelStyle.Render("Temp:"),
			statsValueStyle.Render(fmt.Sprintf("%dC", m.state.Temperature))))
	}
	if m.model.SupportsFanSpeed() {
		content.WriteString(fmt.Sprintf("%s %s  ",
			statsLabelStyle.Render("Fan:"),
			statsValueStyle.Render(strconv.Itoa(m.state.FanSpeed))))
	}
	if m.model.SupportsFanAuto() {
		content.WriteString(fmt.Sprintf("%s %s",
			statsLabelStyle.Render("Fan auto:"),
			statsValueStyle.Render(onOffLabel(m.state.FanAuto))))
	}
	if !m.model.SupportsFanAuto() && !m.model.SupportsTemperature() {
		content.WriteString(headerStyle.Render("no sensors"))
	}

	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m controlModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}
	startIdx := len(m.eventLog) - logHeight

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) processResponse(r matrix.Response) {
	if r.Err != nil {
		m.addLogEntry(fmt.Sprintf("%s: %v", r.Kind, r.Err), true)
		return
	}

	switch r.Kind {
	case matrix.KindVideoRoute, matrix.KindAudioRoute, matrix.KindFanAuto, matrix.KindFanSpeed:
		m.addLogEntry(r.Line, false)
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *controlModel) sendRouteCommand() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	selected := m.getSelectedOutput()
	if selected == nil {
		return m, nil
	}

	inputStr := m.inputField.Value()
	if inputStr == "" {
		inputStr = m.inputField.Placeholder
	}

	input, err := strconv.Atoi(inputStr)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid input number: %s", inputStr), true)
		return m, nil
	}

	output := selected.index + 1
	if m.audioMode {
		err = m.client.RouteAudioOutput(input, output)
	} else {
		err = m.client.RouteVideoOutput(input, output)
	}
	if err != nil {
		if errors.Is(err, matrix.ErrOutOfRange) {
			m.addLogEntry(fmt.Sprintf("Input must be between 1 and %d", m.model.Inputs), true)
		} else {
			m.addLogEntry(fmt.Sprintf("Failed to send command: %v", err), true)
		}
		return m, nil
	}

	mode := "video"
	if m.audioMode {
		mode = "audio"
	}
	m.addLogEntry(fmt.Sprintf("Sent %s route IN%d -> OUT%d", mode, input, output), false)
	return m, nil
}

func (m *controlModel) sendQuery() {
	if err := m.client.QueryStatus(); err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to query status: %v", err), true)
		return
	}
	m.lastPoll = time.Now()
	m.addLogEntry("Status query sent", false)
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) getSelectedOutput() *outputItem {
	item, ok := m.outputList.SelectedItem().(outputItem)
	if !ok {
		return nil
	}
	return &item
}

func (m *controlModel) updateOutputList() {
	items := make([]list.Item, m.model.Outputs)
	for i := range items {
		kind, _ := m.model.OutputKind(i + 1)
		item := outputItem{index: i, kind: kind, video: matrix.NoRoute, audio: matrix.NoRoute}
		if i < len(m.state.VideoRoute) {
			item.video = m.state.VideoRoute[i]
		}
		if i < len(m.state.AudioRoute) {
			item.audio = m.state.AudioRoute[i]
		}
		items[i] = item
	}
	m.outputList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.outputList.SetSize(28, listHeight)
}
