// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/Thermoquad/matrixctl/pkg/transport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// Monitor TUI model
type monitorModel struct {
	client         *matrix.Client
	info           string
	statsInterval  int
	showAll        bool
	stats          matrix.Statistics
	status         transport.Status
	connectedSince time.Time
	eventLog       []eventLogEntry
	maxLogEntries  int
	width          int
	height         int
	quitting       bool
}

// Messages
type tickMsg time.Time
type responseMsg matrix.Response
type statusMsg transport.Status

// formatElapsed formats a duration as a human-friendly string
func formatElapsed(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialMonitorModel(s *Session, statsInterval int, showAll bool) monitorModel {
	m := monitorModel{
		client:        s.Client,
		info:          s.Info,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         s.Client.Statistics(),
		status:        s.Client.ConnectionStatus(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	if m.status == transport.StatusConnected {
		m.connectedSince = time.Now()
	}
	return m
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.client.ResetStatistics()
			m.stats = m.client.Statistics()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats = m.client.Statistics()
		m.stats.CalculateRates()
		return m, tickCmd()

	case statusMsg:
		st := transport.Status(msg)
		m.status = st
		if st == transport.StatusConnected {
			m.connectedSince = time.Now()
			m.addLogEntry("Connected", false)
		} else {
			m.addLogEntry(fmt.Sprintf("Link %s", st), st == transport.StatusConnecting)
		}

	case responseMsg:
		r := matrix.Response(msg)
		m.stats = m.client.Statistics()
		switch {
		case r.Err != nil:
			label := "MALFORMED"
			if errors.Is(r.Err, matrix.ErrOutOfRange) {
				label = "OUT OF RANGE"
			}
			m.addLogEntry(fmt.Sprintf("%s %s: %v", label, r.Kind, r.Err), true)
		case r.Kind == matrix.KindUnmatched:
			m.addLogEntry(fmt.Sprintf("UNMATCHED %q", r.Line), false)
		case m.showAll:
			m.addLogEntry(fmt.Sprintf("%s %q", r.Kind, r.Line), false)
		}
	}

	return m, nil
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

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

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("MATRIXCTL - RESPONSE MONITOR"))
	s.WriteString("\n")
	mode := "Problems only"
	if m.showAll {
		mode = "All responses"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset, 'q' quit", m.info, mode)))
	s.WriteString("\n\n")

	// Link status
	switch m.status {
	case transport.StatusConnected:
		s.WriteString(statsValueStyle.Render("✓ Connected"))
		s.WriteString(headerStyle.Render(" for " + formatElapsed(time.Since(m.connectedSince))))
	case transport.StatusConnecting:
		s.WriteString(warningStyle.Render("⏳ Connecting..."))
	default:
		s.WriteString(errorStyle.Render("✗ Disconnected"))
	}
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	var classifiedPercent, malformedPercent float64
	if st.TotalResponses > 0 {
		classifiedPercent = float64(st.Classified) * 100.0 / float64(st.TotalResponses)
		malformedPercent = float64(st.Malformed) * 100.0 / float64(st.TotalResponses)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalResponses)),
		statsLabelStyle.Render("Classified:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.Classified, classifiedPercent)),
		statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.Malformed, malformedPercent)),
	))

	if st.Unmatched > 0 || st.OutOfRange > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Unmatched:"), warningStyle.Render(fmt.Sprintf("%d", st.Unmatched)),
			statsLabelStyle.Render("Out of range:"), errorStyle.Render(fmt.Sprintf("%d", st.OutOfRange)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Commands:"), statsValueStyle.Render(fmt.Sprintf("%d", st.CommandsSent)),
		statsLabelStyle.Render("Link drops:"), warningStyle.Render(fmt.Sprintf("%d", st.ConnectionLoss)),
	))
	statsContent.WriteString("\n")

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Response Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f lines/s", st.ResponseRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Device section (only shown for models with a sensor)
	model := m.client.Model()
	if model.SupportsTemperature() || model.SupportsFanAuto() {
		s.WriteString(statsLabelStyle.Render("Device:"))
		s.WriteString("\n")

		deviceContent := strings.Builder{}
		if model.SupportsTemperature() {
			deviceContent.WriteString(fmt.Sprintf("%s %s   ",
				statsLabelStyle.Render("Temperature:"), statsValueStyle.Render(fmt.Sprintf("%d°C", m.client.Temperature())),
			))
		}
		if model.SupportsFanSpeed() {
			deviceContent.WriteString(fmt.Sprintf("%s %s   ",
				statsLabelStyle.Render("Fan:"), statsValueStyle.Render(fmt.Sprintf("%d", m.client.FanSpeed())),
			))
		}
		deviceContent.WriteString(fmt.Sprintf("%s %s",
			statsLabelStyle.Render("Fan auto:"), statsValueStyle.Render(onOffLabel(m.client.FanAuto())),
		))

		s.WriteString(boxStyle.Render(deviceContent.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 17 // Reserve space for header and stats
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

func onOffLabel(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
