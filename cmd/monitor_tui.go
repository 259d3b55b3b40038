// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// eventLog keeps the most recent entries
type eventLog struct {
	entries []logEntry
	max     int
}

func (l *eventLog) add(message string, isError bool) {
	l.entries = append(l.entries, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// render shows the last height entries
func (l *eventLog) render(st tuiStyles, height int) string {
	if len(l.entries) == 0 {
		return st.header.Render("  (no events yet)")
	}

	start := len(l.entries) - height
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for _, entry := range l.entries[start:] {
		timestamp := st.header.Render(entry.timestamp.Format("01/02/06 15:04:05.000"))
		if entry.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", timestamp, st.err.Render("✗ "+entry.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", timestamp, st.warning.Render("ℹ "+entry.message)))
		}
	}
	return b.String()
}

// tuiStyles are shared by the monitor and poll views
type tuiStyles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	err     lipgloss.Style
	warning lipgloss.Style
	box     lipgloss.Style
	focused lipgloss.Style
}

func newTUIStyles() tuiStyles {
	return tuiStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		focused: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1),
	}
}

// deviceView is what the monitor has learnt about the device on the line
type deviceView struct {
	address    byte
	lastStatus string
	lastEvent  string
	unitType   string
	encrypted  uint64
	credits    int
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	stats         *ssp.Statistics
	log           eventLog
	synchronized  bool
	invalidFrames int
	width         int
	height        int
	quitting      bool
	device        *deviceView
	connErr       error
}

// Messages
type tickMsg time.Time
type connectionLostMsg struct {
	err error
}

// formatUptime formats a duration as a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := uint64(d / time.Second)
	if seconds == 0 {
		return "0 seconds"
	}

	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
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

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         ssp.NewStatistics(),
		log:           eventLog{max: 100},
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
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

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.log.add("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Update statistics rates
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidFrames = msg.invalidFrames
		if msg.invalidFrames > 0 {
			m.log.add(fmt.Sprintf("Synchronized after skipping %d invalid frames", msg.invalidFrames), false)
		} else {
			m.log.add("Synchronized", false)
		}

	case connectionLostMsg:
		m.connErr = msg.err
		m.log.add(fmt.Sprintf("Connection lost: %v", msg.err), true)

	case frameMsg:
		m.stats.Update(msg.packet, msg.decodeErr, msg.validationErrors)
		if msg.decodeErr != nil {
			m.log.add(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
			return m, nil
		}

		m.trackDevice(msg)

		code := ssp.FormatCode(msg.packet)
		switch {
		case len(msg.validationErrors) > 0:
			for _, err := range msg.validationErrors {
				m.log.add(fmt.Sprintf("%s: %s", code, err.Message), true)
			}
		case msg.reply != nil && len(msg.reply.Events) > 0:
			for _, ev := range msg.reply.Events {
				m.log.add(ssp.FormatPollEvent(ev), false)
			}
		case m.showAll:
			m.log.add(fmt.Sprintf("%s addr=0x%02X (valid)", code, msg.packet.Address()), false)
		}
	}

	return m, nil
}

// trackDevice updates the device panel from a valid frame
func (m *model) trackDevice(msg frameMsg) {
	p := msg.packet
	if m.device == nil || m.device.address != p.Address() {
		m.device = &deviceView{address: p.Address()}
	}
	if p.Encrypted() {
		m.device.encrypted++
		return
	}
	if ssp.IsReplyStatus(p.Code()) {
		m.device.lastStatus = ssp.StatusName(p.Code())
	}
	if msg.reply == nil {
		return
	}
	if ut, ok := msg.reply.Info.String("unit_type"); ok {
		m.device.unitType = ut
	}
	for _, ev := range msg.reply.Events {
		m.device.lastEvent = ev.Name
		if ev.Name == ssp.EventCreditNote || ev.Name == "COIN_CREDIT" {
			m.device.credits++
		}
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := newTUIStyles()

	// Header
	var s strings.Builder
	s.WriteString(st.title.Render("SSPCTL - LINE MONITOR"))
	s.WriteString("\n")
	s.WriteString(st.header.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset stats | 'q' quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All frames"
			}
			return "Errors and events"
		}())))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.connErr != nil:
		s.WriteString(st.err.Render(fmt.Sprintf("✗ Connection lost: %v", m.connErr)))
	case !m.synchronized:
		s.WriteString(st.warning.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(st.value.Render("✓ Synchronized"))
		if m.invalidFrames > 0 {
			s.WriteString(st.header.Render(fmt.Sprintf(" (skipped %d invalid frames)", m.invalidFrames)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(st.box.Render(renderStatistics(st, m.stats.Snapshot())))
	s.WriteString("\n\n")

	// Device section (only shown once a valid frame arrived)
	if m.device != nil {
		s.WriteString(st.label.Render("Device:"))
		s.WriteString("\n")

		device := strings.Builder{}
		device.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			st.label.Render("Address:"), st.value.Render(fmt.Sprintf("0x%02X", m.device.address)),
			st.label.Render("Unit:"), st.value.Render(orDash(m.device.unitType)),
		))
		device.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			st.label.Render("Last status:"), st.value.Render(orDash(m.device.lastStatus)),
			st.label.Render("Last event:"), st.value.Render(orDash(m.device.lastEvent)),
		))
		device.WriteString(fmt.Sprintf("%s %d   %s %d",
			st.label.Render("Credits:"), m.device.credits,
			st.label.Render("Encrypted frames:"), m.device.encrypted,
		))

		s.WriteString(st.box.Render(device.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(st.label.Render("Recent Events:"))
	s.WriteString("\n")

	// Reserve space for header and stats
	logHeight := m.height - 17
	if logHeight < 5 {
		logHeight = 5
	}
	s.WriteString(st.box.Width(m.width - 4).Render(m.log.render(st, logHeight)))

	return s.String()
}

// renderStatistics draws the counters box content
func renderStatistics(st tuiStyles, stats *ssp.Statistics) string {
	var validPercent, errorPercent float64
	totalErrors := stats.CRCErrors + stats.DecodeErrors + stats.MalformedPackets + stats.AnomalousValues
	if stats.TotalPackets > 0 {
		validPercent = float64(stats.ValidPackets) * 100.0 / float64(stats.TotalPackets)
		errorPercent = float64(totalErrors) * 100.0 / float64(stats.TotalPackets)
	}

	content := strings.Builder{}
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		st.label.Render("Total:"), st.value.Render(fmt.Sprintf("%d", stats.TotalPackets)),
		st.label.Render("Valid:"), st.value.Render(fmt.Sprintf("%d (%.1f%%)", stats.ValidPackets, validPercent)),
		st.label.Render("Errors:"), st.err.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))

	if stats.CRCErrors > 0 || stats.DecodeErrors > 0 {
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			st.label.Render("CRC Errors:"), st.err.Render(fmt.Sprintf("%d", stats.CRCErrors)),
			st.label.Render("Decode Errors:"), st.err.Render(fmt.Sprintf("%d", stats.DecodeErrors)),
		))
	}

	if stats.MalformedPackets > 0 {
		content.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d)\n",
			st.label.Render("Malformed:"), st.err.Render(fmt.Sprintf("%d", stats.MalformedPackets)),
			st.header.Render("unknown codes"), stats.UnknownCodes,
			st.header.Render("length mismatches"), stats.LengthMismatches,
		))
	}

	if stats.AnomalousValues > 0 {
		content.WriteString(fmt.Sprintf("%s %s\n",
			st.label.Render("Anomalous:"), st.warning.Render(fmt.Sprintf("%d", stats.AnomalousValues)),
		))
	}

	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		st.label.Render("Encrypted:"), st.value.Render(fmt.Sprintf("%d", stats.EncryptedPackets)),
		st.label.Render("Packet Rate:"), st.value.Render(fmt.Sprintf("%.1f pkts/s", stats.PacketRate)),
		st.label.Render("Error Rate:"), func() string {
			if stats.ErrorRate > 0 {
				return st.err.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
			}
			return st.value.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
		}(),
	))
	content.WriteString(fmt.Sprintf("%s %s",
		st.label.Render("Uptime:"), st.value.Render(formatUptime(time.Since(stats.StartTime))),
	))

	return content.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
