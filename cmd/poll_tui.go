// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const commandDeadline = 90 * time.Second

// Focus states
const (
	focusCommandList = iota
	focusArgsInput
	focusButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// commandItem is one entry in the command list
type commandItem struct {
	desc ssp.Descriptor
}

// Implement list.Item interface
func (c commandItem) Title() string { return c.desc.Name }
func (c commandItem) Description() string {
	var flags []string
	if c.desc.RequiresArgs {
		flags = append(flags, "args")
	}
	if c.desc.RequiresEncryption {
		flags = append(flags, "encrypted")
	}
	if len(flags) == 0 {
		return fmt.Sprintf("0x%02X", c.desc.Code)
	}
	return fmt.Sprintf("0x%02X %s", c.desc.Code, strings.Join(flags, ", "))
}
func (c commandItem) FilterValue() string { return c.desc.Name }

// pollModel is the Bubble Tea model for the poll TUI
type pollModel struct {
	client   *ssp.Client
	connInfo string

	commandList list.Model
	argsInput   textinput.Model
	focused     int

	log       eventLog
	lastEvent string
	credits   int
	busy      string // Command in flight, if any
	lastReply *ssp.Result

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type pollTickMsg time.Time

type eventBatchMsg struct {
	events []ssp.Event
}

type commandDoneMsg struct {
	name   string
	result *ssp.Result
	err    error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialPollModel(client *ssp.Client, connInfo string) pollModel {
	ti := textinput.New()
	ti.Placeholder = "key=value key=value"
	ti.CharLimit = 128
	ti.Width = 40

	items := make([]list.Item, 0)
	for _, name := range ssp.CommandNames() {
		desc, _ := ssp.LookupCommand(name)
		items = append(items, commandItem{desc: desc})
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	commandList := list.New(items, delegate, 34, 12)
	commandList.Title = "Commands"
	commandList.SetShowStatusBar(false)
	commandList.SetShowHelp(false)

	return pollModel{
		client:      client,
		connInfo:    connInfo,
		commandList: commandList,
		argsInput:   ti,
		focused:     focusCommandList,
		log:         eventLog{max: 200},
		width:       80,
		height:      24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m pollModel) Init() tea.Cmd {
	return pollTickCmd()
}

func pollTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return pollTickMsg(t)
	})
}

func (m pollModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case pollTickMsg:
		return m, pollTickCmd()

	case eventBatchMsg:
		for _, ev := range msg.events {
			m.processEvent(ev)
		}

	case commandDoneMsg:
		if m.busy == msg.name {
			m.busy = ""
		}
		m.processResult(msg)
	}

	var cmd tea.Cmd
	if m.focused == focusCommandList {
		m.commandList, cmd = m.commandList.Update(msg)
	}
	return m, cmd
}

func (m pollModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	typing := m.focused == focusArgsInput

	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if !typing && !m.commandList.SettingFilter() {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		if !m.commandList.SettingFilter() {
			return m.sendSelected()
		}

	case "e":
		if !typing && !m.commandList.SettingFilter() {
			return m.run(ssp.CmdEnable, func(ctx context.Context) (*ssp.Result, error) {
				return m.client.Enable(ctx)
			})
		}

	case "d":
		if !typing && !m.commandList.SettingFilter() {
			return m.run(ssp.CmdDisable, func(ctx context.Context) (*ssp.Result, error) {
				return m.client.Disable(ctx)
			})
		}

	case "x":
		if !typing && !m.commandList.SettingFilter() {
			return m.run("KEY_EXCHANGE", func(ctx context.Context) (*ssp.Result, error) {
				return m.client.InitEncryption(ctx)
			})
		}
	}

	// Pass through to focused component
	var cmd tea.Cmd
	switch m.focused {
	case focusArgsInput:
		m.argsInput, cmd = m.argsInput.Update(msg)
	case focusCommandList:
		m.commandList, cmd = m.commandList.Update(msg)
	}
	return m, cmd
}

func (m pollModel) cycleFocus(delta int) pollModel {
	m.focused = (m.focused + delta + focusButton + 1) % (focusButton + 1)

	if m.focused == focusArgsInput {
		m.argsInput.Focus()
	} else {
		m.argsInput.Blur()
	}
	return m
}

// sendSelected sends the highlighted command with the typed arguments
func (m pollModel) sendSelected() (tea.Model, tea.Cmd) {
	item, ok := m.commandList.SelectedItem().(commandItem)
	if !ok {
		return m, nil
	}

	args, err := ssp.ParseFields(strings.Fields(m.argsInput.Value()))
	if err != nil {
		m.log.add(err.Error(), true)
		return m, nil
	}

	name := item.desc.Name
	return m.run(name, func(ctx context.Context) (*ssp.Result, error) {
		return m.client.Command(ctx, name, args)
	})
}

// run executes fn off the UI goroutine. Only one command is started at a
// time from the UI; the polling loop may still be in flight.
func (m pollModel) run(name string, fn func(ctx context.Context) (*ssp.Result, error)) (tea.Model, tea.Cmd) {
	if m.busy != "" {
		m.log.add(fmt.Sprintf("Cannot send %s: %s in progress", name, m.busy), true)
		return m, nil
	}
	m.busy = name
	m.log.add(fmt.Sprintf("Sending %s", name), false)

	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandDeadline)
		defer cancel()
		result, err := fn(ctx)
		return commandDoneMsg{name: name, result: result, err: err}
	}
}

func (m *pollModel) processResult(msg commandDoneMsg) {
	if msg.result != nil {
		m.lastReply = msg.result
		if msg.result.Success {
			m.log.add(fmt.Sprintf("%s: %s %s", msg.result.Command, msg.result.Status, inlineInfo(msg.result.Info)), false)
		} else {
			m.log.add(fmt.Sprintf("%s: %s", msg.result.Command, msg.result.Status), true)
		}
	}
	if msg.err != nil && !errors.Is(msg.err, ssp.ErrCommandRejected) {
		m.log.add(fmt.Sprintf("%s failed: %v", msg.name, msg.err), true)
	}
}

func (m *pollModel) processEvent(ev ssp.Event) {
	switch ev.Kind {
	case ssp.EventStatus:
		m.lastEvent = ev.Name
		if ev.Name == ssp.EventCreditNote || ev.Name == "COIN_CREDIT" {
			m.credits++
		}
		m.log.add(ssp.FormatPollEvent(*ev.Poll), ev.Name == ssp.EventFraudAttempt)
	case ssp.EventError:
		m.log.add(fmt.Sprintf("Polling stopped: %v (press e to re-enable)", ev.Err), true)
	}
}

func (m *pollModel) updateListSize() {
	h := m.height - 14
	if h < 6 {
		h = 6
	}
	m.commandList.SetSize(34, h)
}

// inlineInfo renders info on one line, sorted by key
func inlineInfo(info ssp.Info) string {
	s := strings.TrimSpace(ssp.FormatInfo(info, ""))
	return strings.ReplaceAll(s, "\n", " ")
}

func (m pollModel) View() string {
	if m.quitting {
		return "Disabling device...\n"
	}

	st := newTUIStyles()

	buttonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	focusedButtonStyle := buttonStyle.
		Background(lipgloss.Color("10"))

	var s strings.Builder

	// Header
	s.WriteString(st.title.Render("SSPCTL POLL"))
	s.WriteString(" ")
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | q=quit Tab=switch e=enable d=disable x=key exchange", m.connInfo)))
	s.WriteString("\n\n")

	// Layout: left panel (commands) | right panel (session)
	leftWidth := 36
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	listStyle := st.box.Width(leftWidth)
	if m.focused == focusCommandList {
		listStyle = st.focused.Width(leftWidth)
	}
	commandPanel := listStyle.Render(m.commandList.View())

	session := m.renderSession(st)
	session += "\n\n"
	session += st.label.Render("Arguments:") + "\n"
	if m.focused == focusArgsInput {
		session += st.focused.Render(m.argsInput.View())
	} else {
		session += st.box.Render(m.argsInput.View())
	}
	session += "\n"
	if m.focused == focusButton {
		session += focusedButtonStyle.Render("Send")
	} else {
		session += buttonStyle.Render("Send")
	}
	if m.busy != "" {
		session += " " + st.warning.Render(m.busy+"...")
	}
	sessionPanel := st.box.Width(rightWidth).Render(session)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, commandPanel, " ", sessionPanel))
	s.WriteString("\n\n")

	s.WriteString(st.box.Render(renderStatistics(st, m.client.Statistics().Snapshot())))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(st.label.Render("Recent Events:"))
	s.WriteString("\n")

	// Reserve space for panels and stats
	logHeight := m.height - 30
	if logHeight < 5 {
		logHeight = 5
	}
	s.WriteString(st.box.Width(m.width - 4).Render(m.log.render(st, logHeight)))

	return s.String()
}

func (m pollModel) renderSession(st tuiStyles) string {
	state := m.client.State()
	cfg := m.client.Config()

	onOff := func(v bool) string {
		if v {
			return st.value.Render("yes")
		}
		return st.header.Render("no")
	}

	var s strings.Builder
	s.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		st.label.Render("Address:"), st.value.Render(fmt.Sprintf("0x%02X", cfg.Address)),
		st.label.Render("Sequence:"), st.value.Render(fmt.Sprintf("0x%02X", state.Sequence)),
	))
	s.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		st.label.Render("Unit:"), st.value.Render(orDash(state.UnitType)),
		st.label.Render("Protocol:"), st.value.Render(fmt.Sprintf("%d", state.ProtocolVersion)),
	))
	s.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		st.label.Render("Enabled:"), onOff(state.Enabled),
		st.label.Render("Polling:"), onOff(state.Polling),
		st.label.Render("Processing:"), onOff(state.Processing),
	))
	s.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		st.label.Render("Encrypted:"), onOff(state.Encrypted),
		st.label.Render("Counter:"), st.value.Render(fmt.Sprintf("%d", state.Counter)),
	))
	s.WriteString(fmt.Sprintf("%s %s   %s %d",
		st.label.Render("Last event:"), st.value.Render(orDash(m.lastEvent)),
		st.label.Render("Credits:"), m.credits,
	))
	if m.lastReply != nil {
		s.WriteString("\n")
		s.WriteString(st.label.Render("Last reply:"))
		s.WriteString(" ")
		s.WriteString(st.header.Render(fmt.Sprintf("%s %s", m.lastReply.Command, m.lastReply.Status)))
	}
	return s.String()
}
