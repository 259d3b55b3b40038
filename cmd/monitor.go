// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"error_detection"},
	Short:   "Detect and analyze malformed frames and protocol errors",
	Long: `Track frame errors, protocol anomalies and poll events with statistics.

This command passively validates each frame on the line and detects:
  - CRC errors and frames cut short
  - Unknown command or status codes
  - Commands sent without required arguments
  - Payout and key commands sent without encryption
  - Encrypted frames that are not whole AES blocks

Replies are matched to the last command seen for the same address, so POLL
events and other replies are decoded while a host drives the device.

By default, only errors are displayed. Use --show-all to display valid frames too.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// frameMsg is one analysed frame
type frameMsg struct {
	packet           *ssp.Packet
	decodeErr        error
	validationErrors []ssp.ValidationError
	reply            *ssp.Result // Set for plaintext replies to a known command
}

// syncMsg reports the first valid frame
type syncMsg struct {
	invalidFrames int
}

// lineAnalyzer turns raw frames into frameMsgs. It remembers the last
// command per address so that replies can be decoded.
type lineAnalyzer struct {
	codec        ssp.DefaultCodec
	lastCommand  map[byte]string
	protocol     map[byte]int
	unitType     map[byte]string
	synchronized bool
	invalid      int
}

func newLineAnalyzer() *lineAnalyzer {
	return &lineAnalyzer{
		lastCommand: map[byte]string{},
		protocol:    map[byte]int{},
		unitType:    map[byte]string{},
	}
}

// analyze returns the message for frame and, on the first valid frame,
// a sync message. Errors before synchronisation are only counted.
func (a *lineAnalyzer) analyze(frame []byte) (*frameMsg, *syncMsg) {
	return a.analyzeAt(frame, time.Now())
}

func (a *lineAnalyzer) analyzeAt(frame []byte, seen time.Time) (*frameMsg, *syncMsg) {
	packet, err := ssp.ParsePacketAt(frame, seen)
	if err != nil {
		if !a.synchronized {
			a.invalid++
			return nil, nil
		}
		return &frameMsg{decodeErr: err}, nil
	}

	var sync *syncMsg
	if !a.synchronized {
		a.synchronized = true
		sync = &syncMsg{invalidFrames: a.invalid}
	}

	msg := &frameMsg{packet: packet, validationErrors: ssp.ValidatePacket(packet)}
	if packet.Length() == 0 || packet.Encrypted() {
		return msg, sync
	}

	addr := packet.Address()
	code := packet.Code()
	if ssp.IsReplyStatus(code) {
		if name, ok := a.lastCommand[addr]; ok {
			msg.reply = a.codec.Decode(packet.Data(), name, a.protocol[addr], a.unitType[addr])
			a.learn(addr, msg.reply)
			delete(a.lastCommand, addr)
		}
		return msg, sync
	}

	if desc, ok := ssp.LookupCommandCode(code); ok {
		a.lastCommand[addr] = desc.Name
		if desc.Name == ssp.CmdHostProtocolVersion && packet.Length() > 1 {
			a.protocol[addr] = int(packet.Data()[1])
		}
	}
	return msg, sync
}

func (a *lineAnalyzer) learn(addr byte, reply *ssp.Result) {
	if !reply.Success {
		return
	}
	if v, ok := reply.Info.Int("protocol_version"); ok && reply.Command == ssp.CmdSetupRequest {
		a.protocol[addr] = int(v)
	}
	if ut, ok := reply.Info.String("unit_type"); ok {
		a.unitType[addr] = ut
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(conn, connInfo)
	}
	return runTextMode(conn, connInfo)
}

// readFrames reads conn until it fails and hands every decoded frame to fn
func readFrames(conn Connection, fn func(frame []byte)) error {
	decoder := ssp.NewDecoder()
	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		for _, frame := range decoder.Decode(buf[:n]) {
			fn(frame)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return err
			}
			log.WithError(err).Debug("read error")
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
}

// printPollEvents prints the events carried by a POLL reply
func printPollEvents(packet *ssp.Packet, reply *ssp.Result) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	for _, ev := range reply.Events {
		fmt.Printf("[%s] \033[1;32mEVENT:\033[0m addr=0x%02X %s\n", timestamp, packet.Address(), ssp.FormatPollEvent(ev))
	}
}

// printValidationErrors prints validation errors for a packet
func printValidationErrors(packet *ssp.Packet, issues []ssp.ValidationError) {
	timestamp := packet.Timestamp().Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s addr=0x%02X\n", timestamp, ssp.FormatCode(packet), packet.Address())
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range issues {
		switch err.Type {
		case ssp.AnomalyUnknownCode, ssp.AnomalyLengthMismatch, ssp.AnomalyCipherAlignment:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if length, ok := err.Details["length"].(int); ok {
				fmt.Printf("    DATA length=%d\n", length)
			}

		case ssp.AnomalyPlaintextSensitive, ssp.AnomalyMissingArgs:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	if packet.Length() > 1 {
		fmt.Printf("  Data: %s\n", ssp.FormatHex(packet.Data()))
	}
	fmt.Printf("  >>> PACKET FLAGGED <<<\n\n")
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode(conn Connection, connInfo string) error {
	analyzer := newLineAnalyzer()

	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m)

	go func() {
		err := readFrames(conn, func(frame []byte) {
			msg, sync := analyzer.analyze(frame)
			if sync != nil {
				p.Send(*sync)
			}
			if msg != nil {
				p.Send(*msg)
			}
		})
		p.Send(connectionLostMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

// runTextMode runs the monitor in text mode
func runTextMode(conn Connection, connInfo string) error {
	fmt.Printf("sspctl - Line Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors and events only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	analyzer := newLineAnalyzer()
	stats := ssp.NewStatistics()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	frames := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readFrames(conn, func(frame []byte) { frames <- frame })
	}()

	for {
		select {
		case frame := <-frames:
			msg, sync := analyzer.analyze(frame)
			if sync != nil {
				if sync.invalidFrames > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d invalid frames\n\n", sync.invalidFrames)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}
			if msg == nil {
				continue
			}

			stats.Update(msg.packet, msg.decodeErr, msg.validationErrors)
			switch {
			case msg.decodeErr != nil:
				printDecodeError(msg.decodeErr)
			case len(msg.validationErrors) > 0:
				printValidationErrors(msg.packet, msg.validationErrors)
			case msg.reply != nil && len(msg.reply.Events) > 0:
				// Always print poll events
				printPollEvents(msg.packet, msg.reply)
			case showAll:
				fmt.Print(ssp.FormatPacket(msg.packet))
				if msg.reply != nil {
					fmt.Print(ssp.FormatInfo(msg.reply.Info, "  "))
				}
			}

		case err := <-readErr:
			fmt.Println()
			fmt.Print(stats.String())
			log.WithError(err).Info("connection closed")
			return nil

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
