// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	pollEncrypt  bool
	pollCapture  string
	pollTUI      bool
	pollInhibits []int
	pollProtocol int
)

var pollCmd = &cobra.Command{
	Use:     "poll",
	Aliases: []string{"control"},
	Short:   "Enable a device and stream its poll events",
	Long: `Bring an SSP device online and poll it until interrupted.

The start-up sequence is:
  SYNC, HOST_PROTOCOL_VERSION, SETUP_REQUEST
  key exchange (with --encrypt)
  SET_CHANNEL_INHIBITS (with --inhibits)
  ENABLE, after which POLL is sent every poll interval

Poll events are printed as they arrive. A poll that fails after every retry
stops the loop and the command exits with the error. On Ctrl+C the device is
disabled before the port is closed.

With --tui an interactive panel shows session state, statistics and the
event log, and any command can be sent from the command list.

With --capture every frame sent or received is appended to a CBOR capture
file that the replay command can read back.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().BoolVar(&pollEncrypt, "encrypt", false, "Negotiate an encryption key before enabling")
	pollCmd.Flags().StringVar(&pollCapture, "capture", "", "Append sent and received frames to a capture file")
	pollCmd.Flags().BoolVar(&pollTUI, "tui", false, "Use the interactive terminal UI")
	pollCmd.Flags().IntSliceVar(&pollInhibits, "inhibits", nil, "Channels to accept (1-16), sent before ENABLE")
	pollCmd.Flags().IntVar(&pollProtocol, "protocol", 6, "Host protocol version to announce")
}

func runPoll(cmd *cobra.Command, args []string) error {
	client, connInfo, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	var capture *ssp.CaptureWriter
	if pollCapture != "" {
		f, err := os.OpenFile(pollCapture, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return oops.In("capture").With("file", pollCapture).Wrapf(err, "opening capture file")
		}
		defer f.Close()
		capture = ssp.NewCaptureWriter(f)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if pollTUI {
		return runPollTUI(ctx, client, connInfo, capture)
	}

	fmt.Printf("sspctl - Poll\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Address: 0x%02X, interval %s\n", client.Config().Address, client.Config().PollInterval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	events, unsubscribe := client.Events().Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return printEvents(gctx, events, capture)
	})

	g.Go(func() error {
		if err := startSession(gctx, client, func(r *ssp.Result) { fmt.Print(ssp.FormatResult(r)) }); err != nil {
			return err
		}
		fmt.Printf("\nPolling...\n\n")

		err := client.WaitPolling(gctx)
		stopSession(client)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	if dropped := client.Events().Dropped(); dropped > 0 {
		log.WithField("dropped", dropped).Warn("events dropped by slow subscribers")
	}
	fmt.Println()
	fmt.Print(client.Statistics().String())
	return err
}

// startSession brings the device online. show receives every result.
func startSession(ctx context.Context, client *ssp.Client, show func(*ssp.Result)) error {
	steps := []struct {
		command string
		args    ssp.Args
	}{
		{ssp.CmdSync, nil},
		{ssp.CmdHostProtocolVersion, ssp.Args{"version": pollProtocol}},
		{ssp.CmdSetupRequest, nil},
	}
	for _, step := range steps {
		result, err := client.Command(ctx, step.command, step.args)
		if result != nil {
			show(result)
		}
		if err != nil {
			return err
		}
	}

	if pollEncrypt {
		result, err := client.InitEncryption(ctx)
		if result != nil {
			show(result)
		}
		if err != nil {
			return err
		}
	}

	if len(pollInhibits) > 0 {
		result, err := client.Command(ctx, ssp.CmdSetChannelInhibits, ssp.Args{"channels": pollInhibits})
		if result != nil {
			show(result)
		}
		if err != nil {
			return err
		}
	}

	result, err := client.Enable(ctx)
	if result != nil {
		show(result)
	}
	return err
}

// stopSession disables the device with a fresh deadline so that it still
// runs after the caller's context is cancelled
func stopSession(client *ssp.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Disable(ctx); err != nil {
		log.WithError(err).Warn("disable failed")
	}
}

// printEvents prints poll events and errors until ctx is done or the
// subscription ends. Trace events go to capture when set.
func printEvents(ctx context.Context, events <-chan ssp.Event, capture *ssp.CaptureWriter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case ssp.EventStatus:
				fmt.Printf("[%s] %s\n", ev.Time.Format("15:04:05.000"), ssp.FormatPollEvent(*ev.Poll))
			case ssp.EventError:
				fmt.Printf("[%s] \033[1;31mPOLLING STOPPED:\033[0m %v\n", ev.Time.Format("15:04:05.000"), ev.Err)
			case ssp.EventTrace:
				if capture == nil {
					continue
				}
				if err := capture.WriteEvent(ev); err != nil {
					log.WithError(err).Error("capture write failed")
				}
			}
		}
	}
}

// runPollTUI runs the interactive session
func runPollTUI(ctx context.Context, client *ssp.Client, connInfo string, capture *ssp.CaptureWriter) error {
	m := initialPollModel(client, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	events, unsubscribe := client.Events().Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	// Batch sender, forwards events to the TUI at a fixed rate
	g.Go(func() error {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		var batch eventBatchMsg
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if ev.Kind == ssp.EventTrace {
					if capture != nil {
						if err := capture.WriteEvent(ev); err != nil {
							log.WithError(err).Error("capture write failed")
						}
					}
					continue
				}
				batch.events = append(batch.events, ev)
			case <-ticker.C:
				if len(batch.events) > 0 {
					p.Send(batch)
					batch = eventBatchMsg{}
				}
			}
		}
	})

	g.Go(func() error {
		defer close(done)
		go func() {
			err := startSession(gctx, client, func(r *ssp.Result) {
				p.Send(commandDoneMsg{name: r.Command, result: r})
			})
			if err != nil {
				p.Send(commandDoneMsg{name: "start-up", err: err})
			}
		}()

		_, err := p.Run()
		stopSession(client)
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	})

	return g.Wait()
}
