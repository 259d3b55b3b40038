// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

var (
	replayStats  bool
	replayErrors bool
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode a capture file written by raw_log or poll",
	Long: `Read back a CBOR capture file and print every frame in order.

Each frame is shown with its direction, timestamp and decoded fields.
Replies are decoded against the last command seen for the same address,
so poll events and reply info are shown as they were on the line.

--errors prints only frames that fail the CRC check or validation and
--stats prints the statistics summary at the end.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayStats, "stats", false, "Print a statistics summary at the end")
	replayCmd.Flags().BoolVar(&replayErrors, "errors", false, "Only print frames with errors")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return oops.In("capture").With("file", args[0]).Wrapf(err, "opening capture file")
	}
	defer f.Close()

	stats, err := replayCapture(ssp.NewCaptureReader(f), os.Stdout, replayErrors)
	if replayStats {
		fmt.Println()
		fmt.Print(stats.String())
	}
	return err
}

// replayCapture prints every record from r to w and returns the statistics
// gathered on the way
func replayCapture(r *ssp.CaptureReader, w io.Writer, errorsOnly bool) (*ssp.Statistics, error) {
	analyzer := newLineAnalyzer()
	analyzer.synchronized = true // A capture holds whole frames only
	stats := ssp.NewStatistics()

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		msg, _ := analyzer.analyzeAt(rec.Frame, rec.Timestamp())
		stats.Update(msg.packet, msg.decodeErr, msg.validationErrors)

		stamp := rec.Timestamp().Format("15:04:05.000")
		switch {
		case msg.decodeErr != nil:
			fmt.Fprintf(w, "%s [%s] ERROR %v\n  Frame: %s\n", rec.Direction, stamp, msg.decodeErr, ssp.FormatHex(rec.Frame))
		case len(msg.validationErrors) > 0:
			fmt.Fprintf(w, "%s %s", rec.Direction, ssp.FormatPacket(msg.packet))
			for _, v := range msg.validationErrors {
				fmt.Fprintf(w, "  ! %s\n", v.Message)
			}
		case errorsOnly:
		default:
			fmt.Fprintf(w, "%s %s", rec.Direction, ssp.FormatPacket(msg.packet))
			if msg.reply != nil {
				fmt.Fprint(w, ssp.FormatInfo(msg.reply.Info, "  "))
				for _, ev := range msg.reply.Events {
					fmt.Fprintf(w, "  %s\n", ssp.FormatPollEvent(ev))
				}
			}
		}
	}
}
