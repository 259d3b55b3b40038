// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

var rawLogCapture string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw packet log in human-readable format",
	Long: `Continuously decode and display SSP frames as they cross the line.

Each frame is shown with timestamp, command or status name, address,
sequence bit and arguments. Encrypted frames are shown as ciphertext.
Nothing is transmitted, so raw_log can sit beside a running host.

With --capture every frame is also appended to a CBOR capture file that
the replay command can read back.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogCapture, "capture", "", "Append frames to a capture file")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var capture *ssp.CaptureWriter
	if rawLogCapture != "" {
		f, err := os.OpenFile(rawLogCapture, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return oops.In("capture").With("file", rawLogCapture).Wrapf(err, "opening capture file")
		}
		defer f.Close()
		capture = ssp.NewCaptureWriter(f)
	}

	fmt.Printf("sspctl - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := ssp.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		for _, frame := range decoder.Decode(buf[:n]) {
			logFrame(frame, capture)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("connection closed")
				return nil
			}
			log.WithError(err).Warn("read error")
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func logFrame(frame []byte, capture *ssp.CaptureWriter) {
	if capture != nil {
		rec := ssp.CaptureRecord{Time: time.Now().UnixNano(), Direction: ssp.DirectionRx, Frame: frame}
		if err := capture.Write(rec); err != nil {
			log.WithError(err).Error("capture write failed")
		}
	}

	packet, err := ssp.ParsePacket(frame)
	if err != nil {
		fmt.Printf("[ERROR] %v\n  Frame: %s\n", err, ssp.FormatHex(frame))
		return
	}
	fmt.Print(ssp.FormatPacket(packet))
}
