// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	"github.com/spf13/cobra"
)

var (
	packetTestTimeout int
	packetTestSync    bool
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid SSP frame",
	Long: `Wait for a valid SSP frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any frame
that passes the CRC check. Bytes outside a frame are ignored.

On a quiet line nothing arrives until a host talks, so --sync sends a single
SYNC to the configured address first and waits for the reply.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	packetTestCmd.Flags().BoolVar(&packetTestSync, "sync", false, "Send SYNC before listening")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	cfg, err := sessionConfig()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("sspctl - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)

	if packetTestSync {
		desc, _ := ssp.LookupCommand(ssp.CmdSync)
		frame, err := ssp.BuildFrame(desc, nil, ssp.SeqID(cfg.Address, ssp.SequenceInitial), nil)
		if err != nil {
			return err
		}
		fmt.Printf("Sending SYNC: %s\n", ssp.FormatHex(frame))
		if _, err := conn.Write(frame); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
	}
	fmt.Printf("Waiting for valid SSP frame...\n\n")

	decoder := ssp.NewDecoder()
	buf := make([]byte, 128)

	packetChan := make(chan *ssp.Packet, 1)
	errChan := make(chan error, 1)

	go func() {
		rejected := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for _, frame := range decoder.Decode(buf[:n]) {
				packet, parseErr := ssp.ParsePacket(frame)
				if parseErr != nil {
					rejected++
					continue
				}
				if rejected > 0 {
					fmt.Printf("(skipped %d invalid frames before sync)\n", rejected)
				}
				packetChan <- packet
				return
			}
		}
	}()

	select {
	case packet := <-packetChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Code: %s\n", ssp.FormatCode(packet))
		fmt.Printf("  Address: 0x%02X\n", packet.Address())
		fmt.Printf("  Sequence: %d\n", packet.Sequence()>>7)
		fmt.Printf("  Length: %d bytes\n", packet.Length())
		fmt.Printf("  CRC: 0x%04X\n", packet.CRC())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
