// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	scanFrom uint8
	scanTo   uint8
	scanWait time.Duration
)

var scanCmd = &cobra.Command{
	Use:     "scan",
	Aliases: []string{"discovery"},
	Short:   "Find SSP devices on the bus",
	Long: `Send SYNC to every address in a range and list the devices that answer.

SSP has no broadcast, so each address is tried in turn with a single SYNC.
A device that answers OK is then asked for SETUP_REQUEST to learn its unit
type and firmware. Nothing else is sent and the device is left disabled.

Common addresses:
  0x00  Note validator
  0x10  SMART Hopper
  0x18  SMART Payout

Examples:
  # Scan the whole bus
  sspctl scan --port /dev/ttyUSB0

  # Check the first 32 addresses with a longer wait
  sspctl scan --port /dev/ttyUSB0 --to 31 --wait 500ms

Exit codes:
  0 - At least one device found
  1 - No device answered
  2 - Connection error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Uint8Var(&scanFrom, "from", 0, "First address to try")
	scanCmd.Flags().Uint8Var(&scanTo, "to", ssp.AddressMask, "Last address to try")
	scanCmd.Flags().DurationVar(&scanWait, "wait", 250*time.Millisecond, "How long to wait for each reply")
}

// scanResult is one device that answered SYNC
type scanResult struct {
	address  byte
	unitType string
	firmware string
	country  string
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanTo > ssp.AddressMask || scanFrom > scanTo {
		return fmt.Errorf("invalid address range 0x%02X-0x%02X", scanFrom, scanTo)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("sspctl - Bus Scan\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Addresses: 0x%02X-0x%02X, %s per address\n\n", scanFrom, scanTo, scanWait)

	packets := make(chan *ssp.Packet, 16)
	errChan := make(chan error, 1)
	go func() {
		errChan <- readFrames(conn, func(frame []byte) {
			if packet, err := ssp.ParsePacket(frame); err == nil {
				packets <- packet
			}
		})
	}()

	sc := &scanner{conn: conn, packets: packets, errs: errChan, wait: scanWait}
	// Space requests so a slow device is not flooded
	limiter := rate.NewLimiter(rate.Every(20*time.Millisecond), 1)

	devices := make([]scanResult, 0)
	for addr := int(scanFrom); addr <= int(scanTo); addr++ {
		if err := limiter.Wait(cmd.Context()); err != nil {
			return err
		}

		found, err := sc.probe(byte(addr))
		if err != nil {
			fmt.Printf("\nREAD FAILED: %v\n", err)
			os.Exit(2)
		}
		if found == nil {
			continue
		}

		devices = append(devices, *found)
		fmt.Printf("Device found:\n")
		fmt.Printf("  Address: 0x%02X\n", found.address)
		fmt.Printf("  Unit type: %s\n", orDash(found.unitType))
		fmt.Printf("  Firmware: %s\n", orDash(found.firmware))
		fmt.Printf("  Country: %s\n", orDash(found.country))
	}

	// Summary
	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Devices found: %d\n", len(devices))

	if len(devices) == 0 {
		fmt.Printf("No devices answered. Check wiring, baud rate and device power.\n")
		os.Exit(1)
	}
	return nil
}

// scanner sends raw frames outside a session. Each address starts with
// the sequence bit set, as SYNC requires.
type scanner struct {
	conn    Connection
	packets <-chan *ssp.Packet
	errs    <-chan error
	wait    time.Duration
}

// probe returns the device at addr, or nil when nothing answered
func (s *scanner) probe(addr byte) (*scanResult, error) {
	reply, err := s.exchange(addr, ssp.CmdSync, ssp.SequenceInitial)
	if err != nil || reply == nil {
		return nil, err
	}
	if reply.Code() != ssp.StatusOK {
		log.WithField("address", addr).WithField("status", ssp.StatusName(reply.Code())).Debug("SYNC rejected")
		return nil, nil
	}

	found := &scanResult{address: addr}
	// SYNC leaves the device expecting the next sequence bit
	reply, err = s.exchange(addr, ssp.CmdSetupRequest, ssp.SequenceInitial^ssp.SequenceMask)
	if err != nil || reply == nil {
		return found, err
	}

	result := ssp.DefaultCodec{}.Decode(reply.Data(), ssp.CmdSetupRequest, 0, "")
	if result.Success {
		found.unitType, _ = result.Info.String("unit_type")
		found.firmware, _ = result.Info.String("firmware_version")
		found.country, _ = result.Info.String("country_code")
	}
	return found, nil
}

// exchange sends one command and waits for a reply from addr
func (s *scanner) exchange(addr byte, command string, sequence byte) (*ssp.Packet, error) {
	desc, _ := ssp.LookupCommand(command)
	seqID := ssp.SeqID(addr, sequence)
	frame, err := ssp.BuildFrame(desc, nil, seqID, nil)
	if err != nil {
		return nil, err
	}

	// Discard late replies to the previous address
	for len(s.packets) > 0 {
		<-s.packets
	}

	if _, err := s.conn.Write(frame); err != nil {
		return nil, err
	}
	if err := s.conn.Drain(); err != nil {
		log.WithError(err).Debug("drain failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.wait)
	defer cancel()
	for {
		select {
		case packet := <-s.packets:
			if packet.SeqID() == seqID && !packet.Encrypted() {
				return packet, nil
			}
		case err := <-s.errs:
			return nil, err
		case <-ctx.Done():
			return nil, nil
		}
	}
}
