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
)

var (
	probeTimeout  int
	probeEncrypt  bool
	probeProtocol int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Identify the SSP device at an address",
	Long: `Synchronise with an SSP device and read its identity.

Sends, in order:
  SYNC                   reset the sequence bit
  HOST_PROTOCOL_VERSION  announce the protocol level (--protocol)
  SETUP_REQUEST          unit type, firmware, currency and channels
  GET_SERIAL_NUMBER      device serial number

With --encrypt the key exchange is run afterwards and a POLL is sent
encrypted to prove the session key.

Examples:
  # Validator on the default address
  sspctl probe --port /dev/ttyUSB0

  # SMART Hopper (address 16) with encryption
  sspctl probe --port /dev/ttyUSB0 --address 16 --encrypt

Exit codes:
  0 - Device identified
  1 - Device did not answer or rejected a command
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "deadline", 30, "Overall deadline in seconds")
	probeCmd.Flags().BoolVar(&probeEncrypt, "encrypt", false, "Negotiate an encryption key")
	probeCmd.Flags().IntVar(&probeProtocol, "protocol", 6, "Host protocol version to announce")
}

func runProbe(cmd *cobra.Command, args []string) error {
	client, connInfo, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer client.Close()

	cfg := client.Config()
	fmt.Printf("sspctl - Device Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Address: 0x%02X\n", cfg.Address)
	fmt.Printf("Deadline: %d seconds\n\n", probeTimeout)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	steps := []struct {
		command string
		args    ssp.Args
	}{
		{ssp.CmdSync, nil},
		{ssp.CmdHostProtocolVersion, ssp.Args{"version": probeProtocol}},
		{ssp.CmdSetupRequest, nil},
		{ssp.CmdGetSerialNumber, nil},
	}

	for _, step := range steps {
		fmt.Printf("Sending %s...\n", step.command)
		result, err := client.Command(ctx, step.command, step.args)
		if result != nil {
			fmt.Print(ssp.FormatResult(result))
		}
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			os.Exit(1)
		}
	}

	if probeEncrypt {
		fmt.Printf("\nNegotiating encryption key (%d bit primes)...\n", cfg.KeyBits)
		if _, err := client.InitEncryption(ctx); err != nil {
			fmt.Printf("KEY EXCHANGE FAILED: %v\n", err)
			os.Exit(1)
		}
		result, err := client.Command(ctx, ssp.CmdPoll, nil)
		if err != nil {
			fmt.Printf("ENCRYPTED POLL FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(ssp.FormatResult(result))
		fmt.Printf("Encryption active, counter=%d\n", client.State().Counter)
	}

	state := client.State()
	stats := client.Statistics()
	fmt.Printf("\n--- Probe summary ---\n")
	fmt.Printf("Unit type: %s\n", state.UnitType)
	fmt.Printf("Protocol version: %d\n", state.ProtocolVersion)
	fmt.Printf("Frames received: %d (%d valid)\n", stats.TotalPackets, stats.ValidPackets)

	return nil
}
