// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	"github.com/spf13/cobra"
)

var (
	sendArgs    []string
	sendEncrypt bool
	sendSync    bool
	sendList    bool
)

var sendCmd = &cobra.Command{
	Use:   "send COMMAND",
	Short: "Send one SSP command and print the decoded reply",
	Long: `Send a single SSP command to the configured address.

Arguments are given as key=value pairs. Numbers may be decimal or 0x hex,
true/false are booleans, and anything else is passed as a string. Values
with a leading zero such as fixed keys stay strings.

Commands that require encryption need --encrypt, which runs the key exchange
first. --sync sends SYNC before the command.

Examples:
  sspctl send --port /dev/ttyUSB0 --sync SETUP_REQUEST
  sspctl send --port /dev/ttyUSB0 SET_CHANNEL_INHIBITS --arg channels=1,2,3
  sspctl send --port /dev/ttyUSB0 --address 16 --encrypt PAYOUT_AMOUNT \
      --arg amount=500 --arg country_code=EUR
  sspctl send --list`,
	Args: func(cmd *cobra.Command, args []string) error {
		if sendList {
			return nil
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringArrayVar(&sendArgs, "arg", nil, "Command argument as key=value (repeatable)")
	sendCmd.Flags().BoolVar(&sendEncrypt, "encrypt", false, "Negotiate an encryption key before sending")
	sendCmd.Flags().BoolVar(&sendSync, "sync", false, "Send SYNC before the command")
	sendCmd.Flags().BoolVar(&sendList, "list", false, "List known commands and exit")
}

func runSend(cmd *cobra.Command, args []string) error {
	if sendList {
		printCommandList()
		return nil
	}

	name := strings.ToUpper(args[0])
	desc, ok := ssp.LookupCommand(name)
	if !ok {
		return fmt.Errorf("%w: %s (see send --list)", ssp.ErrUnknownCommand, name)
	}

	fields, err := ssp.ParseFields(sendArgs)
	if err != nil {
		return err
	}

	client, connInfo, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	log.WithField("conn", connInfo).WithField("command", desc.Name).Debug("sending")

	ctx := cmd.Context()
	if sendSync {
		if _, err := client.Command(ctx, ssp.CmdSync, nil); err != nil {
			return err
		}
	}
	if sendEncrypt || desc.RequiresEncryption {
		if !sendEncrypt {
			log.WithField("command", desc.Name).Info("command requires encryption, negotiating a key")
		}
		if _, err := client.InitEncryption(ctx); err != nil {
			return err
		}
	}

	return sendAndPrint(ctx, client, desc.Name, fields)
}

func sendAndPrint(ctx context.Context, client *ssp.Client, name string, args ssp.Args) error {
	result, err := client.Command(ctx, name, args)
	if result != nil {
		fmt.Print(ssp.FormatResult(result))
	}
	if errors.Is(err, ssp.ErrCommandRejected) {
		// Already shown in the result
		os.Exit(1)
	}
	return err
}

func printCommandList() {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMMAND\tCODE\tARGS\tENCRYPTED\tDESCRIPTION")
	for _, name := range ssp.CommandNames() {
		desc, _ := ssp.LookupCommand(name)
		fmt.Fprintf(w, "%s\t0x%02X\t%s\t%s\t%s\n",
			desc.Name, desc.Code, yesNo(desc.RequiresArgs), yesNo(desc.RequiresEncryption), desc.Description)
	}
	w.Flush()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "-"
}
