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
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:     "ping",
	Aliases: []string{"ws_ping"},
	Short:   "Measure round trip time to a device with SYNC",
	Long: `Send SYNC repeatedly and report the round trip time of each reply.

SYNC is harmless at any point in a session, which makes it a safe probe of
the link. Retries follow --timeout and --max-attempts, so a reply that
needed a resend shows up as a long round trip. Use --max-attempts 1 to see
raw losses instead.

Works over serial and over a WebSocket bridge.

Exit codes:
  0 - All pings answered
  1 - One or more pings failed
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 100*time.Millisecond, "Delay between pings")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	client, connInfo, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer client.Close()

	cfg := client.Config()
	fmt.Printf("sspctl - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Address: 0x%02X, timeout %s, %d attempts\n", cfg.Address, cfg.Timeout, cfg.MaxAttempts)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	ctx := cmd.Context()
	successCount := 0
	var total, best, worst time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		result, err := client.Command(ctx, ssp.CmdSync, nil)
		rtt := time.Since(start)

		switch {
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
		case !result.Success:
			fmt.Printf("REJECTED: %s\n", result.Status)
		default:
			fmt.Printf("%s from 0x%02X, rtt=%v\n", result.Status, cfg.Address, rtt.Round(time.Millisecond))
			successCount++
			total += rtt
			if best == 0 || rtt < best {
				best = rtt
			}
			if rtt > worst {
				worst = rtt
			}
		}

		// Small delay between pings
		if i < pingCount {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pingInterval):
			}
		}
	}

	// Summary
	failCount := pingCount - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		avg := total / time.Duration(successCount)
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			best.Round(time.Millisecond), avg.Round(time.Millisecond), worst.Round(time.Millisecond))
	}
	stats := client.Statistics()
	fmt.Printf("frames received %d, CRC errors %d\n", stats.TotalPackets, stats.CRCErrors)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
