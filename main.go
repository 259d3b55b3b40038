// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// sspctl - SSP Cash Peripheral Host and Analyzer
//
// A CLI tool for driving note validators, SMART Hoppers and SMART Payouts
// over the SSP serial protocol, and for decoding the traffic on the line
// in human-readable format.

package main

import (
	"os"

	"github.com/Thermoquad/sspctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
