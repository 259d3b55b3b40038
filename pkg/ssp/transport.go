// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import "io"

// Port is the byte transport a Client talks over. go.bug.st/serial ports
// satisfy it directly.
type Port interface {
	io.Reader
	io.Writer
	io.Closer

	// Drain blocks until written bytes have been transmitted
	Drain() error
}
