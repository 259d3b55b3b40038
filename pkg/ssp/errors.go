// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"errors"
	"fmt"
)

// Protocol error taxonomy. Errors returned by this package wrap one of
// these sentinels, match them with errors.Is.
var (
	ErrArgsMissing           = errors.New("command requires arguments")
	ErrEncryptionRequired    = errors.New("command requires an encrypted session")
	ErrUnknownCommand        = errors.New("unknown command")
	ErrAlreadyProcessing     = errors.New("another command is in flight")
	ErrCrcMismatch           = errors.New("CRC mismatch")
	ErrReplayCounterMismatch = errors.New("encryption counter mismatch")
	ErrSequenceMismatch      = errors.New("sequence mismatch")
	ErrKeyExchangeFailed     = errors.New("key exchange failed")
	ErrKeyGenerationFailed   = errors.New("key generation failed")
	ErrTimeout               = errors.New("timed out waiting for reply")
	ErrTransport             = errors.New("transport error")
	ErrMaxRetriesExceeded    = errors.New("maximum attempts exceeded")
	ErrMalformedFrame        = errors.New("malformed frame")
	ErrMalformedPayload      = errors.New("malformed payload")
	ErrCommandRejected       = errors.New("command rejected by device")
	ErrClosed                = errors.New("client closed")
)

// CommandError is returned by Client for every failed command
type CommandError struct {
	Command  string
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *CommandError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %v (after %d attempts)", e.Command, e.Err, e.Attempts)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

// Unwrap returns the underlying cause
func (e *CommandError) Unwrap() error {
	return e.Err
}

func commandError(command string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	var ce *CommandError
	if errors.As(err, &ce) && ce.Command == command {
		return err
	}
	return &CommandError{Command: command, Attempts: attempts, Err: err}
}
