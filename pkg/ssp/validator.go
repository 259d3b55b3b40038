// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import "fmt"

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyUnknownCode AnomalyType = iota
	AnomalyLengthMismatch
	AnomalyCipherAlignment
	AnomalyMissingArgs
	AnomalyPlaintextSensitive
	AnomalyCRCError
	AnomalyDecodeError
)

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket checks a CRC-valid packet for protocol anomalies.
// Returns a slice of validation errors (empty if packet is valid).
func ValidatePacket(p *Packet) []ValidationError {
	errors := []ValidationError{}

	if p.length == 0 {
		return append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: "Empty DATA field",
			Details: map[string]interface{}{"seq_id": p.seqID},
		})
	}

	if p.Encrypted() {
		// STEX + whole AES blocks
		if (len(p.data)-1)%BlockSize != 0 || len(p.data) == 1 {
			errors = append(errors, ValidationError{
				Type:    AnomalyCipherAlignment,
				Message: fmt.Sprintf("Encrypted DATA of %d bytes is not STEX plus whole blocks", len(p.data)),
				Details: map[string]interface{}{"length": len(p.data)},
			})
		}
		return errors
	}

	code := p.data[0]
	if desc, ok := LookupCommandCode(code); ok {
		if desc.RequiresArgs && len(p.data) == 1 {
			errors = append(errors, ValidationError{
				Type:    AnomalyMissingArgs,
				Message: fmt.Sprintf("%s sent without arguments", desc.Name),
				Details: map[string]interface{}{"command": desc.Name},
			})
		}
		if desc.RequiresEncryption {
			errors = append(errors, ValidationError{
				Type:    AnomalyPlaintextSensitive,
				Message: fmt.Sprintf("%s sent without encryption", desc.Name),
				Details: map[string]interface{}{"command": desc.Name},
			})
		}
		return errors
	}

	if _, ok := LookupStatus(code); !ok || !IsReplyStatus(code) {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownCode,
			Message: fmt.Sprintf("Unknown command or status code 0x%02X", code),
			Details: map[string]interface{}{"code": code},
		})
	}

	return errors
}
