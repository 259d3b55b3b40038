// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ssp implements the host side of the SSP serial master/slave
// protocol used by cash-handling peripherals (note validators, hoppers and
// coin mechanisms).
//
// The package is layered leaf-first: a byte-stuffing Decoder recovers raw
// frames from a serial byte stream, the packet codec validates CRC16 and
// wraps payloads in AES-128 encrypted sub-packets, the key exchange derives
// a session key, and Client drives request/response sequencing, retries and
// the polling loop.
package ssp

import "time"

// Framing bytes
const (
	STX  = 0x7F // Start of frame, doubled when it occurs inside a frame
	STEX = 0x7E // Start of encrypted sub-packet inside DATA
)

// Frame layout
const (
	frameOverhead   = 5   // STX + SEQ_ID + LENGTH + CRC_L + CRC_H
	MaxDataSize     = 255 // LENGTH is a single byte
	MinFrameSize    = frameOverhead
	MaxFrameSize    = MaxDataSize + frameOverhead
	AddressMask     = 0x7F
	SequenceMask    = 0x80
	SequenceHigh    = 0x80
	SequenceLow     = 0x00
	SequenceInitial = SequenceHigh
)

// CRC parameters
const (
	crcPolynomial = 0x8005
	crcInitial    = 0xFFFF
)

// Encryption parameters
const (
	BlockSize = 16 // AES block size
	KeySize   = 16 // AES-128

	// Encrypted sub-packet overhead: LEN + COUNT(4) + CRC(2)
	subPacketOverhead = 7

	// DefaultFixedKey is the factory fixed key, hex encoded, before byte
	// reversal.
	DefaultFixedKey = "0123456701234567"

	// DefaultKeyBits bounds generated primes so every key-exchange value
	// fits the 8-byte wire field.
	DefaultKeyBits = 32
	MaxKeyBits     = 63
	minKeyBits     = 8
)

// Session timing
const (
	MaxAttempts         = 20
	DefaultTimeout      = 3000 * time.Millisecond
	DefaultPollInterval = 200 * time.Millisecond
	DefaultEventBuffer  = 64
)

// Serial line defaults
const (
	DefaultBaudRate = 9600
	DefaultDataBits = 8
	DefaultStopBits = 2
)

// Reply status codes
const (
	StatusOK                       = 0xF0
	StatusCommandNotKnown          = 0xF2
	StatusWrongParameters          = 0xF3
	StatusParameterOutOfRange      = 0xF4
	StatusCommandCannotBeProcessed = 0xF5
	StatusSoftwareError            = 0xF6
	StatusFail                     = 0xF8
	StatusKeyNotSet                = 0xFA
)
