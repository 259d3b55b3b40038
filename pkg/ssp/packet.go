// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"fmt"
	"time"

	"github.com/samber/oops"
)

// Packet represents a CRC-validated SSP frame
type Packet struct {
	seqID     byte
	length    uint8
	data      []byte // DATA field, still encrypted when it starts with STEX
	crc       uint16
	timestamp time.Time
}

// ParsePacket validates a raw (un-stuffed) frame as produced by Decoder
func ParsePacket(raw []byte) (*Packet, error) {
	return ParsePacketAt(raw, time.Now())
}

// ParsePacketAt is ParsePacket for a frame seen at t, such as one read
// back from a capture file
func ParsePacketAt(raw []byte, t time.Time) (*Packet, error) {
	if len(raw) < MinFrameSize || raw[0] != STX {
		return nil, oops.In("codec").
			With("length", len(raw)).
			Wrapf(ErrMalformedFrame, "frame must start with STX and hold at least %d bytes", MinFrameSize)
	}
	length := raw[2]
	if len(raw) != int(length)+frameOverhead {
		return nil, oops.In("codec").
			With("declared", length).
			With("length", len(raw)).
			Wrapf(ErrMalformedFrame, "frame length %d does not match LENGTH %d", len(raw), length)
	}

	body := raw[1 : len(raw)-2]
	received := uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
	calculated := CalculateCRC(body)
	if received != calculated {
		return nil, oops.In("codec").
			With("expected", fmt.Sprintf("0x%04X", calculated)).
			With("received", fmt.Sprintf("0x%04X", received)).
			Wrapf(ErrCrcMismatch, "expected 0x%04X, got 0x%04X", calculated, received)
	}

	data := make([]byte, length)
	copy(data, raw[3:3+int(length)])

	return &Packet{
		seqID:     raw[1],
		length:    length,
		data:      data,
		crc:       received,
		timestamp: t,
	}, nil
}

// SeqID returns the combined address and sequence byte
func (p *Packet) SeqID() byte {
	return p.seqID
}

// Address returns the device address (low 7 bits of SEQ_ID)
func (p *Packet) Address() byte {
	return p.seqID & AddressMask
}

// Sequence returns the sequence bit (0x80 or 0x00)
func (p *Packet) Sequence() byte {
	return p.seqID & SequenceMask
}

// Length returns the DATA length
func (p *Packet) Length() uint8 {
	return p.length
}

// Data returns the DATA field
func (p *Packet) Data() []byte {
	return p.data
}

// CRC returns the frame CRC
func (p *Packet) CRC() uint16 {
	return p.crc
}

// Timestamp returns when the packet was parsed
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// Encrypted reports whether DATA carries an encrypted sub-packet
func (p *Packet) Encrypted() bool {
	return len(p.data) > 0 && p.data[0] == STEX
}

// Code returns the first DATA byte: a command code on requests, a status
// code on replies
func (p *Packet) Code() byte {
	if len(p.data) == 0 {
		return 0
	}
	return p.data[0]
}

// ExtractPayload validates a raw reply frame and returns its plaintext
// payload. Encrypted payloads are decrypted with key and must carry
// counter+1; the returned counter is the value the session should keep.
// On any failure the counter is returned unchanged.
func ExtractPayload(raw []byte, counter uint32, key []byte) ([]byte, uint32, error) {
	packet, err := ParsePacket(raw)
	if err != nil {
		return nil, counter, err
	}
	if !packet.Encrypted() || key == nil {
		return packet.data, counter, nil
	}

	payload, err := openSubPacket(key, counter+1, packet.data[1:])
	if err != nil {
		return nil, counter, err
	}
	return payload, counter + 1, nil
}
