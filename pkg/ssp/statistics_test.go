// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unstuffed encodes data and returns the frame as the decoder emits it
func unstuffed(t *testing.T, seqID byte, data []byte, enc *Encryption) []byte {
	t.Helper()
	wire, err := EncodeFrame(seqID, data, enc)
	require.NoError(t, err)
	frames := NewDecoder().Decode(wire)
	require.Len(t, frames, 1)
	return frames[0]
}

func mustPacket(t *testing.T, seqID byte, data []byte) *Packet {
	t.Helper()
	p, err := ParsePacket(unstuffed(t, seqID, data, nil))
	require.NoError(t, err)
	return p
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidatePacket(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		types []AnomalyType
	}{
		{"plain command", []byte{0x01}, nil},
		{"command with args", []byte{0x02, 0xFF, 0xFF}, nil},
		{"reply status", []byte{StatusOK, 0xEF, 0x01}, nil},
		{"empty data", nil, []AnomalyType{AnomalyLengthMismatch}},
		{"missing args", []byte{0x02}, []AnomalyType{AnomalyMissingArgs}},
		{"plaintext payout", []byte{0x33, 0x64, 0, 0, 0}, []AnomalyType{AnomalyPlaintextSensitive}},
		{"unknown code", []byte{0x99}, []AnomalyType{AnomalyUnknownCode}},
		{"poll event code as reply", []byte{0xEF}, []AnomalyType{AnomalyUnknownCode}},
		{"misaligned cipher", []byte{STEX, 1, 2, 3}, []AnomalyType{AnomalyCipherAlignment}},
		{"bare STEX", []byte{STEX}, []AnomalyType{AnomalyCipherAlignment}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidatePacket(mustPacket(t, 0x80, tt.data))
			var types []AnomalyType
			for _, e := range errs {
				types = append(types, e.Type)
				assert.NotEmpty(t, e.Error())
			}
			assert.Equal(t, tt.types, types)
		})
	}
}

func TestValidatePacket_AlignedCipher(t *testing.T) {
	p, err := ParsePacket(unstuffed(t, 0x80, []byte{0x07}, &Encryption{Key: testKey(), Counter: 3}))
	require.NoError(t, err)
	assert.Empty(t, ValidatePacket(p))
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	ok := mustPacket(t, 0x80, []byte{StatusOK})
	s.Update(ok, nil, ValidatePacket(ok))

	unknown := mustPacket(t, 0x00, []byte{0x99})
	s.Update(unknown, nil, ValidatePacket(unknown))

	sensitive := mustPacket(t, 0x00, []byte{0x33, 1, 0, 0, 0})
	s.Update(sensitive, nil, ValidatePacket(sensitive))

	frame := unstuffed(t, 0x80, []byte{StatusOK}, nil)
	frame[len(frame)-1] ^= 0x01
	_, crcErr := ParsePacket(frame)
	require.Error(t, crcErr)
	s.Update(nil, crcErr, nil)

	_, shortErr := ParsePacket([]byte{STX, 0x80})
	require.Error(t, shortErr)
	s.Update(nil, shortErr, nil)

	encrypted, err := ParsePacket(unstuffed(t, 0x80, []byte{StatusOK}, &Encryption{Key: testKey(), Counter: 1}))
	require.NoError(t, err)
	s.Update(encrypted, nil, ValidatePacket(encrypted))

	snap := s.Snapshot()
	assert.Equal(t, uint64(6), snap.TotalPackets)
	assert.Equal(t, uint64(2), snap.ValidPackets)
	assert.Equal(t, uint64(1), snap.EncryptedPackets)
	assert.Equal(t, uint64(1), snap.CRCErrors)
	assert.Equal(t, uint64(1), snap.DecodeErrors)
	assert.Equal(t, uint64(1), snap.UnknownCodes)
	assert.Equal(t, uint64(1), snap.MalformedPackets)
	assert.Equal(t, uint64(1), snap.AnomalousValues)

	summary := s.String()
	assert.Contains(t, summary, "Total Packets:          6")
	assert.Contains(t, summary, "CRC Errors:")
	assert.Contains(t, summary, "Unknown Codes:")
	assert.Contains(t, summary, "Encrypted:")
}

func TestStatistics_Reset(t *testing.T) {
	s := NewStatistics()
	p := mustPacket(t, 0x80, []byte{StatusOK})
	s.Update(p, nil, nil)
	s.Reset()

	snap := s.Snapshot()
	assert.Zero(t, snap.TotalPackets)
	assert.Zero(t, snap.ValidPackets)
	assert.NotContains(t, s.String(), "CRC Errors:")
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatCode(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte{0x11}, "SYNC (0x11)"},
		{[]byte{StatusOK}, "OK (0xF0)"},
		{[]byte{0x99}, "UNKNOWN (0x99)"},
		{[]byte{STEX, 0x00}, "ENCRYPTED (0x7E)"},
		{nil, "EMPTY"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCode(mustPacket(t, 0x80, tt.data)))
	}
}

func TestFormatPacket(t *testing.T) {
	out := FormatPacket(mustPacket(t, 0x80, []byte{0x02, 0xFF, 0x00}))
	assert.Contains(t, out, "SET_CHANNEL_INHIBITS (0x02) addr=0x00 seq=1 len=3")
	assert.Contains(t, out, "Args: FF 00")

	out = FormatPacket(mustPacket(t, 0x05, []byte{StatusOK, 0xEF, 0x01}))
	assert.Contains(t, out, "addr=0x05 seq=0")
	assert.Contains(t, out, "Data: EF 01")
}

func TestFormatResult(t *testing.T) {
	r := &Result{
		Command: CmdPoll,
		Status:  StatusNameOK,
		Info:    Info{"b": 2, "a": 1},
		Events: []PollEvent{
			{Name: EventDisabled, Info: Info{}},
			{Name: EventReadNote, Info: Info{"channel": 3}},
		},
	}
	out := FormatResult(r)
	assert.Equal(t, "POLL: OK\n  a: 1\n  b: 2\n  DISABLED\n  READ_NOTE channel=3\n", out)
}
