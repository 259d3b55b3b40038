// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"io"

	"github.com/samber/oops"
)

// Encryption carries the session key and the counter value to stamp on an
// outbound encrypted packet
type Encryption struct {
	Key     []byte
	Counter uint32
	Random  io.Reader // Padding source, crypto/rand when nil
}

// stuffBytes doubles every STX in data
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)+4)
	for _, b := range data {
		result = append(result, b)
		if b == STX {
			result = append(result, STX)
		}
	}
	return result
}

// unstuffFrame collapses doubled STX bytes after the leading STX of a
// wire frame, giving the form ParsePacket accepts
func unstuffFrame(wire []byte) []byte {
	if len(wire) == 0 {
		return nil
	}
	result := make([]byte, 1, len(wire))
	result[0] = wire[0]
	for i := 1; i < len(wire); i++ {
		result = append(result, wire[i])
		if wire[i] == STX && i+1 < len(wire) && wire[i+1] == STX {
			i++
		}
	}
	return result
}

// EncodeFrame builds a complete wire frame for seqID and data. When enc is
// non-nil data is wrapped in an encrypted sub-packet first.
func EncodeFrame(seqID byte, data []byte, enc *Encryption) ([]byte, error) {
	if enc != nil {
		sealed, err := sealSubPacket(enc.Key, enc.Counter, data, enc.Random)
		if err != nil {
			return nil, err
		}
		data = sealed
	}
	if len(data) > MaxDataSize {
		return nil, oops.In("codec").
			With("length", len(data)).
			Wrapf(ErrMalformedFrame, "data exceeds %d bytes", MaxDataSize)
	}

	body := make([]byte, 0, len(data)+4)
	body = append(body, seqID, byte(len(data)))
	body = append(body, data...)
	body = appendCRC(body, body)

	return append([]byte{STX}, stuffBytes(body)...), nil
}

// BuildFrame validates a command against its descriptor and builds the
// frame [STX, seqID, LEN, code ++ args, CRC]
func BuildFrame(desc Descriptor, args []byte, seqID byte, enc *Encryption) ([]byte, error) {
	if desc.RequiresArgs && len(args) == 0 {
		return nil, oops.In("codec").With("command", desc.Name).Wrapf(ErrArgsMissing, "%s", desc.Name)
	}
	if desc.RequiresEncryption && enc == nil {
		return nil, oops.In("codec").With("command", desc.Name).Wrapf(ErrEncryptionRequired, "%s", desc.Name)
	}

	data := make([]byte, 0, len(args)+1)
	data = append(data, desc.Code)
	data = append(data, args...)
	return EncodeFrame(seqID, data, enc)
}

// SeqID combines a device address with a sequence bit
func SeqID(address, sequence byte) byte {
	return (address & AddressMask) | (sequence & SequenceMask)
}
