// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/samber/oops"
)

// EncryptECB encrypts data with AES-128 in ECB mode without padding.
// len(data) must be a multiple of BlockSize.
func EncryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "invalid AES key")
	}
	if len(data)%BlockSize != 0 {
		return nil, oops.In("crypto").
			With("length", len(data)).
			Errorf("data length %d is not a multiple of %d", len(data), BlockSize)
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += BlockSize {
		block.Encrypt(out[i:i+BlockSize], data[i:i+BlockSize])
	}
	return out, nil
}

// DecryptECB decrypts data with AES-128 in ECB mode without padding
func DecryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "invalid AES key")
	}
	if len(data)%BlockSize != 0 {
		return nil, oops.In("crypto").
			With("length", len(data)).
			Wrapf(ErrMalformedFrame, "ciphertext not aligned to %d-byte blocks", BlockSize)
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += BlockSize {
		block.Decrypt(out[i:i+BlockSize], data[i:i+BlockSize])
	}
	return out, nil
}

// paddingFor returns the number of random bytes that align an inner
// sub-packet carrying n payload bytes to the AES block size
func paddingFor(n int) int {
	return (BlockSize - (n+subPacketOverhead)%BlockSize) % BlockSize
}

// sealSubPacket builds [STEX, AES(LEN, COUNT, DATA, PADDING, CRC)]
func sealSubPacket(key []byte, counter uint32, data []byte, random io.Reader) ([]byte, error) {
	if len(data) > MaxDataSize {
		return nil, oops.In("codec").
			With("length", len(data)).
			Wrapf(ErrMalformedFrame, "payload too large to encrypt")
	}
	if random == nil {
		random = rand.Reader
	}

	inner := make([]byte, 0, len(data)+subPacketOverhead+BlockSize)
	inner = append(inner, byte(len(data)))
	inner = binary.LittleEndian.AppendUint32(inner, counter)
	inner = append(inner, data...)

	padding := make([]byte, paddingFor(len(data)))
	if _, err := io.ReadFull(random, padding); err != nil {
		return nil, oops.In("crypto").Wrapf(err, "reading padding")
	}
	inner = append(inner, padding...)
	inner = appendCRC(inner, inner)

	cipherText, err := EncryptECB(key, inner)
	if err != nil {
		return nil, err
	}
	return append([]byte{STEX}, cipherText...), nil
}

// openSubPacket decrypts an encrypted sub-packet (without its STEX marker)
// and verifies its CRC and counter. It returns the payload truncated to the
// declared inner length.
func openSubPacket(key []byte, expected uint32, cipherText []byte) ([]byte, error) {
	plain, err := DecryptECB(key, cipherText)
	if err != nil {
		return nil, err
	}
	if len(plain) < subPacketOverhead {
		return nil, oops.In("codec").Wrapf(ErrMalformedFrame, "encrypted sub-packet too short")
	}

	body, crc := plain[:len(plain)-2], plain[len(plain)-2:]
	want := CRCBytes(body)
	if crc[0] != want[0] || crc[1] != want[1] {
		return nil, oops.In("codec").
			With("expected", fmt.Sprintf("%02X%02X", want[1], want[0])).
			With("received", fmt.Sprintf("%02X%02X", crc[1], crc[0])).
			Wrapf(ErrCrcMismatch, "encrypted sub-packet CRC")
	}

	length := int(body[0])
	count := binary.LittleEndian.Uint32(body[1:5])
	if count != expected {
		return nil, oops.In("codec").
			With("expected", expected).
			With("received", count).
			Wrapf(ErrReplayCounterMismatch, "unexpected encryption counter %d", count)
	}
	if 5+length > len(body) {
		return nil, oops.In("codec").
			With("length", length).
			Wrapf(ErrMalformedFrame, "inner length exceeds sub-packet")
	}

	payload := make([]byte, length)
	copy(payload, body[5:5+length])
	return payload, nil
}
