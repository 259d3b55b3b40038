// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

// CalculateCRC computes the CRC-16 (poly 0x8005, seed 0xFFFF, MSB first)
// used by both the outer frame and the encrypted sub-packet
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRCBytes returns the CRC of data in wire order (low byte first)
func CRCBytes(data []byte) [2]byte {
	crc := CalculateCRC(data)
	return [2]byte{byte(crc), byte(crc >> 8)}
}

func appendCRC(dst, data []byte) []byte {
	crc := CRCBytes(data)
	return append(dst, crc[0], crc[1])
}
