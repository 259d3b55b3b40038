// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math/big"

	"github.com/samber/oops"
)

// KeyMaterial holds one side of a Diffie-Hellman style key exchange
type KeyMaterial struct {
	Generator  *big.Int
	Modulus    *big.Int
	HostRandom *big.Int
	HostInter  *big.Int
	PeerInter  *big.Int
	SharedKey  *big.Int
}

// GenerateHostKeys draws two random primes of the given bit size, orders
// them so the generator is the larger, and computes the host intermediate
// key generator^hostRandom mod modulus.
func GenerateHostKeys(bits int) (*KeyMaterial, error) {
	return generateHostKeys(rand.Reader, bits)
}

func generateHostKeys(random io.Reader, bits int) (*KeyMaterial, error) {
	bits = clampKeyBits(bits)

	generator, err := rand.Prime(random, bits)
	if err != nil {
		return nil, oops.In("keys").Wrapf(ErrKeyGenerationFailed, "generator: %v", err)
	}
	modulus, err := rand.Prime(random, bits)
	if err != nil {
		return nil, oops.In("keys").Wrapf(ErrKeyGenerationFailed, "modulus: %v", err)
	}
	if generator.Sign() == 0 || modulus.Sign() == 0 {
		return nil, oops.In("keys").Wrapf(ErrKeyGenerationFailed, "zero prime")
	}
	if generator.Cmp(modulus) < 0 {
		generator, modulus = modulus, generator
	}

	// Exponent in [1, 2^bits)
	limit := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	limit.Sub(limit, big.NewInt(1))
	hostRandom, err := rand.Int(random, limit)
	if err != nil {
		return nil, oops.In("keys").Wrapf(ErrKeyGenerationFailed, "host random: %v", err)
	}
	hostRandom.Add(hostRandom, big.NewInt(1))

	return &KeyMaterial{
		Generator:  generator,
		Modulus:    modulus,
		HostRandom: hostRandom,
		HostInter:  new(big.Int).Exp(generator, hostRandom, modulus),
	}, nil
}

func clampKeyBits(bits int) int {
	switch {
	case bits <= 0:
		return DefaultKeyBits
	case bits < minKeyBits:
		return minKeyBits
	case bits > MaxKeyBits:
		return MaxKeyBits
	}
	return bits
}

// DeriveSharedKey computes the shared key from the peer's intermediate key
// (int64 little-endian wire bytes) and returns the AES key:
// reverse(fixedKey) ++ littleEndian64(sharedKey).
func DeriveSharedKey(peerInter []byte, hostRandom, modulus *big.Int, fixedKey []byte) ([]byte, *big.Int, error) {
	if len(peerInter) < 8 {
		return nil, nil, oops.In("keys").
			With("length", len(peerInter)).
			Wrapf(ErrKeyExchangeFailed, "peer intermediate key must be 8 bytes")
	}
	if len(fixedKey) != 8 {
		return nil, nil, oops.In("keys").
			With("length", len(fixedKey)).
			Wrapf(ErrKeyExchangeFailed, "fixed key must be 8 bytes")
	}
	if hostRandom == nil || modulus == nil || modulus.Sign() == 0 {
		return nil, nil, oops.In("keys").Wrapf(ErrKeyExchangeFailed, "host key material not generated")
	}

	peer := new(big.Int).SetUint64(binary.LittleEndian.Uint64(peerInter[:8]))
	shared := new(big.Int).Exp(peer, hostRandom, modulus)

	key := make([]byte, 0, KeySize)
	key = append(key, reverseBytes(fixedKey)...)
	key = binary.LittleEndian.AppendUint64(key, shared.Uint64())
	return key, shared, nil
}

// ParseFixedKey decodes a 16 hex digit fixed key
func ParseFixedKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, oops.In("keys").Wrapf(err, "fixed key %q is not hex", s)
	}
	if len(key) != 8 {
		return nil, oops.In("keys").Errorf("fixed key must be 8 bytes, got %d", len(key))
	}
	return key, nil
}

// Int64LE encodes v as an 8-byte little-endian key-exchange value
func Int64LE(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
