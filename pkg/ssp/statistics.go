// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks received frame counts and error rates. It is safe for
// concurrent use.
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets     uint64
	ValidPackets     uint64
	EncryptedPackets uint64
	CRCErrors        uint64
	DecodeErrors     uint64
	MalformedPackets uint64
	UnknownCodes     uint64
	LengthMismatches uint64
	AnomalousValues  uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a packet and its errors
func (s *Statistics) Update(packet *Packet, decodeErr error, validationErrors []ValidationError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalPackets++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrCrcMismatch) {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if packet != nil && packet.Encrypted() {
		s.EncryptedPackets++
	}

	if len(validationErrors) == 0 {
		s.ValidPackets++
		return
	}
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyUnknownCode:
			s.UnknownCodes++
			s.MalformedPackets++
		case AnomalyLengthMismatch, AnomalyCipherAlignment:
			s.LengthMismatches++
			s.MalformedPackets++
		default:
			s.AnomalousValues++
		}
	}
}

// calculateRates must be called with mu held
func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		errorCount := s.CRCErrors + s.DecodeErrors + s.MalformedPackets + s.AnomalousValues
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() *Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return &Statistics{
		StartTime:        s.StartTime,
		LastUpdateTime:   s.LastUpdateTime,
		TotalPackets:     s.TotalPackets,
		ValidPackets:     s.ValidPackets,
		EncryptedPackets: s.EncryptedPackets,
		CRCErrors:        s.CRCErrors,
		DecodeErrors:     s.DecodeErrors,
		MalformedPackets: s.MalformedPackets,
		UnknownCodes:     s.UnknownCodes,
		LengthMismatches: s.LengthMismatches,
		AnomalousValues:  s.AnomalousValues,
		PacketRate:       s.PacketRate,
		ErrorRate:        s.ErrorRate,
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()

	var validPercent, crcErrorPercent, decodeErrorPercent, malformedPercent, anomalousPercent float64
	if snap.TotalPackets > 0 {
		total := float64(snap.TotalPackets)
		validPercent = float64(snap.ValidPackets) * 100.0 / total
		crcErrorPercent = float64(snap.CRCErrors) * 100.0 / total
		decodeErrorPercent = float64(snap.DecodeErrors) * 100.0 / total
		malformedPercent = float64(snap.MalformedPackets) * 100.0 / total
		anomalousPercent = float64(snap.AnomalousValues) * 100.0 / total
	}

	elapsed := time.Since(snap.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", snap.TotalPackets)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", snap.ValidPackets, validPercent)
	if snap.EncryptedPackets > 0 {
		result += fmt.Sprintf("Encrypted:       %8d\n", snap.EncryptedPackets)
	}
	if snap.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", snap.CRCErrors, crcErrorPercent)
	}
	if snap.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", snap.DecodeErrors, decodeErrorPercent)
	}
	if snap.MalformedPackets > 0 {
		result += fmt.Sprintf("Malformed Pkts:  %8d (%.1f%%)\n", snap.MalformedPackets, malformedPercent)
		if snap.UnknownCodes > 0 {
			result += fmt.Sprintf("  Unknown Codes:    %5d\n", snap.UnknownCodes)
		}
		if snap.LengthMismatches > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", snap.LengthMismatches)
		}
	}
	if snap.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalies:       %8d (%.1f%%)\n", snap.AnomalousValues, anomalousPercent)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", snap.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", snap.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalPackets = 0
	s.ValidPackets = 0
	s.EncryptedPackets = 0
	s.CRCErrors = 0
	s.DecodeErrors = 0
	s.MalformedPackets = 0
	s.UnknownCodes = 0
	s.LengthMismatches = 0
	s.AnomalousValues = 0
	s.PacketRate = 0
	s.ErrorRate = 0
}
