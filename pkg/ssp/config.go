// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"time"

	"github.com/samber/oops"
)

// Config controls a Client session
type Config struct {
	Address      byte          `mapstructure:"address" yaml:"address"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	EncryptAll   bool          `mapstructure:"encrypt_all" yaml:"encrypt_all"`
	FixedKey     string        `mapstructure:"fixed_key" yaml:"fixed_key"`
	KeyBits      int           `mapstructure:"key_bits" yaml:"key_bits"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PollWithAck  bool          `mapstructure:"poll_with_ack" yaml:"poll_with_ack"`
	EventBuffer  int           `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// DefaultConfig returns the protocol defaults
func DefaultConfig() Config {
	return Config{
		Address:      0,
		Timeout:      DefaultTimeout,
		MaxAttempts:  MaxAttempts,
		EncryptAll:   true,
		FixedKey:     DefaultFixedKey,
		KeyBits:      DefaultKeyBits,
		PollInterval: DefaultPollInterval,
		EventBuffer:  DefaultEventBuffer,
	}
}

// Validate checks the configuration for values the protocol cannot carry
func (c Config) Validate() error {
	errb := oops.In("config")
	if c.Address > AddressMask {
		return errb.With("address", c.Address).Errorf("address 0x%02X exceeds 0x7F", c.Address)
	}
	if c.Timeout <= 0 {
		return errb.With("timeout", c.Timeout).Errorf("timeout must be positive")
	}
	if c.MaxAttempts < 1 {
		return errb.With("max_attempts", c.MaxAttempts).Errorf("at least one attempt is required")
	}
	if c.KeyBits != 0 && (c.KeyBits < minKeyBits || c.KeyBits > MaxKeyBits) {
		return errb.With("key_bits", c.KeyBits).Errorf("key bits must be between %d and %d", minKeyBits, MaxKeyBits)
	}
	if c.PollInterval < 0 {
		return errb.With("poll_interval", c.PollInterval).Errorf("poll interval cannot be negative")
	}
	if _, err := ParseFixedKey(c.FixedKey); err != nil {
		return err
	}
	return nil
}

// withDefaults fills zero values from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.FixedKey == "" {
		c.FixedKey = d.FixedKey
	}
	if c.KeyBits == 0 {
		c.KeyBits = d.KeyBits
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}
