// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// ArgCodec converts structured command arguments to wire bytes and reply
// payloads to structured results
type ArgCodec interface {
	Encode(command string, args Args, protocolVersion int) ([]byte, error)
	Decode(payload []byte, command string, protocolVersion int, unitType string) *Result
}

// Result is the structured outcome of one command
type Result struct {
	Success bool
	Status  string
	Command string
	Info    Info
	Events  []PollEvent // POLL and POLL_WITH_ACK only
	Err     error
}

// PollEvent is one event decoded from a POLL reply
type PollEvent struct {
	Code        byte
	Name        string
	Description string
	Info        Info
}

// DefaultCodec implements ArgCodec for the built-in command table
type DefaultCodec struct{}

// Encode converts args for command into its argument bytes. Commands
// without an encoding, or a nil args, produce an empty slice.
func (DefaultCodec) Encode(command string, args Args, protocolVersion int) ([]byte, error) {
	if args == nil {
		return []byte{}, nil
	}
	a := argReader{command: command, args: args}
	var out []byte

	switch command {
	case CmdSetGenerator, CmdSetModulus, CmdRequestKeyExchange:
		out = Int64LE(a.uint("key"))

	case CmdSetDenominationRoute:
		route := byte(1)
		if r, _ := args.String("route"); r == "payout" {
			route = 0
		}
		out = []byte{route}
		value := a.int("value")
		switch {
		case protocolVersion >= 6:
			out = appendInt32(out, value)
			out = append(out, a.country("country_code")...)
		case args.Bool("isHopper"):
			out = appendInt16(out, value)
		default:
			out = appendInt32(out, value)
		}

	case CmdGetDenominationRoute:
		value := a.int("value")
		switch {
		case protocolVersion >= 6:
			out = appendInt32(nil, value)
			out = append(out, a.country("country_code")...)
		case args.Bool("isHopper"):
			out = appendInt16(nil, value)
		default:
			out = appendInt32(nil, value)
		}

	case CmdSetChannelInhibits:
		channels, ok := args.Ints("channels")
		if !ok {
			a.fail("channels", "expected a list of channel numbers")
			break
		}
		var mask uint16
		for _, ch := range channels {
			if ch < 1 || ch > 16 {
				a.fail("channels", "channel out of range 1-16")
				break
			}
			mask |= 1 << (ch - 1)
		}
		out = binary.LittleEndian.AppendUint16(nil, mask)

	case CmdSetCoinMechGlobalInhibit:
		out = []byte{boolByte(args.Bool("enable"))}

	case CmdSetHopperOptions:
		var options int64
		if args.Bool("payMode") {
			options |= 0x01
		}
		if args.Bool("levelCheck") {
			options |= 0x02
		}
		if args.Bool("motorSpeed") {
			options |= 0x04
		}
		if args.Bool("cashBoxPayActive") {
			options |= 0x08
		}
		out = appendInt16(nil, options)

	case CmdSetDenominationLevel:
		out = appendInt16(nil, a.int("value"))
		if protocolVersion >= 6 {
			out = appendInt32(out, a.int("denomination"))
			out = append(out, a.country("country_code")...)
		} else {
			out = appendInt16(out, a.int("denomination"))
		}

	case CmdSetRefillMode:
		mode, _ := args.String("mode")
		switch mode {
		case "on":
			out = []byte{0x05, 0x81, 0x10, 0x11, 0x01}
		case "off":
			out = []byte{0x05, 0x81, 0x10, 0x11, 0x00}
		case "get":
			out = []byte{0x05, 0x81, 0x10, 0x01}
		default:
			a.fail("mode", "expected on, off or get")
		}

	case CmdHostProtocolVersion:
		out = []byte{byte(a.uint("version"))}

	case CmdSetBarCodeConfiguration:
		readers := map[string]byte{"none": 0, "top": 1, "bottom": 2, "both": 3}
		enable, ok := args.String("enable")
		if !ok {
			enable = "none"
		}
		sel, known := readers[enable]
		if !known {
			a.fail("enable", "expected none, top, bottom or both")
		}
		numChar, ok := args.Int("numChar")
		if !ok {
			numChar = 6
		}
		numChar = min(max(numChar, 6), 24)
		out = []byte{sel, 0x01, byte(numChar)}

	case CmdSetBarCodeInhibitStatus:
		status := byte(0xFF)
		if !args.Bool("currencyRead") {
			status &= 0xFE
		}
		if !args.Bool("barCode") {
			status &= 0xFD
		}
		out = []byte{status}

	case CmdPayoutAmount:
		out = appendInt32(nil, a.int("amount"))
		if protocolVersion >= 6 {
			out = append(out, a.country("country_code")...)
			out = append(out, testByte(args))
		}

	case CmdGetDenominationLevel:
		out = appendInt32(nil, a.int("amount"))
		if protocolVersion >= 6 {
			out = append(out, a.country("country_code")...)
		}

	case CmdFloatAmount:
		out = appendInt16(nil, a.int("min_possible_payout"))
		out = appendInt32(out, a.int("amount"))
		if protocolVersion >= 6 {
			out = append(out, a.country("country_code")...)
			out = append(out, testByte(args))
		}

	case CmdSetCoinMechInhibits:
		inhibit := byte(0x01)
		if args.Bool("inhibited") {
			inhibit = 0x00
		}
		out = appendInt16([]byte{inhibit}, a.int("amount"))
		if protocolVersion >= 6 {
			out = append(out, a.country("country_code")...)
		}

	case CmdFloatByDenomination, CmdPayoutByDenomination:
		values, ok := args.Denominations("value")
		if !ok || len(values) == 0 {
			a.fail("value", "expected number:denomination:CCY entries")
			break
		}
		out = []byte{byte(len(values))}
		for _, v := range values {
			out = appendInt16(out, int64(v.Number))
			out = appendInt32(out, int64(v.Denomination))
			out = append(out, a.countryCode("value", v.CountryCode)...)
		}
		out = append(out, testByte(args))

	case CmdSetValueReportingType:
		by, _ := args.String("reportBy")
		out = []byte{boolByte(by == "channel")}

	case CmdSetBaudRate:
		rates := map[int64]byte{9600: 0, 38400: 1, 115200: 2}
		code, ok := rates[a.int("baudrate")]
		if !ok {
			a.fail("baudrate", "expected 9600, 38400 or 115200")
		}
		out = []byte{code, boolByte(!args.Bool("reset_to_default_on_reset"))}

	case CmdConfigureBezel:
		rgb := a.hex("RGB", 3)
		out = append(rgb, boolByte(!args.Bool("volatile")))

	case CmdEnablePayoutDevice:
		var flags byte
		if args.Bool("GIVE_VALUE_ON_STORED") || args.Bool("REQUIRE_FULL_STARTUP") {
			flags |= 0x01
		}
		if args.Bool("NO_HOLD_NOTE_ON_PAYOUT") || args.Bool("OPTIMISE_FOR_PAYIN_SPEED") {
			flags |= 0x02
		}
		out = []byte{flags}

	case CmdSetFixedEncryptionKey:
		out = reverseBytes(a.hex("fixedKey", 8))

	case CmdCoinMechOptions:
		out = []byte{boolByte(args.Bool("ccTalk"))}

	default:
		out = []byte{}
	}

	if a.err != nil {
		return nil, a.err
	}
	return out, nil
}

// argReader extracts typed arguments and keeps the first failure
type argReader struct {
	command string
	args    Args
	err     error
}

func (a *argReader) fail(key, reason string) {
	if a.err == nil {
		a.err = &ArgumentError{Command: a.command, Key: key, Reason: reason}
	}
}

func (a *argReader) int(key string) int64 {
	v, ok := a.args.Int(key)
	if !ok {
		a.fail(key, "expected an integer")
	}
	return v
}

func (a *argReader) uint(key string) uint64 {
	v, ok := a.args.Uint(key)
	if !ok {
		a.fail(key, "expected a non-negative integer")
	}
	return v
}

func (a *argReader) country(key string) []byte {
	s, _ := a.args.String(key)
	return a.countryCode(key, s)
}

func (a *argReader) countryCode(key, s string) []byte {
	if len(s) != 3 {
		a.fail(key, "expected a 3 letter country code")
		return []byte("   ")
	}
	return []byte(strings.ToUpper(s))
}

func (a *argReader) hex(key string, size int) []byte {
	s, _ := a.args.String(key)
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != size {
		a.fail(key, "expected hex string")
		return make([]byte, size)
	}
	return b
}

func appendInt16(b []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint16(b, uint16(int16(v)))
}

func appendInt32(b []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(int32(v)))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// testByte selects the test (0x19) or real (0x58) payout option
func testByte(args Args) byte {
	if args.Bool("test") {
		return 0x19
	}
	return 0x58
}
