// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// Decode converts a plaintext reply payload into a Result. A payload that
// is shorter than its layout requires yields a failed Result with Err
// wrapping ErrMalformedPayload.
func (DefaultCodec) Decode(payload []byte, command string, protocolVersion int, unitType string) *Result {
	result := &Result{
		Command: command,
		Status:  StatusNameUndefined,
		Info:    Info{},
	}
	if len(payload) == 0 {
		result.Err = oops.In("codec").With("command", command).Wrapf(ErrMalformedPayload, "empty reply")
		return result
	}

	result.Status = StatusName(payload[0])
	result.Success = payload[0] == StatusOK

	r := &reader{data: payload[1:]}
	if result.Success {
		decodeSuccess(result, r, command, protocolVersion, unitType)
	} else if result.Status == StatusNameCommandCannotBeProcessed {
		decodeCannotProcess(result, r, command)
	}

	if r.err != nil {
		result.Success = false
		result.Err = oops.In("codec").
			With("command", command).
			With("payload", fmt.Sprintf("% X", payload)).
			Wrapf(ErrMalformedPayload, "%v", r.err)
	}
	return result
}

func decodeSuccess(result *Result, r *reader, command string, protocolVersion int, unitType string) {
	info := result.Info

	switch command {
	case CmdRequestKeyExchange:
		info["key"] = r.bytes(0, 8)

	case CmdSetupRequest:
		decodeSetup(info, r)

	case CmdGetSerialNumber:
		info["serial_number"] = r.u32be(0)

	case CmdUnitData:
		info["unit_type"] = UnitTypeName(r.u8(0))
		info["firmware_version"] = r.firmware(1)
		info["country_code"] = r.str(5, 3)
		info["value_multiplier"] = r.u24be(8)
		info["protocol_version"] = int(r.u8(11))

	case CmdChannelValueRequest:
		count := int(r.u8(0))
		channels := make([]int, count)
		for i := range channels {
			channels[i] = int(r.u8(1 + i))
		}
		info["channel"] = channels
		if protocolVersion >= 6 {
			codes := make([]string, count)
			values := make([]uint32, count)
			for i := 0; i < count; i++ {
				codes[i] = r.str(count+1+i*3, 3)
				values[i] = r.u32(count + 1 + count*3 + i*4)
			}
			info["country_code"] = codes
			info["value"] = values
		}

	case CmdChannelSecurityData:
		levels := []string{"not_implemented", "low", "std", "high", "inhibited"}
		channels := map[int]string{}
		for i := 1; i <= int(r.u8(0)); i++ {
			level := int(r.u8(i))
			if level < len(levels) {
				channels[i] = levels[level]
			} else {
				channels[i] = StatusNameUndefined
			}
		}
		info["channel"] = channels

	case CmdChannelReTeachData:
		info["source"] = r.rest(0)

	case CmdLastRejectCode:
		code := r.u8(0)
		reason := LookupRejectReason(code)
		info["code"] = int(code)
		info["name"] = reason.Name
		info["description"] = reason.Description

	case CmdGetFirmwareVersion, CmdGetDatasetVersion:
		info["version"] = string(r.rest(0))

	case CmdGetAllLevels:
		counters := map[int]Info{}
		for i := 0; i < int(r.u8(0)); i++ {
			off := 1 + i*9
			counters[i+1] = Info{
				"denomination_level": int(r.i16(off)),
				"value":              int(r.i32(off + 2)),
				"country_code":       r.str(off+6, 3),
			}
		}
		info["counter"] = counters

	case CmdGetBarCodeReaderConfig:
		hardware := map[byte]string{0: "none", 1: "Top reader fitted", 2: "Bottom reader fitted", 3: "both fitted"}
		readers := map[byte]string{0: "none", 1: "top", 2: "bottom", 3: "both"}
		formats := map[byte]string{1: "Interleaved 2 of 5"}
		info["bar_code_hardware_status"] = hardware[r.u8(0)]
		info["readers_enabled"] = readers[r.u8(1)]
		info["bar_code_format"] = formats[r.u8(2)]
		info["number_of_characters"] = int(r.u8(3))

	case CmdGetBarCodeInhibitStatus:
		status := r.u8(0)
		info["currency_read_enable"] = status&0x01 == 0
		info["bar_code_enable"] = status&0x02 == 0

	case CmdGetBarCodeData:
		states := map[byte]string{0: "no_valid_data", 1: "ticket_in_escrow", 2: "ticket_stacked", 3: "ticket_rejected"}
		info["status"] = states[r.u8(0)]
		info["data"] = r.str(2, int(r.u8(1)))

	case CmdGetDenominationLevel:
		info["level"] = int(r.i16(0))

	case CmdGetDenominationRoute:
		routes := map[byte]string{
			0: "Recycled and used for payouts",
			1: "Detected denomination is routed to system cashbox",
		}
		code := r.u8(0)
		info["code"] = int(code)
		info["value"] = routes[code]

	case CmdGetMinimumPayout:
		info["value"] = int(r.i32(0))

	case CmdGetNotePositions:
		count := int(r.u8(0))
		slots := map[int]Info{}
		if r.len()-1 == count {
			for i := 0; i < count; i++ {
				slots[i+1] = Info{"channel": int(r.u8(1 + i))}
			}
		} else {
			for i := 0; i < count; i++ {
				slots[i+1] = Info{"value": r.u32(1 + i*4)}
			}
		}
		info["slot"] = slots

	case CmdGetBuildRevision:
		devices := map[int]Info{}
		for i := 0; i < r.len()/3; i++ {
			devices[i] = Info{
				"unit_type": UnitTypeName(r.u8(i * 3)),
				"revision":  int(r.i16(i*3 + 1)),
			}
		}
		info["device"] = devices

	case CmdGetCounters:
		info["stacked"] = int(r.i32(1))
		info["stored"] = int(r.i32(5))
		info["dispensed"] = int(r.i32(9))
		info["transferred_from_store_to_stacker"] = int(r.i32(13))
		info["rejected"] = int(r.i32(17))

	case CmdGetHopperOptions:
		options := r.u16(0)
		info["payMode"] = options&0x01 != 0
		info["levelCheck"] = options&0x02 != 0
		info["motorSpeed"] = options&0x04 != 0
		info["cashBoxPayActive"] = options&0x08 != 0

	case CmdPoll, CmdPollWithAck:
		result.Events = decodeEvents(r, protocolVersion, unitType)

	case CmdCashboxPayoutOperationData:
		var entries []Info
		for i := 0; i < int(r.u8(0)); i++ {
			off := 1 + i*9
			entries = append(entries, Info{
				"quantity":     int(r.i16(off)),
				"value":        int(r.i32(off + 2)),
				"country_code": r.str(off+6, 3),
			})
		}
		info["data"] = entries

	case CmdSetRefillMode:
		if r.len() == 1 {
			info["enabled"] = r.u8(0) == 0x01
		}
	}
}

// decodeSetup handles both the validator and the SMART Hopper layouts of
// the SETUP_REQUEST reply
func decodeSetup(info Info, r *reader) {
	unitCode := r.u8(0)
	info["unit_type"] = UnitTypeName(unitCode)
	info["firmware_version"] = r.firmware(1)
	info["country_code"] = r.str(5, 3)

	if unitCode == 0x03 {
		protocol := int(r.u8(8))
		n := int(r.u8(9))
		values := make([]int, n)
		for i := range values {
			values[i] = int(r.u16(10 + i*2))
		}
		info["protocol_version"] = protocol
		info["number_of_coin_values"] = n
		info["coin_values"] = values
		if protocol >= 6 {
			codes := make([]string, n)
			for i := range codes {
				codes[i] = r.str(10+n*2+i*3, 3)
			}
			info["country_codes_for_values"] = codes
		}
		return
	}

	n := int(r.u8(11))
	multiplier := r.u24be(8)
	values := make([]int, n)
	security := make([]int, n)
	for i := 0; i < n; i++ {
		values[i] = int(r.u8(12+i)) * int(multiplier)
		security[i] = int(r.u8(12 + n + i))
	}
	protocol := int(r.u8(15 + n*2))

	info["number_of_channels"] = n
	info["value_multiplier"] = multiplier
	info["channel_value"] = values
	info["channel_security"] = security
	info["real_value_multiplier"] = r.u24be(12 + n*2)
	info["protocol_version"] = protocol

	if protocol >= 6 {
		codes := make([]string, n)
		expanded := make([]uint32, n)
		for i := 0; i < n; i++ {
			codes[i] = r.str(16+n*2+i*3, 3)
			expanded[i] = r.u32(16 + n*5 + i*4)
		}
		info["expanded_channel_country_code"] = codes
		info["expanded_channel_value"] = expanded
	}
}

// decodeEvents walks a POLL reply. Each event consumes a code-specific
// number of bytes; unknown codes consume one.
func decodeEvents(r *reader, protocolVersion int, unitType string) []PollEvent {
	events := []PollEvent{}
	smartDevice := unitType == UnitSmartHopper || unitType == UnitSmartPayout

	for k := 0; k < r.len() && r.err == nil; {
		code := r.u8(k)
		status, ok := LookupStatus(code)
		if !ok || IsReplyStatus(code) {
			k++
			continue
		}

		ev := PollEvent{Code: code, Name: status.Name, Description: status.Description, Info: Info{}}

		switch ev.Name {
		case "READ_NOTE", "CREDIT_NOTE", "NOTE_CLEARED_FROM_FRONT", "NOTE_CLEARED_TO_CASHBOX":
			ev.Info["channel"] = int(r.u8(k + 1))
			k += 2

		case "FRAUD_ATTEMPT":
			switch {
			case protocolVersion >= 6 && smartDevice:
				n := int(r.u8(k + 1))
				ev.Info["value"] = r.countryValues(k+2, n)
				k += 2 + n*7
			case smartDevice:
				ev.Info["value"] = r.u32(k + 1)
				k += 5
			default:
				ev.Info["channel"] = int(r.u8(k + 1))
				k += 2
			}

		case "DISPENSING", "DISPENSED", "JAMMED", "HALTED", "FLOATING", "FLOATED", "TIME_OUT",
			"CASHBOX_PAID", "COIN_CREDIT", "SMART_EMPTYING", "SMART_EMPTIED":
			if protocolVersion >= 6 {
				n := int(r.u8(k + 1))
				ev.Info["value"] = r.countryValues(k+2, n)
				k += 2 + n*7
			} else {
				ev.Info["value"] = int(r.i32(k + 1))
				k += 5
			}

		case "INCOMPLETE_PAYOUT", "INCOMPLETE_FLOAT":
			if protocolVersion >= 6 {
				n := int(r.u8(k + 1))
				values := make([]Info, n)
				for i := range values {
					off := k + 2 + i*11
					values[i] = Info{
						"actual":       r.u32(off),
						"requested":    r.u32(off + 4),
						"country_code": r.str(off+8, 3),
					}
				}
				ev.Info["value"] = values
				k += 2 + n*11
			} else {
				ev.Info["actual"] = int(r.i32(k + 1))
				ev.Info["requested"] = int(r.i32(k + 5))
				k += 9
			}

		case "ERROR_DURING_PAYOUT":
			reasons := map[byte]string{
				0x00: "Note not being correctly detected as it is routed",
				0x01: "Note jammed in transport",
			}
			if protocolVersion >= 7 {
				n := int(r.u8(k + 1))
				ev.Info["value"] = r.countryValues(k+2, n)
				ev.Info["error"] = reasons[r.u8(k+2+n*7)]
				k += 3 + n*7
			} else {
				ev.Info["error"] = reasons[r.u8(k+1)]
				k += 2
			}

		case "NOTE_TRANSFERED_TO_STACKER", "NOTE_DISPENSED_AT_POWER-UP":
			if protocolVersion >= 6 {
				ev.Info["value"] = Info{"value": r.u32(k + 1), "country_code": r.str(k+5, 3)}
				k += 8
			} else {
				k++
			}

		case "NOTE_HELD_IN_BEZEL", "NOTE_PAID_INTO_STACKER_AT_POWER-UP", "NOTE_PAID_INTO_STORE_AT_POWER-UP":
			if protocolVersion >= 8 {
				ev.Info["value"] = Info{"value": r.u32(k + 1), "country_code": r.str(k+5, 3)}
				k += 8
			} else {
				k++
			}

		default:
			k++
		}

		events = append(events, ev)
	}
	return events
}

// decodeCannotProcess decodes the error detail byte that follows a
// COMMAND_CANNOT_BE_PROCESSED status for commands that define one
func decodeCannotProcess(result *Result, r *reader, command string) {
	var reasons map[byte]string
	switch command {
	case CmdEnablePayoutDevice:
		reasons = map[byte]string{
			1: "No device connected",
			2: "Invalid currency detected",
			3: "Device busy",
			4: "Empty only (Note float only)",
			5: "Device error",
		}
	case CmdPayoutByDenomination, CmdFloatAmount, CmdPayoutAmount, CmdFloatByDenomination:
		reasons = map[byte]string{
			0: "Not enough value in device",
			1: "Cannot pay exact amount",
			3: "Device busy",
			4: "Device disabled",
		}
	case CmdSetValueReportingType, CmdGetDenominationRoute, CmdSetDenominationRoute:
		reasons = map[byte]string{
			1: "No payout connected",
			2: "Invalid currency detected",
			3: "Payout device error",
		}
	case CmdStackNote, CmdPayoutNote:
		reasons = map[byte]string{
			1: "Note float unit not connected",
			2: "Note float empty",
			3: "Note float busy",
			4: "Note float disabled",
		}
	case CmdGetNotePositions:
		reasons = map[byte]string{2: "Invalid currency"}
	default:
		return
	}

	if r.len() == 0 {
		return
	}
	code := r.u8(0)
	result.Info["errorCode"] = int(code)
	if reason, ok := reasons[code]; ok {
		result.Info["error"] = reason
	} else if command != CmdGetNotePositions {
		result.Info["error"] = "Unknown error"
	}
}

// reader performs bounds-checked reads over a reply payload. The first out
// of range access is recorded and every later read returns zero values.
type reader struct {
	data []byte
	err  error
}

func (r *reader) len() int {
	return len(r.data)
}

func (r *reader) bytes(off, n int) []byte {
	if r.err != nil {
		return nil
	}
	if off < 0 || n < 0 || off+n > len(r.data) {
		r.err = fmt.Errorf("read of %d bytes at offset %d exceeds payload of %d bytes", n, off, len(r.data))
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[off:off+n])
	return out
}

func (r *reader) rest(off int) []byte {
	if off >= len(r.data) {
		return []byte{}
	}
	return r.bytes(off, len(r.data)-off)
}

func (r *reader) u8(off int) byte {
	b := r.bytes(off, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16(off int) uint16 {
	b := r.bytes(off, 2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) i16(off int) int16 {
	return int16(r.u16(off))
}

func (r *reader) u32(off int) uint32 {
	b := r.bytes(off, 4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) i32(off int) int32 {
	return int32(r.u32(off))
}

func (r *reader) u24be(off int) uint32 {
	b := r.bytes(off, 3)
	if b == nil {
		return 0
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func (r *reader) u32be(off int) uint32 {
	b := r.bytes(off, 4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) str(off, n int) string {
	return string(r.bytes(off, n))
}

// firmware formats the 4 ASCII digit firmware field as "major.minor"
func (r *reader) firmware(off int) string {
	raw := strings.TrimSpace(r.str(off, 4))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return raw
	}
	return fmt.Sprintf("%.2f", float64(n)/100)
}

// countryValues reads n (value uint32, country code) pairs
func (r *reader) countryValues(off, n int) []Info {
	values := make([]Info, n)
	for i := range values {
		values[i] = Info{
			"value":        r.u32(off + i*7),
			"country_code": r.str(off+4+i*7, 3),
		}
	}
	return values
}
