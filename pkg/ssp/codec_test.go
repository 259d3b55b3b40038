// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Command Table Tests
// ============================================================

func TestCommandTable_Unique(t *testing.T) {
	seen := map[byte]string{}
	for _, d := range commandTable {
		if other, ok := seen[d.Code]; ok {
			t.Errorf("code 0x%02X used by %s and %s", d.Code, other, d.Name)
		}
		seen[d.Code] = d.Name
		_, isStatus := LookupStatus(d.Code)
		assert.False(t, isStatus, "%s collides with a status code", d.Name)
	}
	assert.Len(t, CommandNames(), len(commandTable))
}

func TestLookupCommand(t *testing.T) {
	d, ok := LookupCommand("poll")
	require.True(t, ok)
	assert.Equal(t, byte(0x07), d.Code)

	d, ok = LookupCommand(CmdSetGenerator)
	require.True(t, ok)
	assert.Equal(t, byte(0x4A), d.Code)
	assert.True(t, d.RequiresArgs)

	_, ok = LookupCommand("NOT_A_COMMAND")
	assert.False(t, ok)
}

// ============================================================
// Encode Tests
// ============================================================

func TestDefaultCodec_Encode(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		args     Args
		version  int
		expected []byte
	}{
		{"key exchange value", CmdSetGenerator, Args{"key": uint64(23150)}, 0, []byte{0x6E, 0x5A, 0, 0, 0, 0, 0, 0}},
		{"channel inhibits", CmdSetChannelInhibits, Args{"channels": []int{1, 2, 16}}, 0, []byte{0x03, 0x80}},
		{"channel inhibits from string", CmdSetChannelInhibits, Args{"channels": "1,3"}, 0, []byte{0x05, 0x00}},
		{"payout v6", CmdPayoutAmount, Args{"amount": 500, "country_code": "EUR"}, 6, []byte{0xF4, 0x01, 0, 0, 'E', 'U', 'R', 0x58}},
		{"payout v6 test", CmdPayoutAmount, Args{"amount": 500, "country_code": "eur", "test": true}, 6, []byte{0xF4, 0x01, 0, 0, 'E', 'U', 'R', 0x19}},
		{"payout v5", CmdPayoutAmount, Args{"amount": 500}, 5, []byte{0xF4, 0x01, 0, 0}},
		{"hopper route", CmdSetDenominationRoute, Args{"route": "payout", "value": 100, "isHopper": true}, 5, []byte{0, 100, 0}},
		{"cashbox route v6", CmdSetDenominationRoute, Args{"route": "cashbox", "value": 100, "country_code": "GBP"}, 6, []byte{1, 100, 0, 0, 0, 'G', 'B', 'P'}},
		{"bar code config clamps", CmdSetBarCodeConfiguration, Args{"enable": "both", "numChar": 30}, 0, []byte{3, 1, 24}},
		{"bar code inhibit", CmdSetBarCodeInhibitStatus, Args{"barCode": true}, 0, []byte{0xFE}},
		{"protocol version", CmdHostProtocolVersion, Args{"version": 6}, 0, []byte{6}},
		{"fixed key reversed", CmdSetFixedEncryptionKey, Args{"fixedKey": "0123456701234567"}, 0, []byte{0x67, 0x45, 0x23, 0x01, 0x67, 0x45, 0x23, 0x01}},
		{"payout by denomination", CmdPayoutByDenomination, Args{"value": "2:500:EUR", "test": true}, 6, []byte{1, 2, 0, 0xF4, 0x01, 0, 0, 'E', 'U', 'R', 0x19}},
		{"baud rate", CmdSetBaudRate, Args{"baudrate": 38400, "reset_to_default_on_reset": true}, 0, []byte{1, 0}},
		{"bezel", CmdConfigureBezel, Args{"RGB": "FF0000"}, 0, []byte{0xFF, 0, 0, 1}},
		{"hopper options", CmdSetHopperOptions, Args{"payMode": true, "motorSpeed": true}, 0, []byte{0x05, 0x00}},
		{"refill get", CmdSetRefillMode, Args{"mode": "get"}, 0, []byte{0x05, 0x81, 0x10, 0x01}},
		{"enable payout device", CmdEnablePayoutDevice, Args{"REQUIRE_FULL_STARTUP": true, "OPTIMISE_FOR_PAYIN_SPEED": true}, 0, []byte{0x03}},
		{"denomination level v6", CmdSetDenominationLevel, Args{"value": 10, "denomination": 200, "country_code": "EUR"}, 6, []byte{10, 0, 200, 0, 0, 0, 'E', 'U', 'R'}},
		{"no encoding", CmdPoll, Args{"ignored": 1}, 0, []byte{}},
		{"nil args", CmdSetGenerator, nil, 0, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DefaultCodec{}.Encode(tt.command, tt.args, tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestDefaultCodec_EncodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    Args
		version int
	}{
		{"missing amount", CmdPayoutAmount, Args{}, 0},
		{"missing country code", CmdPayoutAmount, Args{"amount": 5}, 6},
		{"bad channel", CmdSetChannelInhibits, Args{"channels": []int{17}}, 0},
		{"bad baud rate", CmdSetBaudRate, Args{"baudrate": 1200}, 0},
		{"bad refill mode", CmdSetRefillMode, Args{"mode": "sideways"}, 0},
		{"bad fixed key", CmdSetFixedEncryptionKey, Args{"fixedKey": "01"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DefaultCodec{}.Encode(tt.command, tt.args, tt.version)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrArgsMissing)
			var argErr *ArgumentError
			assert.ErrorAs(t, err, &argErr)
			assert.Equal(t, tt.command, argErr.Command)
		})
	}
}

// ============================================================
// Decode Tests
// ============================================================

func TestDefaultCodec_DecodeStatus(t *testing.T) {
	r := DefaultCodec{}.Decode([]byte{0xF0}, CmdSync, 0, "")
	assert.True(t, r.Success)
	assert.Equal(t, "OK", r.Status)
	assert.Equal(t, CmdSync, r.Command)
	assert.NoError(t, r.Err)

	r = DefaultCodec{}.Decode([]byte{0xF2}, CmdSync, 0, "")
	assert.False(t, r.Success)
	assert.Equal(t, "COMMAND_NOT_KNOWN", r.Status)

	r = DefaultCodec{}.Decode([]byte{0x01}, CmdSync, 0, "")
	assert.Equal(t, StatusNameUndefined, r.Status)

	r = DefaultCodec{}.Decode(nil, CmdSync, 0, "")
	assert.ErrorIs(t, r.Err, ErrMalformedPayload)
}

func TestDefaultCodec_DecodeSerialNumber(t *testing.T) {
	r := DefaultCodec{}.Decode([]byte{0xF0, 0x00, 0x00, 0x30, 0x39}, CmdGetSerialNumber, 0, "")
	require.NoError(t, r.Err)
	serial, ok := r.Info.Uint("serial_number")
	require.True(t, ok)
	assert.Equal(t, uint64(12345), serial)
}

func TestDefaultCodec_DecodeTruncated(t *testing.T) {
	r := DefaultCodec{}.Decode([]byte{0xF0, 0x00}, CmdGetSerialNumber, 0, "")
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, ErrMalformedPayload)
}

func TestDefaultCodec_DecodeSetupValidator(t *testing.T) {
	payload := []byte{
		0xF0,
		0x00,               // unit type
		'0', '3', '4', '2', // firmware
		'E', 'U', 'R', // country
		0, 0, 1, // value multiplier
		2,     // channels
		5, 10, // values
		2, 2, // security
		0, 0, 100, // real value multiplier
		6,                            // protocol version
		'E', 'U', 'R', 'E', 'U', 'R', // expanded country codes
		0xF4, 0x01, 0, 0, 0xE8, 0x03, 0, 0, // expanded values
	}

	r := DefaultCodec{}.Decode(payload, CmdSetupRequest, 0, "")
	require.NoError(t, r.Err)
	assert.Equal(t, UnitBanknoteValidator, r.Info["unit_type"])
	assert.Equal(t, "3.42", r.Info["firmware_version"])
	assert.Equal(t, "EUR", r.Info["country_code"])
	assert.Equal(t, 2, r.Info["number_of_channels"])
	assert.Equal(t, []int{5, 10}, r.Info["channel_value"])
	assert.Equal(t, []int{2, 2}, r.Info["channel_security"])
	assert.Equal(t, uint32(100), r.Info["real_value_multiplier"])
	assert.Equal(t, 6, r.Info["protocol_version"])
	assert.Equal(t, []string{"EUR", "EUR"}, r.Info["expanded_channel_country_code"])
	assert.Equal(t, []uint32{500, 1000}, r.Info["expanded_channel_value"])
}

func TestDefaultCodec_DecodeSetupHopper(t *testing.T) {
	payload := []byte{
		0xF0,
		0x03,
		'0', '1', '0', '0',
		'G', 'B', 'P',
		5,          // protocol version
		2,          // coin values
		0x0A, 0x00, // 10
		0x14, 0x00, // 20
	}

	r := DefaultCodec{}.Decode(payload, CmdSetupRequest, 0, "")
	require.NoError(t, r.Err)
	assert.Equal(t, UnitSmartHopper, r.Info["unit_type"])
	assert.Equal(t, "1.00", r.Info["firmware_version"])
	assert.Equal(t, 5, r.Info["protocol_version"])
	assert.Equal(t, []int{10, 20}, r.Info["coin_values"])
	assert.NotContains(t, r.Info, "country_codes_for_values")
}

func TestDefaultCodec_DecodePollEvents(t *testing.T) {
	payload := []byte{
		0xF0,
		0xEF, 0x01, // READ_NOTE channel 1
		0xEE, 0x01, // CREDIT_NOTE channel 1
		0xE8,                         // DISABLED
		0xDA, 0xF4, 0x01, 0x00, 0x00, // DISPENSING 500
		0x42, // unknown, skipped
		0xF1, // SLAVE_RESET
	}

	r := DefaultCodec{}.Decode(payload, CmdPoll, 5, UnitSmartPayout)
	require.NoError(t, r.Err)
	require.Len(t, r.Events, 5)

	names := make([]string, len(r.Events))
	for i, ev := range r.Events {
		names[i] = ev.Name
	}
	assert.Equal(t, []string{"READ_NOTE", "CREDIT_NOTE", "DISABLED", "DISPENSING", "SLAVE_RESET"}, names)
	assert.Equal(t, 1, r.Events[0].Info["channel"])
	assert.Equal(t, 500, r.Events[3].Info["value"])
}

func TestDefaultCodec_DecodePollEventsV6(t *testing.T) {
	payload := []byte{
		0xF0,
		0xDA, 0x01, 0xF4, 0x01, 0x00, 0x00, 'E', 'U', 'R', // DISPENSING 500 EUR
		0xE6, 0x01, 0x0A, 0x00, 0x00, 0x00, 'E', 'U', 'R', // FRAUD_ATTEMPT smart device
		0xDC, 0x01, 0x0A, 0, 0, 0, 0x14, 0, 0, 0, 'E', 'U', 'R', // INCOMPLETE_PAYOUT
	}

	r := DefaultCodec{}.Decode(payload, CmdPoll, 6, UnitSmartHopper)
	require.NoError(t, r.Err)
	require.Len(t, r.Events, 3)

	assert.Equal(t, []Info{{"value": uint32(500), "country_code": "EUR"}}, r.Events[0].Info["value"])
	assert.Equal(t, []Info{{"value": uint32(10), "country_code": "EUR"}}, r.Events[1].Info["value"])
	assert.Equal(t, []Info{{"actual": uint32(10), "requested": uint32(20), "country_code": "EUR"}}, r.Events[2].Info["value"])
}

func TestDefaultCodec_DecodePollTruncated(t *testing.T) {
	r := DefaultCodec{}.Decode([]byte{0xF0, 0xEE}, CmdPoll, 0, "")
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, ErrMalformedPayload)
}

func TestDefaultCodec_DecodeCannotProcess(t *testing.T) {
	r := DefaultCodec{}.Decode([]byte{0xF5, 0x01}, CmdPayoutAmount, 6, "")
	assert.False(t, r.Success)
	assert.NoError(t, r.Err)
	assert.Equal(t, StatusNameCommandCannotBeProcessed, r.Status)
	assert.Equal(t, 1, r.Info["errorCode"])
	assert.Equal(t, "Cannot pay exact amount", r.Info["error"])

	r = DefaultCodec{}.Decode([]byte{0xF5, 0x09}, CmdEnablePayoutDevice, 6, "")
	assert.Equal(t, "Unknown error", r.Info["error"])
}

func TestDefaultCodec_DecodeMisc(t *testing.T) {
	r := DefaultCodec{}.Decode([]byte{0xF0, 0x06}, CmdLastRejectCode, 0, "")
	assert.Equal(t, "CHANNEL_INHIBIT", r.Info["name"])

	r = DefaultCodec{}.Decode([]byte{0xF0, 1, 2, 3, 4, 5, 6, 7, 8}, CmdRequestKeyExchange, 0, "")
	key, ok := r.Info.Bytes("key")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, key)

	r = DefaultCodec{}.Decode([]byte{0xF0, 0x02, 0x01, 0x04}, CmdChannelSecurityData, 0, "")
	assert.Equal(t, map[int]string{1: "low", 2: "inhibited"}, r.Info["channel"])

	r = DefaultCodec{}.Decode([]byte{0xF0, 0x01}, CmdSetRefillMode, 0, "")
	assert.Equal(t, true, r.Info["enabled"])

	r = DefaultCodec{}.Decode([]byte{0xF0, 0x05, 0x00}, CmdGetHopperOptions, 0, "")
	assert.Equal(t, true, r.Info["payMode"])
	assert.Equal(t, false, r.Info["levelCheck"])
	assert.Equal(t, true, r.Info["motorSpeed"])
}

// ============================================================
// Fields Tests
// ============================================================

func TestParseFields(t *testing.T) {
	f, err := ParseFields([]string{"amount=500", "country_code=EUR", "test=true", "fixedKey=0123456701234567", "channels=1,2", "hex=0x10"})
	require.NoError(t, err)

	assert.Equal(t, int64(500), f["amount"])
	assert.Equal(t, "EUR", f["country_code"])
	assert.Equal(t, true, f["test"])
	assert.Equal(t, "0123456701234567", f["fixedKey"])
	assert.Equal(t, int64(16), f["hex"])

	channels, ok := f.Ints("channels")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, channels)

	_, err = ParseFields([]string{"novalue"})
	assert.ErrorIs(t, err, ErrArgsMissing)
}

func TestFields_Conversions(t *testing.T) {
	f := Fields{"a": 5, "b": uint8(7), "c": float64(9), "d": "11", "neg": -1, "flag": 1}

	for key, want := range map[string]int64{"a": 5, "b": 7, "c": 9, "d": 11} {
		got, ok := f.Int(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	_, ok := f.Uint("neg")
	assert.False(t, ok)
	assert.True(t, f.Bool("flag"))
	assert.False(t, f.Bool("missing"))

	var nilFields Fields
	_, ok = nilFields.Int("a")
	assert.False(t, ok)
}
