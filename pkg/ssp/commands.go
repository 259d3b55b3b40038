// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"sort"
	"strings"
)

// Descriptor describes one SSP command
type Descriptor struct {
	Name               string
	Code               byte
	RequiresArgs       bool
	RequiresEncryption bool
	Description        string
}

// Command names
const (
	CmdReset                      = "RESET"
	CmdSetChannelInhibits         = "SET_CHANNEL_INHIBITS"
	CmdDisplayOn                  = "DISPLAY_ON"
	CmdDisplayOff                 = "DISPLAY_OFF"
	CmdSetupRequest               = "SETUP_REQUEST"
	CmdHostProtocolVersion        = "HOST_PROTOCOL_VERSION"
	CmdPoll                       = "POLL"
	CmdRejectBanknote             = "REJECT_BANKNOTE"
	CmdDisable                    = "DISABLE"
	CmdEnable                     = "ENABLE"
	CmdGetSerialNumber            = "GET_SERIAL_NUMBER"
	CmdUnitData                   = "UNIT_DATA"
	CmdChannelValueRequest        = "CHANNEL_VALUE_REQUEST"
	CmdChannelSecurityData        = "CHANNEL_SECURITY_DATA"
	CmdChannelReTeachData         = "CHANNEL_RE_TEACH_DATA"
	CmdSync                       = "SYNC"
	CmdLastRejectCode             = "LAST_REJECT_CODE"
	CmdHold                       = "HOLD"
	CmdGetFirmwareVersion         = "GET_FIRMWARE_VERSION"
	CmdGetDatasetVersion          = "GET_DATASET_VERSION"
	CmdGetAllLevels               = "GET_ALL_LEVELS"
	CmdGetBarCodeReaderConfig     = "GET_BAR_CODE_READER_CONFIGURATION"
	CmdSetBarCodeConfiguration    = "SET_BAR_CODE_CONFIGURATION"
	CmdGetBarCodeInhibitStatus    = "GET_BAR_CODE_INHIBIT_STATUS"
	CmdSetBarCodeInhibitStatus    = "SET_BAR_CODE_INHIBIT_STATUS"
	CmdGetBarCodeData             = "GET_BAR_CODE_DATA"
	CmdSetRefillMode              = "SET_REFILL_MODE"
	CmdPayoutAmount               = "PAYOUT_AMOUNT"
	CmdSetDenominationLevel       = "SET_DENOMINATION_LEVEL"
	CmdGetDenominationLevel       = "GET_DENOMINATION_LEVEL"
	CmdCommunicationPassThrough   = "COMMUNICATION_PASS_THROUGH"
	CmdHaltPayout                 = "HALT_PAYOUT"
	CmdSetDenominationRoute       = "SET_DENOMINATION_ROUTE"
	CmdGetDenominationRoute       = "GET_DENOMINATION_ROUTE"
	CmdFloatAmount                = "FLOAT_AMOUNT"
	CmdGetMinimumPayout           = "GET_MINIMUM_PAYOUT"
	CmdEmptyAll                   = "EMPTY_ALL"
	CmdSetCoinMechInhibits        = "SET_COIN_MECH_INHIBITS"
	CmdGetNotePositions           = "GET_NOTE_POSITIONS"
	CmdPayoutNote                 = "PAYOUT_NOTE"
	CmdStackNote                  = "STACK_NOTE"
	CmdFloatByDenomination        = "FLOAT_BY_DENOMINATION"
	CmdSetValueReportingType      = "SET_VALUE_REPORTING_TYPE"
	CmdPayoutByDenomination       = "PAYOUT_BY_DENOMINATION"
	CmdSetCoinMechGlobalInhibit   = "SET_COIN_MECH_GLOBAL_INHIBIT"
	CmdSetGenerator               = "SET_GENERATOR"
	CmdSetModulus                 = "SET_MODULUS"
	CmdRequestKeyExchange         = "REQUEST_KEY_EXCHANGE"
	CmdSetBaudRate                = "SET_BAUD_RATE"
	CmdGetBuildRevision           = "GET_BUILD_REVISION"
	CmdSetHopperOptions           = "SET_HOPPER_OPTIONS"
	CmdGetHopperOptions           = "GET_HOPPER_OPTIONS"
	CmdSmartEmpty                 = "SMART_EMPTY"
	CmdCashboxPayoutOperationData = "CASHBOX_PAYOUT_OPERATION_DATA"
	CmdConfigureBezel             = "CONFIGURE_BEZEL"
	CmdPollWithAck                = "POLL_WITH_ACK"
	CmdEventAck                   = "EVENT_ACK"
	CmdGetCounters                = "GET_COUNTERS"
	CmdResetCounters              = "RESET_COUNTERS"
	CmdCoinMechOptions            = "COIN_MECH_OPTIONS"
	CmdDisablePayoutDevice        = "DISABLE_PAYOUT_DEVICE"
	CmdEnablePayoutDevice         = "ENABLE_PAYOUT_DEVICE"
	CmdSetFixedEncryptionKey      = "SET_FIXED_ENCRYPTION_KEY"
	CmdResetFixedEncryptionKey    = "RESET_FIXED_ENCRYPTION_KEY"
	CmdRequestTebsBarcode         = "REQUEST_TEBS_BARCODE"
	CmdRequestTebsLog             = "REQUEST_TEBS_LOG"
	CmdTebsUnlockEnable           = "TEBS_UNLOCK_ENABLE"
	CmdTebsUnlockDisable          = "TEBS_UNLOCK_DISABLE"
)

// commandTable is the process-wide command vocabulary. It is never
// modified after initialisation.
var commandTable = []Descriptor{
	{CmdReset, 0x01, false, false, "Restart the slave"},
	{CmdSetChannelInhibits, 0x02, true, false, "Enable or inhibit note channels"},
	{CmdDisplayOn, 0x03, false, false, "Turn the bezel illumination on"},
	{CmdDisplayOff, 0x04, false, false, "Turn the bezel illumination off"},
	{CmdSetupRequest, 0x05, false, false, "Request the device set-up data"},
	{CmdHostProtocolVersion, 0x06, true, false, "Set the host protocol version"},
	{CmdPoll, 0x07, false, false, "Poll for events"},
	{CmdRejectBanknote, 0x08, false, false, "Reject the note held in escrow"},
	{CmdDisable, 0x09, false, false, "Disable the device"},
	{CmdEnable, 0x0A, false, false, "Enable the device"},
	{CmdGetSerialNumber, 0x0C, false, false, "Request the serial number"},
	{CmdUnitData, 0x0D, false, false, "Request unit data"},
	{CmdChannelValueRequest, 0x0E, false, false, "Request channel values"},
	{CmdChannelSecurityData, 0x0F, false, false, "Request channel security levels"},
	{CmdChannelReTeachData, 0x10, false, false, "Request channel re-teach data"},
	{CmdSync, 0x11, false, false, "Reset the sequence bit"},
	{CmdLastRejectCode, 0x17, false, false, "Request the reason for the last reject"},
	{CmdHold, 0x18, false, false, "Hold the note in escrow"},
	{CmdGetFirmwareVersion, 0x20, false, false, "Request the firmware version"},
	{CmdGetDatasetVersion, 0x21, false, false, "Request the dataset version"},
	{CmdGetAllLevels, 0x22, false, false, "Request all stored denomination levels"},
	{CmdGetBarCodeReaderConfig, 0x23, false, false, "Request the bar code reader configuration"},
	{CmdSetBarCodeConfiguration, 0x24, true, false, "Configure the bar code readers"},
	{CmdGetBarCodeInhibitStatus, 0x25, false, false, "Request the bar code inhibit status"},
	{CmdSetBarCodeInhibitStatus, 0x26, true, false, "Set the bar code inhibit status"},
	{CmdGetBarCodeData, 0x27, false, false, "Request the last bar code read"},
	{CmdSetRefillMode, 0x30, true, false, "Set or query refill mode"},
	{CmdPayoutAmount, 0x33, true, true, "Pay out an amount"},
	{CmdSetDenominationLevel, 0x34, true, true, "Add coins to a denomination level"},
	{CmdGetDenominationLevel, 0x35, true, false, "Request a denomination level"},
	{CmdCommunicationPassThrough, 0x37, false, false, "Enter pass-through mode"},
	{CmdHaltPayout, 0x38, false, true, "Halt the current payout"},
	{CmdSetDenominationRoute, 0x3B, true, true, "Route a denomination to payout or cashbox"},
	{CmdGetDenominationRoute, 0x3C, true, true, "Request a denomination route"},
	{CmdFloatAmount, 0x3D, true, true, "Float the device to an amount"},
	{CmdGetMinimumPayout, 0x3E, false, false, "Request the minimum payout"},
	{CmdEmptyAll, 0x3F, false, true, "Empty all stored value to the cashbox"},
	{CmdSetCoinMechInhibits, 0x40, true, false, "Inhibit coin mech denominations"},
	{CmdGetNotePositions, 0x41, false, false, "Request stored note positions"},
	{CmdPayoutNote, 0x42, false, false, "Pay out the last stored note"},
	{CmdStackNote, 0x43, false, false, "Stack the last stored note"},
	{CmdFloatByDenomination, 0x44, true, true, "Float by denomination"},
	{CmdSetValueReportingType, 0x45, true, false, "Report value by channel or denomination"},
	{CmdPayoutByDenomination, 0x46, true, true, "Pay out by denomination"},
	{CmdSetCoinMechGlobalInhibit, 0x49, true, false, "Globally enable or inhibit the coin mech"},
	{CmdSetGenerator, 0x4A, true, false, "Send the key exchange generator"},
	{CmdSetModulus, 0x4B, true, false, "Send the key exchange modulus"},
	{CmdRequestKeyExchange, 0x4C, true, false, "Exchange intermediate keys"},
	{CmdSetBaudRate, 0x4D, true, false, "Change the serial baud rate"},
	{CmdGetBuildRevision, 0x4F, false, false, "Request build revisions"},
	{CmdSetHopperOptions, 0x50, true, false, "Set hopper options"},
	{CmdGetHopperOptions, 0x51, false, false, "Request hopper options"},
	{CmdSmartEmpty, 0x52, false, true, "Empty all stored value and record it"},
	{CmdCashboxPayoutOperationData, 0x53, false, false, "Request the last smart empty data"},
	{CmdConfigureBezel, 0x54, true, false, "Configure the bezel colour"},
	{CmdPollWithAck, 0x56, false, false, "Poll for events that require acknowledgement"},
	{CmdEventAck, 0x57, false, false, "Acknowledge events from POLL_WITH_ACK"},
	{CmdGetCounters, 0x58, false, false, "Request note counters"},
	{CmdResetCounters, 0x59, false, false, "Reset note counters"},
	{CmdCoinMechOptions, 0x5A, true, false, "Set coin mech options"},
	{CmdDisablePayoutDevice, 0x5B, false, false, "Disable the payout device"},
	{CmdEnablePayoutDevice, 0x5C, false, false, "Enable the payout device"},
	{CmdSetFixedEncryptionKey, 0x60, true, true, "Replace the fixed encryption key"},
	{CmdResetFixedEncryptionKey, 0x61, false, false, "Restore the default fixed key"},
	{CmdRequestTebsBarcode, 0x65, false, false, "Request the TEBS bag bar code"},
	{CmdRequestTebsLog, 0x66, false, false, "Request the TEBS log"},
	{CmdTebsUnlockEnable, 0x67, false, false, "Unlock the TEBS cashbox"},
	{CmdTebsUnlockDisable, 0x68, false, false, "Lock the TEBS cashbox"},
}

var (
	commandsByName = make(map[string]Descriptor, len(commandTable))
	commandsByCode = make(map[byte]Descriptor, len(commandTable))
)

func init() {
	for _, d := range commandTable {
		commandsByName[d.Name] = d
		commandsByCode[d.Code] = d
	}
}

// LookupCommand returns the descriptor for a command name (case-insensitive)
func LookupCommand(name string) (Descriptor, bool) {
	d, ok := commandsByName[strings.ToUpper(name)]
	return d, ok
}

// LookupCommandCode returns the descriptor for a command code
func LookupCommandCode(code byte) (Descriptor, bool) {
	d, ok := commandsByCode[code]
	return d, ok
}

// CommandNames returns every known command name in sorted order
func CommandNames() []string {
	names := make([]string, 0, len(commandTable))
	for _, d := range commandTable {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}
