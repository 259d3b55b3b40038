// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import "fmt"

// StatusInfo names a reply status or poll event code
type StatusInfo struct {
	Name        string
	Description string
}

// Status and poll event names used by the decoder
const (
	StatusNameOK                       = "OK"
	StatusNameCommandCannotBeProcessed = "COMMAND_CANNOT_BE_PROCESSED"
	StatusNameUndefined                = "UNDEFINED"

	EventSlaveReset   = "SLAVE_RESET"
	EventReadNote     = "READ_NOTE"
	EventCreditNote   = "CREDIT_NOTE"
	EventDisabled     = "DISABLED"
	EventFraudAttempt = "FRAUD_ATTEMPT"
)

// statusTable holds generic reply statuses (0xF0-0xFA) and poll event codes
var statusTable = map[byte]StatusInfo{
	// Generic replies
	0xF0: {"OK", "Command accepted"},
	0xF2: {"COMMAND_NOT_KNOWN", "Command code is not implemented"},
	0xF3: {"WRONG_No_PARAMETERS", "Wrong number of parameters"},
	0xF4: {"PARAMETER_OUT_OF_RANGE", "A parameter is out of range"},
	0xF5: {"COMMAND_CANNOT_BE_PROCESSED", "Command cannot be processed at this time"},
	0xF6: {"SOFTWARE_ERROR", "Software error in the device"},
	0xF8: {"FAIL", "Command failure"},
	0xFA: {"KEY_NOT_SET", "Encryption key has not been negotiated"},

	// Poll events
	0xF1: {"SLAVE_RESET", "Device has reset since the last poll"},
	0xEF: {"READ_NOTE", "A note is being read"},
	0xEE: {"CREDIT_NOTE", "A note has passed to a credit position"},
	0xED: {"NOTE_REJECTING", "A note is being rejected"},
	0xEC: {"NOTE_REJECTED", "A note has been rejected"},
	0xCC: {"NOTE_STACKING", "A note is being moved to the stacker"},
	0xEB: {"NOTE_STACKED", "A note has reached the stacker"},
	0xEA: {"SAFE_NOTE_JAM", "A note is jammed in a position the user cannot reach"},
	0xE9: {"UNSAFE_NOTE_JAM", "A note is jammed in a position the user can reach"},
	0xE8: {"DISABLED", "The device is disabled"},
	0xE6: {"FRAUD_ATTEMPT", "A fraud attempt has been detected"},
	0xE7: {"STACKER_FULL", "The stacker is full"},
	0xE1: {"NOTE_CLEARED_FROM_FRONT", "A note was cleared to the front at reset"},
	0xE2: {"NOTE_CLEARED_TO_CASHBOX", "A note was cleared to the cashbox at reset"},
	0xE3: {"CASHBOX_REMOVED", "The cashbox has been removed"},
	0xE4: {"CASHBOX_REPLACED", "The cashbox has been replaced"},
	0xE5: {"BAR_CODE_TICKET_VALIDATED", "A bar code ticket has been validated"},
	0xD1: {"BAR_CODE_TICKET_ACKNOWLEDGE", "A bar code ticket has been stacked"},
	0xE0: {"NOTE_PATH_OPEN", "The note path has been opened"},
	0xB5: {"CHANNEL_DISABLE", "All channels are inhibited"},
	0xB6: {"INITIALISING", "The device is initialising"},
	0xDA: {"DISPENSING", "Payout in progress"},
	0xD2: {"DISPENSED", "Payout complete"},
	0xD5: {"JAMMED", "The payout mechanism is jammed"},
	0xD6: {"HALTED", "The payout was halted by the host"},
	0xD7: {"FLOATING", "Float in progress"},
	0xD8: {"FLOATED", "Float complete"},
	0xD9: {"TIME_OUT", "Payout timed out"},
	0xDC: {"INCOMPLETE_PAYOUT", "Payout could not complete"},
	0xDD: {"INCOMPLETE_FLOAT", "Float could not complete"},
	0xDE: {"CASHBOX_PAID", "Value paid to the cashbox"},
	0xDF: {"COIN_CREDIT", "A coin has been credited"},
	0xC4: {"COIN_MECH_JAMMED", "The coin mech is jammed"},
	0xC5: {"COIN_MECH_RETURN_PRESSED", "The coin mech return lever was pressed"},
	0xC2: {"EMPTYING", "Emptying in progress"},
	0xC3: {"EMPTIED", "Emptying complete"},
	0xB3: {"SMART_EMPTYING", "Smart empty in progress"},
	0xB4: {"SMART_EMPTIED", "Smart empty complete"},
	0xB7: {"COIN_MECH_ERROR", "The coin mech reported an error"},
	0xDB: {"NOTE_STORED_IN_PAYOUT", "A note was stored in the payout"},
	0xC6: {"PAYOUT_OUT_OF_SERVICE", "The payout device is out of service"},
	0xB0: {"JAM_RECOVERY", "Recovering from a jam"},
	0xB1: {"ERROR_DURING_PAYOUT", "An error occurred during payout"},
	0xC9: {"NOTE_TRANSFERED_TO_STACKER", "A note was moved from the payout to the stacker"},
	0xCE: {"NOTE_HELD_IN_BEZEL", "A dispensed note is held in the bezel"},
	0xCB: {"NOTE_PAID_INTO_STORE_AT_POWER-UP", "A note was stored at power-up"},
	0xCA: {"NOTE_PAID_INTO_STACKER_AT_POWER-UP", "A note was stacked at power-up"},
	0xCD: {"NOTE_DISPENSED_AT_POWER-UP", "A note was dispensed at power-up"},
	0xC7: {"NOTE_FLOAT_REMOVED", "The note float has been removed"},
	0xC8: {"NOTE_FLOAT_ATTACHED", "The note float has been attached"},
	0xCF: {"DEVICE_FULL", "The device is full"},
}

// LookupStatus returns the name and description for a status or event code
func LookupStatus(code byte) (StatusInfo, bool) {
	s, ok := statusTable[code]
	return s, ok
}

// StatusName returns the status name for code, or UNDEFINED
func StatusName(code byte) string {
	if s, ok := statusTable[code]; ok {
		return s.Name
	}
	return StatusNameUndefined
}

// IsReplyStatus reports whether code is a generic reply status
func IsReplyStatus(code byte) bool {
	return code >= StatusOK && code != 0xF1 && code <= StatusKeyNotSet
}

// Unit types reported by SETUP_REQUEST and UNIT_DATA
const (
	UnitBanknoteValidator = "Banknote validator"
	UnitSmartHopper       = "SMART Hopper"
	UnitSmartPayout       = "SMART payout fitted"
)

var unitTypes = map[byte]string{
	0x00: UnitBanknoteValidator,
	0x03: UnitSmartHopper,
	0x06: UnitSmartPayout,
	0x07: "Note Float fitted",
	0x08: "Addon Printer",
	0x0B: "Stand Alone Printer",
	0x0D: "TEBS",
	0x0E: "TEBS with SMART Payout",
	0x0F: "TEBS with SMART Ticket",
}

// UnitTypeName returns the unit type name for code
func UnitTypeName(code byte) string {
	if name, ok := unitTypes[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02X)", code)
}

// RejectReason describes a LAST_REJECT_CODE value
type RejectReason struct {
	Name        string
	Description string
}

var rejectReasons = []RejectReason{
	{"NOTE_ACCEPTED", "The banknote has been accepted"},
	{"LENGTH_FAIL", "The banknote length is out of tolerance"},
	{"AVERAGE_FAIL", "Internal validation failure"},
	{"COASTLINE_FAIL", "Internal validation failure"},
	{"GRAPH_FAIL", "Internal validation failure"},
	{"BURIED_FAIL", "Internal validation failure"},
	{"CHANNEL_INHIBIT", "The channel of this note is inhibited"},
	{"SECOND_NOTE_DETECTED", "A second note was inserted during validation"},
	{"REJECT_BY_HOST", "The host rejected the note"},
	{"CROSS_CHANNEL_DETECTED", "The note was recognised in more than one channel"},
	{"REAR_SENSOR_ERROR", "Inconsistent rear sensor readings"},
	{"NOTE_TOO_LONG", "The note exceeded the maximum length"},
	{"DISABLED_BY_HOST", "The device was disabled during validation"},
	{"SLOW_MECH", "The mechanism was too slow"},
	{"STRIM_ATTEMPT", "A strimming attempt was detected"},
	{"FRAUD_CHANNEL", "The note matched a fraud channel"},
	{"NO_NOTES_DETECTED", "A note was expected but not detected"},
	{"PEAK_DETECT_FAIL", "Internal validation failure"},
	{"TWISTED_NOTE_REJECT", "The note was twisted"},
	{"ESCROW_TIME_OUT", "The note was held in escrow too long"},
	{"BAR_CODE_SCAN_FAIL", "The bar code could not be read"},
	{"NO_CAM_ACTIVATE", "The rear sensor was not activated"},
	{"SLOT_FAIL_1", "Internal validation failure"},
	{"SLOT_FAIL_2", "Internal validation failure"},
	{"LENS_OVERSAMPLE", "Lens oversample failure"},
	{"WIDTH_DETECTION_FAIL", "The note width was out of tolerance"},
	{"SHORT_NOTE_DETECT", "The note was too short"},
	{"PAYOUT_NOTE", "The note was rejected by the payout"},
	{"DOUBLE_NOTE_DETECTED", "More than one note was detected"},
	{"UNABLE_TO_STACK", "The note could not be stacked"},
}

// LookupRejectReason returns the reject reason for a LAST_REJECT_CODE value
func LookupRejectReason(code byte) RejectReason {
	if int(code) < len(rejectReasons) {
		return rejectReasons[code]
	}
	return RejectReason{Name: StatusNameUndefined, Description: fmt.Sprintf("Unknown reject code 0x%02X", code)}
}
