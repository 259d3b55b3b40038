// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")

	result := fmt.Sprintf("[%s] %s addr=0x%02X seq=%d len=%d\n",
		timestamp, FormatCode(p), p.Address(), p.Sequence()>>7, p.length)

	if len(p.data) > 1 {
		label := "Args"
		if p.Encrypted() {
			label = "Encrypted"
		} else if _, ok := LookupCommandCode(p.Code()); !ok {
			label = "Data"
		}
		result += fmt.Sprintf("  %s: %s\n", label, FormatHex(p.data[1:]))
	}

	return result
}

// FormatCode names the first DATA byte of a packet: a command, a reply
// status or an encrypted marker
func FormatCode(p *Packet) string {
	if p.length == 0 {
		return "EMPTY"
	}
	if p.Encrypted() {
		return "ENCRYPTED (0x7E)"
	}
	code := p.Code()
	if desc, ok := LookupCommandCode(code); ok {
		return fmt.Sprintf("%s (0x%02X)", desc.Name, code)
	}
	if status, ok := LookupStatus(code); ok {
		return fmt.Sprintf("%s (0x%02X)", status.Name, code)
	}
	return fmt.Sprintf("UNKNOWN (0x%02X)", code)
}

// FormatHex formats bytes as space separated hex
func FormatHex(data []byte) string {
	return fmt.Sprintf("% X", data)
}

// FormatResult formats a command result
func FormatResult(r *Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", r.Command, r.Status)
	sb.WriteString(FormatInfo(r.Info, "  "))
	for _, ev := range r.Events {
		sb.WriteString("  ")
		sb.WriteString(FormatPollEvent(ev))
		sb.WriteString("\n")
	}
	if r.Err != nil {
		fmt.Fprintf(&sb, "  error: %v\n", r.Err)
	}
	return sb.String()
}

// FormatPollEvent formats a poll event on a single line
func FormatPollEvent(ev PollEvent) string {
	if len(ev.Info) == 0 {
		return ev.Name
	}
	return ev.Name + " " + strings.TrimSpace(formatInline(ev.Info))
}

// FormatInfo formats reply info as sorted key: value lines
func FormatInfo(info Info, indent string) string {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s%s: %v\n", indent, k, info[k])
	}
	return sb.String()
}

func formatInline(info Info) string {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, info[k]))
	}
	return strings.Join(parts, " ")
}
