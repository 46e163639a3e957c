// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package matrix

import (
	"fmt"
	"strings"
)

// FormatResponse formats a classified response into a single log line
func FormatResponse(r Response) string {
	timestamp := r.Time.Format("15:04:05.000")

	if r.Err != nil {
		return fmt.Sprintf("[%s] %-14s %q  !! %v\n", timestamp, r.Kind, r.Line, r.Err)
	}
	return fmt.Sprintf("[%s] %-14s %q\n", timestamp, r.Kind, r.Line)
}

// FormatRoute renders an output and its source using 1-based port numbers
func FormatRoute(m Model, output, input int) string {
	kind, err := m.OutputKind(output + 1)
	if err != nil {
		return fmt.Sprintf("OUT%d (?) <- IN%d", output+1, input+1)
	}
	if input == NoRoute {
		return fmt.Sprintf("OUT%d (%s) <- --", output+1, kind)
	}
	return fmt.Sprintf("OUT%d (%s) <- IN%d", output+1, kind, input+1)
}

// FormatState formats the mirrored device state as a multi-line report
func FormatState(m Model, s DeviceState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== %s ===\n", m)

	b.WriteString("Network:\n")
	fmt.Fprintf(&b, "  MAC:         %s\n", orDash(s.MAC))
	fmt.Fprintf(&b, "  DHCP:        %s\n", onOff(s.DHCP))
	fmt.Fprintf(&b, "  IP Address:  %s\n", addrOrDash(s.IPAddress.IsValid(), s.IPAddress.String()))
	fmt.Fprintf(&b, "  Gateway:     %s\n", addrOrDash(s.Gateway.IsValid(), s.Gateway.String()))
	fmt.Fprintf(&b, "  Subnet Mask: %s\n", addrOrDash(s.SubnetMask.IsValid(), s.SubnetMask.String()))
	fmt.Fprintf(&b, "  TCP Port:    %d\n", s.TCPPort)

	b.WriteString("System:\n")
	fmt.Fprintf(&b, "  Address:     %02d\n", s.SystemAddress)
	if m.SupportsFanSpeed() {
		fmt.Fprintf(&b, "  Fan Speed:   %d\n", s.FanSpeed)
	}
	if m.SupportsFanAuto() {
		fmt.Fprintf(&b, "  Fan Auto:    %s\n", onOff(s.FanAuto))
	}
	if m.SupportsTemperature() {
		fmt.Fprintf(&b, "  Temperature: %d C\n", s.Temperature)
	}

	b.WriteString("Video Routing:\n")
	for out, in := range s.VideoRoute {
		fmt.Fprintf(&b, "  %s\n", FormatRoute(m, out, in))
	}

	b.WriteString("Audio Routing:\n")
	for out, in := range s.AudioRoute {
		fmt.Fprintf(&b, "  %s\n", FormatRoute(m, out, in))
	}

	b.WriteString("Input Signal:\n  ")
	for in, detected := range s.InputSignal {
		mark := "."
		if detected {
			mark = "*"
		}
		fmt.Fprintf(&b, "IN%d:%s ", in+1, mark)
	}
	b.WriteString("\n")

	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "--"
	}
	return s
}

func addrOrDash(valid bool, s string) string {
	if !valid {
		return "--"
	}
	return s
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
