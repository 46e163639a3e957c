// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package matrix

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the response shape a line matched.
type Kind int

const (
	KindUnmatched Kind = iota
	KindMAC
	KindDHCP
	KindGateway
	KindIPAddress
	KindSubnetMask
	KindTCPPort
	KindSystemAddress
	KindFanSpeed
	KindFanAuto
	KindVideoRoute
	KindAudioRoute
	KindInputSignal
	KindTemperature
)

func (k Kind) String() string {
	switch k {
	case KindUnmatched:
		return "UNMATCHED"
	case KindMAC:
		return "MAC"
	case KindDHCP:
		return "DHCP"
	case KindGateway:
		return "GATEWAY"
	case KindIPAddress:
		return "IP_ADDRESS"
	case KindSubnetMask:
		return "SUBNET_MASK"
	case KindTCPPort:
		return "TCP_PORT"
	case KindSystemAddress:
		return "SYSTEM_ADDRESS"
	case KindFanSpeed:
		return "FAN_SPEED"
	case KindFanAuto:
		return "FAN_AUTO"
	case KindVideoRoute:
		return "VIDEO_ROUTE"
	case KindAudioRoute:
		return "AUDIO_ROUTE"
	case KindInputSignal:
		return "INPUT_SIGNAL"
	case KindTemperature:
		return "TEMPERATURE"
	default:
		return "UNKNOWN"
	}
}

// change is what one parsed response does: a state update plus the
// notification it raises, if any.
type change struct {
	apply   func(*DeviceState)
	routing *RoutingChange
	signal  *SignalChange
}

type rule struct {
	kind  Kind
	match func(m Model, line string) bool
	parse func(m Model, line string) (change, error)
}

var (
	videoRoutePattern  = regexp.MustCompile(`OUT(\w+)\s+VS\s+IN(\w+)`)
	audioRoutePattern  = regexp.MustCompile(`OUT(\w+)\s+AS\s+IN(\w+)`)
	inputSignalPattern = regexp.MustCompile(`SIG\s+STA\s+IN(\w+)\s+(\w+)`)
)

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{KindMAC, contains("MAC"), parseMAC},
	{KindDHCP, contains("DHCP"), parseDHCP},
	{KindGateway, contains("RIP"), parseIPv4("gateway", func(s *DeviceState, a netip.Addr) { s.Gateway = a })},
	{KindIPAddress, contains("HIP"), parseIPv4("ip address", func(s *DeviceState, a netip.Addr) { s.IPAddress = a })},
	{KindSubnetMask, contains("NMK"), parseIPv4("subnet mask", func(s *DeviceState, a netip.Addr) { s.SubnetMask = a })},
	{KindTCPPort, contains("TIP"), parseTCPPort},
	{KindSystemAddress, contains("ADDR"), parseSystemAddress},
	{KindFanSpeed, contains("FAN SPEED"), parseFanSpeed},
	{KindFanAuto, contains("FAN AUTO"), parseFanAuto},
	{KindVideoRoute, matches(videoRoutePattern), parseVideoRoute},
	{KindAudioRoute, matches(audioRoutePattern), parseAudioRoute},
	{KindInputSignal, matches(inputSignalPattern), parseInputSignal},
	{KindTemperature, temperatureReport, parseTemperature},
}

// classify runs line through the rules. Unmatched lines return
// KindUnmatched and no error.
func classify(m Model, line string) (Kind, change, error) {
	for _, r := range rules {
		if !r.match(m, line) {
			continue
		}
		ch, err := r.parse(m, line)
		return r.kind, ch, err
	}
	return KindUnmatched, change{}, nil
}

func contains(sub string) func(Model, string) bool {
	return func(_ Model, line string) bool {
		return strings.Contains(line, sub)
	}
}

func matches(re *regexp.Regexp) func(Model, string) bool {
	return func(_ Model, line string) bool {
		return re.MatchString(line)
	}
}

// Temperature reports are only understood on models that have a sensor.
func temperatureReport(m Model, line string) bool {
	return m.SupportsTemperature() && strings.Contains(line, "TEMP")
}

func token(line string, i int) (string, bool) {
	fields := strings.Fields(line)
	if i >= len(fields) {
		return "", false
	}
	return fields[i], true
}

// valueToken returns the last token of a "KEY value" line. A line with a
// single token has no value.
func valueToken(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", false
	}
	return fields[len(fields)-1], true
}

func parseMAC(_ Model, line string) (change, error) {
	mac, ok := valueToken(line)
	if !ok {
		return change{}, malformed(line, "mac", errors.New("missing value"))
	}
	return change{apply: func(s *DeviceState) { s.MAC = mac }}, nil
}

func parseDHCP(_ Model, line string) (change, error) {
	tok, ok := token(line, 1)
	if !ok {
		return change{}, malformed(line, "dhcp", errors.New("missing value"))
	}
	enabled := tok == "1"
	return change{apply: func(s *DeviceState) { s.DHCP = enabled }}, nil
}

func parseIPv4(field string, set func(*DeviceState, netip.Addr)) func(Model, string) (change, error) {
	return func(_ Model, line string) (change, error) {
		tok, ok := valueToken(line)
		if !ok {
			return change{}, malformed(line, field, errors.New("missing value"))
		}
		addr, err := netip.ParseAddr(tok)
		if err != nil {
			return change{}, malformed(line, field, err)
		}
		if !addr.Is4() {
			return change{}, malformed(line, field, fmt.Errorf("%s is not an IPv4 address", addr))
		}
		return change{apply: func(s *DeviceState) { set(s, addr) }}, nil
	}
}

func parseUint(line, field string, index, bits int) (int, error) {
	tok, ok := token(line, index)
	if !ok {
		return 0, malformed(line, field, errors.New("missing value"))
	}
	n, err := strconv.ParseUint(tok, 10, bits)
	if err != nil {
		return 0, malformed(line, field, err)
	}
	return int(n), nil
}

func parseTCPPort(_ Model, line string) (change, error) {
	port, err := parseUint(line, "tcp port", 1, 16)
	if err != nil {
		return change{}, err
	}
	return change{apply: func(s *DeviceState) { s.TCPPort = port }}, nil
}

func parseSystemAddress(_ Model, line string) (change, error) {
	addr, err := parseUint(line, "system address", 1, 8)
	if err != nil {
		return change{}, err
	}
	return change{apply: func(s *DeviceState) { s.SystemAddress = addr }}, nil
}

func parseFanSpeed(_ Model, line string) (change, error) {
	speed, err := parseUint(line, "fan speed", 2, 8)
	if err != nil {
		return change{}, err
	}
	return change{apply: func(s *DeviceState) { s.FanSpeed = speed }}, nil
}

// parseFanAuto reads the flag after "FAN AUTO".
func parseFanAuto(_ Model, line string) (change, error) {
	_, rest, _ := strings.Cut(line, "FAN AUTO")
	tok, ok := token(rest, 0)
	if !ok {
		return change{}, malformed(line, "fan auto", errors.New("missing value"))
	}
	auto := tok == "1"
	return change{apply: func(s *DeviceState) { s.FanAuto = auto }}, nil
}

// routePorts parses the 1-based output and input of a route report and
// returns them 0-based.
func routePorts(m Model, re *regexp.Regexp, line, field string) (output, input int, err error) {
	sub := re.FindStringSubmatch(line)
	out, err := strconv.ParseUint(sub[1], 10, 16)
	if err != nil {
		return 0, 0, malformed(line, field+" output", err)
	}
	in, err := strconv.ParseUint(sub[2], 10, 16)
	if err != nil {
		return 0, 0, malformed(line, field+" input", err)
	}
	if err := checkPort("output", int(out), m.Outputs); err != nil {
		return 0, 0, malformed(line, field+" output", err)
	}
	if err := checkPort("input", int(in), m.Inputs); err != nil {
		return 0, 0, malformed(line, field+" input", err)
	}
	return int(out) - 1, int(in) - 1, nil
}

func parseVideoRoute(m Model, line string) (change, error) {
	output, input, err := routePorts(m, videoRoutePattern, line, "video route")
	if err != nil {
		return change{}, err
	}
	return change{
		apply:   func(s *DeviceState) { s.VideoRoute[output] = input },
		routing: &RoutingChange{Output: output, Input: input},
	}, nil
}

// Audio routes update state without a notification of their own.
func parseAudioRoute(m Model, line string) (change, error) {
	output, input, err := routePorts(m, audioRoutePattern, line, "audio route")
	if err != nil {
		return change{}, err
	}
	return change{
		apply: func(s *DeviceState) { s.AudioRoute[output] = input },
	}, nil
}

func parseInputSignal(m Model, line string) (change, error) {
	sub := inputSignalPattern.FindStringSubmatch(line)
	in, err := strconv.ParseUint(sub[1], 10, 16)
	if err != nil {
		return change{}, malformed(line, "signal input", err)
	}
	if err := checkPort("input", int(in), m.Inputs); err != nil {
		return change{}, malformed(line, "signal input", err)
	}
	flag, err := strconv.ParseUint(sub[2], 10, 8)
	if err != nil {
		return change{}, malformed(line, "signal state", err)
	}

	input, detected := int(in)-1, flag == 1
	return change{
		apply:  func(s *DeviceState) { s.InputSignal[input] = detected },
		signal: &SignalChange{Input: input, Detected: detected},
	}, nil
}

func parseTemperature(_ Model, line string) (change, error) {
	tok, ok := valueToken(line)
	if !ok {
		return change{}, malformed(line, "temperature", errors.New("missing value"))
	}
	temp, err := strconv.Atoi(strings.TrimSuffix(tok, "C"))
	if err != nil {
		return change{}, malformed(line, "temperature", err)
	}
	return change{apply: func(s *DeviceState) { s.Temperature = temp }}, nil
}
