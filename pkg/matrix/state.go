// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package matrix

import (
	"net/netip"
	"slices"
)

// NoRoute marks an output whose source has not been reported yet.
const NoRoute = -1

// DeviceState is the client's mirror of the switcher. Port indexes are
// 0-based. Fields keep their zero value until the device reports them.
type DeviceState struct {
	MAC           string     `json:"mac"`
	DHCP          bool       `json:"dhcp"`
	IPAddress     netip.Addr `json:"ip_address"`
	Gateway       netip.Addr `json:"gateway"`
	SubnetMask    netip.Addr `json:"subnet_mask"`
	TCPPort       int        `json:"tcp_port"`
	SystemAddress int        `json:"system_address"`
	FanSpeed      int        `json:"fan_speed"`
	FanAuto       bool       `json:"fan_auto"`
	Temperature   int        `json:"temperature"`

	// InputSignal[i] is the signal-detect flag of input i.
	InputSignal []bool `json:"input_signal"`

	// VideoRoute[o] and AudioRoute[o] are the input feeding output o, or
	// NoRoute.
	VideoRoute []int `json:"video_route"`
	AudioRoute []int `json:"audio_route"`
}

func newDeviceState(m Model) DeviceState {
	s := DeviceState{
		InputSignal: make([]bool, m.Inputs),
		VideoRoute:  make([]int, m.Outputs),
		AudioRoute:  make([]int, m.Outputs),
	}
	for i := range s.VideoRoute {
		s.VideoRoute[i] = NoRoute
		s.AudioRoute[i] = NoRoute
	}
	return s
}

// Clone returns a deep copy.
func (s DeviceState) Clone() DeviceState {
	s.InputSignal = slices.Clone(s.InputSignal)
	s.VideoRoute = slices.Clone(s.VideoRoute)
	s.AudioRoute = slices.Clone(s.AudioRoute)
	return s
}
