// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"math"
	"time"
)

// Command names accepted on the command topic.
const (
	CommandRouteVideo  = "route_video"
	CommandRouteAudio  = "route_audio"
	CommandQueryStatus = "query_status"
	CommandFanSpeed    = "set_fan_speed"
	CommandFanAuto     = "set_fan_auto"
	CommandReboot      = "reboot"
	CommandRaw         = "raw"
)

// CommandMessage is received on {prefix}/{device}/command.
//
//	{"id":"c1","command":"route_video","parameters":{"input":2,"output":1}}
//
// Port numbers are 1-based.
type CommandMessage struct {
	ID         string         `json:"id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the command was written to the device. The device
	// confirms it with a response, which updates the state topics.
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage is published on {prefix}/{device}/ack for every command.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusMessage is the retained payload of the status topic.
type StatusMessage struct {
	Status    string    `json:"status"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// intParam reads a whole number from parameters. JSON numbers arrive as
// float64.
func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("parameter %q must be an integer", key)
	}
	return int(f), nil
}

func boolParam(params map[string]any, key string) (bool, error) {
	v, ok := params[key].(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q must be a boolean", key)
	}
	return v, nil
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return v, nil
}
