// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqtt

import "fmt"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "matrixctl"

// Topics builds the topic hierarchy of one switcher:
//
//	{prefix}/{device}/availability      bridge online/offline (retained, LWT)
//	{prefix}/{device}/status            device connection status (retained)
//	{prefix}/{device}/state             full device state snapshot (retained)
//	{prefix}/{device}/route/video/{out} input feeding an output (retained)
//	{prefix}/{device}/route/audio/{out}
//	{prefix}/{device}/signal/{in}       signal detect flag (retained)
//	{prefix}/{device}/command           incoming commands
//	{prefix}/{device}/ack               command acknowledgements
//
// Port numbers in topics are 1-based.
type Topics struct {
	Prefix string
	Device string
}

// NewTopics returns the topics for device under prefix.
func NewTopics(prefix, device string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix, Device: device}
}

func (t Topics) base() string {
	return t.Prefix + "/" + t.Device
}

func (t Topics) Availability() string { return t.base() + "/availability" }
func (t Topics) Status() string       { return t.base() + "/status" }
func (t Topics) State() string        { return t.base() + "/state" }
func (t Topics) Command() string      { return t.base() + "/command" }
func (t Topics) Ack() string          { return t.base() + "/ack" }

// VideoRoute returns the topic of a 1-based output's video source.
func (t Topics) VideoRoute(output int) string {
	return fmt.Sprintf("%s/route/video/%d", t.base(), output)
}

// AudioRoute returns the topic of a 1-based output's audio source.
func (t Topics) AudioRoute(output int) string {
	return fmt.Sprintf("%s/route/audio/%d", t.base(), output)
}

// Signal returns the topic of a 1-based input's signal flag.
func (t Topics) Signal(input int) string {
	return fmt.Sprintf("%s/signal/%d", t.base(), input)
}

// All matches every topic of the device.
func (t Topics) All() string {
	return t.base() + "/#"
}
