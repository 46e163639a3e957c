// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Matrixctl - HDMX Matrix Switcher Control
//
// A CLI tool and MQTT bridge for routing, monitoring and configuring HDMX
// HDMI/HDBaseT matrix switchers over TCP, WebSocket or RS-232.

package main

import (
	"os"

	"github.com/Thermoquad/matrixctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
