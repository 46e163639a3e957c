// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath    string
	host          string
	tcpPort       int
	portName      string
	baudRate      int
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
	modelName     string
	logLevel      string
)

var rootCmd = &cobra.Command{
	Use:   "matrixctl",
	Short: "Control tool for HDMX matrix switchers",
	Long: `Matrixctl controls HDMX HDMI/HDBaseT matrix switchers over their ASCII
control protocol.

Connection Options:
  TCP:       --host 192.168.1.239 [--tcp-port 8000]
  WebSocket: --url ws://bridge.local/matrix [--username admin]
  Serial:    --port /dev/ttyUSB0 [--baud 9600]

TCP or WebSocket can be combined with --port; commands then go out on both.
Settings not given as flags come from --config (YAML) and MATRIXCTL_*
environment variables.

The WebSocket password is read from MATRIXCTL_PASSWORD or prompted for.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	pf.StringVar(&host, "host", "", "Switcher IP address or hostname (TCP)")
	pf.IntVar(&tcpPort, "tcp-port", 8000, "Switcher TCP control port")
	pf.StringVarP(&portName, "port", "p", "", "Serial port (e.g., /dev/ttyUSB0)")
	pf.IntVarP(&baudRate, "baud", "b", 9600, "Serial baud rate")
	pf.StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (e.g., ws://bridge.local/matrix)")
	pf.StringVar(&wsUsername, "username", "admin", "WebSocket username")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification for wss://")
	pf.StringVarP(&modelName, "model", "m", "", "Switcher model (HDMX-4x2, HDMX-8x4, HDMX-16x8)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}
