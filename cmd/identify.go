// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/Thermoquad/matrixctl/pkg/transport"
	"github.com/spf13/cobra"
)

var (
	identifyTimeout int
	identifyPorts   bool
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify a switcher or list local serial ports",
	Long: `Read the identity of the connected switcher: MAC address, network setup,
RS-232 system address and signal-detect flags.

Modes:
  Device (default): Send GET STA and collect the reports until the
                    timeout or until the network and address reports
                    have all arrived.

  Ports (--ports):  List the serial ports of this machine and exit. No
                    connection is opened.

Examples:
  # Identify a switcher over serial
  matrixctl identify --port /dev/ttyUSB0

  # List candidate serial ports
  matrixctl identify --ports

Exit codes:
  0 - Success (device identified, or ports found)
  1 - Failed (no reports, or no ports)
  2 - Connection error`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().IntVar(&identifyTimeout, "timeout", 5, "Timeout in seconds to wait for reports")
	identifyCmd.Flags().BoolVar(&identifyPorts, "ports", false, "List local serial ports instead")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	if identifyPorts {
		return runPortList()
	}

	s, _ := openCLISession(cmd, nil)
	defer s.Close()

	fmt.Printf("Matrixctl - Device Identity\n")
	fmt.Printf("Connection: %s\n", s.Info)
	fmt.Printf("Timeout: %d seconds\n\n", identifyTimeout)

	identity := []matrix.Kind{
		matrix.KindMAC,
		matrix.KindIPAddress,
		matrix.KindSubnetMask,
		matrix.KindGateway,
		matrix.KindTCPPort,
		matrix.KindSystemAddress,
	}
	seen := make(chan matrix.Kind, 64)
	s.Client.OnResponse(func(r matrix.Response) {
		if r.Err != nil {
			return
		}
		select {
		case seen <- r.Kind:
		default:
		}
	})

	fmt.Printf("Sending GET STA...\n")
	if err := s.Client.QueryStatus(); err != nil {
		fmt.Printf("SEND FAILED: %v\n", err)
		os.Exit(2)
	}

	missing := make(map[matrix.Kind]bool, len(identity))
	for _, k := range identity {
		missing[k] = true
	}
	reports := 0
	timeout := time.After(time.Duration(identifyTimeout) * time.Second)

collect:
	for len(missing) > 0 {
		select {
		case k := <-seen:
			reports++
			delete(missing, k)
		case <-timeout:
			break collect
		}
	}

	if reports == 0 {
		fmt.Printf("\nFAILED: No reports received\n")
		os.Exit(1)
	}

	st := s.Client.State()
	fmt.Printf("\nReceived %d reports\n\n", reports)
	fmt.Printf("Device:\n")
	fmt.Printf("  Model:          %s\n", s.Client.Model())
	fmt.Printf("  MAC:            %s\n", valueOrUnknown(st.MAC != "", st.MAC))
	fmt.Printf("  DHCP:           %s\n", onOffLabel(st.DHCP))
	fmt.Printf("  IP Address:     %s\n", valueOrUnknown(st.IPAddress.IsValid(), st.IPAddress.String()))
	fmt.Printf("  Subnet Mask:    %s\n", valueOrUnknown(st.SubnetMask.IsValid(), st.SubnetMask.String()))
	fmt.Printf("  Gateway:        %s\n", valueOrUnknown(st.Gateway.IsValid(), st.Gateway.String()))
	fmt.Printf("  TCP Port:       %s\n", valueOrUnknown(st.TCPPort > 0, fmt.Sprint(st.TCPPort)))
	fmt.Printf("  System Address: %02d\n", st.SystemAddress)

	active := 0
	for _, detected := range st.InputSignal {
		if detected {
			active++
		}
	}
	fmt.Printf("  Active Inputs:  %d of %d\n", active, len(st.InputSignal))

	if len(missing) > 0 {
		fmt.Printf("\n(%d identity reports missing before timeout)\n", len(missing))
	}
	return nil
}

func runPortList() error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list serial ports: %v\n", err)
		os.Exit(2)
	}
	if len(ports) == 0 {
		fmt.Printf("No serial ports found\n")
		os.Exit(1)
	}

	fmt.Printf("Serial ports:\n")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

func valueOrUnknown(known bool, value string) string {
	if !known {
		return "(not reported)"
	}
	return value
}
