// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/spf13/cobra"
)

var (
	routeAudio bool
	replyWait  int
	resetYes   bool
	netIP      string
	netGateway string
	netMask    string
	netTCPPort int
	netDHCP    string
)

// commandCmd groups the one-shot device commands
var commandCmd = &cobra.Command{
	Use:   "command",
	Short: "Send one command and print the device's reply",
	Long: `Send a single command to the switcher and print every line it answers
with until it goes quiet.

Port numbers are 1-based, as printed on the device.

Exit codes:
  0 - Command sent
  1 - Command rejected before sending (invalid argument or unsupported)
  2 - Connection error`,
}

var routeCmd = &cobra.Command{
	Use:   "route <input> <output>",
	Short: "Route an input to an output",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, output, err := parsePorts(args[0], args[1])
		if err != nil {
			return err
		}
		return runDeviceCommand(cmd, func(c *matrix.Client) error {
			if routeAudio {
				return c.RouteAudioOutput(input, output)
			}
			return c.RouteVideoOutput(input, output)
		})
	},
}

var fanCmd = &cobra.Command{
	Use:   "fan <speed|auto> <value>",
	Short: "Set the fan speed or automatic fan control",
	Long: `Set the fan speed (HDMX-16x8 only) or turn automatic fan control on or
off (HDMX-8x4 and HDMX-16x8).

  matrixctl command fan speed 3
  matrixctl command fan auto on`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "speed":
			speed, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid fan speed %q", args[1])
			}
			return runDeviceCommand(cmd, func(c *matrix.Client) error { return c.SetFanSpeed(speed) })
		case "auto":
			on, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			return runDeviceCommand(cmd, func(c *matrix.Client) error { return c.SetFanAuto(on) })
		default:
			return fmt.Errorf("unknown fan setting %q (use speed or auto)", args[0])
		}
	},
}

var addressCmd = &cobra.Command{
	Use:   "address <0-99>",
	Short: "Set the RS-232 system address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid address %q", args[0])
		}
		return runDeviceCommand(cmd, func(c *matrix.Client) error { return c.SetSystemAddress(addr) })
	},
}

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Change the network setup",
	Long: `Change one or more network settings. Each flag sends its own command.
The device applies network changes after a reboot.

  matrixctl command network --ip 192.168.1.50 --mask 255.255.255.0
  matrixctl command network --dhcp on`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var steps []func(c *matrix.Client) error

		for _, f := range []struct {
			value string
			set   func(*matrix.Client, netip.Addr) error
			name  string
		}{
			{netIP, (*matrix.Client).SetIPAddress, "ip"},
			{netGateway, (*matrix.Client).SetGateway, "gateway"},
			{netMask, (*matrix.Client).SetSubnetMask, "mask"},
		} {
			if f.value == "" {
				continue
			}
			addr, err := netip.ParseAddr(f.value)
			if err != nil {
				return fmt.Errorf("invalid --%s: %w", f.name, err)
			}
			set := f.set
			steps = append(steps, func(c *matrix.Client) error { return set(c, addr) })
		}
		if cmd.Flags().Changed("control-port") {
			steps = append(steps, func(c *matrix.Client) error { return c.SetTCPPort(netTCPPort) })
		}
		if netDHCP != "" {
			on, err := parseOnOff(netDHCP)
			if err != nil {
				return err
			}
			steps = append(steps, func(c *matrix.Client) error { return c.SetDHCP(on) })
		}
		if len(steps) == 0 {
			return fmt.Errorf("nothing to change (use --ip, --gateway, --mask, --control-port or --dhcp)")
		}

		return runDeviceCommand(cmd, func(c *matrix.Client) error {
			for _, step := range steps {
				if err := step(c); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var temperatureCmd = &cobra.Command{
	Use:   "temp",
	Short: "Read the temperature (HDMX-16x8 only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeviceCommand(cmd, (*matrix.Client).GetTemperature)
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Reboot the switcher",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeviceCommand(cmd, (*matrix.Client).Reboot)
	},
}

var factoryResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore factory settings, including the network setup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return fmt.Errorf("factory reset clears the network setup; pass --yes to confirm")
		}
		return runDeviceCommand(cmd, (*matrix.Client).FactoryReset)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <text...>",
	Short: "Send a raw command line",
	Long: `Send text as a command line, unmodified apart from the CR+LF terminator.

  matrixctl command send GET VER`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return runDeviceCommand(cmd, func(c *matrix.Client) error { return c.SendCustom(text) })
	},
}

func init() {
	rootCmd.AddCommand(commandCmd)
	commandCmd.PersistentFlags().IntVar(&replyWait, "wait", 1000, "Milliseconds without a reply that end the command")

	routeCmd.Flags().BoolVar(&routeAudio, "audio", false, "Route audio instead of video")

	networkCmd.Flags().StringVar(&netIP, "ip", "", "Static IPv4 address")
	networkCmd.Flags().StringVar(&netGateway, "gateway", "", "Gateway IPv4 address")
	networkCmd.Flags().StringVar(&netMask, "mask", "", "Subnet mask")
	networkCmd.Flags().IntVar(&netTCPPort, "control-port", 8000, "TCP control port")
	networkCmd.Flags().StringVar(&netDHCP, "dhcp", "", "DHCP on or off")

	factoryResetCmd.Flags().BoolVar(&resetYes, "yes", false, "Confirm the factory reset")

	commandCmd.AddCommand(routeCmd, fanCmd, addressCmd, networkCmd, temperatureCmd, rebootCmd, factoryResetCmd, sendCmd)
}

// runDeviceCommand opens a session, runs send and prints the replies.
func runDeviceCommand(cmd *cobra.Command, send func(c *matrix.Client) error) error {
	s, _ := openCLISession(cmd, nil)
	defer s.Close()

	replies := newResponseCollector(s.Client)

	// Let the status dump that follows a connect pass before sending
	replies.wait(time.Duration(replyWait)*time.Millisecond, 200*time.Millisecond)

	if err := send(s.Client); err != nil {
		fmt.Fprintf(os.Stderr, "Command rejected: %v\n", err)
		s.Close()
		os.Exit(1)
	}

	settle := time.Duration(replyWait) * time.Millisecond
	for _, r := range replies.wait(3*settle, settle) {
		fmt.Print(matrix.FormatResponse(r))
	}
	return nil
}

// parsePorts reads 1-based input and output numbers.
func parsePorts(input, output string) (int, int, error) {
	in, err := strconv.Atoi(input)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid input %q", input)
	}
	out, err := strconv.Atoi(output)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid output %q", output)
	}
	return in, out, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "yes":
		return true, nil
	case "off", "0", "false", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}
