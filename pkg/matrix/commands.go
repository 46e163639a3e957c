// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package matrix

import (
	"errors"
	"fmt"
	"net/netip"
)

// Command builders return the wire text of a command without the line
// terminator. Port numbers are 1-based and are not validated here; the
// Client methods validate against the model before building.

const (
	cmdQueryStatus    = "GET STA"
	cmdGetTemperature = "GET TEMP"
	cmdReboot         = "REBOOT"
	cmdFactoryReset   = "RESET"

	// MaxSystemAddress is the highest RS-232 system address.
	MaxSystemAddress = 99

	// MaxFanSpeed is the highest fan speed the protocol can express.
	MaxFanSpeed = 255
)

// RouteVideoCommand switches the video of output to input.
func RouteVideoCommand(input, output int) string {
	return fmt.Sprintf("SET OUT%d VS IN%d", output, input)
}

// RouteAudioCommand switches the audio of output to input.
func RouteAudioCommand(input, output int) string {
	return fmt.Sprintf("SET OUT%d AS IN%d", output, input)
}

// VideoRoutingQuery asks which input feeds an output.
func VideoRoutingQuery(output int) string {
	return fmt.Sprintf("GET OUT%d VS", output)
}

// AudioRoutingQuery asks which input feeds an output's audio.
func AudioRoutingQuery(output int) string {
	return fmt.Sprintf("GET OUT%d AS", output)
}

// InputSignalQuery asks whether an input detects a signal.
func InputSignalQuery(input int) string {
	return fmt.Sprintf("GET SIG STA IN%d", input)
}

// SystemAddressCommand sets the two-digit system address.
func SystemAddressCommand(addr int) string {
	return fmt.Sprintf("SET ADDR %02d", addr)
}

// IPAddressCommand sets the static IP address.
func IPAddressCommand(ip netip.Addr) string { return "SET HIP " + ip.String() }

// GatewayCommand sets the gateway address.
func GatewayCommand(ip netip.Addr) string { return "SET RIP " + ip.String() }

// SubnetMaskCommand sets the subnet mask.
func SubnetMaskCommand(ip netip.Addr) string { return "SET NMK " + ip.String() }

// TCPPortCommand sets the TCP control port.
func TCPPortCommand(port int) string {
	return fmt.Sprintf("SET TIP %d", port)
}

// DHCPCommand turns DHCP on or off.
func DHCPCommand(on bool) string {
	return "SET DHCP " + flag(on)
}

// FanSpeedCommand sets a fixed fan speed.
func FanSpeedCommand(speed int) string {
	return fmt.Sprintf("SET FAN SPEED %d", speed)
}

// FanAutoCommand turns automatic fan control on or off.
func FanAutoCommand(on bool) string {
	return "SET FAN AUTO " + flag(on)
}

func flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// RouteVideoOutput switches the video of a 1-based output to a 1-based
// input.
func (c *Client) RouteVideoOutput(input, output int) error {
	if err := c.checkRoute(input, output); err != nil {
		return err
	}
	return c.send(RouteVideoCommand(input, output))
}

// RouteAudioOutput switches the audio of a 1-based output to a 1-based
// input.
func (c *Client) RouteAudioOutput(input, output int) error {
	if err := c.checkRoute(input, output); err != nil {
		return err
	}
	return c.send(RouteAudioCommand(input, output))
}

// GetOutputRoutingStatus asks for the video source of a 1-based output.
func (c *Client) GetOutputRoutingStatus(output int) error {
	if err := checkPort("output", output, c.model.Outputs); err != nil {
		return err
	}
	return c.send(VideoRoutingQuery(output))
}

// GetAudioRoutingStatus asks for the audio source of a 1-based output.
func (c *Client) GetAudioRoutingStatus(output int) error {
	if err := checkPort("output", output, c.model.Outputs); err != nil {
		return err
	}
	return c.send(AudioRoutingQuery(output))
}

// GetInputSignalStatus asks for the signal-detect flag of a 1-based input.
func (c *Client) GetInputSignalStatus(input int) error {
	if err := checkPort("input", input, c.model.Inputs); err != nil {
		return err
	}
	return c.send(InputSignalQuery(input))
}

// QueryStatus asks the device to report its full status.
func (c *Client) QueryStatus() error {
	return c.send(cmdQueryStatus)
}

// SetSystemAddress sets the RS-232 system address, 0 to 99.
func (c *Client) SetSystemAddress(addr int) error {
	if addr < 0 || addr > MaxSystemAddress {
		return fmt.Errorf("%w: system address %d (valid 0-%d)", ErrOutOfRange, addr, MaxSystemAddress)
	}
	return c.send(SystemAddressCommand(addr))
}

// SetIPAddress sets the static IPv4 address.
func (c *Client) SetIPAddress(ip netip.Addr) error {
	if err := checkIPv4("ip address", ip); err != nil {
		return err
	}
	return c.send(IPAddressCommand(ip))
}

// SetGateway sets the IPv4 gateway.
func (c *Client) SetGateway(ip netip.Addr) error {
	if err := checkIPv4("gateway", ip); err != nil {
		return err
	}
	return c.send(GatewayCommand(ip))
}

// SetSubnetMask sets the IPv4 subnet mask.
func (c *Client) SetSubnetMask(ip netip.Addr) error {
	if err := checkIPv4("subnet mask", ip); err != nil {
		return err
	}
	return c.send(SubnetMaskCommand(ip))
}

// SetTCPPort sets the TCP control port, 1 to 65535.
func (c *Client) SetTCPPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: tcp port %d", ErrOutOfRange, port)
	}
	return c.send(TCPPortCommand(port))
}

// SetDHCP turns DHCP on or off.
func (c *Client) SetDHCP(on bool) error {
	return c.send(DHCPCommand(on))
}

// SetFanSpeed sets a fixed fan speed on models with fan speed control.
func (c *Client) SetFanSpeed(speed int) error {
	if !c.model.SupportsFanSpeed() {
		return fmt.Errorf("%w: %s has no fan speed control", ErrUnsupportedOperation, c.model.Name)
	}
	if speed < 0 || speed > MaxFanSpeed {
		return fmt.Errorf("%w: fan speed %d (valid 0-%d)", ErrOutOfRange, speed, MaxFanSpeed)
	}
	return c.send(FanSpeedCommand(speed))
}

// SetFanAuto turns automatic fan control on or off.
func (c *Client) SetFanAuto(on bool) error {
	if !c.model.SupportsFanAuto() {
		return fmt.Errorf("%w: %s has no automatic fan control", ErrUnsupportedOperation, c.model.Name)
	}
	return c.send(FanAutoCommand(on))
}

// GetTemperature asks a model with a sensor for its temperature.
func (c *Client) GetTemperature() error {
	if !c.model.SupportsTemperature() {
		return fmt.Errorf("%w: %s has no temperature sensor", ErrUnsupportedOperation, c.model.Name)
	}
	return c.send(cmdGetTemperature)
}

// Reboot restarts the device.
func (c *Client) Reboot() error {
	return c.send(cmdReboot)
}

// FactoryReset restores factory settings, including the network setup.
func (c *Client) FactoryReset() error {
	return c.send(cmdFactoryReset)
}

// SendCustom sends text as a command line, unmodified.
func (c *Client) SendCustom(text string) error {
	return c.send(text)
}

func (c *Client) checkRoute(input, output int) error {
	if err := checkPort("input", input, c.model.Inputs); err != nil {
		return err
	}
	return checkPort("output", output, c.model.Outputs)
}

func checkIPv4(what string, ip netip.Addr) error {
	if !ip.Is4() {
		return fmt.Errorf("%w: %s %s is not an IPv4 address", ErrOutOfRange, what, ip)
	}
	return nil
}

// send terminates cmd and writes it on every attached link.
func (c *Client) send(cmd string) error {
	line := cmd + Delimiter

	var errs []error
	if c.stream != nil {
		if err := c.stream.Send(line); err != nil {
			errs = append(errs, fmt.Errorf("stream: %w", err))
		}
	}
	if c.serial != nil {
		if err := c.serial.Send(line); err != nil {
			errs = append(errs, fmt.Errorf("serial: %w", err))
		}
	}
	err := errors.Join(errs...)

	c.statsMu.Lock()
	c.stats.RecordCommand(err)
	c.statsMu.Unlock()

	if err != nil {
		c.logger.Debug("command not sent", "command", cmd, "error", err)
		return err
	}
	c.logger.Debug("command sent", "command", cmd)
	return nil
}
