// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/matrixctl/internal/config"
	"github.com/Thermoquad/matrixctl/internal/logging"
	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/Thermoquad/matrixctl/pkg/transport"
)

// Session is an open client and the transports behind it.
type Session struct {
	Client *matrix.Client
	Stream *transport.StreamTransport
	Serial *transport.SerialTransport
	Info   string
}

// GetPassword returns the WebSocket password from MATRIXCTL_PASSWORD, or
// prompts for it on the terminal.
func GetPassword() (string, error) {
	if password := os.Getenv("MATRIXCTL_PASSWORD"); password != "" {
		return password, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}

	// Not a terminal, read a line from stdin
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(password), nil
}

// loadConfig resolves the configuration from --config (or the environment
// when no file is given) and then the connection flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	} else {
		cfg = config.FromEnv()
		if os.Getenv("MATRIXCTL_LOG_LEVEL") == "" {
			cfg.Logging.Level = "warn"
		}
	}

	if err := applyFlags(cfg, cmd.Flags().Changed); err != nil {
		return nil, err
	}

	if cfg.Device.Transport == config.TransportWebSocket && cfg.Device.Password == "" {
		password, err := GetPassword()
		if err != nil {
			return nil, err
		}
		cfg.Device.Password = password
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overlays the flags for which changed reports true.
func applyFlags(cfg *config.Config, changed func(name string) bool) error {
	if changed("host") && changed("url") {
		return errors.New("cannot specify both --host and --url")
	}

	d := &cfg.Device
	if changed("model") {
		d.Model = modelName
	}
	if changed("host") {
		d.Host = host
		d.Transport = config.TransportTCP
	}
	if changed("tcp-port") {
		d.Port = tcpPort
	}
	if changed("url") {
		d.URL = wsURL
		d.Transport = config.TransportWebSocket
	}
	if changed("username") || d.Username == "" {
		d.Username = wsUsername
	}
	if changed("no-ssl-verify") {
		d.InsecureSkipVerify = wsNoSSLVerify
	}
	if changed("port") {
		d.SerialPort = portName
	}
	if changed("baud") {
		d.Baud = baudRate
	}
	if changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	// A bare --port means serial only.
	if d.Transport == config.TransportTCP && d.Host == "" && d.SerialPort != "" {
		d.Transport = config.TransportSerial
	}
	return nil
}

// OpenSession builds the transports and the client described by cfg. The
// stream is not connected until Start.
func OpenSession(cfg *config.Config, logger *logging.Logger) (*Session, error) {
	d := cfg.Device

	model, err := matrix.ModelByName(d.Model)
	if err != nil {
		return nil, err
	}

	s := &Session{}
	mc := matrix.Config{Model: model}
	var info []string

	var address string
	var dialer transport.Dialer
	switch d.Transport {
	case config.TransportTCP:
		address = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		dialer = transport.TCPDialer{}
		info = append(info, "TCP "+address)
	case config.TransportWebSocket:
		address = d.URL
		dialer = transport.WebSocketDialer{
			Username:           d.Username,
			Password:           d.Password,
			InsecureSkipVerify: d.InsecureSkipVerify,
		}
		info = append(info, "WebSocket "+address)
	}

	if dialer != nil {
		stream, err := transport.NewStreamTransport(transport.StreamConfig{
			Address: address,
			Dialer:  dialer,
			Reconnect: transport.ReconnectPolicy{
				Enabled:  d.Reconnect.Enabled,
				Interval: cfg.ReconnectInterval(),
			},
			Timeout:           cfg.DeviceTimeout(),
			ReceiveBufferSize: d.ReceiveBuffer,
		}, transport.WithLogger(logger.With("component", "stream")))
		if err != nil {
			return nil, err
		}
		s.Stream = stream
		mc.Stream = stream
	}

	if d.SerialPort != "" {
		line := transport.DefaultLine
		line.BaudRate = d.Baud
		serial, err := transport.OpenSerial(transport.SerialConfig{
			Port: d.SerialPort,
			Line: line,
		}, transport.WithLogger(logger.With("component", "serial")))
		if err != nil {
			if s.Stream != nil {
				s.Stream.Close()
			}
			return nil, err
		}
		s.Serial = serial
		mc.Serial = serial
		info = append(info, fmt.Sprintf("Serial %s @ %d baud", d.SerialPort, d.Baud))
	}

	client, err := matrix.New(mc, matrix.WithLogger(logger.With("component", "matrix")))
	if err != nil {
		s.closeTransports()
		return nil, err
	}
	s.Client = client
	s.Info = fmt.Sprintf("%s via %s", model.Name, strings.Join(info, " + "))
	return s, nil
}

// Start starts the client and waits up to timeout for the stream to
// connect. Serial-only sessions return as soon as the status query is sent.
func (s *Session) Start(timeout time.Duration) error {
	connected := make(chan struct{}, 1)
	s.Client.OnConnectionStatus(func(st transport.Status) {
		if st == transport.StatusConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	if err := s.Client.Start(); err != nil {
		return err
	}
	if s.Client.ConnectionStatus() == transport.StatusConnected {
		return nil
	}

	select {
	case <-connected:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("no connection to %s within %v", s.Stream.Address(), timeout)
	}
}

// Close stops the client and closes its transports.
func (s *Session) Close() error {
	if s.Client != nil {
		return s.Client.Close()
	}
	return s.closeTransports()
}

func (s *Session) closeTransports() error {
	var errs []error
	if s.Stream != nil {
		errs = append(errs, s.Stream.Close())
	}
	if s.Serial != nil {
		errs = append(errs, s.Serial.Close())
	}
	return errors.Join(errs...)
}

// openCLISession loads the configuration, opens a session and starts it.
// Errors are printed and exit with code 2, the connection error code shared
// by every command.
func openCLISession(cmd *cobra.Command, logger *logging.Logger) (*Session, *config.Config) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	if logger == nil {
		logger = logging.New(cfg.Logging, rootCmd.Version)
	}

	s, err := OpenSession(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	if err := s.Start(cfg.DeviceTimeout()); err != nil {
		s.Close()
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	return s, cfg
}
