// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package matrix drives an AV matrix switcher over its line-based ASCII
// control protocol.
//
// A Client frames the text arriving on its transports into CR+LF lines,
// classifies each line against the known response shapes, keeps a mirror
// of the device state and notifies subscribers. Commands take 1-based port
// numbers, as printed on the device; state and notifications use 0-based
// indexes.
package matrix

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/gather"
	"github.com/Thermoquad/matrixctl/pkg/transport"
)

// Delimiter terminates every command and response line.
const Delimiter = "\r\n"

// Logger is the logging surface of the client. *slog.Logger satisfies it.
type Logger = transport.Logger

// Link is a transport the client can send on and receive from.
// *transport.SerialTransport satisfies it.
type Link interface {
	Send(text string) error
	OnData(fn func(string))
}

// StreamLink is a Link with a connection lifecycle.
// *transport.StreamTransport satisfies it.
type StreamLink interface {
	Link
	OnStatus(fn func(transport.Status))
	Status() transport.Status
	Connect() error
	Disconnect()
}

// Config attaches a model and at least one transport. When both are set,
// every command goes out on both.
type Config struct {
	Model  Model
	Stream StreamLink
	Serial Link
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client controls one switcher.
type Client struct {
	model  Model
	stream StreamLink
	serial Link
	logger Logger

	// One framer per link, so lines from two transports never interleave.
	streamMu     sync.Mutex
	streamFrames *gather.Gather
	serialMu     sync.Mutex
	serialFrames *gather.Gather

	mu    sync.RWMutex
	state DeviceState

	statsMu sync.Mutex
	stats   Statistics

	subs subscribers
}

// New creates a client and subscribes it to the configured transports.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Model.Validate(); err != nil {
		return nil, err
	}
	if cfg.Stream == nil && cfg.Serial == nil {
		return nil, fmt.Errorf("%w: at least one transport is required", ErrInvalidConfiguration)
	}

	c := &Client{
		model:  cfg.Model,
		stream: cfg.Stream,
		serial: cfg.Serial,
		logger: nopLogger{},
		state:  newDeviceState(cfg.Model),
		stats:  NewStatistics(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.stream != nil {
		framer, err := gather.New(Delimiter)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
		c.streamFrames = framer
		c.stream.OnStatus(c.handleStatus)
		c.stream.OnData(func(chunk string) {
			c.feed(&c.streamMu, c.streamFrames, chunk)
		})
	}
	if c.serial != nil {
		framer, err := gather.New(Delimiter)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
		c.serialFrames = framer
		c.serial.OnData(func(chunk string) {
			c.feed(&c.serialMu, c.serialFrames, chunk)
		})
	}

	return c, nil
}

// Model returns the model the client was built for.
func (c *Client) Model() Model {
	return c.model
}

// Start connects the stream transport and queries a serial-only link,
// which has no connect event to trigger the initial status query.
func (c *Client) Start() error {
	if c.stream != nil {
		if err := c.stream.Connect(); err != nil {
			return err
		}
	}
	if c.serial != nil {
		if err := c.serial.Send(cmdQueryStatus + Delimiter); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	return nil
}

// Stop disconnects the stream transport and suppresses reconnection.
func (c *Client) Stop() {
	if c.stream != nil {
		c.stream.Disconnect()
	}
}

// Close stops the client and closes any transport that can be closed.
func (c *Client) Close() error {
	c.Stop()

	var errs []error
	for _, link := range []any{c.stream, c.serial} {
		if closer, ok := link.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ConnectionStatus returns the stream transport status. A serial-only
// client is always Connected.
func (c *Client) ConnectionStatus() transport.Status {
	if c.stream == nil {
		return transport.StatusConnected
	}
	return c.stream.Status()
}

// State returns a copy of the mirrored device state.
func (c *Client) State() DeviceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// MAC returns the reported MAC address, empty until reported.
func (c *Client) MAC() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.MAC
}

// DHCP reports whether the device runs DHCP.
func (c *Client) DHCP() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.DHCP
}

// IPAddress returns the reported IP address, or the zero Addr.
func (c *Client) IPAddress() netip.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.IPAddress
}

// Gateway returns the reported gateway, or the zero Addr.
func (c *Client) Gateway() netip.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Gateway
}

// SubnetMask returns the reported subnet mask, or the zero Addr.
func (c *Client) SubnetMask() netip.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.SubnetMask
}

// TCPPort returns the reported TCP control port.
func (c *Client) TCPPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TCPPort
}

// SystemAddress returns the reported RS-232 system address.
func (c *Client) SystemAddress() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.SystemAddress
}

// FanSpeed returns the reported fan speed.
func (c *Client) FanSpeed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.FanSpeed
}

// FanAuto reports whether automatic fan control is on.
func (c *Client) FanAuto() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.FanAuto
}

// Temperature returns the last reported temperature in degrees Celsius.
func (c *Client) Temperature() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Temperature
}

// VideoRoute returns the 0-based input feeding a 0-based output, or
// NoRoute.
func (c *Client) VideoRoute(output int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if output < 0 || output >= len(c.state.VideoRoute) {
		return NoRoute
	}
	return c.state.VideoRoute[output]
}

// AudioRoute returns the 0-based input feeding a 0-based output's audio,
// or NoRoute.
func (c *Client) AudioRoute(output int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if output < 0 || output >= len(c.state.AudioRoute) {
		return NoRoute
	}
	return c.state.AudioRoute[output]
}

// InputSignal reports the signal-detect flag of a 0-based input.
func (c *Client) InputSignal(input int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if input < 0 || input >= len(c.state.InputSignal) {
		return false
	}
	return c.state.InputSignal[input]
}

// Statistics returns a snapshot of the response and command counters.
func (c *Client) Statistics() Statistics {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats.snapshot()
}

// ResetStatistics zeroes the counters.
func (c *Client) ResetStatistics() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.Reset()
}

func (c *Client) handleStatus(s transport.Status) {
	c.statsMu.Lock()
	c.stats.RecordStatus(s)
	c.statsMu.Unlock()

	c.logger.Info("connection status", "status", s.String(), "model", c.model.Name)
	if s != transport.StatusConnected {
		// A line cut off by the lost connection never completes.
		c.streamMu.Lock()
		if dropped := c.streamFrames.Buffered(); dropped != "" {
			c.logger.Debug("discarding partial line", "text", dropped)
		}
		c.streamFrames.Reset()
		c.streamMu.Unlock()
	}
	if s == transport.StatusConnected {
		if err := c.stream.Send(cmdQueryStatus + Delimiter); err != nil {
			c.logger.Warn("status query on connect failed", "error", err)
		}
	}
	c.subs.emitStatus(s)
}

// feed frames a chunk from one link and dispatches its lines in order.
func (c *Client) feed(mu *sync.Mutex, framer *gather.Gather, chunk string) {
	mu.Lock()
	defer mu.Unlock()

	for line := range framer.Feed(chunk) {
		c.dispatch(line)
	}
}

// dispatch classifies one line, applies it to the state and raises its
// notifications after the state lock is released.
func (c *Client) dispatch(line string) {
	kind, ch, err := classify(c.model, line)
	resp := Response{Time: time.Now(), Line: line, Kind: kind, Err: err}

	c.statsMu.Lock()
	c.stats.Update(resp)
	c.statsMu.Unlock()

	if err != nil {
		c.logger.Warn("malformed response", "line", line, "error", err)
		c.subs.emitError(err)
		c.subs.emitResponse(resp)
		return
	}

	if ch.apply != nil {
		c.mu.Lock()
		ch.apply(&c.state)
		c.mu.Unlock()
	}
	if kind == KindUnmatched && line != "" {
		c.logger.Debug("unmatched response", "line", line)
	}

	if ch.routing != nil {
		c.subs.emitRouting(*ch.routing)
	}
	if ch.signal != nil {
		c.subs.emitSignal(*ch.signal)
	}
	c.subs.emitResponse(resp)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
