// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

// Handshake is the flow-control setting of a serial line.
type Handshake string

const (
	HandshakeNone Handshake = "none"
)

// LineConfig is the fixed line setup applied when the port opens.
type LineConfig struct {
	BaudRate  int
	DataBits  int
	Parity    serial.Parity
	StopBits  serial.StopBits
	Handshake Handshake
}

// DefaultLine is the RS-232 setup of the matrix switchers: 9600 8N1, no
// flow control.
var DefaultLine = LineConfig{
	BaudRate:  9600,
	DataBits:  8,
	Parity:    serial.NoParity,
	StopBits:  serial.OneStopBit,
	Handshake: HandshakeNone,
}

// SerialConfig describes a serial connection to one device.
type SerialConfig struct {
	Port string
	Line LineConfig
}

// Port is the part of a serial port the transport uses. serial.Port
// satisfies it.
type Port interface {
	io.ReadWriteCloser
}

// PortOpener opens a named serial port.
type PortOpener func(name string, mode *serial.Mode) (Port, error)

func openSerialPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// ListSerialPorts returns the serial ports present on this machine.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// SerialTransport talks to a device over a wired serial line. A serial line
// has no connection state: it is ready as soon as the port is open.
type SerialTransport struct {
	name   string
	port   Port
	logger Logger

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	onData     []func(string)

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
	wg        sync.WaitGroup

	bytesRx atomic.Uint64
	bytesTx atomic.Uint64
}

// OpenSerial opens the port with the configured line settings and starts
// reading. Chunks that arrive before any OnData callback is registered are
// dropped.
func OpenSerial(cfg SerialConfig, opts ...Option) (*SerialTransport, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("%w: serial port is required", ErrInvalidConfiguration)
	}

	line := cfg.Line
	if line.BaudRate == 0 {
		line = DefaultLine
	}
	if line.DataBits == 0 {
		line.DataBits = DefaultLine.DataBits
	}
	if line.Handshake == "" {
		line.Handshake = HandshakeNone
	}
	if line.Handshake != HandshakeNone {
		return nil, fmt.Errorf("%w: handshake %q is not supported", ErrInvalidConfiguration, line.Handshake)
	}

	o := buildOptions(opts)
	mode := &serial.Mode{
		BaudRate: line.BaudRate,
		DataBits: line.DataBits,
		Parity:   line.Parity,
		StopBits: line.StopBits,
	}

	port, err := o.openPort(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}

	t := &SerialTransport{
		name:   cfg.Port,
		port:   port,
		logger: o.logger,
	}
	t.logger.Info("serial port open", "port", cfg.Port, "baud", line.BaudRate)

	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

// Name returns the port name.
func (t *SerialTransport) Name() string {
	return t.name
}

// OnData registers a callback for received text chunks. Callbacks run on
// the read goroutine in arrival order.
func (t *SerialTransport) OnData(fn func(string)) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.onData = append(t.onData, fn)
}

// Send writes text to the line. Errors come from the port driver and are
// not retried.
func (t *SerialTransport) Send(text string) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	n, err := t.port.Write([]byte(text))
	t.bytesTx.Add(uint64(n))
	if err != nil {
		t.logger.Warn("serial write failed", "port", t.name, "error", err)
		return fmt.Errorf("serial write %s: %w", t.name, err)
	}
	return nil
}

// Close closes the port and waits for the read goroutine to exit. It must
// not be called from a data callback.
func (t *SerialTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.port.Close()
		t.wg.Wait()
	})
	return t.closeErr
}

// BytesReceived returns the number of bytes read from the port.
func (t *SerialTransport) BytesReceived() uint64 {
	return t.bytesRx.Load()
}

// BytesSent returns the number of bytes written to the port.
func (t *SerialTransport) BytesSent() uint64 {
	return t.bytesTx.Load()
}

func (t *SerialTransport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, 1024)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.bytesRx.Add(uint64(n))
			t.deliver(string(buf[:n]))
		}
		if err == nil {
			continue
		}

		if t.closed.Load() {
			return
		}
		if isDisconnection(err) {
			t.logger.Error("serial port gone", "port", t.name, "error", err)
		} else {
			t.logger.Error("serial read failed", "port", t.name, "error", err)
		}
		return
	}
}

func (t *SerialTransport) deliver(chunk string) {
	t.handlersMu.RLock()
	handlers := t.onData
	t.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(chunk)
	}
}

// isDisconnection reports whether a port error means the device was
// removed rather than misconfigured.
func isDisconnection(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		}
	}
	return false
}
