// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
)

// fakePort is an in-memory serial port. Reads block until the test feeds
// data or closes the port.
type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	writeErr error

	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan []byte, 8),
		closed:   make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case data := <-p.incoming:
		return copy(b, data), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func openFake(t *testing.T, line LineConfig) (*SerialTransport, *fakePort, *serial.Mode) {
	t.Helper()

	port := newFakePort()
	var gotMode *serial.Mode
	tr, err := OpenSerial(SerialConfig{Port: "/dev/ttyUSB0", Line: line},
		WithPortOpener(func(name string, mode *serial.Mode) (Port, error) {
			if name != "/dev/ttyUSB0" {
				t.Errorf("Expected port /dev/ttyUSB0, got %s", name)
			}
			gotMode = mode
			return port, nil
		}))
	if err != nil {
		t.Fatalf("OpenSerial: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, port, gotMode
}

func TestOpenSerial_DefaultLine(t *testing.T) {
	_, _, mode := openFake(t, LineConfig{})

	if mode.BaudRate != 9600 || mode.DataBits != 8 {
		t.Errorf("Expected 9600 8N1, got %d baud %d data bits", mode.BaudRate, mode.DataBits)
	}
	if mode.Parity != serial.NoParity || mode.StopBits != serial.OneStopBit {
		t.Errorf("Expected no parity and one stop bit, got %v / %v", mode.Parity, mode.StopBits)
	}
}

func TestOpenSerial_InvalidConfiguration(t *testing.T) {
	if _, err := OpenSerial(SerialConfig{}); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration for missing port, got %v", err)
	}

	line := DefaultLine
	line.Handshake = "rts/cts"
	_, err := OpenSerial(SerialConfig{Port: "/dev/ttyS0", Line: line},
		WithPortOpener(func(string, *serial.Mode) (Port, error) {
			t.Fatal("port must not be opened with an unsupported handshake")
			return nil, nil
		}))
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration for handshake, got %v", err)
	}
}

func TestOpenSerial_OpenError(t *testing.T) {
	openErr := errors.New("permission denied")
	_, err := OpenSerial(SerialConfig{Port: "/dev/ttyS0"},
		WithPortOpener(func(string, *serial.Mode) (Port, error) {
			return nil, openErr
		}))
	if !errors.Is(err, openErr) {
		t.Errorf("Expected wrapped open error, got %v", err)
	}
}

func TestSerial_SendAndReceive(t *testing.T) {
	tr, port, _ := openFake(t, DefaultLine)

	received := make(chan string, 4)
	tr.OnData(func(s string) { received <- s })

	if err := tr.Send("GET STA\r\n"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if port.output() != "GET STA\r\n" {
		t.Errorf("Expected %q written, got %q", "GET STA\r\n", port.output())
	}

	port.incoming <- []byte("SIG STA IN1 1\r\n")
	select {
	case got := <-received:
		if got != "SIG STA IN1 1\r\n" {
			t.Errorf("Expected %q, got %q", "SIG STA IN1 1\r\n", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for data")
	}

	if tr.BytesSent() != 9 || tr.BytesReceived() != 15 {
		t.Errorf("Unexpected counters: sent %d received %d", tr.BytesSent(), tr.BytesReceived())
	}
}

func TestSerial_WriteErrorSurfaces(t *testing.T) {
	tr, port, _ := openFake(t, DefaultLine)
	port.writeErr = errors.New("device unplugged")

	if err := tr.Send("REBOOT\r\n"); !errors.Is(err, port.writeErr) {
		t.Errorf("Expected port write error, got %v", err)
	}
}

func TestSerial_Close(t *testing.T) {
	tr, _, _ := openFake(t, DefaultLine)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := tr.Send("GET STA\r\n"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestIsDisconnection(t *testing.T) {
	if !isDisconnection(io.EOF) {
		t.Error("EOF should count as disconnection")
	}
	if isDisconnection(errors.New("framing error")) {
		t.Error("Generic errors should not count as disconnection")
	}
}
