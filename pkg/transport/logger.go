// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

// Logger is the logging surface transports use. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type options struct {
	logger   Logger
	newTimer func(fn func(epoch uint64)) Timer
	openPort PortOpener
}

// Option configures a StreamTransport or SerialTransport.
type Option func(*options)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimer replaces the reconnect timer constructor.
func WithTimer(newTimer func(fn func(epoch uint64)) Timer) Option {
	return func(o *options) {
		if newTimer != nil {
			o.newTimer = newTimer
		}
	}
}

// WithPortOpener replaces the function used to open serial ports.
func WithPortOpener(open PortOpener) Option {
	return func(o *options) {
		if open != nil {
			o.openPort = open
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   nopLogger{},
		newTimer: NewTimer,
		openPort: openSerialPort,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
