// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package matrix

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/matrixctl/pkg/transport"
)

var (
	// ErrInvalidConfiguration is returned by New for a bad model or when no
	// transport is attached.
	ErrInvalidConfiguration = errors.New("matrix: invalid configuration")

	// ErrNotConnected is returned when a command is sent while the stream
	// transport is not connected. It is the transport's own sentinel.
	ErrNotConnected = transport.ErrNotConnected

	// ErrOutOfRange is returned when a port number or setting is outside
	// what the model accepts. Nothing is sent.
	ErrOutOfRange = errors.New("matrix: out of range")

	// ErrUnsupportedOperation is returned when the model lacks the
	// capability a command needs. Nothing is sent.
	ErrUnsupportedOperation = errors.New("matrix: unsupported operation")

	// ErrMalformedResponse marks a response line whose field failed to
	// parse. It is reported through OnError, never returned from a call.
	ErrMalformedResponse = errors.New("matrix: malformed response")
)

// MalformedResponseError describes a response line that matched a known
// shape but carried an unusable field.
type MalformedResponseError struct {
	Line  string
	Field string
	Err   error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("matrix: malformed response %q: %s: %v", e.Line, e.Field, e.Err)
	}
	return fmt.Sprintf("matrix: malformed response %q: %s", e.Line, e.Field)
}

func (e *MalformedResponseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedResponse, e.Err}
	}
	return []error{ErrMalformedResponse}
}

func malformed(line, field string, err error) error {
	return &MalformedResponseError{Line: line, Field: field, Err: err}
}
