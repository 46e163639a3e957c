// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import "errors"

var (
	// ErrInvalidConfiguration is returned when a transport is constructed
	// without a usable address, dialer or line configuration.
	ErrInvalidConfiguration = errors.New("transport: invalid configuration")

	// ErrNotConnected is returned by StreamTransport.Send when the link is
	// not in the Connected state. Callers may retry after observing a
	// Connected status notification.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrSendQueueFull is returned when outbound text is produced faster than
	// the connection drains it.
	ErrSendQueueFull = errors.New("transport: send queue full")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")
)
