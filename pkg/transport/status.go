// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"io"
	"net"
	"os"
)

// Status is the connection state of a StreamTransport.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// SocketStatus is what the underlying socket reports about the link.
type SocketStatus int

const (
	SocketConnected SocketStatus = iota
	SocketLinkLost
	SocketBrokenRemotely
	SocketBrokenLocally
	SocketOther
)

func (s SocketStatus) String() string {
	switch s {
	case SocketConnected:
		return "connected"
	case SocketLinkLost:
		return "link lost"
	case SocketBrokenRemotely:
		return "broken remotely"
	case SocketBrokenLocally:
		return "broken locally"
	case SocketOther:
		return "other"
	default:
		return "unknown"
	}
}

// IsLinkLoss reports whether the status means the connection is gone.
func (s SocketStatus) IsLinkLoss() bool {
	return s == SocketLinkLost || s == SocketBrokenRemotely || s == SocketBrokenLocally
}

// classifyReadError maps a read error to a socket status. Timeouts do not
// tear the connection down.
func classifyReadError(err error) SocketStatus {
	switch {
	case errors.Is(err, io.EOF):
		return SocketBrokenRemotely
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return SocketBrokenLocally
	case isTimeout(err):
		return SocketOther
	default:
		return SocketLinkLost
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
