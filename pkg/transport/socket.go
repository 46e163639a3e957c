// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is an established byte stream to the device. net.Conn satisfies it.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer opens a Conn. Dial must return promptly once ctx is cancelled.
type Dialer interface {
	Dial(ctx context.Context, address string, timeout time.Duration) (Conn, error)
}

// TCPDialer dials raw TCP, the native control port of the switchers.
type TCPDialer struct {
	// KeepAlive is passed to net.Dialer. Zero uses the net package default.
	KeepAlive time.Duration
}

// Dial connects to a host:port address.
func (d TCPDialer) Dial(ctx context.Context, address string, timeout time.Duration) (Conn, error) {
	nd := net.Dialer{Timeout: timeout, KeepAlive: d.KeepAlive}
	conn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", address, err)
	}
	return conn, nil
}

// WebSocketDialer reaches a device through a WebSocket serial bridge.
// Frames of either type are treated as stream bytes; outbound text is sent
// as text frames.
type WebSocketDialer struct {
	Username           string
	Password           string
	InsecureSkipVerify bool
}

// Dial connects to a ws:// or wss:// URL with optional HTTP Basic auth.
func (d WebSocketDialer) Dial(ctx context.Context, address string, timeout time.Duration) (Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrInvalidConfiguration, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported URL scheme %q (use ws:// or wss://)", ErrInvalidConfiguration, u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: d.InsecureSkipVerify,
		}
	}

	headers := http.Header{}
	if d.Username != "" && d.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(ctx, address, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s (HTTP %d): %w", address, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", address, err)
	}

	return &wsConn{conn: conn}, nil
}

// wsConn adapts a message-oriented WebSocket to a byte stream.
type wsConn struct {
	conn *websocket.Conn

	// Guarded by the single reader.
	buf []byte

	closeOnce sync.Once
	closeErr  error
}

func (w *wsConn) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, io.EOF
			}
			return 0, err
		}
		w.buf = data
	}

	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// SetReadDeadline is not forwarded: a gorilla connection is unusable after a
// read times out, so idle links are left to the bridge's own keepalive.
func (w *wsConn) SetReadDeadline(time.Time) error {
	return nil
}

func (w *wsConn) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}
