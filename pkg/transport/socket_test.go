// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestTCPDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write([]byte("MAC AA:BB:CC:DD:EE:FF\r\n"))
	}()

	conn, err := TCPDialer{}.Dial(context.Background(), ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "MAC AA:BB:CC:DD:EE:FF\r\n" {
		t.Errorf("Unexpected data %q", data)
	}
}

func TestWebSocketDialer_RejectsScheme(t *testing.T) {
	_, err := WebSocketDialer{}.Dial(context.Background(), "http://bridge.local/serial", time.Second)
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestWebSocketDialer_StreamsFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAuth := make(chan string, 1)
	gotText := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		// A response split over a text and a binary frame.
		c.WriteMessage(websocket.TextMessage, []byte("OUT1 VS "))
		c.WriteMessage(websocket.BinaryMessage, []byte("IN3\r\n"))

		_, data, err := c.ReadMessage()
		if err == nil {
			gotText <- string(data)
		}
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := WebSocketDialer{Username: "admin", Password: "secret"}.Dial(context.Background(), url, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if auth := <-gotAuth; auth != "Basic YWRtaW46c2VjcmV0" {
		t.Errorf("Unexpected Authorization header %q", auth)
	}

	var got strings.Builder
	buf := make([]byte, 4)
	for got.Len() < len("OUT1 VS IN3\r\n") {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got.Write(buf[:n])
	}
	if got.String() != "OUT1 VS IN3\r\n" {
		t.Errorf("Expected %q, got %q", "OUT1 VS IN3\r\n", got.String())
	}

	if _, err := conn.Write([]byte("GET STA\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case text := <-gotText:
		if text != "GET STA\r\n" {
			t.Errorf("Expected %q at the bridge, got %q", "GET STA\r\n", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Bridge did not receive the command")
	}

	// The bridge closing the socket reads as a remote close.
	_, err = conn.Read(buf)
	if classifyReadError(err) != SocketBrokenRemotely {
		t.Errorf("Expected broken remotely, got %v (%v)", classifyReadError(err), err)
	}
}
