// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package matrix

import (
	"slices"
	"sync"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/transport"
)

// RoutingChange reports the video source of an output. Both indexes are
// 0-based.
type RoutingChange struct {
	Output int
	Input  int
}

// SignalChange reports the signal-detect flag of a 0-based input.
type SignalChange struct {
	Input    int
	Detected bool
}

// Response is one framed line from the device and how it was classified.
type Response struct {
	Time time.Time
	Line string
	Kind Kind
	Err  error
}

// subscribers holds callbacks per event kind. Callbacks of one kind fire in
// registration order, outside the lock.
type subscribers struct {
	mu       sync.RWMutex
	status   []func(transport.Status)
	routing  []func(output, input int)
	signal   []func(input int, detected bool)
	errors   []func(error)
	response []func(Response)
}

func (s *subscribers) emitStatus(st transport.Status) {
	s.mu.RLock()
	fns := slices.Clone(s.status)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (s *subscribers) emitRouting(c RoutingChange) {
	s.mu.RLock()
	fns := slices.Clone(s.routing)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(c.Output, c.Input)
	}
}

func (s *subscribers) emitSignal(c SignalChange) {
	s.mu.RLock()
	fns := slices.Clone(s.signal)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(c.Input, c.Detected)
	}
}

func (s *subscribers) emitError(err error) {
	s.mu.RLock()
	fns := slices.Clone(s.errors)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (s *subscribers) emitResponse(r Response) {
	s.mu.RLock()
	fns := slices.Clone(s.response)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(r)
	}
}

// OnConnectionStatus registers a callback for stream transport status
// changes.
func (c *Client) OnConnectionStatus(fn func(transport.Status)) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	c.subs.status = append(c.subs.status, fn)
}

// OnRoutingChanged registers a callback for video route reports. It fires
// for every report, including ones that repeat the known route.
func (c *Client) OnRoutingChanged(fn func(output, input int)) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	c.subs.routing = append(c.subs.routing, fn)
}

// OnInputSignalChanged registers a callback for signal-detect reports.
func (c *Client) OnInputSignalChanged(fn func(input int, detected bool)) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	c.subs.signal = append(c.subs.signal, fn)
}

// OnError registers a callback for malformed responses. Errors wrap
// ErrMalformedResponse and unwrap to *MalformedResponseError.
func (c *Client) OnError(fn func(error)) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	c.subs.errors = append(c.subs.errors, fn)
}

// OnResponse registers a callback that sees every framed line after it
// has been classified and applied.
func (c *Client) OnResponse(fn func(Response)) {
	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()
	c.subs.response = append(c.subs.response, fn)
}
