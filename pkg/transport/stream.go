// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultReconnectInterval is the delay before a reconnect attempt.
	DefaultReconnectInterval = 5 * time.Second

	// MinReconnectInterval is the shortest accepted reconnect delay.
	MinReconnectInterval = time.Second

	// DefaultTimeout bounds dials and socket I/O.
	DefaultTimeout = 10 * time.Second

	// DefaultReceiveBufferSize is the size of a single socket read.
	DefaultReceiveBufferSize = 4096

	// DefaultSendQueueSize is the number of outbound messages buffered per
	// connection.
	DefaultSendQueueSize = 64
)

// ReconnectPolicy controls automatic reconnection after the link drops.
type ReconnectPolicy struct {
	Enabled  bool
	Interval time.Duration
}

// StreamConfig describes a stream connection to one device.
type StreamConfig struct {
	// Address is host:port for TCP or a ws:// URL for WebSocket bridges.
	Address string
	Dialer  Dialer

	Reconnect ReconnectPolicy

	// Timeout bounds dials and each read/write. Zero disables socket
	// deadlines; dials then rely on the dialer's own limits.
	Timeout time.Duration

	ReceiveBufferSize int
	SendQueueSize     int
}

// StreamStats holds operational counters.
type StreamStats struct {
	Connects           uint64
	ReconnectsArmed    uint64
	ConnectFailures    uint64
	BytesReceived      uint64
	BytesSent          uint64
	SendErrors         uint64
	LastStatus         Status
	ReconnectScheduled bool
}

// StreamTransport keeps a socket to one device and reconnects it after
// unsolicited drops.
//
// Status moves Disconnected -> Connecting -> Connected. When the link drops
// and reconnection is enabled the status returns to Connecting until the
// next attempt resolves. An explicit Disconnect suppresses reconnection
// until the next Connect.
//
// Status and data callbacks are never invoked with internal locks held, so
// they may call back into the transport. Status callbacks are delivered in
// transition order and never concurrently with each other. Data callbacks
// run on the connection's read goroutine in arrival order.
type StreamTransport struct {
	address   string
	dialer    Dialer
	policy    ReconnectPolicy
	bufSize   int
	queueSize int
	logger    Logger
	timeout   atomic.Int64

	mu                sync.Mutex
	status            Status
	generation        uint64
	attemptInProgress bool
	suppressedByUser  bool
	timerArmed        bool
	timerEpoch        uint64
	closed            bool
	conn              Conn
	sendQueue         chan []byte
	cancelDial        context.CancelFunc
	timer             Timer

	// Pending status notifications and the flag marking an active deliverer.
	pending    []Status
	notifying  bool
	onStatus   []func(Status)
	handlersMu sync.RWMutex
	onData     []func(string)

	wg sync.WaitGroup

	connects        atomic.Uint64
	reconnectsArmed atomic.Uint64
	connectFailures atomic.Uint64
	bytesRx         atomic.Uint64
	bytesTx         atomic.Uint64
	sendErrors      atomic.Uint64
}

// NewStreamTransport validates cfg and returns a disconnected transport.
func NewStreamTransport(cfg StreamConfig, opts ...Option) (*StreamTransport, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidConfiguration)
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidConfiguration)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", ErrInvalidConfiguration)
	}

	policy := cfg.Reconnect
	if policy.Interval == 0 {
		policy.Interval = DefaultReconnectInterval
	}
	if policy.Enabled && policy.Interval < MinReconnectInterval {
		return nil, fmt.Errorf("%w: reconnect interval %s is below %s",
			ErrInvalidConfiguration, policy.Interval, MinReconnectInterval)
	}

	bufSize := cfg.ReceiveBufferSize
	if bufSize <= 0 {
		bufSize = DefaultReceiveBufferSize
	}
	queueSize := cfg.SendQueueSize
	if queueSize <= 0 {
		queueSize = DefaultSendQueueSize
	}

	o := buildOptions(opts)
	t := &StreamTransport{
		address:   cfg.Address,
		dialer:    cfg.Dialer,
		policy:    policy,
		bufSize:   bufSize,
		queueSize: queueSize,
		logger:    o.logger,
		status:    StatusDisconnected,
	}
	t.timeout.Store(int64(cfg.Timeout))
	t.timer = o.newTimer(t.reconnectFired)
	return t, nil
}

// Address returns the configured remote address.
func (t *StreamTransport) Address() string {
	return t.address
}

// OnStatus registers a connection status callback.
func (t *StreamTransport) OnStatus(fn func(Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatus = append(t.onStatus, fn)
}

// OnData registers a callback for received text chunks.
func (t *StreamTransport) OnData(fn func(string)) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.onData = append(t.onData, fn)
}

// Status returns the current connection status.
func (t *StreamTransport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetTimeout changes the timeout used by subsequent dials, reads and writes.
// Operations already in progress keep their deadline.
func (t *StreamTransport) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.timeout.Store(int64(d))
}

// Timeout returns the current socket timeout.
func (t *StreamTransport) Timeout() time.Duration {
	return time.Duration(t.timeout.Load())
}

// Connect starts an asynchronous connection attempt and clears a previous
// user disconnect. The result is reported through OnStatus. Connect is a
// no-op while connected or while an attempt is already in flight; a pending
// reconnect is replaced by an immediate attempt.
func (t *StreamTransport) Connect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.suppressedByUser = false
	if t.status == StatusConnected || t.attemptInProgress {
		t.mu.Unlock()
		return nil
	}
	t.disarmLocked()
	t.startAttemptLocked()
	t.mu.Unlock()

	t.flush()
	return nil
}

// Disconnect closes the connection, cancels any in-flight attempt or pending
// reconnect, and suppresses reconnection until the next Connect. Calling it
// again is a no-op.
func (t *StreamTransport) Disconnect() {
	t.mu.Lock()
	t.suppressedByUser = true
	if t.status == StatusDisconnected && !t.timerArmed && !t.attemptInProgress && t.conn == nil {
		t.mu.Unlock()
		return
	}

	t.disarmLocked()
	if t.cancelDial != nil {
		t.cancelDial()
		t.cancelDial = nil
	}
	t.attemptInProgress = false
	t.generation++
	t.teardownLocked()
	t.setStatusLocked(StatusDisconnected)
	t.mu.Unlock()

	t.logger.Info("disconnected by request", "address", t.address)
	t.flush()
}

// Close disconnects and waits for the transport's goroutines to exit. It
// must not be called from a status or data callback.
func (t *StreamTransport) Close() error {
	t.Disconnect()

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

// Send queues text for transmission on the current connection. Write
// failures are logged and counted, never retried.
func (t *StreamTransport) Send(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusConnected || t.sendQueue == nil {
		return ErrNotConnected
	}
	select {
	case t.sendQueue <- []byte(text):
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Stats returns a snapshot of the operational counters.
func (t *StreamTransport) Stats() StreamStats {
	t.mu.Lock()
	status, armed := t.status, t.timerArmed
	t.mu.Unlock()

	return StreamStats{
		Connects:           t.connects.Load(),
		ReconnectsArmed:    t.reconnectsArmed.Load(),
		ConnectFailures:    t.connectFailures.Load(),
		BytesReceived:      t.bytesRx.Load(),
		BytesSent:          t.bytesTx.Load(),
		SendErrors:         t.sendErrors.Load(),
		LastStatus:         status,
		ReconnectScheduled: armed,
	}
}

// startAttemptLocked dials on a new goroutine. The generation captured here
// lets a later Disconnect discard the result.
func (t *StreamTransport) startAttemptLocked() {
	t.attemptInProgress = true
	t.generation++
	gen := t.generation

	ctx, cancel := context.WithCancel(context.Background())
	t.cancelDial = cancel
	t.setStatusLocked(StatusConnecting)

	timeout := t.Timeout()
	t.logger.Debug("connecting", "address", t.address, "timeout", timeout)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		conn, err := t.dialer.Dial(ctx, t.address, timeout)
		t.connectResult(gen, conn, err)
	}()
}

func (t *StreamTransport) connectResult(gen uint64, conn Conn, err error) {
	t.mu.Lock()
	if gen != t.generation || t.closed {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	t.attemptInProgress = false
	t.cancelDial = nil

	if err != nil {
		t.connectFailures.Add(1)
		if t.policy.Enabled && !t.suppressedByUser {
			t.logger.Warn("connect failed, will retry", "address", t.address, "error", err, "interval", t.policy.Interval)
			t.scheduleReconnectLocked()
		} else {
			t.logger.Warn("connect failed", "address", t.address, "error", err)
			t.setStatusLocked(StatusDisconnected)
		}
		t.mu.Unlock()
		t.flush()
		return
	}

	queue := make(chan []byte, t.queueSize)
	t.conn = conn
	t.sendQueue = queue
	t.connects.Add(1)
	t.setStatusLocked(StatusConnected)

	t.wg.Add(2)
	go t.readLoop(gen, conn)
	go t.writeLoop(conn, queue)
	t.mu.Unlock()

	t.logger.Info("connected", "address", t.address)
	t.flush()
}

// socketStatus handles a status reported by the connection of generation
// gen. Reports from connections that have since been replaced are dropped.
func (t *StreamTransport) socketStatus(gen uint64, status SocketStatus) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.unsolicitedLocked(status)
	t.mu.Unlock()
	t.flush()
}

// unsolicitedLocked reacts to a socket status the user did not ask for.
func (t *StreamTransport) unsolicitedLocked(status SocketStatus) {
	if !status.IsLinkLoss() {
		return
	}

	t.logger.Warn("connection lost", "address", t.address, "reason", status.String())
	if t.conn != nil {
		t.generation++
		t.teardownLocked()
	}

	if t.policy.Enabled && !t.suppressedByUser && !t.closed {
		t.setStatusLocked(StatusConnecting)
		t.scheduleReconnectLocked()
		return
	}
	t.setStatusLocked(StatusDisconnected)
}

// scheduleReconnectLocked arms the reconnect timer unless an attempt is
// already pending or in flight.
func (t *StreamTransport) scheduleReconnectLocked() {
	if t.attemptInProgress || t.timerArmed {
		return
	}
	t.timerArmed = true
	t.reconnectsArmed.Add(1)
	t.timerEpoch = t.timer.Arm(t.policy.Interval)
}

func (t *StreamTransport) disarmLocked() {
	if t.timerArmed {
		t.timerArmed = false
		t.timer.Disarm()
	}
}

// reconnectFired runs on the timer goroutine. epoch identifies the arming
// that fired; callbacks from an earlier arming are dropped.
func (t *StreamTransport) reconnectFired(epoch uint64) {
	t.mu.Lock()
	if !t.timerArmed || epoch != t.timerEpoch || t.closed || t.suppressedByUser {
		t.mu.Unlock()
		return
	}
	t.timerArmed = false
	if t.status == StatusConnected || t.attemptInProgress {
		t.mu.Unlock()
		return
	}
	t.logger.Info("reconnecting", "address", t.address)
	t.startAttemptLocked()
	t.mu.Unlock()
	t.flush()
}

// teardownLocked closes the current connection. Its reader and writer exit
// on their own.
func (t *StreamTransport) teardownLocked() {
	if t.conn == nil {
		return
	}
	close(t.sendQueue)
	t.sendQueue = nil
	if err := t.conn.Close(); err != nil {
		t.logger.Debug("close connection", "error", err)
	}
	t.conn = nil
}

func (t *StreamTransport) setStatusLocked(s Status) {
	if t.status == s {
		return
	}
	t.status = s
	t.pending = append(t.pending, s)
}

// flush delivers pending status notifications. Whichever goroutine finds
// no delivery in progress drains the queue; others return immediately, so
// callbacks see transitions one at a time and in order.
func (t *StreamTransport) flush() {
	t.mu.Lock()
	if t.notifying {
		t.mu.Unlock()
		return
	}
	t.notifying = true
	for len(t.pending) > 0 {
		s := t.pending[0]
		t.pending = t.pending[1:]
		handlers := slices.Clone(t.onStatus)
		t.mu.Unlock()

		for _, fn := range handlers {
			fn(s)
		}

		t.mu.Lock()
	}
	t.notifying = false
	t.mu.Unlock()
}

func (t *StreamTransport) readLoop(gen uint64, conn Conn) {
	defer t.wg.Done()

	buf := make([]byte, t.bufSize)
	for {
		if d := t.Timeout(); d > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(d))
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}

		n, err := conn.Read(buf)
		if n > 0 {
			t.bytesRx.Add(uint64(n))
			t.deliver(string(buf[:n]))
		}
		if err == nil {
			continue
		}

		status := classifyReadError(err)
		if status == SocketOther {
			t.logger.Debug("read timeout", "address", t.address, "error", err)
			continue
		}
		t.socketStatus(gen, status)
		return
	}
}

func (t *StreamTransport) writeLoop(conn Conn, queue <-chan []byte) {
	defer t.wg.Done()

	for data := range queue {
		if d := t.Timeout(); d > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(d))
		} else {
			_ = conn.SetWriteDeadline(time.Time{})
		}

		n, err := conn.Write(data)
		t.bytesTx.Add(uint64(n))
		if err != nil {
			t.sendErrors.Add(1)
			t.logger.Warn("send failed", "address", t.address, "error", err)
		}
	}
}

func (t *StreamTransport) deliver(chunk string) {
	t.handlersMu.RLock()
	handlers := t.onData
	t.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(chunk)
	}
}
