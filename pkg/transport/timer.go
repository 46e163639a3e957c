// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"sync"
	"time"
)

// Timer is a reusable one-shot timer. Each Arm fires the callback at most
// once; re-arming a pending timer moves its deadline.
//
// Arm returns an epoch that increases with every call, and the callback
// receives the epoch of the arming that fired it. A callback that lost a
// race with Disarm and a later Arm carries an older epoch than the one the
// owner recorded.
type Timer interface {
	Arm(d time.Duration) uint64
	Disarm()
}

// NewTimer returns a Timer backed by a single time.Timer that calls fn on
// its own goroutine.
func NewTimer(fn func(epoch uint64)) Timer {
	return &afterFuncTimer{fn: fn}
}

type afterFuncTimer struct {
	mu    sync.Mutex
	fn    func(epoch uint64)
	timer *time.Timer
	armed bool
	epoch uint64
}

func (t *afterFuncTimer) Arm(d time.Duration) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.armed = true
	t.epoch++
	if t.timer == nil {
		t.timer = time.AfterFunc(d, t.fire)
		return t.epoch
	}
	t.timer.Stop()
	t.timer.Reset(d)
	return t.epoch
}

func (t *afterFuncTimer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.armed = false
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *afterFuncTimer) fire() {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	epoch := t.epoch
	t.mu.Unlock()

	t.fn(epoch)
}
