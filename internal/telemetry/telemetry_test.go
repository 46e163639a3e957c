// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Thermoquad/matrixctl/internal/config"
	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/Thermoquad/matrixctl/pkg/transport"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []string
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, write.PointToLineProtocol(p, time.Second))
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *fakeWriter) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.points...)
}

func newTestRecorder() (*Recorder, *fakeWriter) {
	w := &fakeWriter{}
	r := newRecorder(w, "lobby")
	r.now = func() time.Time { return time.Unix(1700000000, 0) }
	return r, w
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false}, "lobby")
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestPoints(t *testing.T) {
	r, w := newTestRecorder()

	r.Route(1, 2)
	r.Signal(3, true)
	r.Connection(transport.StatusConnected)
	r.Temperature(41)

	want := []string{
		"matrix_route,device=lobby,output=2 input=3i ",
		"matrix_signal,device=lobby,input=4 detected=true ",
		"matrix_connection,device=lobby connected=true,status=\"connected\" ",
		"matrix_temperature,device=lobby celsius=41i ",
	}
	got := w.lines()
	if len(got) != len(want) {
		t.Fatalf("expected %d points, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if !strings.HasPrefix(got[i], want[i]) {
			t.Errorf("point %d = %q, want prefix %q", i, got[i], want[i])
		}
	}
}

func TestAttach(t *testing.T) {
	r, w := newTestRecorder()

	var onData func(string)
	link := linkFunc(func(fn func(string)) { onData = fn })
	c, err := matrix.New(matrix.Config{Model: matrix.ModelHD16x8, Serial: link})
	if err != nil {
		t.Fatalf("matrix.New() error: %v", err)
	}
	r.Attach(c)

	onData("OUT1 VS IN5\r\nSIG STA IN2 0\r\nTEMP 39\r\nMAC 00:11:22:33:44:55\r\n")

	if n := len(w.lines()); n != 3 {
		t.Errorf("expected route, signal and temperature points, got %q", w.lines())
	}
}

func TestNilRecorderIsNoOp(t *testing.T) {
	r := Disabled()
	r.Route(0, 0)
	r.Signal(0, false)
	r.SetOnError(func(error) {})
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestClose_FlushesOnceAndStopsWrites(t *testing.T) {
	r, w := newTestRecorder()

	r.Close()
	r.Close()
	r.Route(0, 0)

	if w.flushes != 1 {
		t.Errorf("expected one flush, got %d", w.flushes)
	}
	if len(w.lines()) != 0 {
		t.Errorf("writes after Close must be dropped, got %q", w.lines())
	}
}

// linkFunc is a receive-only link for attaching a client.
type linkFunc func(fn func(string))

func (f linkFunc) Send(string) error       { return nil }
func (f linkFunc) OnData(fn func(string)) { f(fn) }
