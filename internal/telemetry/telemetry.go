// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry records switcher events in InfluxDB.
//
// Writes go through the non-blocking batched write API. Measurements:
//
//	matrix_route       tags device, output   field input (1-based, 0 = none)
//	matrix_signal      tags device, input    field detected
//	matrix_connection  tags device           fields status, connected
//	matrix_temperature tags device           field celsius
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Thermoquad/matrixctl/internal/config"
	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/Thermoquad/matrixctl/pkg/transport"
)

var (
	ErrDisabled         = errors.New("telemetry: disabled in configuration")
	ErrConnectionFailed = errors.New("telemetry: connection failed")
)

const (
	defaultConnectTimeout = 10 * time.Second
	millisecondsPerSecond = 1000
)

// pointWriter is the part of api.WriteAPI the recorder uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder writes points for one device. A nil *Recorder, or one from
// Disabled, accepts every call and writes nothing.
type Recorder struct {
	client influxdb2.Client
	writer pointWriter
	device string

	mu     sync.RWMutex
	closed bool

	onError func(err error)
	now     func() time.Time
}

// Connect pings the server and sets up a batched writer for device.
// It returns ErrDisabled when cfg.Enabled is false.
func Connect(cfg config.InfluxDBConfig, device string) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	r := newRecorder(writeAPI, device)
	r.client = client

	go r.handleWriteErrors(writeAPI.Errors())

	return r, nil
}

// Disabled returns a recorder that discards everything.
func Disabled() *Recorder {
	return nil
}

func newRecorder(w pointWriter, device string) *Recorder {
	return &Recorder{writer: w, device: device, now: time.Now}
}

func (r *Recorder) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		r.mu.RLock()
		callback := r.onError
		r.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets a callback for asynchronous write failures.
func (r *Recorder) SetOnError(callback func(err error)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = callback
}

// Attach records the routing, signal, connection and temperature events of
// c.
func (r *Recorder) Attach(c *matrix.Client) {
	if r == nil {
		return
	}
	c.OnRoutingChanged(r.Route)
	c.OnInputSignalChanged(r.Signal)
	c.OnConnectionStatus(r.Connection)
	c.OnResponse(func(resp matrix.Response) {
		if resp.Kind == matrix.KindTemperature && resp.Err == nil {
			r.Temperature(c.Temperature())
		}
	})
}

// Route records the source of a 0-based output.
func (r *Recorder) Route(output, input int) {
	r.write("matrix_route",
		map[string]string{"output": strconv.Itoa(output + 1)},
		map[string]any{"input": input + 1},
	)
}

// Signal records the signal flag of a 0-based input.
func (r *Recorder) Signal(input int, detected bool) {
	r.write("matrix_signal",
		map[string]string{"input": strconv.Itoa(input + 1)},
		map[string]any{"detected": detected},
	)
}

// Connection records a transport status change.
func (r *Recorder) Connection(s transport.Status) {
	r.write("matrix_connection", nil, map[string]any{
		"status":    s.String(),
		"connected": s == transport.StatusConnected,
	})
}

func (r *Recorder) Temperature(celsius int) {
	r.write("matrix_temperature", nil, map[string]any{"celsius": celsius})
}

func (r *Recorder) write(measurement string, tags map[string]string, fields map[string]any) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	all := map[string]string{"device": r.device}
	for k, v := range tags {
		all[k] = v
	}
	r.writer.WritePoint(write.NewPoint(measurement, all, fields, r.now()))
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
	return nil
}
