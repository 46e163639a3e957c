// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge mirrors a matrix client onto MQTT.
//
// Device status, state, video and audio routes and input signal flags are
// published as retained topics. Commands arrive as JSON on the command
// topic and every command is answered on the ack topic.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Thermoquad/matrixctl/internal/mqtt"
	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/Thermoquad/matrixctl/pkg/transport"
)

// MQTTClient is the part of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds what a bridge needs.
type Options struct {
	Client *matrix.Client
	MQTT   MQTTClient
	Topics mqtt.Topics
	QoS    byte
	Logger Logger
}

// Bridge connects one matrix client to one MQTT client.
type Bridge struct {
	client *matrix.Client
	mqtt   MQTTClient
	topics mqtt.Topics
	qos    byte
	logger Logger

	// audio routes have no event of their own; changes are found by
	// comparing against the last published set.
	audioMu   sync.Mutex
	lastAudio []int

	startOnce sync.Once
	stopped   chan struct{}
	stopOnce  sync.Once
}

// New creates a bridge. Call Start to begin publishing.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, errors.New("bridge: matrix client is required")
	}
	if opts.MQTT == nil {
		return nil, errors.New("bridge: MQTT client is required")
	}
	if opts.Topics.Device == "" {
		return nil, errors.New("bridge: device name is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Bridge{
		client:  opts.Client,
		mqtt:    opts.MQTT,
		topics:  opts.Topics,
		qos:     opts.QoS,
		logger:  logger,
		stopped: make(chan struct{}),
	}, nil
}

// Start subscribes to the command topic, hooks the client events and
// publishes the current status and state. Start registers callbacks on
// the client, so it must be called at most once.
func (b *Bridge) Start() error {
	var err error
	b.startOnce.Do(func() {
		if err = b.mqtt.Subscribe(b.topics.Command(), 1, b.handleCommand); err != nil {
			err = fmt.Errorf("subscribe to commands: %w", err)
			return
		}
		b.logger.Info("subscribed to commands", "topic", b.topics.Command())

		b.client.OnConnectionStatus(b.publishStatus)
		b.client.OnRoutingChanged(b.publishVideoRoute)
		b.client.OnInputSignalChanged(b.publishSignal)
		b.client.OnResponse(b.handleResponse)

		b.audioMu.Lock()
		b.lastAudio = b.client.State().AudioRoute
		b.audioMu.Unlock()

		b.publishStatus(b.client.ConnectionStatus())
		b.publishState()
	})
	return err
}

// Stop makes the bridge ignore further events and commands.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopped)
		b.logger.Info("bridge stopped")
	})
}

// Resync republishes status and state, for use after an MQTT reconnect.
func (b *Bridge) Resync() {
	if b.isStopped() {
		return
	}
	b.publishStatus(b.client.ConnectionStatus())
	b.publishState()
}

func (b *Bridge) isStopped() bool {
	select {
	case <-b.stopped:
		return true
	default:
		return false
	}
}

func (b *Bridge) publishStatus(s transport.Status) {
	if b.isStopped() {
		return
	}
	b.publishJSON(b.topics.Status(), StatusMessage{
		Status:    strings.ToLower(s.String()),
		Model:     b.client.Model().Name,
		Timestamp: time.Now().UTC(),
	}, true)
}

func (b *Bridge) publishState() {
	b.publishJSON(b.topics.State(), b.client.State(), true)
}

func (b *Bridge) publishVideoRoute(output, input int) {
	if b.isStopped() {
		return
	}
	b.publish(b.topics.VideoRoute(output+1), []byte(portValue(input)), true)
}

func (b *Bridge) publishSignal(input int, detected bool) {
	if b.isStopped() {
		return
	}
	b.publish(b.topics.Signal(input+1), []byte(fmt.Sprint(detected)), true)
}

// handleResponse republishes the state snapshot after every line that
// changed it, and the audio routes that differ from the last report.
func (b *Bridge) handleResponse(r matrix.Response) {
	if b.isStopped() || r.Err != nil || r.Kind == matrix.KindUnmatched {
		return
	}
	state := b.client.State()
	b.publishJSON(b.topics.State(), state, true)

	if r.Kind != matrix.KindAudioRoute {
		return
	}
	b.audioMu.Lock()
	changed := make(map[int]int)
	for out, in := range state.AudioRoute {
		if out >= len(b.lastAudio) || b.lastAudio[out] != in {
			changed[out] = in
		}
	}
	b.lastAudio = slices.Clone(state.AudioRoute)
	b.audioMu.Unlock()

	for out, in := range changed {
		b.publish(b.topics.AudioRoute(out+1), []byte(portValue(in)), true)
	}
}

// handleCommand decodes, runs and acknowledges one command.
func (b *Bridge) handleCommand(_ string, payload []byte) error {
	if b.isStopped() {
		return nil
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.ack(CommandMessage{ID: uuid.NewString()}, fmt.Errorf("invalid command payload: %w", err))
		return fmt.Errorf("parse command: %w", err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logger.Info("received command", "command_id", cmd.ID, "command", cmd.Command)

	err := b.execute(cmd)
	b.ack(cmd, err)
	return err
}

func (b *Bridge) execute(cmd CommandMessage) error {
	p := cmd.Parameters

	switch cmd.Command {
	case CommandRouteVideo, CommandRouteAudio:
		input, err := intParam(p, "input")
		if err != nil {
			return err
		}
		output, err := intParam(p, "output")
		if err != nil {
			return err
		}
		if cmd.Command == CommandRouteVideo {
			return b.client.RouteVideoOutput(input, output)
		}
		return b.client.RouteAudioOutput(input, output)

	case CommandQueryStatus:
		return b.client.QueryStatus()

	case CommandFanSpeed:
		speed, err := intParam(p, "speed")
		if err != nil {
			return err
		}
		return b.client.SetFanSpeed(speed)

	case CommandFanAuto:
		on, err := boolParam(p, "enabled")
		if err != nil {
			return err
		}
		return b.client.SetFanAuto(on)

	case CommandReboot:
		return b.client.Reboot()

	case CommandRaw:
		text, err := stringParam(p, "text")
		if err != nil {
			return err
		}
		return b.client.SendCustom(text)

	default:
		return fmt.Errorf("unknown command: %q", cmd.Command)
	}
}

func (b *Bridge) ack(cmd CommandMessage, err error) {
	a := AckMessage{
		CommandID: cmd.ID,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		a.Status = AckFailed
		a.Error = err.Error()
		b.logger.Warn("command failed", "command_id", cmd.ID, "command", cmd.Command, "error", err)
	}
	b.publishJSON(b.topics.Ack(), a, false)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal payload", "topic", topic, "error", err)
		return
	}
	b.publish(topic, payload, retained)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.logger.Warn("failed to publish", "topic", topic, "error", err)
	}
}

// portValue renders a 0-based port index as its 1-based number, or an
// empty payload when nothing is routed.
func portValue(index int) string {
	if index == matrix.NoRoute {
		return ""
	}
	return fmt.Sprint(index + 1)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
