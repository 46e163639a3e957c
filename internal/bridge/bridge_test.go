// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/Thermoquad/matrixctl/internal/mqtt"
	"github.com/Thermoquad/matrixctl/pkg/matrix"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

// SimulateMessage delivers payload to the handler subscribed to topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return handler(topic, payload)
}

// Last returns the most recent message published on topic.
func (m *MockMQTTClient) Last(topic string) (mockPublish, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].Topic == topic {
			return m.published[i], true
		}
	}
	return mockPublish{}, false
}

func (m *MockMQTTClient) Count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.published {
		if p.Topic == topic {
			n++
		}
	}
	return n
}

// deviceLink is a serial link double feeding the client.
type deviceLink struct {
	mu     sync.Mutex
	sent   []string
	onData func(string)
}

func (l *deviceLink) Send(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, text)
	return nil
}

func (l *deviceLink) OnData(fn func(string)) { l.onData = fn }

func (l *deviceLink) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sent...)
}

func createTestBridge(t *testing.T, model matrix.Model) (*Bridge, *MockMQTTClient, *deviceLink) {
	t.Helper()

	link := &deviceLink{}
	client, err := matrix.New(matrix.Config{Model: model, Serial: link})
	if err != nil {
		t.Fatalf("matrix.New() error: %v", err)
	}

	mq := NewMockMQTTClient()
	b, err := New(Options{
		Client: client,
		MQTT:   mq,
		Topics: mqtt.NewTopics("matrixctl", "lobby"),
		QoS:    1,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(b.Stop)
	return b, mq, link
}

func decodeAck(t *testing.T, mq *MockMQTTClient) AckMessage {
	t.Helper()
	p, ok := mq.Last("matrixctl/lobby/ack")
	if !ok {
		t.Fatal("expected an ack")
	}
	if p.Retained {
		t.Error("acks must not be retained")
	}
	var ack AckMessage
	if err := json.Unmarshal(p.Payload, &ack); err != nil {
		t.Fatalf("failed to parse ack: %v", err)
	}
	return ack
}

func TestNew_RequiresDependencies(t *testing.T) {
	client, err := matrix.New(matrix.Config{Model: matrix.ModelHD4x2, Serial: &deviceLink{}})
	if err != nil {
		t.Fatalf("matrix.New() error: %v", err)
	}
	topics := mqtt.NewTopics("", "lobby")

	if _, err := New(Options{MQTT: NewMockMQTTClient(), Topics: topics}); err == nil {
		t.Error("expected error for nil matrix client")
	}
	if _, err := New(Options{Client: client, Topics: topics}); err == nil {
		t.Error("expected error for nil MQTT client")
	}
	if _, err := New(Options{Client: client, MQTT: NewMockMQTTClient()}); err == nil {
		t.Error("expected error for missing device name")
	}
}

func TestStart_PublishesStatusAndState(t *testing.T) {
	_, mq, _ := createTestBridge(t, matrix.ModelHD4x2)

	p, ok := mq.Last("matrixctl/lobby/status")
	if !ok || !p.Retained {
		t.Fatal("expected retained status message")
	}
	var status StatusMessage
	if err := json.Unmarshal(p.Payload, &status); err != nil {
		t.Fatalf("failed to parse status: %v", err)
	}
	if status.Status != "connected" || status.Model != "HDMX-4x2" {
		t.Errorf("unexpected status %+v", status)
	}

	if _, ok := mq.Last("matrixctl/lobby/state"); !ok {
		t.Error("expected state snapshot")
	}
}

func TestRoutingEvent_PublishesRetainedRoute(t *testing.T) {
	_, mq, link := createTestBridge(t, matrix.ModelHD4x2)

	link.onData("OUT2 VS IN3\r\n")

	p, ok := mq.Last("matrixctl/lobby/route/video/2")
	if !ok {
		t.Fatal("expected route topic")
	}
	if string(p.Payload) != "3" || !p.Retained {
		t.Errorf("route payload = %q retained=%v, want \"3\" retained", p.Payload, p.Retained)
	}

	p, _ = mq.Last("matrixctl/lobby/state")
	var state matrix.DeviceState
	if err := json.Unmarshal(p.Payload, &state); err != nil {
		t.Fatalf("failed to parse state: %v", err)
	}
	if state.VideoRoute[1] != 2 {
		t.Errorf("state video route = %v, want OUT2 from input index 2", state.VideoRoute)
	}
}

func TestSignalEvent_PublishesFlag(t *testing.T) {
	_, mq, link := createTestBridge(t, matrix.ModelHD4x2)

	link.onData("SIG STA IN4 1\r\n")

	p, ok := mq.Last("matrixctl/lobby/signal/4")
	if !ok || string(p.Payload) != "true" {
		t.Errorf("signal payload = %q, want true", p.Payload)
	}
}

func TestAudioRoute_PublishedOnlyWhenChanged(t *testing.T) {
	_, mq, link := createTestBridge(t, matrix.ModelHD4x2)

	link.onData("OUT1 AS IN2\r\n")
	link.onData("OUT1 AS IN2\r\n")

	if n := mq.Count("matrixctl/lobby/route/audio/1"); n != 1 {
		t.Errorf("expected one audio route publish, got %d", n)
	}
	if n := mq.Count("matrixctl/lobby/route/audio/2"); n != 0 {
		t.Errorf("unchanged output must not be published, got %d", n)
	}
}

func TestUnmatchedResponse_NoStatePublish(t *testing.T) {
	_, mq, link := createTestBridge(t, matrix.ModelHD4x2)
	before := mq.Count("matrixctl/lobby/state")

	link.onData("WELCOME\r\nHIP bogus\r\n")

	if after := mq.Count("matrixctl/lobby/state"); after != before {
		t.Errorf("state republished for unmatched or malformed lines: %d -> %d", before, after)
	}
}

func TestCommand_InvokesClient(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"route video", `{"id":"c1","command":"route_video","parameters":{"input":2,"output":1}}`, "SET OUT1 VS IN2\r\n"},
		{"route audio", `{"id":"c2","command":"route_audio","parameters":{"input":4,"output":2}}`, "SET OUT2 AS IN4\r\n"},
		{"query status", `{"id":"c3","command":"query_status"}`, "GET STA\r\n"},
		{"reboot", `{"id":"c4","command":"reboot"}`, "REBOOT\r\n"},
		{"raw", `{"id":"c5","command":"raw","parameters":{"text":"GET VER"}}`, "GET VER\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mq, link := createTestBridge(t, matrix.ModelHD4x2)

			if err := mq.SimulateMessage("matrixctl/lobby/command", []byte(tt.payload)); err != nil {
				t.Fatalf("handler error: %v", err)
			}

			lines := link.lines()
			if len(lines) != 1 || lines[0] != tt.want {
				t.Errorf("sent %q, want %q", lines, tt.want)
			}
			ack := decodeAck(t, mq)
			if ack.Status != AckAccepted || ack.Error != "" {
				t.Errorf("unexpected ack %+v", ack)
			}
		})
	}
}

func TestCommand_FailuresAcked(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"unknown command", `{"id":"c1","command":"teleport"}`},
		{"missing parameter", `{"id":"c2","command":"route_video","parameters":{"input":2}}`},
		{"fractional port", `{"id":"c3","command":"route_video","parameters":{"input":1.5,"output":1}}`},
		{"out of range", `{"id":"c4","command":"route_video","parameters":{"input":9,"output":1}}`},
		{"unsupported", `{"id":"c5","command":"set_fan_speed","parameters":{"speed":2}}`},
		{"wrong type", `{"id":"c6","command":"set_fan_auto","parameters":{"enabled":"yes"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mq, link := createTestBridge(t, matrix.ModelHD4x2)

			if err := mq.SimulateMessage("matrixctl/lobby/command", []byte(tt.payload)); err == nil {
				t.Error("expected handler error")
			}

			if lines := link.lines(); len(lines) != 0 {
				t.Errorf("nothing should be sent, got %q", lines)
			}
			ack := decodeAck(t, mq)
			if ack.Status != AckFailed || ack.Error == "" {
				t.Errorf("expected failed ack with reason, got %+v", ack)
			}
		})
	}
}

func TestCommand_InvalidJSON(t *testing.T) {
	_, mq, _ := createTestBridge(t, matrix.ModelHD4x2)

	if err := mq.SimulateMessage("matrixctl/lobby/command", []byte("{not json")); err == nil {
		t.Error("expected handler error")
	}
	ack := decodeAck(t, mq)
	if ack.Status != AckFailed || ack.CommandID == "" {
		t.Errorf("expected failed ack with generated ID, got %+v", ack)
	}
}

func TestCommand_GeneratesMissingID(t *testing.T) {
	_, mq, _ := createTestBridge(t, matrix.ModelHD16x8)

	if err := mq.SimulateMessage("matrixctl/lobby/command", []byte(`{"command":"set_fan_auto","parameters":{"enabled":true}}`)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if ack := decodeAck(t, mq); ack.CommandID == "" || ack.Status != AckAccepted {
		t.Errorf("unexpected ack %+v", ack)
	}
}

func TestStop_IgnoresEvents(t *testing.T) {
	b, mq, link := createTestBridge(t, matrix.ModelHD4x2)
	b.Stop()
	b.Stop()

	link.onData("OUT1 VS IN2\r\n")

	if _, ok := mq.Last("matrixctl/lobby/route/video/1"); ok {
		t.Error("stopped bridge must not publish")
	}
}
