// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package matrix

import (
	"errors"
	"net/netip"
	"slices"
	"sync"
	"testing"

	"github.com/Thermoquad/matrixctl/pkg/transport"
)

// ============================================================
// Test doubles
// ============================================================

// fakeLink records sent text and lets the test push received chunks.
type fakeLink struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	onData  []func(string)
}

func (l *fakeLink) Send(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, text)
	return nil
}

func (l *fakeLink) OnData(fn func(string)) {
	l.onData = append(l.onData, fn)
}

func (l *fakeLink) receive(chunk string) {
	for _, fn := range l.onData {
		fn(chunk)
	}
}

func (l *fakeLink) sentLines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.sent)
}

// fakeStream is a fakeLink with a connection status.
type fakeStream struct {
	fakeLink
	status      transport.Status
	onStatus    []func(transport.Status)
	connects    int
	disconnects int
}

func (s *fakeStream) Send(text string) error {
	if s.status != transport.StatusConnected {
		return transport.ErrNotConnected
	}
	return s.fakeLink.Send(text)
}

func (s *fakeStream) OnStatus(fn func(transport.Status)) { s.onStatus = append(s.onStatus, fn) }
func (s *fakeStream) Status() transport.Status           { return s.status }
func (s *fakeStream) Connect() error                     { s.connects++; return nil }
func (s *fakeStream) Disconnect()                        { s.disconnects++ }

func (s *fakeStream) setStatus(st transport.Status) {
	s.status = st
	for _, fn := range s.onStatus {
		fn(st)
	}
}

func newSerialClient(t *testing.T, m Model) (*Client, *fakeLink) {
	t.Helper()
	link := &fakeLink{}
	c, err := New(Config{Model: m, Serial: link})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, link
}

func newStreamClient(t *testing.T, m Model) (*Client, *fakeStream) {
	t.Helper()
	stream := &fakeStream{}
	c, err := New(Config{Model: m, Stream: stream})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, stream
}

// ============================================================
// Construction
// ============================================================

func TestNew_RequiresTransport(t *testing.T) {
	_, err := New(Config{Model: ModelHD4x2})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestNew_RejectsInvalidModel(t *testing.T) {
	_, err := New(Config{Model: Model{Name: "empty"}, Serial: &fakeLink{}})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestNew_InitialState(t *testing.T) {
	c, _ := newSerialClient(t, ModelHD8x4)
	s := c.State()

	if len(s.InputSignal) != 8 || len(s.VideoRoute) != 4 || len(s.AudioRoute) != 4 {
		t.Fatalf("Unexpected state sizes: %d inputs, %d/%d outputs",
			len(s.InputSignal), len(s.VideoRoute), len(s.AudioRoute))
	}
	for o := range 4 {
		if s.VideoRoute[o] != NoRoute || s.AudioRoute[o] != NoRoute {
			t.Errorf("Output %d should start unrouted, got video %d audio %d", o, s.VideoRoute[o], s.AudioRoute[o])
		}
	}
}

// ============================================================
// Routing round trip
// ============================================================

func TestRouteVideoOutput_RoundTrip(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)

	var events [][2]int
	c.OnRoutingChanged(func(output, input int) {
		events = append(events, [2]int{output, input})
	})

	if err := c.RouteVideoOutput(1, 2); err != nil {
		t.Fatalf("RouteVideoOutput: %v", err)
	}
	if got := link.sentLines(); !slices.Equal(got, []string{"SET OUT2 VS IN1\r\n"}) {
		t.Fatalf("Expected SET OUT2 VS IN1, got %q", got)
	}

	link.receive("OUT2 VS IN1\r\n")

	if c.VideoRoute(1) != 0 {
		t.Errorf("Expected output 1 routed to input 0, got %d", c.VideoRoute(1))
	}
	if len(events) != 1 || events[0] != [2]int{1, 0} {
		t.Errorf("Expected routing-changed(1, 0), got %v", events)
	}
}

func TestAudioRoute_UpdatesStateWithoutEvent(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)

	fired := false
	c.OnRoutingChanged(func(int, int) { fired = true })

	link.receive("OUT1 AS IN4\r\n")

	if c.AudioRoute(0) != 3 {
		t.Errorf("Expected audio of output 0 from input 3, got %d", c.AudioRoute(0))
	}
	if c.VideoRoute(0) != NoRoute {
		t.Errorf("Audio report must not touch video routing, got %d", c.VideoRoute(0))
	}
	if fired {
		t.Error("Audio route reports raise no routing event")
	}
}

func TestInputSignal_Event(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)

	type sig struct {
		input    int
		detected bool
	}
	var events []sig
	c.OnInputSignalChanged(func(input int, detected bool) {
		events = append(events, sig{input, detected})
	})

	link.receive("SIG STA IN3 1\r\nSIG STA IN3 0\r\n")

	want := []sig{{2, true}, {2, false}}
	if !slices.Equal(events, want) {
		t.Errorf("Expected %v, got %v", want, events)
	}
	if c.InputSignal(2) {
		t.Error("Expected input 2 without signal after the second report")
	}
}

func TestRoutingEvent_FiresOnRepeat(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)

	count := 0
	c.OnRoutingChanged(func(int, int) { count++ })
	link.receive("OUT1 VS IN1\r\nOUT1 VS IN1\r\n")

	if count != 2 {
		t.Errorf("Expected an event per report, got %d", count)
	}
}

func TestCallbacks_RegistrationOrder(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)

	var order []string
	c.OnRoutingChanged(func(int, int) { order = append(order, "first") })
	c.OnRoutingChanged(func(int, int) { order = append(order, "second") })
	c.OnRoutingChanged(func(int, int) { order = append(order, "third") })

	link.receive("OUT1 VS IN2\r\n")

	if !slices.Equal(order, []string{"first", "second", "third"}) {
		t.Errorf("Expected registration order, got %v", order)
	}
}

func TestCallback_SeesUpdatedState(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)

	seen := NoRoute
	c.OnRoutingChanged(func(output, _ int) {
		seen = c.VideoRoute(output)
	})
	link.receive("OUT2 VS IN4\r\n")

	if seen != 3 {
		t.Errorf("Callback should observe the applied route, got %d", seen)
	}
}

// ============================================================
// Malformed responses
// ============================================================

func TestMAC_Trimmed(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)

	link.receive("MAC AA:BB:CC:DD:EE:FF \r\n")

	if c.MAC() != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Expected MAC %q, got %q", "AA:BB:CC:DD:EE:FF", c.MAC())
	}
}

func TestHIP_Malformed(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)

	var errs []error
	c.OnError(func(err error) { errs = append(errs, err) })

	link.receive("HIP 192.168.1.10\r\n")
	link.receive("HIP not-an-ip\r\nOUT1 VS IN3\r\n")

	if len(errs) != 1 {
		t.Fatalf("Expected one error, got %v", errs)
	}
	if !errors.Is(errs[0], ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", errs[0])
	}
	var mre *MalformedResponseError
	if !errors.As(errs[0], &mre) || mre.Line != "HIP not-an-ip" {
		t.Errorf("Expected *MalformedResponseError for the HIP line, got %v", errs[0])
	}

	if want := netip.MustParseAddr("192.168.1.10"); c.IPAddress() != want {
		t.Errorf("IP address must keep its previous value %s, got %s", want, c.IPAddress())
	}
	if c.VideoRoute(0) != 2 {
		t.Errorf("Lines after a malformed one must still be processed, got route %d", c.VideoRoute(0))
	}
}

func TestMalformedFields(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"mac without value", "MAC"},
		{"gateway not ipv4", "RIP fe80::1"},
		{"subnet garbage", "NMK 255.255.255"},
		{"tcp port non-numeric", "TIP http"},
		{"tcp port too large", "TIP 70000"},
		{"address non-numeric", "ADDR xx"},
		{"fan speed missing", "FAN SPEED"},
		{"video output out of range", "OUT3 VS IN1"},
		{"video input out of range", "OUT1 VS IN5"},
		{"video input zero", "OUT1 VS IN0"},
		{"video input non-numeric", "OUT1 VS INx"},
		{"signal input out of range", "SIG STA IN9 1"},
		{"signal state non-numeric", "SIG STA IN1 yes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, link := newSerialClient(t, ModelHD4x2)
			before := c.State()

			var got error
			c.OnError(func(err error) { got = err })
			link.receive(tt.line + "\r\n")

			if !errors.Is(got, ErrMalformedResponse) {
				t.Errorf("Expected ErrMalformedResponse for %q, got %v", tt.line, got)
			}
			after := c.State()
			if after.MAC != before.MAC || after.TCPPort != before.TCPPort ||
				!slices.Equal(after.VideoRoute, before.VideoRoute) ||
				!slices.Equal(after.InputSignal, before.InputSignal) {
				t.Errorf("State changed after malformed %q", tt.line)
			}
		})
	}
}

// ============================================================
// Classification
// ============================================================

func TestClassification(t *testing.T) {
	tests := []struct {
		line  string
		kind  Kind
		check func(s DeviceState) bool
	}{
		{"MAC 00:1A:2B:3C:4D:5E", KindMAC, func(s DeviceState) bool { return s.MAC == "00:1A:2B:3C:4D:5E" }},
		{"DHCP 1", KindDHCP, func(s DeviceState) bool { return s.DHCP }},
		{"RIP 192.168.1.1", KindGateway, func(s DeviceState) bool { return s.Gateway.String() == "192.168.1.1" }},
		{"HIP 192.168.1.239", KindIPAddress, func(s DeviceState) bool { return s.IPAddress.String() == "192.168.1.239" }},
		{"NMK 255.255.255.0", KindSubnetMask, func(s DeviceState) bool { return s.SubnetMask.String() == "255.255.255.0" }},
		{"TIP 8000", KindTCPPort, func(s DeviceState) bool { return s.TCPPort == 8000 }},
		{"ADDR 05", KindSystemAddress, func(s DeviceState) bool { return s.SystemAddress == 5 }},
		{"FAN SPEED 3", KindFanSpeed, func(s DeviceState) bool { return s.FanSpeed == 3 }},
		{"FAN AUTO 1", KindFanAuto, func(s DeviceState) bool { return s.FanAuto }},
		{"OUT8 VS IN16", KindVideoRoute, func(s DeviceState) bool { return s.VideoRoute[7] == 15 }},
		{"OUT2 AS IN9", KindAudioRoute, func(s DeviceState) bool { return s.AudioRoute[1] == 8 }},
		{"SIG STA IN16 1", KindInputSignal, func(s DeviceState) bool { return s.InputSignal[15] }},
		{"TEMP 41", KindTemperature, func(s DeviceState) bool { return s.Temperature == 41 }},
		{"WELCOME", KindUnmatched, func(DeviceState) bool { return true }},
		{"", KindUnmatched, func(DeviceState) bool { return true }},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, link := newSerialClient(t, ModelHD16x8)

			var got Response
			c.OnResponse(func(r Response) { got = r })
			link.receive(tt.line + "\r\n")

			if got.Kind != tt.kind || got.Err != nil {
				t.Fatalf("Expected %s without error, got %s (%v)", tt.kind, got.Kind, got.Err)
			}
			if !tt.check(c.State()) {
				t.Errorf("State not updated for %q: %+v", tt.line, c.State())
			}
		})
	}
}

// A line matching several rules is handled by the first one only.
func TestClassification_FirstMatchWins(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)

	var got Response
	c.OnResponse(func(r Response) { got = r })

	// Contains both DHCP and HIP: DHCP is checked first.
	link.receive("DHCP 1 HIP 10.0.0.1\r\n")

	if got.Kind != KindDHCP {
		t.Errorf("Expected DHCP to win, got %s", got.Kind)
	}
	if !c.DHCP() || c.IPAddress().IsValid() {
		t.Errorf("Only the DHCP flag should change, got dhcp=%v ip=%s", c.DHCP(), c.IPAddress())
	}
}

func TestFanAuto_Disabled(t *testing.T) {
	c, link := newSerialClient(t, ModelHD8x4)

	link.receive("FAN AUTO 1\r\n")
	link.receive("FAN AUTO 0\r\n")
	if c.FanAuto() {
		t.Error("Expected fan auto off after FAN AUTO 0")
	}
}

func TestTemperature_IgnoredWithoutSensor(t *testing.T) {
	c, link := newSerialClient(t, ModelHD8x4)

	var got Response
	c.OnResponse(func(r Response) { got = r })
	link.receive("TEMP 41\r\n")

	if got.Kind != KindUnmatched || c.Temperature() != 0 {
		t.Errorf("Temperature should be ignored on %s, got %s temp=%d", ModelHD8x4.Name, got.Kind, c.Temperature())
	}
}

func TestChunkedResponses(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)

	for _, chunk := range []string{"OU", "T1 VS I", "N2\r", "\nSIG STA", " IN2 1\r\n"} {
		link.receive(chunk)
	}
	if c.VideoRoute(0) != 1 || !c.InputSignal(1) {
		t.Errorf("Chunked responses not applied: %+v", c.State())
	}
}

// ============================================================
// Transports
// ============================================================

func TestConnected_SendsStatusQuery(t *testing.T) {
	c, stream := newStreamClient(t, ModelHD4x2)

	var statuses []transport.Status
	c.OnConnectionStatus(func(s transport.Status) { statuses = append(statuses, s) })

	stream.setStatus(transport.StatusConnecting)
	if len(stream.sentLines()) != 0 {
		t.Fatalf("Nothing should be sent while connecting, got %q", stream.sentLines())
	}
	stream.setStatus(transport.StatusConnected)

	if got := stream.sentLines(); !slices.Equal(got, []string{"GET STA\r\n"}) {
		t.Errorf("Expected GET STA on connect, got %q", got)
	}
	want := []transport.Status{transport.StatusConnecting, transport.StatusConnected}
	if !slices.Equal(statuses, want) {
		t.Errorf("Expected %v, got %v", want, statuses)
	}
}

func TestReconnect_DropsPartialLine(t *testing.T) {
	c, stream := newStreamClient(t, ModelHD4x2)

	var errs []error
	c.OnError(func(err error) { errs = append(errs, err) })

	stream.setStatus(transport.StatusConnected)
	stream.receive("HIP 192.16")
	stream.setStatus(transport.StatusConnecting)
	stream.setStatus(transport.StatusConnected)
	stream.receive("OUT1 VS IN2\r\n")

	if got := c.VideoRoute(0); got != 1 {
		t.Errorf("Expected output 0 routed to input 1, got %d", got)
	}
	if len(errs) != 0 {
		t.Errorf("Expected no malformed responses, got %v", errs)
	}
	if ip := c.IPAddress(); ip.IsValid() {
		t.Errorf("Partial HIP line must not set the address, got %s", ip)
	}
}

func TestDisconnected_DropsPartialLine(t *testing.T) {
	c, stream := newStreamClient(t, ModelHD4x2)

	stream.setStatus(transport.StatusConnected)
	stream.receive("MAC AA:BB")
	stream.setStatus(transport.StatusDisconnected)
	stream.setStatus(transport.StatusConnected)
	stream.receive("OUT2 VS IN1\r\n")

	if got := c.MAC(); got != "" {
		t.Errorf("Expected no MAC from a cut-off line, got %q", got)
	}
	if got := c.VideoRoute(1); got != 0 {
		t.Errorf("Expected output 1 routed to input 0, got %d", got)
	}
	if stats := c.Statistics(); stats.Malformed != 0 || stats.Unmatched != 0 {
		t.Errorf("Expected one clean line, got malformed=%d unmatched=%d", stats.Malformed, stats.Unmatched)
	}
}

func TestSend_NotConnected(t *testing.T) {
	c, _ := newStreamClient(t, ModelHD4x2)

	err := c.QueryStatus()
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if c.Statistics().NotConnected != 1 {
		t.Errorf("Expected the failure to be counted")
	}
}

func TestSend_BothTransports(t *testing.T) {
	stream := &fakeStream{status: transport.StatusConnected}
	serial := &fakeLink{}
	c, err := New(Config{Model: ModelHD4x2, Stream: stream, Serial: serial})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Reboot(); err != nil {
		t.Fatalf("Reboot: %v", err)
	}
	for name, got := range map[string][]string{"stream": stream.sentLines(), "serial": serial.sentLines()} {
		if !slices.Equal(got, []string{"REBOOT\r\n"}) {
			t.Errorf("Expected REBOOT on %s, got %q", name, got)
		}
	}
}

func TestSend_SerialStillSentWhenStreamDown(t *testing.T) {
	stream := &fakeStream{}
	serial := &fakeLink{}
	c, _ := New(Config{Model: ModelHD4x2, Stream: stream, Serial: serial})

	err := c.QueryStatus()
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from the stream, got %v", err)
	}
	if got := serial.sentLines(); !slices.Equal(got, []string{"GET STA\r\n"}) {
		t.Errorf("Expected GET STA on serial, got %q", got)
	}
}

// Lines split across chunks on one transport must not pick up text from
// the other.
func TestFramerPerTransport(t *testing.T) {
	stream := &fakeStream{status: transport.StatusConnected}
	serial := &fakeLink{}
	c, _ := New(Config{Model: ModelHD4x2, Stream: stream, Serial: serial})

	stream.receive("OUT1 VS")
	serial.receive("SIG STA IN1 1\r\n")
	stream.receive(" IN2\r\n")

	if c.VideoRoute(0) != 1 {
		t.Errorf("Expected stream line to complete, got route %d", c.VideoRoute(0))
	}
	if !c.InputSignal(0) {
		t.Error("Expected serial line to be applied")
	}
}

func TestStart(t *testing.T) {
	c, stream := newStreamClient(t, ModelHD4x2)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if stream.connects != 1 {
		t.Errorf("Expected Connect, got %d calls", stream.connects)
	}

	c.Stop()
	if stream.disconnects != 1 {
		t.Errorf("Expected Disconnect, got %d calls", stream.disconnects)
	}

	sc, link := newSerialClient(t, ModelHD4x2)
	if err := sc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := link.sentLines(); !slices.Equal(got, []string{"GET STA\r\n"}) {
		t.Errorf("Expected GET STA on serial start, got %q", got)
	}
	if sc.ConnectionStatus() != transport.StatusConnected {
		t.Errorf("Serial-only client should report Connected")
	}
}

func TestState_IsCopy(t *testing.T) {
	c, link := newSerialClient(t, ModelHD4x2)
	link.receive("OUT1 VS IN2\r\n")

	s := c.State()
	s.VideoRoute[0] = 3
	if c.VideoRoute(0) != 1 {
		t.Error("Mutating a State copy must not affect the client")
	}
}
