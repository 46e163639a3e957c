// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gather

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

// ============================================================
// Construction Tests
// ============================================================

func TestNew_EmptyDelimiter(t *testing.T) {
	_, err := New("")
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestNewPattern_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"empty", ""},
		{"does not compile", `(\d+`},
		{"matches empty string", `\s*`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPattern(tt.pattern)
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("Expected ErrInvalidConfiguration for %q, got %v", tt.pattern, err)
			}
		})
	}
}

func TestDelimiter(t *testing.T) {
	g, _ := New("\r\n")
	if g.Delimiter() != "\r\n" {
		t.Errorf("Expected literal delimiter, got %q", g.Delimiter())
	}

	p, _ := NewPattern(`\d+\s+`)
	if p.Delimiter() != `\d+\s+` {
		t.Errorf("Expected pattern source, got %q", p.Delimiter())
	}
}

// ============================================================
// Feed Tests
// ============================================================

func TestFeed_SingleChunk(t *testing.T) {
	g, _ := New("\r\n")

	got := g.FeedAll("OUT1 VS IN2\r\nOUT2 VS IN1\r\npartial")
	want := []string{"OUT1 VS IN2", "OUT2 VS IN1"}
	if !slices.Equal(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if g.Buffered() != "partial" {
		t.Errorf("Expected buffer %q, got %q", "partial", g.Buffered())
	}
}

func TestFeed_EmptyInput(t *testing.T) {
	g, _ := New("\r\n")
	g.FeedAll("abc")

	if got := g.FeedAll(""); len(got) != 0 {
		t.Errorf("Expected no messages for empty input, got %q", got)
	}
	if g.Buffered() != "abc" {
		t.Errorf("Empty input should not touch the buffer, got %q", g.Buffered())
	}
}

func TestFeed_AdjacentDelimiters(t *testing.T) {
	g, _ := New("\r\n")

	got := g.FeedAll("a\r\n\r\nb\r\n")
	want := []string{"a", "", "b"}
	if !slices.Equal(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if g.Buffered() != "" {
		t.Errorf("Expected empty buffer, got %q", g.Buffered())
	}
}

func TestFeed_DelimiterSplitAcrossChunks(t *testing.T) {
	g, _ := New("\r\n")

	if got := g.FeedAll("GET STA\r"); len(got) != 0 {
		t.Fatalf("Half a delimiter should not close a message, got %q", got)
	}
	got := g.FeedAll("\nMAC 00:11")
	if !slices.Equal(got, []string{"GET STA"}) {
		t.Errorf("Expected [GET STA], got %q", got)
	}
	if g.Buffered() != "MAC 00:11" {
		t.Errorf("Expected buffer %q, got %q", "MAC 00:11", g.Buffered())
	}
}

func TestFeed_NoDelimiterAccumulates(t *testing.T) {
	g, _ := New("\r\n")
	chunks := []string{"SIG", " STA", " IN1", " 1", ""}

	for _, c := range chunks {
		if got := g.FeedAll(c); len(got) != 0 {
			t.Fatalf("Expected no messages, got %q", got)
		}
	}
	if want := strings.Join(chunks, ""); g.Buffered() != want {
		t.Errorf("Expected buffer %q, got %q", want, g.Buffered())
	}
}

// Every way of splitting the input into chunks must produce the same
// messages.
func TestFeed_ChunkSizeIndependence(t *testing.T) {
	messages := []string{"MAC AA:BB:CC:DD:EE:FF", "HIP 192.168.1.10", "", "OUT2 VS IN1", "SIG STA IN3 1"}
	for _, delim := range []string{"\r\n", "\n", "||", "END"} {
		input := strings.Join(messages, delim) + delim

		for size := 1; size <= len(input); size++ {
			g, err := New(delim)
			if err != nil {
				t.Fatalf("New(%q): %v", delim, err)
			}

			var got []string
			for off := 0; off < len(input); off += size {
				end := min(off+size, len(input))
				got = append(got, g.FeedAll(input[off:end])...)
			}

			if !slices.Equal(got, messages) {
				t.Fatalf("delim %q, chunk size %d: expected %q, got %q", delim, size, messages, got)
			}
			if g.Buffered() != "" {
				t.Fatalf("delim %q, chunk size %d: expected empty buffer, got %q", delim, size, g.Buffered())
			}
		}
	}
}

func TestFeed_EarlyBreakKeepsBuffer(t *testing.T) {
	g, _ := New("\r\n")

	for m := range g.Feed("one\r\ntwo\r\nthree") {
		if m != "one" {
			t.Errorf("Expected first message %q, got %q", "one", m)
		}
		break
	}
	if g.Buffered() != "three" {
		t.Errorf("Expected buffer %q after early break, got %q", "three", g.Buffered())
	}

	got := g.FeedAll("\r\n")
	if !slices.Equal(got, []string{"three"}) {
		t.Errorf("Expected [three], got %q", got)
	}
}

func TestFeed_Pattern(t *testing.T) {
	g, err := NewPattern(`\d+\s+`)
	if err != nil {
		t.Fatalf("NewPattern: %v", err)
	}

	got := g.FeedAll("alpha12 beta3\t")
	want := []string{"alpha", "beta"}
	if !slices.Equal(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}

	// The digit run is completed by the second chunk.
	if got := g.FeedAll("gamma4"); len(got) != 0 {
		t.Errorf("Expected no messages, got %q", got)
	}
	got = g.FeedAll("5 delta")
	if !slices.Equal(got, []string{"gamma"}) {
		t.Errorf("Expected [gamma], got %q", got)
	}
	if g.Buffered() != "delta" {
		t.Errorf("Expected buffer %q, got %q", "delta", g.Buffered())
	}
}

func TestReset(t *testing.T) {
	g, _ := New("\r\n")
	g.FeedAll("stale")
	g.Reset()

	got := g.FeedAll("fresh\r\n")
	if !slices.Equal(got, []string{"fresh"}) {
		t.Errorf("Expected [fresh] after reset, got %q", got)
	}
}
