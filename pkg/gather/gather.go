// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gather frames a character stream that arrives in arbitrarily sized
// chunks into complete, delimiter-terminated messages.
//
// A Gather keeps whatever text follows the last delimiter between calls, so
// the messages produced for a given input never depend on how that input was
// split into chunks.
package gather

import (
	"errors"
	"fmt"
	"iter"
	"regexp"
	"strings"
)

// ErrInvalidConfiguration is returned when a Gather is constructed with an
// unusable delimiter.
var ErrInvalidConfiguration = errors.New("gather: invalid configuration")

// Gather accumulates chunks and splits them on a delimiter.
//
// A Gather is not safe for concurrent use. Each inbound stream owns its own.
type Gather struct {
	literal string
	pattern *regexp.Regexp
	buffer  string
}

// New creates a Gather that splits on a literal delimiter such as "\r\n".
func New(delimiter string) (*Gather, error) {
	if delimiter == "" {
		return nil, fmt.Errorf("%w: empty delimiter", ErrInvalidConfiguration)
	}
	return &Gather{literal: delimiter}, nil
}

// NewPattern creates a Gather that splits on every match of a regular
// expression, e.g. `\d+\s+`. Patterns that can match the empty string are
// rejected since they would split between every character.
func NewPattern(pattern string) (*Gather, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty delimiter pattern", ErrInvalidConfiguration)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if re.MatchString("") {
		return nil, fmt.Errorf("%w: pattern %q matches the empty string", ErrInvalidConfiguration, pattern)
	}
	return &Gather{pattern: re}, nil
}

// Feed appends chunk to the retained buffer and returns the complete
// messages it closes, in order. An empty string between two adjacent
// delimiters is a message.
//
// The buffer is updated before Feed returns, so stopping the iteration early
// drops only the remaining messages of this call.
func (g *Gather) Feed(chunk string) iter.Seq[string] {
	if chunk == "" {
		return func(func(string) bool) {}
	}

	data := g.buffer + chunk
	bounds := g.locate(data)
	if len(bounds) == 0 {
		g.buffer = data
		return func(func(string) bool) {}
	}

	// Clone so the retained tail does not pin the whole combined string.
	g.buffer = strings.Clone(data[bounds[len(bounds)-1][1]:])

	return func(yield func(string) bool) {
		start := 0
		for _, b := range bounds {
			if !yield(data[start:b[0]]) {
				return
			}
			start = b[1]
		}
	}
}

// FeedAll is Feed collected into a slice.
func (g *Gather) FeedAll(chunk string) []string {
	var messages []string
	for m := range g.Feed(chunk) {
		messages = append(messages, m)
	}
	return messages
}

// Buffered returns the text received since the last delimiter.
func (g *Gather) Buffered() string {
	return g.buffer
}

// Reset discards buffered text.
func (g *Gather) Reset() {
	g.buffer = ""
}

// Delimiter returns the configured literal delimiter or pattern source.
func (g *Gather) Delimiter() string {
	if g.pattern != nil {
		return g.pattern.String()
	}
	return g.literal
}

// locate returns the [start, end) offsets of every non-overlapping delimiter
// occurrence in data, left to right.
func (g *Gather) locate(data string) [][]int {
	if g.pattern != nil {
		return g.pattern.FindAllStringIndex(data, -1)
	}

	var bounds [][]int
	offset := 0
	for {
		i := strings.Index(data[offset:], g.literal)
		if i < 0 {
			return bounds
		}
		start := offset + i
		end := start + len(g.literal)
		bounds = append(bounds, []int{start, end})
		offset = end
	}
}
