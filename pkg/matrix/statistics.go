// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package matrix

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/transport"
)

// Statistics tracks response classification and command counts
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Responses
	TotalResponses uint64
	Classified     uint64
	Unmatched      uint64
	Malformed      uint64
	OutOfRange     uint64 // malformed reports naming a port the model lacks
	ByKind         map[Kind]uint64

	// Commands
	CommandsSent   uint64
	CommandErrors  uint64
	NotConnected   uint64
	Connects       uint64
	ConnectionLoss uint64

	// Rates (calculated)
	ResponseRate float64 // responses/sec
	ErrorRate    float64 // malformed/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() Statistics {
	now := time.Now()
	return Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByKind:         make(map[Kind]uint64),
	}
}

// Update counts one classified response
func (s *Statistics) Update(r Response) {
	s.TotalResponses++
	s.LastUpdateTime = r.Time

	switch {
	case r.Err != nil:
		s.Malformed++
		if errors.Is(r.Err, ErrOutOfRange) {
			s.OutOfRange++
		}
	case r.Kind == KindUnmatched:
		s.Unmatched++
	default:
		s.Classified++
	}
	if r.Kind != KindUnmatched {
		s.ByKind[r.Kind]++
	}
}

// RecordCommand counts one command and its send result
func (s *Statistics) RecordCommand(err error) {
	if err == nil {
		s.CommandsSent++
		return
	}
	s.CommandErrors++
	if errors.Is(err, ErrNotConnected) {
		s.NotConnected++
	}
}

// RecordStatus counts connection transitions
func (s *Statistics) RecordStatus(st transport.Status) {
	switch st {
	case transport.StatusConnected:
		s.Connects++
	case transport.StatusConnecting:
		if s.Connects > 0 {
			s.ConnectionLoss++
		}
	}
}

// CalculateRates calculates response and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ResponseRate = float64(s.TotalResponses) / elapsed
		s.ErrorRate = float64(s.Malformed) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var classifiedPercent, unmatchedPercent, malformedPercent float64
	if s.TotalResponses > 0 {
		classifiedPercent = float64(s.Classified) * 100.0 / float64(s.TotalResponses)
		unmatchedPercent = float64(s.Unmatched) * 100.0 / float64(s.TotalResponses)
		malformedPercent = float64(s.Malformed) * 100.0 / float64(s.TotalResponses)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Responses: %8d\n", s.TotalResponses)
	result += fmt.Sprintf("Classified:      %8d (%.1f%%)\n", s.Classified, classifiedPercent)
	result += fmt.Sprintf("Unmatched:       %8d (%.1f%%)\n", s.Unmatched, unmatchedPercent)

	if s.Malformed > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.Malformed, malformedPercent)
		if s.OutOfRange > 0 {
			result += fmt.Sprintf("  Port Out of Range: %5d\n", s.OutOfRange)
		}
	}

	result += fmt.Sprintf("Commands Sent:   %8d\n", s.CommandsSent)
	if s.CommandErrors > 0 {
		result += fmt.Sprintf("Command Errors:  %8d\n", s.CommandErrors)
		if s.NotConnected > 0 {
			result += fmt.Sprintf("  Not Connected:    %5d\n", s.NotConnected)
		}
	}
	if s.ConnectionLoss > 0 {
		result += fmt.Sprintf("Link Drops:      %8d\n", s.ConnectionLoss)
	}

	result += fmt.Sprintf("Response Rate:   %8.1f lines/sec\n", s.ResponseRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = NewStatistics()
}

func (s *Statistics) snapshot() Statistics {
	out := *s
	out.ByKind = maps.Clone(s.ByKind)
	return out
}
