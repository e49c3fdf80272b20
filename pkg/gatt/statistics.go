// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gatt

import (
	"fmt"
	"sync"
	"time"
)

// Counters is a point in time copy of the session statistics
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalNotifications uint64
	Reads              uint64
	HeaterFrames       uint64
	TelemetryFrames    uint64
	Unclassified       uint64
	DecodeErrors       uint64
	ReadErrors         uint64
	WriteErrors        uint64
	Writes             uint64

	// Rates (calculated)
	NotificationRate float64 // notifications/sec
	ErrorRate        float64 // errors/sec
}

// Statistics tracks notification counts and error rates for a session. It
// is safe for concurrent use.
type Statistics struct {
	mu sync.Mutex
	Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{Counters: Counters{
		StartTime:      now,
		LastUpdateTime: now,
	}}
}

// Update counts one routed event
func (s *Statistics) Update(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Read {
		s.Reads++
	} else {
		s.TotalNotifications++
	}

	switch ev.Kind {
	case EventHeater:
		s.HeaterFrames++
	case EventTelemetry:
		s.TelemetryFrames++
	case EventUnclassified:
		s.Unclassified++
	case EventInvalid:
		s.DecodeErrors++
	}

	s.LastUpdateTime = time.Now()
}

// ReadFailed counts a failed characteristic read
func (s *Statistics) ReadFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadErrors++
}

// WriteDone counts a write and its outcome
func (s *Statistics) WriteDone(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes++
	if err != nil {
		s.WriteErrors++
	}
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return s.Counters
}

// calculateRates calculates notification and error rates
func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.NotificationRate = float64(s.TotalNotifications) / elapsed
		errorCount := s.DecodeErrors + s.ReadErrors + s.WriteErrors
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	c := s.Snapshot()

	var heaterPercent, telemetryPercent, unclassifiedPercent, decodeErrorPercent float64
	// Kind counters include reads
	if routed := c.TotalNotifications + c.Reads; routed > 0 {
		total := float64(routed)
		heaterPercent = float64(c.HeaterFrames) * 100.0 / total
		telemetryPercent = float64(c.TelemetryFrames) * 100.0 / total
		unclassifiedPercent = float64(c.Unclassified) * 100.0 / total
		decodeErrorPercent = float64(c.DecodeErrors) * 100.0 / total
	}

	elapsed := time.Since(c.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Notifications:   %8d\n", c.TotalNotifications)
	result += fmt.Sprintf("Reads:           %8d\n", c.Reads)
	result += fmt.Sprintf("Heater Frames:   %8d (%.1f%%)\n", c.HeaterFrames, heaterPercent)
	result += fmt.Sprintf("Telemetry:       %8d (%.1f%%)\n", c.TelemetryFrames, telemetryPercent)
	result += fmt.Sprintf("Unclassified:    %8d (%.1f%%)\n", c.Unclassified, unclassifiedPercent)

	if c.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", c.DecodeErrors, decodeErrorPercent)
	}
	if c.ReadErrors > 0 {
		result += fmt.Sprintf("Read Errors:     %8d\n", c.ReadErrors)
	}
	if c.Writes > 0 {
		result += fmt.Sprintf("Writes:          %8d (%d failed)\n", c.Writes, c.WriteErrors)
	}

	result += fmt.Sprintf("Notify Rate:     %8.1f msgs/sec\n", c.NotificationRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", c.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.Counters = Counters{StartTime: now, LastUpdateTime: now}
}
