// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultWindowSize is the number of samples kept per role and metric
	DefaultWindowSize = 50

	// ChargerCategory is the only device category whose readings are
	// aggregated
	ChargerCategory = "Dc to Dc Chargers"

	timestampLayout = "15:04:05"
)

// Series holds the rolling windows for one role. The three lists are
// trimmed independently, so their lengths can differ after partial pushes.
type Series struct {
	Voltage []float64 `json:"voltage"`
	Current []float64 `json:"current"`
	Power   []float64 `json:"power"`
}

// Display is the value pair shown for a role: the median of the window
// for aux, the latest sample for starter
type Display struct {
	Voltage    float64 `json:"voltage"`
	Current    float64 `json:"current"`
	HasVoltage bool    `json:"hasVoltage"`
	HasCurrent bool    `json:"hasCurrent"`
}

// Snapshot is a copy of the aggregator state for renderers
type Snapshot struct {
	Aux            Series    `json:"aux"`
	Starter        Series    `json:"starter"`
	Timestamps     []string  `json:"timestamps"`
	AuxDisplay     Display   `json:"auxDisplay"`
	StarterDisplay Display   `json:"starterDisplay"`
	Category       string    `json:"category,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Aggregator maintains the rolling telemetry windows. It is safe for
// concurrent use.
type Aggregator struct {
	mu   sync.Mutex
	size int
	now  func() time.Time

	active   bool
	category string

	aux        Series
	starter    Series
	timestamps []string
	updatedAt  time.Time

	sink func(Snapshot)
}

// NewAggregator creates an aggregator keeping size samples per list. A
// size <= 0 uses DefaultWindowSize and a nil clock uses time.Now.
func NewAggregator(size int, now func() time.Time) *Aggregator {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{size: size, now: now}
}

// SetSink registers a callback invoked with a fresh snapshot after every
// accepted push
func (a *Aggregator) SetSink(sink func(Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

// SetActiveDevice records the category of the connected device
func (a *Aggregator) SetActiveDevice(category string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = true
	a.category = category
}

// ClearActiveDevice forgets the connected device. Pushes are accepted
// again until the next SetActiveDevice.
func (a *Aggregator) ClearActiveDevice() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.category = ""
}

// Accepts reports whether a push would currently reach the windows
func (a *Aggregator) Accepts() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accepts()
}

func (a *Aggregator) accepts() bool {
	return !a.active || a.category == ChargerCategory
}

// PushReading is Push for a decoded Reading
func (a *Aggregator) PushReading(r Reading) bool {
	return a.Push(r.Role, r.Voltage, r.Current)
}

// Push appends a sample for role. Absent values are skipped; power is
// appended only when both are present. It returns false when the active
// device's category gates the sample out.
func (a *Aggregator) Push(role Role, voltage, current *float64) bool {
	a.mu.Lock()
	if !a.accepts() {
		a.mu.Unlock()
		return false
	}

	now := a.now()
	stamp := now.Format(timestampLayout)
	if n := len(a.timestamps); n == 0 || a.timestamps[n-1] != stamp {
		a.timestamps = appendBounded(a.timestamps, stamp, a.size)
	}

	s := a.series(role)
	if voltage != nil {
		s.Voltage = appendBounded(s.Voltage, *voltage, a.size)
	}
	if current != nil {
		s.Current = appendBounded(s.Current, *current, a.size)
	}
	if voltage != nil && current != nil {
		s.Power = appendBounded(s.Power, *voltage**current, a.size)
	}
	a.updatedAt = now

	sink := a.sink
	var snap Snapshot
	if sink != nil {
		snap = a.snapshot()
	}
	a.mu.Unlock()

	if sink != nil {
		sink(snap)
	}
	return true
}

// Clear empties every window
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aux = Series{}
	a.starter = Series{}
	a.timestamps = nil
}

// Snapshot returns a deep copy of the current windows and display values
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

func (a *Aggregator) snapshot() Snapshot {
	return Snapshot{
		Aux:        a.aux.clone(),
		Starter:    a.starter.clone(),
		Timestamps: append([]string(nil), a.timestamps...),
		AuxDisplay: Display{
			Voltage:    Median(a.aux.Voltage),
			Current:    Median(a.aux.Current),
			HasVoltage: len(a.aux.Voltage) > 0,
			HasCurrent: len(a.aux.Current) > 0,
		},
		StarterDisplay: Display{
			Voltage:    latest(a.starter.Voltage),
			Current:    latest(a.starter.Current),
			HasVoltage: len(a.starter.Voltage) > 0,
			HasCurrent: len(a.starter.Current) > 0,
		},
		Category:  a.category,
		UpdatedAt: a.updatedAt,
	}
}

func (a *Aggregator) series(role Role) *Series {
	if role == RoleStarter {
		return &a.starter
	}
	return &a.aux
}

func (s Series) clone() Series {
	return Series{
		Voltage: append([]float64(nil), s.Voltage...),
		Current: append([]float64(nil), s.Current...),
		Power:   append([]float64(nil), s.Power...),
	}
}

// appendBounded appends v and drops from the front until len <= max
func appendBounded[T any](list []T, v T, max int) []T {
	list = append(list, v)
	if over := len(list) - max; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}

func latest(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// Median returns the median of values without modifying them: 0 for an
// empty slice, the mean of the two middle values for an even count
func Median(values []float64) float64 {
	switch len(values) {
	case 0:
		return 0
	case 1:
		return values[0]
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
