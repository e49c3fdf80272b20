// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dispatch sequences heater command writes onto a bound write
// characteristic.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAttemptDelay = 200 * time.Millisecond
	DefaultStatusDelay  = 3000 * time.Millisecond
)

var (
	// ErrNotConnected is returned when no write characteristic is bound
	ErrNotConnected = errors.New("not connected: no write characteristic bound")

	// ErrAllAttemptsFailed is returned when every legacy variant failed
	ErrAllAttemptsFailed = errors.New("all command variants failed")
)

// Writer writes one frame to the peripheral
type Writer interface {
	Write(ctx context.Context, frame []byte) error
}

// WriterFunc adapts a function to Writer
type WriterFunc func(ctx context.Context, frame []byte) error

func (f WriterFunc) Write(ctx context.Context, frame []byte) error { return f(ctx, frame) }

// Policy controls how the legacy multi-variant loop treats a success
type Policy uint8

const (
	// AllAttempted writes every variant even after one succeeds
	AllAttempted Policy = iota
	// FirstSuccessStops ends the loop on the first successful write
	FirstSuccessStops
)

func (p Policy) String() string {
	switch p {
	case AllAttempted:
		return "all"
	case FirstSuccessStops:
		return "first-success"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(p))
}

// ParsePolicy accepts the names produced by Policy.String
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "all-attempted":
		return AllAttempted, nil
	case "first", "first-success", "first-success-stops":
		return FirstSuccessStops, nil
	}
	return AllAttempted, fmt.Errorf("unknown legacy policy %q", s)
}

// Config holds the dispatcher timings
type Config struct {
	AttemptDelay time.Duration
	StatusDelay  time.Duration
	LegacyPolicy Policy
}

// DefaultConfig returns the stock timings
func DefaultConfig() Config {
	return Config{
		AttemptDelay: DefaultAttemptDelay,
		StatusDelay:  DefaultStatusDelay,
		LegacyPolicy: AllAttempted,
	}
}

// Attempt is the outcome of one legacy variant write
type Attempt struct {
	Index int
	Frame []byte
	Err   error
}

// LegacyResult reports every variant written by SendLegacy
type LegacyResult struct {
	Name     string
	Policy   Policy
	Attempts []Attempt
}

// Succeeded reports whether any attempt was written successfully
func (r *LegacyResult) Succeeded() bool {
	for _, a := range r.Attempts {
		if a.Err == nil {
			return true
		}
	}
	return false
}

// Dispatcher writes commands to the bound writer and schedules the status
// follow-up after power changes. It is safe for concurrent use.
type Dispatcher struct {
	mu         sync.Mutex
	writer     Writer
	generation uint64
	pending    Timer

	cfg   Config
	clock Clock
	log   logrus.FieldLogger
}

// New creates a dispatcher. A nil clock uses RealClock and a nil logger the
// logrus standard logger.
func New(cfg Config, clock Clock, log logrus.FieldLogger) *Dispatcher {
	if clock == nil {
		clock = RealClock{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.AttemptDelay < 0 {
		cfg.AttemptDelay = 0
	}
	if cfg.StatusDelay <= 0 {
		cfg.StatusDelay = DefaultStatusDelay
	}
	return &Dispatcher{cfg: cfg, clock: clock, log: log}
}

// Bind attaches the write characteristic. Any pending status request from a
// previous binding is cancelled.
func (d *Dispatcher) Bind(w Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelPendingLocked()
	d.generation++
	d.writer = w
}

// Unbind detaches the write characteristic and cancels a pending status
// request
func (d *Dispatcher) Unbind() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelPendingLocked()
	d.generation++
	d.writer = nil
}

// Bound reports whether a write characteristic is attached
func (d *Dispatcher) Bound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writer != nil
}

// DefaultPolicy is the configured legacy policy
func (d *Dispatcher) DefaultPolicy() Policy {
	return d.cfg.LegacyPolicy
}

// StatusPending reports whether a deferred status request is scheduled
func (d *Dispatcher) StatusPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Dispatcher) cancelPendingLocked() {
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

func (d *Dispatcher) current() (Writer, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writer, d.generation
}

// Send writes the single deterministic frame for cmd. On and Off schedule a
// status request after the configured delay.
func (d *Dispatcher) Send(ctx context.Context, cmd heater.Command) error {
	w, gen := d.current()
	if w == nil {
		return ErrNotConnected
	}

	frame := cmd.Encode()
	if len(frame) == 0 {
		return fmt.Errorf("command %s has no frame", cmd)
	}

	log := d.log.WithFields(logrus.Fields{"command": cmd.String(), "bytes": len(frame)})
	if err := w.Write(ctx, frame); err != nil {
		log.WithError(err).Warn("Command write failed")
		return fmt.Errorf("write %s: %w", cmd, err)
	}
	log.Infof("Sent %s", byteframe.FormatHex(frame))

	if cmd.ChangesPower() {
		d.scheduleStatus(gen)
	}
	return nil
}

// SendRaw writes a caller supplied frame as-is
func (d *Dispatcher) SendRaw(ctx context.Context, frame []byte) error {
	w, _ := d.current()
	if w == nil {
		return ErrNotConnected
	}
	if len(frame) == 0 {
		return errors.New("empty frame")
	}
	if err := w.Write(ctx, frame); err != nil {
		d.log.WithError(err).Warn("Raw write failed")
		return fmt.Errorf("write raw frame: %w", err)
	}
	d.log.Infof("Sent %s", byteframe.FormatHex(frame))
	return nil
}

// SendLegacy writes each variant in order with the attempt delay between
// writes. A failed write is logged and the next variant is tried. The
// overall command succeeds if any attempt did.
func (d *Dispatcher) SendLegacy(ctx context.Context, name string, variants [][]byte, policy Policy) (*LegacyResult, error) {
	if w, _ := d.current(); w == nil {
		return nil, ErrNotConnected
	}

	res := &LegacyResult{Name: name, Policy: policy}
	log := d.log.WithFields(logrus.Fields{"command": name, "policy": policy.String()})

	for i, frame := range variants {
		if i > 0 {
			if err := d.clock.Sleep(ctx, d.cfg.AttemptDelay); err != nil {
				return res, err
			}
		}

		w, _ := d.current()
		attempt := Attempt{Index: i, Frame: append([]byte(nil), frame...)}
		if w == nil {
			attempt.Err = ErrNotConnected
		} else {
			attempt.Err = w.Write(ctx, frame)
		}
		res.Attempts = append(res.Attempts, attempt)

		if attempt.Err != nil {
			log.WithError(attempt.Err).Warnf("Variant %d/%d failed", i+1, len(variants))
			continue
		}
		log.Infof("Variant %d/%d sent: %s", i+1, len(variants), byteframe.FormatHex(frame))
		if policy == FirstSuccessStops {
			break
		}
	}

	if !res.Succeeded() {
		return res, fmt.Errorf("%w: %s", ErrAllAttemptsFailed, name)
	}
	if name == "on" || name == "off" {
		_, gen := d.current()
		d.scheduleStatus(gen)
	}
	return res, nil
}

// scheduleStatus arms the one-shot status follow-up for binding gen. The
// callback is a no-op if the binding changed before it fires.
func (d *Dispatcher) scheduleStatus(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generation != gen || d.writer == nil {
		return
	}
	d.cancelPendingLocked()

	var timer Timer
	timer = d.clock.AfterFunc(d.cfg.StatusDelay, func() {
		d.mu.Lock()
		if d.generation != gen || d.pending != timer {
			d.mu.Unlock()
			return
		}
		d.pending = nil
		w := d.writer
		d.mu.Unlock()

		if w == nil {
			return
		}
		status, _ := heater.NewCommand(heater.CmdRequestStatus)
		if err := w.Write(context.Background(), status.Encode()); err != nil {
			d.log.WithError(err).Warn("Deferred status request failed")
			return
		}
		d.log.Debug("Deferred status request sent")
	})
	d.pending = timer
}
