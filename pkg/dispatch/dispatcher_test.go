// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer fires only when the test calls fakeClock.Fire
type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
	slept  []time.Duration
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	return ctx.Err()
}

// Fire runs every armed timer and returns how many ran
func (c *fakeClock) Fire() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

// recorder is a Writer that records frames and fails on selected calls
type recorder struct {
	mu     sync.Mutex
	frames [][]byte
	failOn map[int]bool
}

func (r *recorder) Write(_ context.Context, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := len(r.frames)
	r.frames = append(r.frames, append([]byte(nil), frame...))
	if r.failOn[idx] {
		return errors.New("gatt write failed")
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func newTestDispatcher() (*Dispatcher, *fakeClock) {
	log, _ := test.NewNullLogger()
	clk := &fakeClock{}
	return New(DefaultConfig(), clk, log), clk
}

func mustCommand(t *testing.T, kind heater.CommandKind) heater.Command {
	t.Helper()
	cmd, err := heater.NewCommand(kind)
	require.NoError(t, err)
	return cmd
}

func TestSend_NotConnected(t *testing.T) {
	d, _ := newTestDispatcher()
	err := d.Send(context.Background(), mustCommand(t, heater.CmdOn))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = d.SendLegacy(context.Background(), "on", [][]byte{{0x01}}, AllAttempted)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, d.SendRaw(context.Background(), []byte{0x01}), ErrNotConnected)
}

func TestSend_SingleFrame(t *testing.T) {
	d, clk := newTestDispatcher()
	w := &recorder{}
	d.Bind(w)

	require.NoError(t, d.Send(context.Background(), mustCommand(t, heater.CmdLevel2)))
	require.Equal(t, 1, w.count())
	assert.Equal(t, mustCommand(t, heater.CmdLevel2).Encode(), w.frames[0])
	assert.Empty(t, clk.timers, "non-power command scheduled a status request")
}

func TestSend_OnSchedulesStatus(t *testing.T) {
	d, clk := newTestDispatcher()
	w := &recorder{}
	d.Bind(w)

	require.NoError(t, d.Send(context.Background(), mustCommand(t, heater.CmdOn)))
	require.Len(t, clk.timers, 1)
	assert.Equal(t, DefaultStatusDelay, clk.timers[0].delay)
	assert.True(t, d.StatusPending())

	assert.Equal(t, 1, clk.Fire())
	require.Equal(t, 2, w.count())
	assert.Equal(t, mustCommand(t, heater.CmdRequestStatus).Encode(), w.frames[1])
	assert.False(t, d.StatusPending())

	// One-shot
	assert.Equal(t, 0, clk.Fire())
	assert.Equal(t, 2, w.count())
}

func TestSend_RescheduleReplacesPending(t *testing.T) {
	d, clk := newTestDispatcher()
	w := &recorder{}
	d.Bind(w)

	require.NoError(t, d.Send(context.Background(), mustCommand(t, heater.CmdOn)))
	require.NoError(t, d.Send(context.Background(), mustCommand(t, heater.CmdOff)))
	require.Len(t, clk.timers, 2)
	assert.True(t, clk.timers[0].stopped)

	assert.Equal(t, 1, clk.Fire())
	assert.Equal(t, 3, w.count())
}

func TestSend_UnbindCancelsStatus(t *testing.T) {
	d, clk := newTestDispatcher()
	w := &recorder{}
	d.Bind(w)

	require.NoError(t, d.Send(context.Background(), mustCommand(t, heater.CmdOff)))
	d.Unbind()
	assert.False(t, d.Bound())
	assert.False(t, d.StatusPending())

	assert.Equal(t, 0, clk.Fire())
	assert.Equal(t, 1, w.count())
}

func TestSend_StaleTimerIgnoredAfterRebind(t *testing.T) {
	d, clk := newTestDispatcher()
	first := &recorder{}
	d.Bind(first)
	require.NoError(t, d.Send(context.Background(), mustCommand(t, heater.CmdOn)))

	// A timer whose Stop lost the race still must not write to the new
	// binding
	stale := clk.timers[0]
	second := &recorder{}
	d.Bind(second)
	stale.f()

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 0, second.count())
}

func TestSend_WriteFailureSkipsStatus(t *testing.T) {
	d, clk := newTestDispatcher()
	w := &recorder{failOn: map[int]bool{0: true}}
	d.Bind(w)

	err := d.Send(context.Background(), mustCommand(t, heater.CmdOn))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, clk.timers)
}

func TestSend_DeferredFailureIsLogged(t *testing.T) {
	log, hook := test.NewNullLogger()
	clk := &fakeClock{}
	d := New(DefaultConfig(), clk, log)
	w := &recorder{failOn: map[int]bool{1: true}}
	d.Bind(w)

	require.NoError(t, d.Send(context.Background(), mustCommand(t, heater.CmdOn)))
	clk.Fire()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Deferred status request failed", hook.LastEntry().Message)
}

func TestSendLegacy_AllAttempted(t *testing.T) {
	d, clk := newTestDispatcher()
	w := &recorder{}
	d.Bind(w)

	variants, err := heater.LegacyVariants("level2")
	require.NoError(t, err)

	res, err := d.SendLegacy(context.Background(), "level2", variants, AllAttempted)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	// Every variant is written even though the first already succeeded
	require.Equal(t, len(variants), w.count())
	for i := range variants {
		assert.True(t, bytes.Equal(variants[i], w.frames[i]), "variant %d", i)
	}
	assert.Len(t, clk.slept, len(variants)-1)
	for _, delay := range clk.slept {
		assert.Equal(t, DefaultAttemptDelay, delay)
	}
	assert.Empty(t, clk.timers)
}

func TestSendLegacy_FirstSuccessStops(t *testing.T) {
	d, _ := newTestDispatcher()
	w := &recorder{failOn: map[int]bool{0: true}}
	d.Bind(w)

	variants := [][]byte{{0x01}, {0x02}, {0x03}}
	res, err := d.SendLegacy(context.Background(), "custom", variants, FirstSuccessStops)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	assert.Error(t, res.Attempts[0].Err)
	assert.NoError(t, res.Attempts[1].Err)
	assert.Equal(t, 2, w.count())
}

func TestSendLegacy_FailureContinues(t *testing.T) {
	d, _ := newTestDispatcher()
	w := &recorder{failOn: map[int]bool{0: true, 1: true, 2: true}}
	d.Bind(w)

	res, err := d.SendLegacy(context.Background(), "prime", [][]byte{{0x01}, {0x02}, {0x03}}, AllAttempted)
	assert.ErrorIs(t, err, ErrAllAttemptsFailed)
	assert.Len(t, res.Attempts, 3)
	assert.False(t, res.Succeeded())
}

func TestSendLegacy_OnSchedulesStatus(t *testing.T) {
	d, clk := newTestDispatcher()
	w := &recorder{}
	d.Bind(w)

	variants, err := heater.LegacyVariants("on")
	require.NoError(t, err)
	_, err = d.SendLegacy(context.Background(), "on", variants, AllAttempted)
	require.NoError(t, err)
	assert.Len(t, clk.timers, 1)
}

func TestSendLegacy_ContextCancelled(t *testing.T) {
	d, _ := newTestDispatcher()
	w := &recorder{}
	d.Bind(w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := d.SendLegacy(ctx, "off", [][]byte{{0x01}, {0x02}}, AllAttempted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.Attempts, 1)
}

func TestSendRaw(t *testing.T) {
	d, _ := newTestDispatcher()
	w := &recorder{}
	d.Bind(w)

	require.NoError(t, d.SendRaw(context.Background(), []byte{0x76, 0x16, 0x01}))
	assert.Equal(t, []byte{0x76, 0x16, 0x01}, w.frames[0])
	assert.Error(t, d.SendRaw(context.Background(), nil))
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", AllAttempted, false},
		{"all", AllAttempted, false},
		{"first-success", FirstSuccessStops, false},
		{"FIRST", FirstSuccessStops, false},
		{"sometimes", AllAttempted, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			back, err := ParsePolicy(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, back)
		})
	}
}

func TestRealClock_Sleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, RealClock{}.Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, RealClock{}.Sleep(context.Background(), time.Millisecond))
}
