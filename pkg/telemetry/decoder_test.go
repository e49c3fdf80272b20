// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// The decoder is a heuristic over unknown layouts. Several cases below pin
// values that are physically meaningless (a voltage byte pair also read as a
// current, a float view of an integer); these false positives are expected
// and accepted, and the tests exist to keep the rule order stable.

func newTestDecoder() *Decoder {
	log, _ := test.NewNullLogger()
	return NewDecoder(DefaultThresholds(), log)
}

func notification(data ...byte) byteframe.RawNotification {
	return byteframe.NewRawNotification("fff1", data, time.Unix(0, 0))
}

func findRole(readings []Reading, role Role) *Reading {
	for i := range readings {
		if readings[i].Role == role {
			return &readings[i]
		}
	}
	return nil
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDecode_ShortBuffersEmitNothing(t *testing.T) {
	d := newTestDecoder()
	for _, data := range [][]byte{nil, {}, {0x27}, {0xFF}} {
		res := d.Decode(notification(data...))
		if len(res.Readings) != 0 {
			t.Errorf("Decode(%x) = %v, want no readings", data, res.Readings)
		}
	}
}

func TestDecode_ZeroBuffersEmitNothing(t *testing.T) {
	d := newTestDecoder()
	for n := 0; n <= 64; n++ {
		res := d.Decode(notification(make([]byte, n)...))
		if len(res.Readings) != 0 {
			t.Errorf("Decode(zero[%d]) = %v, want no readings", n, res.Readings)
		}
		if len(res.Trace) != 0 {
			t.Errorf("Decode(zero[%d]) traced %v", n, res.Trace)
		}
	}
}

func TestDecode_SingleValue(t *testing.T) {
	d := newTestDecoder()

	// BE 0x2710 = 10000 lands in the voltage range, LE 0x1027 = 4135 in
	// the current range
	res := d.Decode(notification(0x27, 0x10))
	aux := findRole(res.Readings, RoleAux)
	if aux == nil || aux.Voltage == nil {
		t.Fatalf("expected aux voltage, got %v", res.Readings)
	}
	if !approx(*aux.Voltage, 10.0) {
		t.Errorf("aux voltage = %v, want 10.00", *aux.Voltage)
	}
	if aux.Current == nil || !approx(*aux.Current, 4.135) {
		t.Errorf("aux current = %v, want 4.135", aux.Current)
	}
	if findRole(res.Readings, RoleStarter) != nil {
		t.Errorf("unexpected starter reading: %v", res.Readings)
	}
}

func TestDecode_BothOrdersVoltage(t *testing.T) {
	d := newTestDecoder()

	// 0x3A 0x3A reads 14906 in both orders: LE wins aux, BE goes to starter
	res := d.Decode(notification(0x3A, 0x3A))
	aux := findRole(res.Readings, RoleAux)
	starter := findRole(res.Readings, RoleStarter)
	if aux == nil || aux.Voltage == nil || !approx(*aux.Voltage, 14.906) {
		t.Fatalf("aux = %v, want 14.906V", aux)
	}
	if starter == nil || starter.Voltage == nil || !approx(*starter.Voltage, 14.906) {
		t.Fatalf("starter = %v, want 14.906V", starter)
	}
}

func TestDecode_VoltagePairOverridesSingle(t *testing.T) {
	d := newTestDecoder()

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], 12000)
	binary.LittleEndian.PutUint16(buf[2:], 13000)

	res := d.Decode(notification(buf...))
	aux := findRole(res.Readings, RoleAux)
	starter := findRole(res.Readings, RoleStarter)
	if aux == nil || aux.Voltage == nil || !approx(*aux.Voltage, 12.0) {
		t.Fatalf("aux = %v, want 12.00V", aux)
	}
	if starter == nil || starter.Voltage == nil || !approx(*starter.Voltage, 13.0) {
		t.Fatalf("starter = %v, want 13.00V", starter)
	}
	// 12000 also satisfies the current range in the single-value rule.
	// Accepted false positive.
	if aux.Current == nil || !approx(*aux.Current, 12.0) {
		t.Errorf("aux current = %v, want 12.0 from the single-value rule", aux.Current)
	}
}

func TestDecode_VoltageCurrentPair(t *testing.T) {
	d := newTestDecoder()

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], 13800)
	binary.LittleEndian.PutUint16(buf[2:], 5500)

	res := d.Decode(notification(buf...))
	aux := findRole(res.Readings, RoleAux)
	if aux == nil || aux.Voltage == nil || aux.Current == nil {
		t.Fatalf("aux = %v, want voltage and current", aux)
	}
	if !approx(*aux.Voltage, 13.8) || !approx(*aux.Current, 5.5) {
		t.Errorf("aux = %.3fV %.3fA, want 13.8V 5.5A", *aux.Voltage, *aux.Current)
	}
	p, ok := aux.Power()
	if !ok || !approx(p, 13.8*5.5) {
		t.Errorf("Power() = %v, %v", p, ok)
	}
}

func TestDecode_FloatFillsGaps(t *testing.T) {
	d := newTestDecoder()

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(13.25))

	res := d.Decode(notification(buf...))
	aux := findRole(res.Readings, RoleAux)
	if aux == nil || aux.Voltage == nil {
		t.Fatalf("aux = %v, want float voltage", aux)
	}
	if !approx(*aux.Voltage, 13.25) {
		t.Errorf("aux voltage = %v, want 13.25", *aux.Voltage)
	}
	// The low two bytes are 00 00, which the u16 current range accepts as
	// 0A before the float rule runs. Accepted false positive.
	if aux.Current == nil || *aux.Current != 0 {
		t.Errorf("aux current = %v, want 0 from the single-value rule", aux.Current)
	}
}

func TestDecode_FloatDoesNotOverwrite(t *testing.T) {
	d := newTestDecoder()

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], 12000)
	binary.LittleEndian.PutUint16(buf[2:], 13000)

	res := d.Decode(notification(buf...))
	aux := findRole(res.Readings, RoleAux)
	if aux == nil || !approx(*aux.Voltage, 12.0) {
		t.Fatalf("float rule overwrote aux voltage: %v", aux)
	}
}

func TestDecode_TraceRecordsRules(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	d := NewDecoder(DefaultThresholds(), log)

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], 12000)
	binary.LittleEndian.PutUint16(buf[2:], 13000)
	res := d.Decode(notification(buf...))

	if len(res.Trace) == 0 {
		t.Fatal("expected a trace")
	}
	if !strings.HasPrefix(res.Trace[0], "16-bit:") {
		t.Errorf("first trace line = %q, want the 16-bit rule", res.Trace[0])
	}
	var sawPair bool
	for _, line := range res.Trace {
		if strings.Contains(line, "Starter Voltage: 13.00V") {
			sawPair = true
		}
	}
	if !sawPair {
		t.Errorf("trace missing pair rule: %v", res.Trace)
	}
	if len(hook.AllEntries()) != len(res.Trace) {
		t.Errorf("logged %d entries, traced %d", len(hook.AllEntries()), len(res.Trace))
	}
	if got := hook.LastEntry().Data["characteristic"]; got != "fff1" {
		t.Errorf("characteristic field = %v", got)
	}
}

func TestDecode_CustomThresholds(t *testing.T) {
	th := DefaultThresholds()
	th.VoltageMin = 20000
	th.VoltageMax = 30000
	th.CurrentMax = 0
	log, _ := test.NewNullLogger()
	d := NewDecoder(th, log)

	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, 24000)
	res := d.Decode(notification(buf...))
	aux := findRole(res.Readings, RoleAux)
	if aux == nil || aux.Voltage == nil || !approx(*aux.Voltage, 24.0) {
		t.Fatalf("aux = %v, want 24V with 24V thresholds", aux)
	}
	if aux.Current != nil {
		t.Errorf("current = %v, want none", *aux.Current)
	}
}

func TestRuleNames_Order(t *testing.T) {
	want := []string{"u16-single", "u16-pair", "u32-probe", "float32"}
	got := RuleNames()
	if len(got) != len(want) {
		t.Fatalf("RuleNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("RuleNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReading_String(t *testing.T) {
	r := Reading{Role: RoleStarter, Voltage: ptr(12.5)}
	if got := r.String(); got != "starter 12.50V --" {
		t.Errorf("String() = %q", got)
	}
	if _, ok := r.Power(); ok {
		t.Error("Power() reported a value without current")
	}
}
