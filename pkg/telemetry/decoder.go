// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"math"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/sirupsen/logrus"
)

// Thresholds bound the values the heuristic decoder accepts as plausible
// for a 12V system. Integer ranges are raw milli-units.
type Thresholds struct {
	VoltageMin uint16  `mapstructure:"voltage_min" yaml:"voltage_min"`
	VoltageMax uint16  `mapstructure:"voltage_max" yaml:"voltage_max"`
	CurrentMin uint16  `mapstructure:"current_min" yaml:"current_min"`
	CurrentMax uint16  `mapstructure:"current_max" yaml:"current_max"`
	Scale      float64 `mapstructure:"scale" yaml:"scale"`

	FloatVoltageMin float64 `mapstructure:"float_voltage_min" yaml:"float_voltage_min"`
	FloatVoltageMax float64 `mapstructure:"float_voltage_max" yaml:"float_voltage_max"`
	FloatCurrentMin float64 `mapstructure:"float_current_min" yaml:"float_current_min"`
	FloatCurrentMax float64 `mapstructure:"float_current_max" yaml:"float_current_max"`
	FloatSanityMax  float64 `mapstructure:"float_sanity_max" yaml:"float_sanity_max"`

	Uint32ProbeMax uint32 `mapstructure:"uint32_probe_max" yaml:"uint32_probe_max"`
}

// DefaultThresholds returns the stock ranges. None of them come from a
// vendor document.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VoltageMin:      10000,
		VoltageMax:      20000,
		CurrentMin:      0,
		CurrentMax:      25000,
		Scale:           1000,
		FloatVoltageMin: 10,
		FloatVoltageMax: 20,
		FloatCurrentMin: 0,
		FloatCurrentMax: 25,
		FloatSanityMax:  1000,
		Uint32ProbeMax:  1000000,
	}
}

func (t Thresholds) isVoltage(v uint16) bool { return v >= t.VoltageMin && v <= t.VoltageMax }
func (t Thresholds) isCurrent(v uint16) bool { return v >= t.CurrentMin && v <= t.CurrentMax }
func (t Thresholds) scale(v uint16) float64  { return float64(v) / t.Scale }

// candidates holds the speculative values while the rules run
type candidates struct {
	auxVoltage     *float64
	auxCurrent     *float64
	starterVoltage *float64
	starterCurrent *float64
}

type traceFunc func(format string, args ...interface{})

// rule is one interpretation applied by the decoder. Rules run in table
// order and only when the buffer has at least minLen bytes.
type rule struct {
	name   string
	minLen int
	apply  func(t Thresholds, buf []byte, c *candidates, trace traceFunc)
}

// rules is the ordered interpretation table. Later rules may overwrite
// values set by earlier ones; the float rule only fills gaps.
var rules = []rule{
	{name: "u16-single", minLen: 2, apply: applyUint16Single},
	{name: "u16-pair", minLen: 4, apply: applyUint16Pair},
	{name: "u32-probe", minLen: 4, apply: applyUint32Probe},
	{name: "float32", minLen: 4, apply: applyFloat32},
}

// RuleNames lists the interpretation rules in the order they run
func RuleNames() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}

// applyUint16Single reads the first two bytes in both byte orders
func applyUint16Single(t Thresholds, buf []byte, c *candidates, trace traceFunc) {
	le, _ := byteframe.Uint16LE(buf, 0)
	be, _ := byteframe.Uint16BE(buf, 0)
	sle, _ := byteframe.Int16LE(buf, 0)
	sbe, _ := byteframe.Int16BE(buf, 0)
	trace("16-bit: Signed LE=%d BE=%d, Unsigned LE=%d BE=%d", sle, sbe, le, be)

	if t.isVoltage(le) {
		v := t.scale(le)
		trace("Possible Voltage: %.2fV", v)
		c.auxVoltage = ptr(v)
	}
	if t.isVoltage(be) {
		v := t.scale(be)
		trace("Possible Voltage: %.2fV", v)
		if c.auxVoltage == nil {
			c.auxVoltage = ptr(v)
		} else {
			c.starterVoltage = ptr(v)
		}
	}
	if t.isCurrent(le) {
		i := t.scale(le)
		trace("Possible Current: %.2fA", i)
		c.auxCurrent = ptr(i)
	}
}

// applyUint16Pair treats the first four bytes as two little-endian values
func applyUint16Pair(t Thresholds, buf []byte, c *candidates, trace traceFunc) {
	first, _ := byteframe.Uint16LE(buf, 0)
	second, _ := byteframe.Uint16LE(buf, 2)

	if t.isVoltage(first) && t.isVoltage(second) {
		c.auxVoltage = ptr(t.scale(first))
		c.starterVoltage = ptr(t.scale(second))
		trace("Aux Voltage: %.2fV, Starter Voltage: %.2fV", *c.auxVoltage, *c.starterVoltage)
	} else if t.isVoltage(first) && t.isCurrent(second) {
		c.auxVoltage = ptr(t.scale(first))
		c.auxCurrent = ptr(t.scale(second))
		trace("Voltage: %.2fV, Current: %.2fA", *c.auxVoltage, *c.auxCurrent)
	}
}

// applyUint32Probe only reports plausible 32-bit counters
func applyUint32Probe(t Thresholds, buf []byte, _ *candidates, trace traceFunc) {
	v, _ := byteframe.Uint32LE(buf, 0)
	if v > 0 && v < t.Uint32ProbeMax {
		trace("32-bit: %d", v)
	}
}

// applyFloat32 fills still-empty aux values from a little-endian float.
// The big-endian view is reported but never assigned.
func applyFloat32(t Thresholds, buf []byte, c *candidates, trace traceFunc) {
	fle, _ := byteframe.Float32LE(buf, 0)
	fbe, _ := byteframe.Float32BE(buf, 0)

	if le := float64(fle); t.saneFloat(le) {
		trace("Float LE: %.3f", le)
		if le >= t.FloatVoltageMin && le <= t.FloatVoltageMax && c.auxVoltage == nil {
			c.auxVoltage = ptr(le)
		}
		if le >= t.FloatCurrentMin && le <= t.FloatCurrentMax && c.auxCurrent == nil {
			c.auxCurrent = ptr(le)
		}
	}
	if be := float64(fbe); t.saneFloat(be) {
		trace("Float BE: %.3f", be)
	}
}

func (t Thresholds) saneFloat(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0 && f < t.FloatSanityMax
}

// Result is the output of one decode: zero to two readings plus the trace
// of every interpretation that was considered
type Result struct {
	Readings []Reading
	Trace    []string
}

// Decoder extracts voltage/current readings from payloads whose layout is
// unknown. It is a heuristic: false positives are expected.
type Decoder struct {
	thresholds Thresholds
	log        logrus.FieldLogger
}

// NewDecoder creates a heuristic decoder. A nil logger uses the logrus
// standard logger.
func NewDecoder(t Thresholds, log logrus.FieldLogger) *Decoder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Decoder{thresholds: t, log: log}
}

// Thresholds returns the ranges in use
func (d *Decoder) Thresholds() Thresholds {
	return d.thresholds
}

// Decode runs every rule over the notification payload
func (d *Decoder) Decode(n byteframe.RawNotification) Result {
	var res Result
	buf := n.Data

	if len(buf) == 0 || byteframe.IsZero(buf) {
		return res
	}

	log := d.log.WithField("characteristic", n.Characteristic)
	trace := func(format string, args ...interface{}) {
		line := fmt.Sprintf(format, args...)
		res.Trace = append(res.Trace, line)
		log.Debug(line)
	}

	var c candidates
	for _, r := range rules {
		if len(buf) < r.minLen {
			continue
		}
		r.apply(d.thresholds, buf, &c, trace)
	}

	if c.auxVoltage != nil || c.auxCurrent != nil {
		res.Readings = append(res.Readings, Reading{
			Role:      RoleAux,
			Voltage:   c.auxVoltage,
			Current:   c.auxCurrent,
			Timestamp: n.Timestamp,
		})
	}
	if c.starterVoltage != nil || c.starterCurrent != nil {
		res.Readings = append(res.Readings, Reading{
			Role:      RoleStarter,
			Voltage:   c.starterVoltage,
			Current:   c.starterCurrent,
			Timestamp: n.Timestamp,
		})
	}
	return res
}
