// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package heater

import (
	"fmt"
	"sort"
)

// Legacy command candidates. Older firmware variants answer to different
// framings, so each logical command lists every known framing in the
// order they should be tried.
var legacyVariants = map[string][][]byte{
	"on": {
		{0x76, 0x01},
		{0x76, 0x16, 0x01, 0x00},
		{0x76, 0x16, 0x01, 0x01, 0x00, 0x00, 0x8E},
		{0xAA, 0x01, 0x55},
		{0x78, 0x78, 0x11, 0x01, 0x0D, 0x0A},
	},
	"off": {
		{0x76, 0x00},
		{0x76, 0x16, 0x00, 0x00},
		{0x76, 0x16, 0x00, 0x00, 0x00, 0x00, 0x8C},
		{0xAA, 0x00, 0x55},
		{0x78, 0x78, 0x11, 0x00, 0x0D, 0x0A},
	},
	"blower_on": {
		{0x76, 0x02},
		{0x76, 0x16, 0x02, 0x01},
		{0x76, 0x16, 0x00, 0x02, 0x00, 0x00, 0x8E},
		{0xAA, 0x02, 0x01, 0x55},
	},
	"blower_off": {
		{0x76, 0x03},
		{0x76, 0x16, 0x02, 0x00},
		{0x76, 0x16, 0x00, 0x00, 0x00, 0x00, 0x8C},
		{0xAA, 0x02, 0x00, 0x55},
	},
	"prime": {
		{0x76, 0x05},
		{0x76, 0x16, 0x05, 0x00},
		{0xAA, 0x05, 0x55},
	},
	"level1": {
		{0x76, 0x10, 0x01},
		{0x76, 0x16, 0x03, 0x01},
		{0xAA, 0x03, 0x01, 0x55},
	},
	"level2": {
		{0x76, 0x10, 0x02},
		{0x76, 0x16, 0x03, 0x02},
		{0xAA, 0x03, 0x02, 0x55},
	},
	"level3": {
		{0x76, 0x10, 0x03},
		{0x76, 0x16, 0x03, 0x03},
		{0xAA, 0x03, 0x03, 0x55},
	},
}

// LegacyNames lists the logical commands that have legacy variants
func LegacyNames() []string {
	names := make([]string, 0, len(legacyVariants))
	for name := range legacyVariants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LegacyVariants returns copies of the candidate frames for name, in
// attempt order
func LegacyVariants(name string) ([][]byte, error) {
	variants, ok := legacyVariants[name]
	if !ok {
		return nil, fmt.Errorf("no legacy variants for %q", name)
	}
	out := make([][]byte, len(variants))
	for i, v := range variants {
		out[i] = append([]byte(nil), v...)
	}
	return out, nil
}

// LegacySetTemperature builds the older A0 04 thermostat frame, whose last
// byte is 0xA4 plus the temperature
func LegacySetTemperature(celsius int) ([]byte, error) {
	if celsius < MinSetTemperature || celsius > MaxSetTemperature {
		return nil, &RangeError{Value: celsius, Min: MinSetTemperature, Max: MaxSetTemperature}
	}
	t := byte(celsius)
	return []byte{0xA0, 0x04, t, 0x00, 0x00, 0x00, 0x00, 0xA4 + t}, nil
}
