// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gatt

import (
	"fmt"
	"strconv"
	"strings"
)

// baseSuffix completes a 16-bit identifier to the Bluetooth base UUID
const baseSuffix = "-0000-1000-8000-00805f9b34fb"

// UUID is a canonical lower-case 128-bit GATT identifier
type UUID string

// UUID16 expands a 16-bit assigned number into the base UUID
func UUID16(v uint16) UUID {
	return UUID(fmt.Sprintf("0000%04x%s", v, baseSuffix))
}

// Known identifiers
var (
	BatteryLevel  = UUID16(0x2a19)
	HeaterService = UUID16(0xfff0)
	HeaterNotify  = UUID16(0xfff1)
	HeaterWrite   = UUID16(0xfff2)
)

// ParseUUID accepts a 16-bit short form ("fff1", "0xFFF1") or a full
// 128-bit string with or without dashes
func ParseUUID(s string) (UUID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")

	switch len(s) {
	case 4:
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return "", fmt.Errorf("invalid uuid %q", s)
		}
		return UUID16(uint16(v)), nil
	case 32:
		s = s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
	}

	if len(s) != 36 {
		return "", fmt.Errorf("invalid uuid %q", s)
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return "", fmt.Errorf("invalid uuid %q", s)
			}
		default:
			if !strings.ContainsRune("0123456789abcdef", c) {
				return "", fmt.Errorf("invalid uuid %q", s)
			}
		}
	}
	return UUID(s), nil
}

// Short returns the 16-bit form for base UUIDs, otherwise the full string
func (u UUID) Short() string {
	s := string(u)
	if len(s) == 36 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, baseSuffix) {
		return s[4:8]
	}
	return s
}

// Name returns the assigned name for well known identifiers, or ""
func (u UUID) Name() string {
	return standardNames[u.Short()]
}

// Label is the name and short form, used in log lines
func (u UUID) Label() string {
	if name := u.Name(); name != "" {
		return fmt.Sprintf("%s (%s)", name, u.Short())
	}
	return u.Short()
}

func (u UUID) String() string {
	return string(u)
}

var standardNames = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180f": "Battery Service",
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a04": "Peripheral Preferred Connection Parameters",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a23": "System ID",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision",
	"2a27": "Hardware Revision",
	"2a28": "Software Revision",
	"2a29": "Manufacturer Name",
	"2a50": "PnP ID",
	"fff0": "Heater Service",
	"fff1": "Heater Notify",
	"fff2": "Heater Write",
}

// FallbackServices is probed one by one when open discovery returns nothing
func FallbackServices() []UUID {
	return []UUID{
		UUID16(0x1800),
		UUID16(0x1801),
		UUID16(0x180a),
		UUID16(0x180f),
		UUID16(0xfff0),
		UUID16(0xffe0),
		UUID16(0xffe1),
		UUID16(0xffe5),
	}
}

// Remediation is printed when no services could be discovered at all
var Remediation = []string{
	"NO SERVICES DISCOVERED",
	"The device may use a proprietary protocol that hides its services",
	"The device may require bonding or pairing at the OS level first",
	"Some stacks only expose service UUIDs declared before connecting",
	"Try the vendor's official app or nRF Connect to list its services",
	"Pair the device via system Bluetooth settings, then retry",
}
