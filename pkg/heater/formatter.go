// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package heater

import (
	"fmt"
	"strings"
)

// FormatStatus renders a decoded status as an indented, human-readable block
func FormatStatus(s *Status) string {
	if s == nil {
		return "  (no status)\n"
	}

	var b strings.Builder
	switch {
	case s.Hcalory != nil:
		h := s.Hcalory
		fmt.Fprintf(&b, "  HEATER STATUS (%s)\n", s.Kind)
		fmt.Fprintf(&b, "    State:          %s\n", h.State)
		fmt.Fprintf(&b, "    Mode:           %s\n", h.Mode)
		fmt.Fprintf(&b, "    Setting:        %d\n", h.Setting)
		fmt.Fprintf(&b, "    Battery:        %.1fV\n", h.BatteryVoltage)
		fmt.Fprintf(&b, "    Chamber:        %d°C\n", h.ChamberTemp)
		fmt.Fprintf(&b, "    External:       %d°C\n", h.ExternalTemp)
		fmt.Fprintf(&b, "    Heat exchanger: %d°C\n", h.HeatExchangerTemp)

	case s.UART != nil:
		u := s.UART
		power := "OFF"
		if u.Power {
			power = "ON"
		}
		fmt.Fprintf(&b, "  HEATER STATUS (%s)\n", s.Kind)
		fmt.Fprintf(&b, "    Power:          %s\n", power)
		fmt.Fprintf(&b, "    State:          %s\n", u.State)
		fmt.Fprintf(&b, "    Set temp:       %d°C\n", u.SetTemp)
		fmt.Fprintf(&b, "    Chamber:        %d°C\n", u.ChamberTemp)
		fmt.Fprintf(&b, "    Fan:            %d RPM\n", u.FanRPM)
		fmt.Fprintf(&b, "    Pump:           %.1f Hz\n", u.PumpFreqHz)
		if u.ErrorCode > 0 {
			fmt.Fprintf(&b, "    Error code:     %d\n", u.ErrorCode)
		}

	default:
		b.WriteString("  (empty status)\n")
	}
	return b.String()
}

// FormatStatusLine renders a decoded status on a single line
func FormatStatusLine(s *Status) string {
	switch {
	case s == nil:
		return "no status"
	case s.Hcalory != nil:
		h := s.Hcalory
		return fmt.Sprintf("%s mode=%s setting=%d %.1fV chamber=%d°C ext=%d°C hx=%d°C",
			h.State, h.Mode, h.Setting, h.BatteryVoltage, h.ChamberTemp, h.ExternalTemp, h.HeatExchangerTemp)
	case s.UART != nil:
		u := s.UART
		return fmt.Sprintf("%s power=%t set=%d°C chamber=%d°C fan=%drpm pump=%.1fHz err=%d",
			u.State, u.Power, u.SetTemp, u.ChamberTemp, u.FanRPM, u.PumpFreqHz, u.ErrorCode)
	}
	return "empty status"
}
