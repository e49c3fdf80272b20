// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package heater

import "fmt"

// InsufficientDataError is returned when a buffer matches neither status
// layout
type InsufficientDataError struct {
	Len  int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for status frame: got %d bytes, need %d (or a %d-byte UART frame)", e.Len, e.Need, UARTFrameSize)
}

// IsUARTFrame reports whether buf carries the 26-byte UART signature
func IsUARTFrame(buf []byte) bool {
	return len(buf) == UARTFrameSize && buf[0] == UARTSync0 && buf[1] == UARTSync1
}

// IsStatusFrame reports whether Decode would accept buf
func IsStatusFrame(buf []byte) bool {
	return IsUARTFrame(buf) || len(buf) >= HcaloryFrameSize
}

// Decode parses a status notification. UART frames are checked first;
// anything else must be long enough for the Hcalory layout.
func Decode(buf []byte) (*Status, error) {
	if IsUARTFrame(buf) {
		return &Status{Kind: FrameUART, UART: decodeUART(buf)}, nil
	}
	if len(buf) >= HcaloryFrameSize {
		return &Status{Kind: FrameHcalory, Hcalory: decodeHcalory(buf)}, nil
	}
	return nil, &InsufficientDataError{Len: len(buf), Need: HcaloryFrameSize}
}

func decodeUART(buf []byte) *UARTStatus {
	return &UARTStatus{
		SetTemp:     int(buf[uartOffsetSetTemp]),
		State:       UARTState(buf[uartOffsetState]),
		ErrorCode:   int(buf[uartOffsetError]),
		Power:       buf[uartOffsetPower] != 0,
		PumpFreqHz:  float64(bePair(buf, uartOffsetPumpFreq)) / uartPumpFreqDivisor,
		FanRPM:      int(bePair(buf, uartOffsetFanRPM)),
		ChamberTemp: int(bePair(buf, uartOffsetChamber)),
	}
}

func decodeHcalory(buf []byte) *HcaloryStatus {
	voltage := uint16(composite16(buf[hcOffsetVoltageLow], buf[hcOffsetVoltageLow+1]))
	return &HcaloryStatus{
		State:             State(buf[hcOffsetState]),
		Mode:              Mode(buf[hcOffsetMode]),
		Setting:           int(buf[hcOffsetSetting]),
		BatteryVoltage:    float64(voltage) / hcVoltageDivisor,
		ChamberTemp:       composite16(buf[hcOffsetChamberTemp], buf[hcOffsetChamberTemp+1]),
		ExternalTemp:      composite16(buf[hcOffsetExternal], buf[hcOffsetExternal+1]),
		HeatExchangerTemp: composite16(buf[hcOffsetExchanger], buf[hcOffsetExchanger+1]),
	}
}

// composite16 builds (hi<<8 | lo) where the Hcalory frame stores the low
// byte first. Not interchangeable with bePair.
func composite16(lo, hi byte) int16 {
	return int16(uint16(hi)<<8 | uint16(lo))
}

// bePair builds buf[off]*256 + buf[off+1], as used by the UART frame
func bePair(buf []byte, off int) uint16 {
	return uint16(buf[off])*256 + uint16(buf[off+1])
}
