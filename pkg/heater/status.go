// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package heater

import "fmt"

// FrameKind identifies which status layout a frame was decoded with
type FrameKind uint8

const (
	FrameHcalory FrameKind = iota + 1
	FrameUART
)

func (k FrameKind) String() string {
	switch k {
	case FrameHcalory:
		return "hcalory"
	case FrameUART:
		return "uart"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(k))
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// Known reports whether the state code is in the state table
func (s State) Known() bool {
	_, ok := stateNames[s]
	return ok
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(m))
}

// Known reports whether the mode code is in the mode table
func (m Mode) Known() bool {
	_, ok := modeNames[m]
	return ok
}

func (s UARTState) String() string {
	if int(s) < len(uartStateNames) {
		return uartStateNames[s]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// Known reports whether the state code is in the UART state table
func (s UARTState) Known() bool {
	return int(s) < len(uartStateNames)
}

// HcaloryStatus is decoded from a 41+ byte status notification
type HcaloryStatus struct {
	State             State
	Mode              Mode
	Setting           int
	BatteryVoltage    float64
	ChamberTemp       int16
	ExternalTemp      int16
	HeatExchangerTemp int16
}

// UARTStatus is decoded from a 26-byte 0x76 0x16 frame
type UARTStatus struct {
	Power       bool
	State       UARTState
	SetTemp     int
	ChamberTemp int
	FanRPM      int
	PumpFreqHz  float64
	ErrorCode   int
}

// Status holds exactly one decoded layout, selected by Kind
type Status struct {
	Kind    FrameKind
	Hcalory *HcaloryStatus
	UART    *UARTStatus
}

// StateName returns the state name of whichever layout is populated
func (s *Status) StateName() string {
	switch {
	case s == nil:
		return ""
	case s.Hcalory != nil:
		return s.Hcalory.State.String()
	case s.UART != nil:
		return s.UART.State.String()
	}
	return ""
}
