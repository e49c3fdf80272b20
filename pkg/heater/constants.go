// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package heater

// Frame layout
const (
	HeaderSize = 24
	OpcodeSize = 2
	FrameSize  = HeaderSize + OpcodeSize

	UARTFrameSize    = 26
	UARTSync0        = 0x76
	UARTSync1        = 0x16
	HcaloryFrameSize = 41 // Minimum length of a Hcalory status frame
)

// Set temperature limits (degrees C)
const (
	MinSetTemperature = 8
	MaxSetTemperature = 35
)

// header is the fixed prefix of every outbound command frame
var header = [HeaderSize]byte{
	0x00, 0x02, 0x00, 0x01, 0x00, 0x01, 0x00, 0x0e,
	0x04, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Header returns a copy of the fixed command header
func Header() []byte {
	h := header
	return h[:]
}

// Opcode pairs appended to the header. The second byte is always the first
// plus 0x0D.
var opcodes = map[CommandKind][OpcodeSize]byte{
	CmdRequestStatus:  {0x00, 0x0D},
	CmdOff:            {0x01, 0x0E},
	CmdOn:             {0x02, 0x0F},
	CmdLevel2:         {0x03, 0x10},
	CmdLevel3:         {0x04, 0x11},
	CmdSetTemperature: {0x05, 0x12},
	CmdLevel1:         {0x07, 0x14},
}

// Hcalory status frame offsets
const (
	hcOffsetState       = 20
	hcOffsetMode        = 21
	hcOffsetSetting     = 22
	hcOffsetVoltageLow  = 25
	hcOffsetChamberTemp = 35
	hcOffsetExternal    = 37
	hcOffsetExchanger   = 39
)

// UART frame offsets
const (
	uartOffsetSetTemp   = 2
	uartOffsetState     = 3
	uartOffsetError     = 4
	uartOffsetPower     = 5
	uartOffsetPumpFreq  = 6
	uartOffsetFanRPM    = 8
	uartOffsetChamber   = 10
	uartPumpFreqDivisor = 10.0
	hcVoltageDivisor    = 10.0
)

// State is the heater state code reported by a Hcalory status frame
type State uint8

const (
	StateOff              State = 0
	StateCooldown         State = 65
	StateCooldownStarting State = 67
	StateCooldownReceived State = 69
	StateIgnitionReceived State = 128
	StateIgnitionStarting State = 129
	StateIgniting         State = 131
	StateRunning          State = 133
	StateHeating          State = 135
	StateError            State = 255
)

var stateNames = map[State]string{
	StateOff:              "Off",
	StateCooldown:         "Cooldown",
	StateCooldownStarting: "CooldownStarting",
	StateCooldownReceived: "CooldownReceived",
	StateIgnitionReceived: "IgnitionReceived",
	StateIgnitionStarting: "IgnitionStarting",
	StateIgniting:         "Igniting",
	StateRunning:          "Running",
	StateHeating:          "Heating",
	StateError:            "Error",
}

// Mode is the control mode reported by a Hcalory status frame
type Mode uint8

const (
	ModeOff            Mode = 0
	ModeThermostat     Mode = 1
	ModeGear           Mode = 2
	ModeIgnitionFailed Mode = 8
)

var modeNames = map[Mode]string{
	ModeOff:            "Off",
	ModeThermostat:     "Thermostat",
	ModeGear:           "Gear",
	ModeIgnitionFailed: "IgnitionFailed",
}

// UARTState is the state code carried by a 26-byte UART frame
type UARTState uint8

const (
	UARTOff UARTState = iota
	UARTStarting
	UARTIgniting
	UARTRunning
	UARTStopping
	UARTCoolDown
	UARTError
	UARTIdle
	UARTStandby
)

var uartStateNames = []string{
	"Off", "Starting", "Igniting", "Running", "Stopping",
	"Cool Down", "Error", "Idle", "Standby",
}
