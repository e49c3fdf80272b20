// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package heater

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
)

// CommandKind identifies a named heater command
type CommandKind uint8

const (
	CmdOn CommandKind = iota + 1
	CmdOff
	CmdRequestStatus
	CmdLevel1
	CmdLevel2
	CmdLevel3
	CmdSetTemperature
	CmdCustom
)

var commandNames = map[CommandKind]string{
	CmdOn:             "on",
	CmdOff:            "off",
	CmdRequestStatus:  "status",
	CmdLevel1:         "level1",
	CmdLevel2:         "level2",
	CmdLevel3:         "level3",
	CmdSetTemperature: "set-temp",
	CmdCustom:         "custom",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(k))
}

// RangeError is returned when a set temperature is outside the supported range
type RangeError struct {
	Value    int
	Min, Max int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("temperature %d°C out of range (%d-%d)", e.Value, e.Min, e.Max)
}

// Command is a heater command ready to be framed. Construct it with one of
// the New* functions.
type Command struct {
	Kind        CommandKind
	Temperature int    // SetTemperature only
	Raw         []byte // Custom only
}

// NewCommand builds a fixed opcode command (On, Off, RequestStatus, Level1-3)
func NewCommand(kind CommandKind) (Command, error) {
	if kind == CmdSetTemperature || kind == CmdCustom {
		return Command{}, fmt.Errorf("%s requires arguments", kind)
	}
	if _, ok := opcodes[kind]; !ok {
		return Command{}, fmt.Errorf("unknown command kind %d", kind)
	}
	return Command{Kind: kind}, nil
}

// NewSetTemperature builds a thermostat command after checking the range
func NewSetTemperature(celsius int) (Command, error) {
	if celsius < MinSetTemperature || celsius > MaxSetTemperature {
		return Command{}, &RangeError{Value: celsius, Min: MinSetTemperature, Max: MaxSetTemperature}
	}
	return Command{Kind: CmdSetTemperature, Temperature: celsius}, nil
}

// NewCustom parses caller supplied hex into a headerless command. Invalid
// input is rejected with a *byteframe.ParseError.
func NewCustom(hex string) (Command, error) {
	raw, err := byteframe.ParseHex(hex)
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: CmdCustom, Raw: raw}, nil
}

// ParseCommand maps a command name and its arguments to a Command.
// Accepted names match CommandKind.String.
func ParseCommand(name string, args ...string) (Command, error) {
	switch strings.ToLower(name) {
	case "on", "start":
		return NewCommand(CmdOn)
	case "off", "stop":
		return NewCommand(CmdOff)
	case "status":
		return NewCommand(CmdRequestStatus)
	case "level1", "gear":
		return NewCommand(CmdLevel1)
	case "level2", "up":
		return NewCommand(CmdLevel2)
	case "level3", "down":
		return NewCommand(CmdLevel3)
	case "set-temp", "settemp", "thermostat":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("set-temp requires one temperature argument")
		}
		t, err := strconv.Atoi(args[0])
		if err != nil {
			return Command{}, fmt.Errorf("invalid temperature %q: %w", args[0], err)
		}
		return NewSetTemperature(t)
	case "custom":
		return NewCustom(strings.Join(args, " "))
	}
	return Command{}, fmt.Errorf("unknown heater command %q", name)
}

// Encode returns the wire frame for the command. It is pure: the same
// command always yields the same bytes.
func (c Command) Encode() []byte {
	if c.Kind == CmdCustom {
		out := make([]byte, len(c.Raw))
		copy(out, c.Raw)
		return out
	}

	op, ok := opcodes[c.Kind]
	if !ok {
		return nil
	}
	frame := make([]byte, 0, FrameSize)
	frame = append(frame, header[:]...)
	frame = append(frame, op[:]...)
	return frame
}

// ChangesPower reports whether the command switches the heater on or off
func (c Command) ChangesPower() bool {
	return c.Kind == CmdOn || c.Kind == CmdOff
}

func (c Command) String() string {
	switch c.Kind {
	case CmdSetTemperature:
		return fmt.Sprintf("set-temp(%d°C)", c.Temperature)
	case CmdCustom:
		return fmt.Sprintf("custom(%s)", byteframe.FormatHex(c.Raw))
	}
	return c.Kind.String()
}
