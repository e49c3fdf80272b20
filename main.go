// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Bluestat - BLE Telemetry and Heater Control
//
// A CLI tool for monitoring BLE solar controllers, DC-DC chargers and
// diesel heaters, decoding their notifications and sending heater commands.

package main

import (
	"os"

	"github.com/Thermoquad/bluestat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
