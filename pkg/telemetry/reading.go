// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"time"
)

// Role identifies which battery a reading belongs to
type Role uint8

const (
	RoleAux Role = iota
	RoleStarter
)

func (r Role) String() string {
	switch r {
	case RoleAux:
		return "aux"
	case RoleStarter:
		return "starter"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(r))
}

// Reading is one decoded voltage/current observation. Either value may be
// absent.
type Reading struct {
	Role      Role
	Voltage   *float64
	Current   *float64
	Timestamp time.Time
}

// Power returns voltage*current when both are present
func (r Reading) Power() (float64, bool) {
	if r.Voltage == nil || r.Current == nil {
		return 0, false
	}
	return *r.Voltage * *r.Current, true
}

func (r Reading) String() string {
	v, i := "--", "--"
	if r.Voltage != nil {
		v = fmt.Sprintf("%.2fV", *r.Voltage)
	}
	if r.Current != nil {
		i = fmt.Sprintf("%.2fA", *r.Current)
	}
	return fmt.Sprintf("%s %s %s", r.Role, v, i)
}

func ptr(v float64) *float64 {
	return &v
}
