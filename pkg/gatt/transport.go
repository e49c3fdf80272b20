// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gatt drives one connection to a BLE peripheral: discovery, the
// per-characteristic read and subscribe loop, and routing of incoming
// values to the heater codec or the heuristic telemetry decoder.
package gatt

import (
	"context"
	"strings"
)

// Props is the set of GATT characteristic properties
type Props uint8

const (
	PropRead Props = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
	PropIndicate
)

// PropAll is reported by transports that cannot query properties
const PropAll = PropRead | PropWrite | PropWriteNoResponse | PropNotify | PropIndicate

func (p Props) Has(flag Props) bool { return p&flag != 0 }

// CanWrite reports either write flavour
func (p Props) CanWrite() bool { return p.Has(PropWrite) || p.Has(PropWriteNoResponse) }

// CanSubscribe reports notify or indicate
func (p Props) CanSubscribe() bool { return p.Has(PropNotify) || p.Has(PropIndicate) }

func (p Props) String() string {
	var parts []string
	if p.Has(PropRead) {
		parts = append(parts, "read")
	}
	if p.Has(PropWrite) {
		parts = append(parts, "write")
	}
	if p.Has(PropWriteNoResponse) {
		parts = append(parts, "writeWithoutResponse")
	}
	if p.Has(PropNotify) {
		parts = append(parts, "notify")
	}
	if p.Has(PropIndicate) {
		parts = append(parts, "indicate")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// Transport opens connections to peripherals
type Transport interface {
	Connect(ctx context.Context, address string) (Conn, error)
}

// Conn is one open connection
type Conn interface {
	Address() string
	// DiscoverServices returns every service when filter is empty,
	// otherwise only the listed ones
	DiscoverServices(ctx context.Context, filter []UUID) ([]Service, error)
	// OnDisconnect registers a callback for a peripheral initiated
	// disconnect. It may run on any goroutine.
	OnDisconnect(fn func())
	Close() error
}

// Service is a discovered primary service
type Service interface {
	UUID() UUID
	DiscoverCharacteristics(ctx context.Context) ([]Characteristic, error)
}

// Characteristic is a discovered characteristic. Subscribe handlers run on
// a transport goroutine and must not block.
type Characteristic interface {
	UUID() UUID
	Properties() Props
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Subscribe(ctx context.Context, handler func([]byte)) error
}

// Advertisement is one scan result
type Advertisement struct {
	Address string
	Name    string
	RSSI    int16
}

// Scanner discovers nearby peripherals until ctx is done
type Scanner interface {
	Scan(ctx context.Context, found func(Advertisement)) error
}
