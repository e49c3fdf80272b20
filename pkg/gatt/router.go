// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gatt

import (
	"fmt"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/Thermoquad/bluestat/pkg/telemetry"
)

// EventKind classifies a routed value
type EventKind uint8

const (
	// EventHeater is a decoded heater status frame
	EventHeater EventKind = iota + 1
	// EventTelemetry carries heuristic voltage/current readings
	EventTelemetry
	// EventUnclassified is a value neither decoder could use
	EventUnclassified
	// EventInvalid is a heater frame that failed to decode
	EventInvalid
)

func (k EventKind) String() string {
	switch k {
	case EventHeater:
		return "heater"
	case EventTelemetry:
		return "telemetry"
	case EventUnclassified:
		return "unclassified"
	case EventInvalid:
		return "invalid"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(k))
}

// Event is the outcome of routing one notification or read value
type Event struct {
	Notification byteframe.RawNotification
	Kind         EventKind
	Read         bool

	Status   *heater.Status
	Readings []telemetry.Reading
	Trace    []string
	Err      error
}

// Router picks the decoder for a value. The heater notify characteristic
// and 26-byte UART status frames go to the heater codec, everything else
// to the heuristic decoder. The Hcalory layout has no signature, so it is
// only trusted on the notify characteristic.
type Router struct {
	decoder *telemetry.Decoder
}

// NewRouter creates a router around the heuristic decoder
func NewRouter(decoder *telemetry.Decoder) *Router {
	return &Router{decoder: decoder}
}

// Route decodes n. It never fails; decode errors are reported in the Event.
func (r *Router) Route(n byteframe.RawNotification) Event {
	ev := Event{Notification: n}

	if isHeaterNotify(n.Characteristic) || heater.IsUARTFrame(n.Data) {
		status, err := heater.Decode(n.Data)
		if err != nil {
			ev.Kind = EventInvalid
			ev.Err = err
			return ev
		}
		ev.Kind = EventHeater
		ev.Status = status
		return ev
	}

	res := r.decoder.Decode(n)
	ev.Trace = res.Trace
	ev.Readings = res.Readings
	if len(res.Readings) > 0 {
		ev.Kind = EventTelemetry
	} else {
		ev.Kind = EventUnclassified
	}
	return ev
}

func isHeaterNotify(characteristic string) bool {
	u, err := ParseUUID(characteristic)
	return err == nil && u == HeaterNotify
}
