// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gatt

import (
	"errors"
	"strings"
	"testing"

	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/Thermoquad/bluestat/pkg/telemetry"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestRouter() *Router {
	log, _ := test.NewNullLogger()
	return NewRouter(telemetry.NewDecoder(telemetry.DefaultThresholds(), log))
}

func TestRoute(t *testing.T) {
	hcalory := make([]byte, heater.HcaloryFrameSize)
	hcalory[20] = 133

	// Long charger payload, 12.5 V and 3.2 A as LE pairs
	charger := make([]byte, 44)
	charger[0], charger[1] = 0xD4, 0x30
	charger[2], charger[3] = 0x80, 0x0C

	tests := []struct {
		name           string
		characteristic string
		data           []byte
		want           EventKind
	}{
		{"uart on any characteristic", "ffe1", uartStatusFrame(), EventHeater},
		{"hcalory on notify characteristic", "fff1", hcalory, EventHeater},
		{"short frame on notify characteristic", "fff1", []byte{0x01, 0x02}, EventInvalid},
		{"full uuid notify characteristic", string(HeaterNotify), []byte{0x01}, EventInvalid},
		{"telemetry", "ffe1", []byte{0x27, 0x10}, EventTelemetry},
		{"long payload off the notify characteristic", "ffe1", charger, EventTelemetry},
		{"zeros", "ffe1", make([]byte, 8), EventUnclassified},
	}
	r := newTestRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := r.Route(notificationFor(tt.characteristic, tt.data))
			if ev.Kind != tt.want {
				t.Fatalf("Route() kind = %v, want %v (err %v)", ev.Kind, tt.want, ev.Err)
			}
			if tt.want == EventInvalid {
				var ide *heater.InsufficientDataError
				if !errors.As(ev.Err, &ide) {
					t.Errorf("Route() err = %v, want *InsufficientDataError", ev.Err)
				}
			}
		})
	}
}

func TestRouteLongReadIsNotHeater(t *testing.T) {
	r := newTestRouter()
	n := notificationFor("2a00", []byte(strings.Repeat("B", heater.HcaloryFrameSize+2)))
	ev := r.Route(n)
	if ev.Kind == EventHeater || ev.Kind == EventInvalid || ev.Status != nil {
		t.Errorf("Route() kind = %v status = %v, want the heuristic decoder", ev.Kind, ev.Status)
	}
}

func TestParseUUID(t *testing.T) {
	tests := []struct {
		in      string
		want    UUID
		wantErr bool
	}{
		{"fff1", HeaterNotify, false},
		{"0xFFF2", HeaterWrite, false},
		{"0000fff0-0000-1000-8000-00805f9b34fb", HeaterService, false},
		{"00002A1900001000800000805F9B34FB", BatteryLevel, false},
		{"6e400001-b5a3-f393-e0a9-e50e24dcca9e", UUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"), false},
		{"xyz1", "", true},
		{"0000fff0_0000-1000-8000-00805f9b34fb", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUUID(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseUUID(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUUID(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseUUID(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestUUIDLabels(t *testing.T) {
	if got := BatteryLevel.Short(); got != "2a19" {
		t.Errorf("Short() = %q", got)
	}
	if got := BatteryLevel.Label(); got != "Battery Level (2a19)" {
		t.Errorf("Label() = %q", got)
	}
	custom := UUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	if custom.Short() != string(custom) || custom.Name() != "" {
		t.Errorf("custom uuid labelled as %q/%q", custom.Short(), custom.Name())
	}
	if len(FallbackServices()) != 8 {
		t.Errorf("FallbackServices() has %d entries, want 8", len(FallbackServices()))
	}
}

func TestPropsString(t *testing.T) {
	if got := (PropRead | PropNotify).String(); got != "read, notify" {
		t.Errorf("String() = %q", got)
	}
	if got := Props(0).String(); got != "none" {
		t.Errorf("String() = %q", got)
	}
	if !PropWriteNoResponse.CanWrite() || PropRead.CanSubscribe() {
		t.Error("CanWrite/CanSubscribe mismatch")
	}
}

func TestStatisticsString(t *testing.T) {
	s := NewStatistics()
	s.Update(Event{Kind: EventHeater})
	s.Update(Event{Kind: EventInvalid})
	s.Update(Event{Kind: EventUnclassified, Read: true})
	s.WriteDone(errors.New("busy"))

	out := s.String()
	for _, want := range []string{"Notifications:          2", "Decode Errors:", "Writes:                 1 (1 failed)"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q:\n%s", want, out)
		}
	}

	s.Reset()
	if c := s.Snapshot(); c.TotalNotifications != 0 || c.Writes != 0 {
		t.Errorf("Reset() left counters %+v", c)
	}
}

func TestStatisticsPercentagesIncludeReads(t *testing.T) {
	s := NewStatistics()
	s.Update(Event{Kind: EventUnclassified, Read: true})
	s.Update(Event{Kind: EventUnclassified, Read: true})
	s.Update(Event{Kind: EventUnclassified, Read: true})
	s.Update(Event{Kind: EventHeater})

	out := s.String()
	for _, want := range []string{"Heater Frames:          1 (25.0%)", "Unclassified:           3 (75.0%)"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q:\n%s", want, out)
		}
	}

	readsOnly := NewStatistics()
	readsOnly.Update(Event{Kind: EventTelemetry, Read: true})
	if out := readsOnly.String(); !strings.Contains(out, "Telemetry:              1 (100.0%)") {
		t.Errorf("String() with only reads:\n%s", out)
	}
}
