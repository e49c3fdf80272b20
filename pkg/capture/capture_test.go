// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
)

func TestCapture_RecordReplay(t *testing.T) {
	var buf bytes.Buffer
	started := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

	w, err := NewWriter(&buf, Header{Device: "AA:BB", Name: "DCDC", Started: started})
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	in := []byteframe.RawNotification{
		byteframe.NewRawNotification("fff1", []byte{0x76, 0x16, 0x01}, started.Add(time.Second)),
		byteframe.NewRawNotification("ffe1", []byte{0x27, 0x10}, started.Add(2*time.Second)),
		byteframe.NewRawNotification("2a19", nil, started.Add(3*time.Second)),
	}
	for _, n := range in {
		if err := w.Write(n); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if w.Count() != len(in) {
		t.Errorf("Count() = %d, want %d", w.Count(), len(in))
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	h := r.Header()
	if h.Device != "AA:BB" || h.Name != "DCDC" || !h.Started.Equal(started) || h.Version != Version {
		t.Errorf("Header() = %+v", h)
	}

	out, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("ReadAll() returned %d notifications, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Characteristic != in[i].Characteristic {
			t.Errorf("[%d] Characteristic = %q, want %q", i, out[i].Characteristic, in[i].Characteristic)
		}
		if !bytes.Equal(out[i].Data, in[i].Data) {
			t.Errorf("[%d] Data = %x, want %x", i, out[i].Data, in[i].Data)
		}
		if !out[i].Timestamp.Equal(in[i].Timestamp) {
			t.Errorf("[%d] Timestamp = %v, want %v", i, out[i].Timestamp, in[i].Timestamp)
		}
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() at end error = %v, want io.EOF", err)
	}
}

func TestCapture_RejectsForeignData(t *testing.T) {
	if _, err := NewReader(bytes.NewReader(nil)); !errors.Is(err, ErrNotCapture) {
		t.Errorf("empty input error = %v, want ErrNotCapture", err)
	}

	other, _ := cbor.Marshal(Header{Magic: "something-else", Version: Version})
	if _, err := NewReader(bytes.NewReader(other)); !errors.Is(err, ErrNotCapture) {
		t.Errorf("wrong magic error = %v, want ErrNotCapture", err)
	}

	future, _ := cbor.Marshal(Header{Magic: Magic, Version: Version + 1})
	if _, err := NewReader(bytes.NewReader(future)); err == nil {
		t.Error("future version accepted")
	}
}

func TestCapture_OversizedDataTruncated(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Header{})
	if err != nil {
		t.Fatal(err)
	}
	// Bypass NewRawNotification to simulate a hand-edited file
	big := byteframe.RawNotification{Characteristic: "ffe1", Data: make([]byte, 600)}
	if err := w.Write(big); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	n, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(n.Data) != byteframe.MaxNotificationSize {
		t.Errorf("len(Data) = %d, want %d", len(n.Data), byteframe.MaxNotificationSize)
	}
}
