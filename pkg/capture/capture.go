// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records notifications to a file and replays them. A
// capture is a CBOR sequence: one Header item followed by one
// byteframe.RawNotification item per value.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
)

const (
	// Magic identifies a capture file
	Magic = "bluestat-capture"

	// Version is the current capture format version
	Version = 1
)

// ErrNotCapture is returned when the first item is not a capture header
var ErrNotCapture = errors.New("not a bluestat capture")

// Header describes the recording
type Header struct {
	Magic    string    `cbor:"1,keyasint"`
	Version  uint      `cbor:"2,keyasint"`
	Device   string    `cbor:"3,keyasint,omitempty"`
	Name     string    `cbor:"4,keyasint,omitempty"`
	Started  time.Time `cbor:"5,keyasint"`
	Comments string    `cbor:"6,keyasint,omitempty"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Writer appends notifications to a capture. It is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	enc   *cbor.Encoder
	count int
}

// NewWriter writes the header and returns a writer for the items
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	h.Magic = Magic
	h.Version = Version
	if h.Started.IsZero() {
		h.Started = time.Now()
	}
	enc := encMode.NewEncoder(w)
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Write appends one notification
func (w *Writer) Write(n byteframe.RawNotification) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(n); err != nil {
		return fmt.Errorf("write notification %d: %w", w.count, err)
	}
	w.count++
	return nil
}

// Count returns the number of notifications written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Reader iterates over a capture
type Reader struct {
	dec    *cbor.Decoder
	header Header
	index  int
}

// NewReader reads and checks the header
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var h Header
	if err := dec.Decode(&h); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrNotCapture)
		}
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}
	if h.Magic != Magic {
		return nil, ErrNotCapture
	}
	if h.Version != Version {
		return nil, fmt.Errorf("unsupported capture version %d", h.Version)
	}
	return &Reader{dec: dec, header: h}, nil
}

// Header returns the capture header
func (r *Reader) Header() Header { return r.header }

// Next returns the next notification, or io.EOF at the end
func (r *Reader) Next() (byteframe.RawNotification, error) {
	var n byteframe.RawNotification
	if err := r.dec.Decode(&n); err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, fmt.Errorf("read notification %d: %w", r.index, err)
	}
	r.index++
	if len(n.Data) > byteframe.MaxNotificationSize {
		n.Data = n.Data[:byteframe.MaxNotificationSize]
	}
	return n, nil
}

// ReadAll returns every remaining notification
func (r *Reader) ReadAll() ([]byteframe.RawNotification, error) {
	var out []byteframe.RawNotification
	for {
		n, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, n)
	}
}
