// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package byteframe

import (
	"encoding/binary"
	"fmt"
	"math"
)

// OutOfRangeError is returned when a typed read would run past the end of
// the buffer.
type OutOfRangeError struct {
	Offset int
	Width  int
	Len    int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("read of %d bytes at offset %d exceeds buffer length %d", e.Width, e.Offset, e.Len)
}

func window(buf []byte, off, width int) ([]byte, error) {
	if off < 0 || off+width > len(buf) {
		return nil, &OutOfRangeError{Offset: off, Width: width, Len: len(buf)}
	}
	return buf[off : off+width], nil
}

// Uint16LE reads a little-endian uint16 at off
func Uint16LE(buf []byte, off int) (uint16, error) {
	b, err := window(buf, off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint16BE reads a big-endian uint16 at off
func Uint16BE(buf []byte, off int) (uint16, error) {
	b, err := window(buf, off, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Int16LE reads a little-endian int16 at off
func Int16LE(buf []byte, off int) (int16, error) {
	v, err := Uint16LE(buf, off)
	return int16(v), err
}

// Int16BE reads a big-endian int16 at off
func Int16BE(buf []byte, off int) (int16, error) {
	v, err := Uint16BE(buf, off)
	return int16(v), err
}

// Uint32LE reads a little-endian uint32 at off
func Uint32LE(buf []byte, off int) (uint32, error) {
	b, err := window(buf, off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint32BE reads a big-endian uint32 at off
func Uint32BE(buf []byte, off int) (uint32, error) {
	b, err := window(buf, off, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Int32LE reads a little-endian int32 at off
func Int32LE(buf []byte, off int) (int32, error) {
	v, err := Uint32LE(buf, off)
	return int32(v), err
}

// Int32BE reads a big-endian int32 at off
func Int32BE(buf []byte, off int) (int32, error) {
	v, err := Uint32BE(buf, off)
	return int32(v), err
}

// Float32LE reads a little-endian IEEE-754 float32 at off. NaN and
// infinities are returned as-is; callers decide whether they are usable.
func Float32LE(buf []byte, off int) (float32, error) {
	v, err := Uint32LE(buf, off)
	return math.Float32frombits(v), err
}

// Float32BE reads a big-endian IEEE-754 float32 at off
func Float32BE(buf []byte, off int) (float32, error) {
	v, err := Uint32BE(buf, off)
	return math.Float32frombits(v), err
}

// IsZero reports whether every byte in buf is zero. An empty buffer counts
// as zero.
func IsZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
