// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package byteframe

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatHex renders buf as lower-case, space separated hex pairs ("76 16 01")
func FormatHex(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	var s strings.Builder
	s.Grow(len(buf) * 3)
	for i, b := range buf {
		if i > 0 {
			s.WriteByte(' ')
		}
		fmt.Fprintf(&s, "%02x", b)
	}
	return s.String()
}

// FormatDecimal renders buf as a comma separated list of byte values
func FormatDecimal(buf []byte) string {
	parts := make([]string, len(buf))
	for i, b := range buf {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, ", ")
}

// FormatASCII renders printable bytes (0x20-0x7E) verbatim and everything
// else as '.'
func FormatASCII(buf []byte) string {
	out := make([]byte, len(buf))
	for i, b := range buf {
		if isPrintable(b) {
			out[i] = b
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

// HasPrintable reports whether at least one byte in buf is a printable
// character other than '.'
func HasPrintable(buf []byte) bool {
	for _, b := range buf {
		if isPrintable(b) && b != '.' {
			return true
		}
	}
	return false
}

// IsPrintable reports whether buf is non-empty and entirely printable ASCII
func IsPrintable(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	for _, b := range buf {
		if !isPrintable(b) {
			return false
		}
	}
	return true
}

func isPrintable(b byte) bool {
	return b >= 0x20 && b <= 0x7E
}
