// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gatt

import (
	"fmt"
	"strings"
)

// ConnectionError reports an unavailable transport, a failed connect or a
// disconnect in the middle of an operation
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DiscoveryError reports that no services were found, even after probing
// the fallback list
type DiscoveryError struct {
	Address string
	Err     error
}

func (e *DiscoveryError) Error() string {
	msg := fmt.Sprintf("no services discovered on %s", e.Address)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Diagnostic returns the remediation text shown to the user
func (e *DiscoveryError) Diagnostic() string {
	return strings.Join(Remediation, "\n")
}

// ReadError is a failed characteristic read
type ReadError struct {
	Characteristic UUID
	Err            error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Characteristic.Label(), e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError is a failed characteristic write
type WriteError struct {
	Characteristic UUID
	Err            error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Characteristic.Label(), e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
