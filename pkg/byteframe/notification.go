// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package byteframe

import "time"

// MaxNotificationSize is the largest attribute value a notification can carry
const MaxNotificationSize = 512

// RawNotification is one value pushed or read from a characteristic
type RawNotification struct {
	Characteristic string    `cbor:"1,keyasint" json:"characteristic"`
	Data           []byte    `cbor:"2,keyasint" json:"data"`
	Timestamp      time.Time `cbor:"3,keyasint" json:"timestamp"`
}

// NewRawNotification copies data (truncated to MaxNotificationSize) so the
// notification stays immutable after the transport reuses its buffer
func NewRawNotification(characteristic string, data []byte, ts time.Time) RawNotification {
	if len(data) > MaxNotificationSize {
		data = data[:MaxNotificationSize]
	}
	return RawNotification{
		Characteristic: characteristic,
		Data:           append([]byte(nil), data...),
		Timestamp:      ts,
	}
}
