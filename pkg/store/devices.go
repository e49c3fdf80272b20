// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Connection status values
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Device is a peripheral seen during a scan
type Device struct {
	ID               string    `json:"id"`
	OriginalName     string    `json:"originalName"`
	CustomName       string    `json:"customName,omitempty"`
	Brand            string    `json:"brand,omitempty"`
	Category         string    `json:"category,omitempty"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
	ConnectionStatus string    `json:"connectionStatus"`
}

// DisplayName prefers the custom name
func (d Device) DisplayName() string {
	if d.CustomName != "" {
		return d.CustomName
	}
	if d.OriginalName != "" {
		return d.OriginalName
	}
	return "Unknown Device"
}

// Devices is the device registry
type Devices struct {
	kv  KV
	now func() time.Time
}

// NewDevices creates the registry. A nil clock uses time.Now.
func NewDevices(kv KV, now func() time.Time) *Devices {
	if now == nil {
		now = time.Now
	}
	return &Devices{kv: kv, now: now}
}

// List returns every device in insertion order
func (r *Devices) List(ctx context.Context) ([]Device, error) {
	var devices []Device
	if _, err := loadJSON(ctx, r.kv, KeyDevices, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Find looks a device up by id, custom name or original name
// (case-insensitive for names)
func (r *Devices) Find(ctx context.Context, ref string) (Device, error) {
	devices, err := r.List(ctx)
	if err != nil {
		return Device{}, err
	}
	if i := indexOf(devices, ref); i >= 0 {
		return devices[i], nil
	}
	return Device{}, fmt.Errorf("device %q: %w", ref, ErrNotFound)
}

// Observe records a scan result: new devices are added, known devices get
// their last seen time refreshed. It reports whether the device was new.
func (r *Devices) Observe(ctx context.Context, id, name string) (Device, bool, error) {
	devices, err := r.List(ctx)
	if err != nil {
		return Device{}, false, err
	}
	now := r.now().UTC()

	for i := range devices {
		if devices[i].ID == id {
			devices[i].LastSeen = now
			if devices[i].OriginalName == "" && name != "" {
				devices[i].OriginalName = name
			}
			return devices[i], false, saveJSON(ctx, r.kv, KeyDevices, devices)
		}
	}

	d := Device{
		ID:               id,
		OriginalName:     name,
		FirstSeen:        now,
		LastSeen:         now,
		ConnectionStatus: StatusDisconnected,
	}
	devices = append(devices, d)
	return d, true, saveJSON(ctx, r.kv, KeyDevices, devices)
}

// Rename sets the custom name. An empty name restores the original.
func (r *Devices) Rename(ctx context.Context, ref, name string) (Device, error) {
	return r.update(ctx, ref, func(d *Device) { d.CustomName = strings.TrimSpace(name) })
}

// SetBrand assigns a brand
func (r *Devices) SetBrand(ctx context.Context, ref, brand string) (Device, error) {
	return r.update(ctx, ref, func(d *Device) { d.Brand = strings.TrimSpace(brand) })
}

// SetCategory assigns a category
func (r *Devices) SetCategory(ctx context.Context, ref, category string) (Device, error) {
	return r.update(ctx, ref, func(d *Device) { d.Category = strings.TrimSpace(category) })
}

// SetConnectionStatus records connected/disconnected
func (r *Devices) SetConnectionStatus(ctx context.Context, ref, status string) (Device, error) {
	return r.update(ctx, ref, func(d *Device) {
		d.ConnectionStatus = status
		if status == StatusConnected {
			d.LastSeen = r.now().UTC()
		}
	})
}

// Delete removes a device
func (r *Devices) Delete(ctx context.Context, ref string) error {
	devices, err := r.List(ctx)
	if err != nil {
		return err
	}
	i := indexOf(devices, ref)
	if i < 0 {
		return fmt.Errorf("device %q: %w", ref, ErrNotFound)
	}
	devices = append(devices[:i], devices[i+1:]...)
	return saveJSON(ctx, r.kv, KeyDevices, devices)
}

func (r *Devices) update(ctx context.Context, ref string, fn func(*Device)) (Device, error) {
	devices, err := r.List(ctx)
	if err != nil {
		return Device{}, err
	}
	i := indexOf(devices, ref)
	if i < 0 {
		return Device{}, fmt.Errorf("device %q: %w", ref, ErrNotFound)
	}
	fn(&devices[i])
	if err := saveJSON(ctx, r.kv, KeyDevices, devices); err != nil {
		return Device{}, err
	}
	return devices[i], nil
}

func indexOf(devices []Device, ref string) int {
	for i, d := range devices {
		if d.ID == ref {
			return i
		}
	}
	for i, d := range devices {
		if (d.CustomName != "" && strings.EqualFold(d.CustomName, ref)) ||
			(d.OriginalName != "" && strings.EqualFold(d.OriginalName, ref)) {
			return i
		}
	}
	return -1
}
