// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/Thermoquad/bluestat/pkg/gatt"
	log "github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// bleTransport talks to peripherals through the system Bluetooth adapter.
// It implements gatt.Transport and gatt.Scanner.
type bleTransport struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu       sync.Mutex
	handlers map[string]func()
}

func newBLETransport() *bleTransport {
	return &bleTransport{
		adapter:  bluetooth.DefaultAdapter,
		handlers: make(map[string]func()),
	}
}

func (t *bleTransport) enable() error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fmt.Errorf("failed to enable Bluetooth: %w", err)
			return
		}
		t.adapter.SetConnectHandler(t.connectHandler)
	})
	return t.enableErr
}

// connectHandler runs on the adapter goroutine for every connection change
func (t *bleTransport) connectHandler(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := strings.ToUpper(device.Address.String())
	t.mu.Lock()
	fn := t.handlers[addr]
	delete(t.handlers, addr)
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Scan reports advertisements until ctx is done
func (t *bleTransport) Scan(ctx context.Context, found func(gatt.Advertisement)) error {
	if err := t.enable(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			found(gatt.Advertisement{
				Address: strings.ToUpper(result.Address.String()),
				Name:    result.LocalName(),
				RSSI:    result.RSSI,
			})
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := t.adapter.StopScan(); err != nil {
			log.WithError(err).Debug("StopScan failed")
		}
		<-done
		return nil
	}
}

// Connect scans for the peripheral by address or advertised name and
// connects to the first match
func (t *bleTransport) Connect(ctx context.Context, ref string) (gatt.Conn, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	addr, err := t.find(ctx, ref)
	if err != nil {
		return nil, err
	}

	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &bleConn{transport: t, device: device, address: strings.ToUpper(addr.String())}, nil
}

// find scans until ref is advertised and returns its adapter address
func (t *bleTransport) find(ctx context.Context, ref string) (bluetooth.Address, error) {
	var (
		mu    sync.Mutex
		addr  bluetooth.Address
		found bool
	)

	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !strings.EqualFold(result.Address.String(), ref) && !strings.EqualFold(result.LocalName(), ref) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if found {
				return
			}
			addr = result.Address
			found = true
			a.StopScan()
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return addr, err
		}
	case <-ctx.Done():
		if err := t.adapter.StopScan(); err != nil {
			log.WithError(err).Debug("StopScan failed")
		}
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	if !found {
		if ctx.Err() != nil {
			return addr, fmt.Errorf("device %s not found: %w", ref, ctx.Err())
		}
		return addr, fmt.Errorf("device %s not found", ref)
	}
	return addr, nil
}

func (t *bleTransport) watch(address string, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn == nil {
		delete(t.handlers, address)
		return
	}
	t.handlers[address] = fn
}

type bleConn struct {
	transport *bleTransport
	device    bluetooth.Device
	address   string
}

func (c *bleConn) Address() string { return c.address }

func (c *bleConn) DiscoverServices(_ context.Context, filter []gatt.UUID) ([]gatt.Service, error) {
	var uuids []bluetooth.UUID
	for _, id := range filter {
		u, err := bluetooth.ParseUUID(id.String())
		if err != nil {
			return nil, err
		}
		uuids = append(uuids, u)
	}

	services, err := c.device.DiscoverServices(uuids)
	if err != nil {
		return nil, err
	}
	out := make([]gatt.Service, 0, len(services))
	for _, svc := range services {
		out = append(out, &bleService{svc: svc})
	}
	return out, nil
}

func (c *bleConn) OnDisconnect(fn func()) {
	c.transport.watch(c.address, fn)
}

func (c *bleConn) Close() error {
	c.transport.watch(c.address, nil)
	return c.device.Disconnect()
}

type bleService struct {
	svc bluetooth.DeviceService
}

func (s *bleService) UUID() gatt.UUID {
	id, err := gatt.ParseUUID(s.svc.UUID().String())
	if err != nil {
		return gatt.UUID(s.svc.UUID().String())
	}
	return id
}

func (s *bleService) DiscoverCharacteristics(context.Context) ([]gatt.Characteristic, error) {
	chars, err := s.svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, err
	}
	out := make([]gatt.Characteristic, 0, len(chars))
	for _, c := range chars {
		out = append(out, &bleChar{char: c})
	}
	return out, nil
}

// bleChar wraps a discovered characteristic. The adapter does not report
// characteristic properties, so every operation is attempted and failures
// are logged by the session.
type bleChar struct {
	char bluetooth.DeviceCharacteristic
}

func (c *bleChar) UUID() gatt.UUID {
	id, err := gatt.ParseUUID(c.char.UUID().String())
	if err != nil {
		return gatt.UUID(c.char.UUID().String())
	}
	return id
}

func (c *bleChar) Properties() gatt.Props { return gatt.PropAll }

func (c *bleChar) Read(context.Context) ([]byte, error) {
	buf := make([]byte, byteframe.MaxNotificationSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *bleChar) Write(_ context.Context, data []byte) error {
	n, err := c.char.WriteWithoutResponse(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return errors.New("short write")
	}
	return nil
}

func (c *bleChar) Subscribe(_ context.Context, handler func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// The adapter reuses buf between callbacks
		handler(append([]byte(nil), buf...))
	})
}
