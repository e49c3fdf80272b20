// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/Thermoquad/bluestat/pkg/store"
)

// memKV is an in-memory store.KV
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestDevices_ObserveNewAndKnown(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	devices := store.NewDevices(newMemKV(), func() time.Time { return now })

	d, isNew, err := devices.Observe(ctx, "AA:BB", "BT-TH-66")
	if err != nil || !isNew {
		t.Fatalf("Observe() = %+v, %v, %v", d, isNew, err)
	}
	if d.ConnectionStatus != store.StatusDisconnected || !d.FirstSeen.Equal(now) {
		t.Errorf("new device = %+v", d)
	}

	now = now.Add(time.Hour)
	d, isNew, err = devices.Observe(ctx, "AA:BB", "BT-TH-66")
	if err != nil || isNew {
		t.Fatalf("second Observe() = %+v, %v, %v", d, isNew, err)
	}
	if !d.LastSeen.Equal(now) || d.FirstSeen.Equal(now) {
		t.Errorf("LastSeen/FirstSeen = %v/%v", d.LastSeen, d.FirstSeen)
	}

	list, _ := devices.List(ctx)
	if len(list) != 1 {
		t.Errorf("List() has %d devices, want 1", len(list))
	}
}

func TestDevices_Updates(t *testing.T) {
	ctx := context.Background()
	devices := store.NewDevices(newMemKV(), nil)
	if _, _, err := devices.Observe(ctx, "AA:BB", "HC-01"); err != nil {
		t.Fatal(err)
	}

	if _, err := devices.Rename(ctx, "hc-01", "Van Heater"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, err := devices.SetBrand(ctx, "Van Heater", " Vevor "); err != nil {
		t.Fatalf("SetBrand() error = %v", err)
	}
	if _, err := devices.SetCategory(ctx, "AA:BB", "Diesel Heaters"); err != nil {
		t.Fatalf("SetCategory() error = %v", err)
	}
	d, err := devices.SetConnectionStatus(ctx, "AA:BB", store.StatusConnected)
	if err != nil {
		t.Fatalf("SetConnectionStatus() error = %v", err)
	}

	want := store.Device{
		ID:               "AA:BB",
		OriginalName:     "HC-01",
		CustomName:       "Van Heater",
		Brand:            "Vevor",
		Category:         "Diesel Heaters",
		ConnectionStatus: store.StatusConnected,
	}
	d.FirstSeen, d.LastSeen = time.Time{}, time.Time{}
	if !reflect.DeepEqual(d, want) {
		t.Errorf("device = %+v, want %+v", d, want)
	}
	if d.DisplayName() != "Van Heater" {
		t.Errorf("DisplayName() = %q", d.DisplayName())
	}

	if err := devices.Delete(ctx, "Van Heater"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := devices.Find(ctx, "AA:BB"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Find() after delete error = %v, want ErrNotFound", err)
	}
	if err := devices.Delete(ctx, "AA:BB"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Delete() missing error = %v, want ErrNotFound", err)
	}
}

func TestLists_DefaultsMerged(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	_ = kv.Set(ctx, store.KeyBrands, []byte(`["Acme","Vevor"]`))

	brands := store.NewBrands(kv)
	got, err := brands.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	want := []string{"Acme", "Vevor", "Renogy", "Redarch", "Litime", "MicTuning"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}

	cats, err := store.NewCategories(newMemKV()).All(ctx)
	if err != nil || !reflect.DeepEqual(cats, store.DefaultCategories) {
		t.Errorf("categories All() = %v, %v", cats, err)
	}
}

func TestLists_AddRemove(t *testing.T) {
	ctx := context.Background()
	cats := store.NewCategories(newMemKV())

	if _, err := cats.Add(ctx, "   "); !errors.Is(err, store.ErrEmptyName) {
		t.Errorf("Add(blank) error = %v, want ErrEmptyName", err)
	}
	got, err := cats.Add(ctx, " Inverters ")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got[len(got)-1] != "Inverters" {
		t.Errorf("Add() = %v", got)
	}
	again, _ := cats.Add(ctx, "Inverters")
	if len(again) != len(got) {
		t.Errorf("duplicate Add() grew the list to %d", len(again))
	}

	got, err = cats.Remove(ctx, "Inverters")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if len(got) != len(store.DefaultCategories) {
		t.Errorf("Remove() = %v", got)
	}
	if _, err := cats.Remove(ctx, "Inverters"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Remove() missing error = %v", err)
	}
}

func TestLearned_SaveListReplay(t *testing.T) {
	ctx := context.Background()
	learned := store.NewLearned(newMemKV(), nil)

	if _, err := learned.Save(ctx, "bad", "76 zz"); err == nil {
		t.Fatal("Save() accepted invalid hex")
	} else {
		var pe *byteframe.ParseError
		if !errors.As(err, &pe) {
			t.Errorf("Save() error = %T, want *byteframe.ParseError", err)
		}
	}

	cmd, err := learned.Save(ctx, "wake", "0x76,0x16 01")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if cmd.HexBytes != "76 16 01" || len(cmd.ID) != 36 {
		t.Errorf("Save() = %+v", cmd)
	}

	got, err := learned.Get(ctx, cmd.ID[:8])
	if err != nil || got.Name != "wake" {
		t.Fatalf("Get(prefix) = %+v, %v", got, err)
	}
	raw, err := got.Bytes()
	if err != nil || !reflect.DeepEqual(raw, []byte{0x76, 0x16, 0x01}) {
		t.Errorf("Bytes() = %x, %v", raw, err)
	}

	if err := learned.Delete(ctx, "WAKE"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if list, _ := learned.List(ctx); len(list) != 0 {
		t.Errorf("List() after delete = %v", list)
	}
}
