// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/bluestat/pkg/dispatch"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	d, err := cfg.DispatchSettings()
	if err != nil {
		t.Fatalf("DispatchSettings() error = %v", err)
	}
	if d != dispatch.DefaultConfig() {
		t.Errorf("DispatchSettings() = %+v, want %+v", d, dispatch.DefaultConfig())
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
transport:
  kind: serial
  port: /dev/ttyUSB0
decoder:
  voltage_min: 20000
  voltage_max: 30000
dispatch:
  attempt_delay: 50ms
  legacy_policy: first-success
`)
	cfg, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport.Kind != TransportSerial || cfg.Transport.Port != "/dev/ttyUSB0" {
		t.Errorf("Transport = %+v", cfg.Transport)
	}
	if cfg.Transport.Baud != 115200 {
		t.Errorf("Baud = %d, want default 115200", cfg.Transport.Baud)
	}
	if cfg.Decoder.VoltageMin != 20000 || cfg.Decoder.VoltageMax != 30000 {
		t.Errorf("Decoder = %+v", cfg.Decoder)
	}
	if cfg.Decoder.CurrentMax != 25000 {
		t.Errorf("CurrentMax = %d, want default 25000", cfg.Decoder.CurrentMax)
	}

	d, err := cfg.DispatchSettings()
	if err != nil {
		t.Fatalf("DispatchSettings() error = %v", err)
	}
	if d.AttemptDelay != 50*time.Millisecond || d.StatusDelay != 3*time.Second {
		t.Errorf("DispatchSettings() = %+v", d)
	}
	if d.LegacyPolicy != dispatch.FirstSuccessStops {
		t.Errorf("LegacyPolicy = %v", d.LegacyPolicy)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BLUESTAT_SERVE_LISTEN", "127.0.0.1:9100")
	t.Setenv("BLUESTAT_MONITOR_WINDOW", "20")

	cfg, err := Load(NewViper(), writeFile(t, "log:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Serve.Listen != "127.0.0.1:9100" {
		t.Errorf("Serve.Listen = %q", cfg.Serve.Listen)
	}
	if cfg.Monitor.Window != 20 {
		t.Errorf("Monitor.Window = %d", cfg.Monitor.Window)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad transport", "transport:\n  kind: usb\n", "transport.kind"},
		{"bad delay", "dispatch:\n  status_delay: soon\n", "dispatch.status_delay"},
		{"bad policy", "dispatch:\n  legacy_policy: maybe\n", "dispatch.legacy_policy"},
		{"bad window", "monitor:\n  window: 0\n", "monitor.window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(NewViper(), writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}

	if _, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() accepted a missing explicit file")
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.Transport.Kind = TransportWebSocket
	cfg.Transport.URL = "wss://bridge.local/ws"

	if err := cfg.Write(path, false); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := cfg.Write(path, false); err == nil {
		t.Error("Write() replaced an existing file without overwrite")
	}

	loaded, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Transport.URL != cfg.Transport.URL || loaded.Transport.Kind != TransportWebSocket {
		t.Errorf("round trip Transport = %+v", loaded.Transport)
	}
	if loaded.Dispatch != cfg.Dispatch {
		t.Errorf("round trip Dispatch = %+v, want %+v", loaded.Dispatch, cfg.Dispatch)
	}
}
