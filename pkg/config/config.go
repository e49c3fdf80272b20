// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads bluestat settings from a yaml file and BLUESTAT_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/bluestat/pkg/dispatch"
	"github.com/Thermoquad/bluestat/pkg/telemetry"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "BLUESTAT"

// Transport kinds
const (
	TransportBLE       = "ble"
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
)

// Config holds all bluestat settings
type Config struct {
	Transport TransportConfig      `mapstructure:"transport" yaml:"transport"`
	DB        DBConfig             `mapstructure:"db" yaml:"db"`
	Decoder   telemetry.Thresholds `mapstructure:"decoder" yaml:"decoder"`
	Dispatch  DispatchConfig       `mapstructure:"dispatch" yaml:"dispatch"`
	Monitor   MonitorConfig        `mapstructure:"monitor" yaml:"monitor"`
	Serve     ServeConfig          `mapstructure:"serve" yaml:"serve"`
	Log       LogConfig            `mapstructure:"log" yaml:"log"`
}

type TransportConfig struct {
	Kind        string `mapstructure:"kind" yaml:"kind"`       // ble, serial or websocket
	Address     string `mapstructure:"address" yaml:"address"` // default device
	Port        string `mapstructure:"port" yaml:"port"`
	Baud        int    `mapstructure:"baud" yaml:"baud"`
	URL         string `mapstructure:"url" yaml:"url"`
	Username    string `mapstructure:"username" yaml:"username"`
	NoSSLVerify bool   `mapstructure:"no_ssl_verify" yaml:"no_ssl_verify"`
	ScanTimeout string `mapstructure:"scan_timeout" yaml:"scan_timeout"`
}

type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DispatchConfig is the file form of dispatch.Config
type DispatchConfig struct {
	AttemptDelay string `mapstructure:"attempt_delay" yaml:"attempt_delay"`
	StatusDelay  string `mapstructure:"status_delay" yaml:"status_delay"`
	LegacyPolicy string `mapstructure:"legacy_policy" yaml:"legacy_policy"` // all or first-success
}

type MonitorConfig struct {
	Window int  `mapstructure:"window" yaml:"window"`
	TUI    bool `mapstructure:"tui" yaml:"tui"`
}

type ServeConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Dir returns the default configuration directory
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "bluestat")
}

// DefaultPath is the config file used when --config is not given
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns a config with the stock settings
func Default() *Config {
	d := dispatch.DefaultConfig()
	return &Config{
		Transport: TransportConfig{
			Kind:        TransportBLE,
			Baud:        115200,
			ScanTimeout: "10s",
		},
		DB: DBConfig{
			Path: filepath.Join(Dir(), "bluestat.db"),
		},
		Decoder: telemetry.DefaultThresholds(),
		Dispatch: DispatchConfig{
			AttemptDelay: d.AttemptDelay.String(),
			StatusDelay:  d.StatusDelay.String(),
			LegacyPolicy: d.LegacyPolicy.String(),
		},
		Monitor: MonitorConfig{
			Window: telemetry.DefaultWindowSize,
			TUI:    true,
		},
		Serve: ServeConfig{
			Listen: ":8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// NewViper returns a viper instance with defaults registered and
// BLUESTAT_ environment overrides enabled (transport.url ->
// BLUESTAT_TRANSPORT_URL)
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := SetDefaults(v, Default()); err != nil {
		panic(err)
	}
	return v
}

// SetDefaults registers every key of cfg as a viper default, so env
// overrides work for keys missing from the file
func SetDefaults(v *viper.Viper, cfg *Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Load reads path (or the default location when empty) and applies env
// overrides. A missing default file is not an error; a missing explicit
// file is.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportBLE, TransportSerial, TransportWebSocket:
	default:
		return fmt.Errorf("transport.kind %q: must be ble, serial or websocket", c.Transport.Kind)
	}
	if _, err := c.ScanTimeout(); err != nil {
		return err
	}
	if _, err := c.DispatchSettings(); err != nil {
		return err
	}
	if c.Monitor.Window <= 0 {
		return fmt.Errorf("monitor.window must be positive, got %d", c.Monitor.Window)
	}
	if c.Decoder.Scale <= 0 {
		return fmt.Errorf("decoder.scale must be positive, got %v", c.Decoder.Scale)
	}
	return nil
}

// ScanTimeout parses transport.scan_timeout
func (c *Config) ScanTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Transport.ScanTimeout)
	if err != nil {
		return 0, fmt.Errorf("transport.scan_timeout: %w", err)
	}
	return d, nil
}

// DispatchSettings converts the dispatch section to dispatch.Config
func (c *Config) DispatchSettings() (dispatch.Config, error) {
	var out dispatch.Config
	var err error
	if out.AttemptDelay, err = time.ParseDuration(c.Dispatch.AttemptDelay); err != nil {
		return out, fmt.Errorf("dispatch.attempt_delay: %w", err)
	}
	if out.StatusDelay, err = time.ParseDuration(c.Dispatch.StatusDelay); err != nil {
		return out, fmt.Errorf("dispatch.status_delay: %w", err)
	}
	if out.LegacyPolicy, err = dispatch.ParsePolicy(c.Dispatch.LegacyPolicy); err != nil {
		return out, fmt.Errorf("dispatch.legacy_policy: %w", err)
	}
	return out, nil
}

// Marshal renders the config as yaml
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Write saves the config to path, creating the directory. An existing file
// is only replaced when overwrite is set.
func (c *Config) Write(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	raw, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
