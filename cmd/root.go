// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Thermoquad/bluestat/pkg/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string

	// Loaded in PersistentPreRunE
	v   *viper.Viper
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bluestat",
	Short: "BLE telemetry and heater control tool",
	Long: `Bluestat - A CLI tool for monitoring BLE solar controllers, DC-DC chargers
and diesel heaters.

Connects to a peripheral, subscribes to every notifying characteristic and
decodes the values: voltage/current telemetry is recovered heuristically,
heater status frames are decoded exactly. Heater commands are written to
the fff2 characteristic.

Transports:
  BLE:       --transport ble (default), devices addressed by MAC or name
  Serial:    --transport serial --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --transport websocket --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the BLUESTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings are read from ~/.config/bluestat/config.yaml (or --config) and can
be overridden with BLUESTAT_ environment variables. LOGLEVEL takes precedence
over --log-level.`,
	Version:           "2.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default ~/.config/bluestat/config.yaml)")
	flags.String("log-level", "info", "Log level (panic, error, warn, info, debug, trace)")
	flags.String("db", "", "Device database path")

	// Transport selection
	flags.String("transport", config.TransportBLE, "Transport: ble, serial or websocket")

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// flagKeys maps persistent flags to config keys
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"db":            "db.path",
	"transport":     "transport.kind",
	"port":          "transport.port",
	"baud":          "transport.baud",
	"url":           "transport.url",
	"username":      "transport.username",
	"no-ssl-verify": "transport.no_ssl_verify",
}

func loadConfig(cmd *cobra.Command, args []string) error {
	v = config.NewViper()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}

	loaded, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	// The url flag implies the websocket transport, as the port flag
	// implies serial
	if !cmd.Flags().Changed("transport") {
		switch {
		case cmd.Flags().Changed("url"):
			cfg.Transport.Kind = config.TransportWebSocket
		case cmd.Flags().Changed("port"):
			cfg.Transport.Kind = config.TransportSerial
		}
	}

	setupLogging(cfg.Log.Level)
	log.WithFields(log.Fields{
		"config":    v.ConfigFileUsed(),
		"transport": cfg.Transport.Kind,
	}).Debug("Configuration loaded")
	return nil
}

func setupLogging(level string) {
	if env := os.Getenv("LOGLEVEL"); env != "" {
		level = env
	}
	switch strings.ToLower(level) {
	case "panic":
		log.SetLevel(log.PanicLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "trace":
		log.SetLevel(log.TraceLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
