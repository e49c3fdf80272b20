// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/Thermoquad/bluestat/pkg/capture"
	"github.com/Thermoquad/bluestat/pkg/gatt"
	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/Thermoquad/bluestat/pkg/telemetry"
	"github.com/spf13/cobra"
)

var (
	decodeCapture        string
	decodeCharacteristic string
	decodeTrace          bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [hex...]",
	Short: "Decode values offline",
	Long: `Decode notification values without a device.

Each argument is one value in hex (spaces, 0x prefixes and separators are
accepted; quote values that contain spaces). With --capture the values
recorded by 'bluestat record' are replayed instead, and the telemetry
summary is printed at the end.

Values from the heater notify characteristic (fff1) or shaped like a heater
status frame are decoded as heater status. Everything else goes through the
heuristic voltage/current decoder; --trace shows which rules matched.

Examples:
  bluestat decode "27 10 00 00"
  bluestat decode --char fff1 "76 16 01 00 ..."
  bluestat decode --capture heater.cbor --trace`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVar(&decodeCapture, "capture", "", "Replay a capture file")
	decodeCmd.Flags().StringVar(&decodeCharacteristic, "char", "ffe1", "Characteristic the hex values came from")
	decodeCmd.Flags().BoolVar(&decodeTrace, "trace", false, "Show decoder rule trace")
}

func runDecode(cmd *cobra.Command, args []string) error {
	if decodeCapture == "" && len(args) == 0 {
		return errors.New("give hex values or --capture FILE")
	}

	// A session without a connection routes values exactly as a live one
	sess, err := newSession(nil)
	if err != nil {
		return err
	}

	if decodeCapture == "" {
		id, err := gatt.ParseUUID(decodeCharacteristic)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, arg := range args {
			data, err := byteframe.ParseHex(arg)
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			ev := sess.Handle(byteframe.NewRawNotification(id.Short(), data, now))
			fmt.Print(formatEvent(ev, decodeTrace))
		}
		return nil
	}

	f, err := os.Open(decodeCapture)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := capture.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", decodeCapture, err)
	}
	h := r.Header()
	fmt.Printf("Bluestat - Capture Replay\n")
	fmt.Printf("File: %s\n", decodeCapture)
	fmt.Printf("Device: %s %s\n", h.Device, h.Name)
	fmt.Printf("Started: %s\n\n", h.Started.Local().Format(time.RFC3339))

	for {
		n, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("[ERROR] %v\n", err)
			break
		}
		fmt.Print(formatEvent(sess.Handle(n), decodeTrace))
	}

	fmt.Printf("\n%s\n", sess.Statistics())
	fmt.Print(formatSnapshot(sess.Aggregator().Snapshot()))
	return nil
}

// formatEvent renders one routed value in the raw log style
func formatEvent(ev gatt.Event, trace bool) string {
	n := ev.Notification
	var b strings.Builder
	source := "notify"
	if ev.Read {
		source = "read"
	}
	fmt.Fprintf(&b, "[%s] %s %s (%d bytes) %s\n",
		n.Timestamp.Format("15:04:05.000"), labelFor(n.Characteristic), source, len(n.Data), strings.ToUpper(ev.Kind.String()))
	fmt.Fprintf(&b, "  Hex: %s\n", byteframe.FormatHex(n.Data))

	switch ev.Kind {
	case gatt.EventHeater:
		b.WriteString(heater.FormatStatus(ev.Status))
	case gatt.EventInvalid:
		fmt.Fprintf(&b, "  Error: %v\n", ev.Err)
	case gatt.EventTelemetry:
		for _, r := range ev.Readings {
			fmt.Fprintf(&b, "  %s\n", r)
		}
	case gatt.EventUnclassified:
		if byteframe.HasPrintable(n.Data) {
			fmt.Fprintf(&b, "  ASCII: %s\n", byteframe.FormatASCII(n.Data))
		}
	}

	if trace {
		for _, line := range ev.Trace {
			fmt.Fprintf(&b, "    . %s\n", line)
		}
	}
	return b.String()
}

func labelFor(characteristic string) string {
	id, err := gatt.ParseUUID(characteristic)
	if err != nil {
		return characteristic
	}
	return id.Label()
}

// formatSnapshot renders the aggregator display values
func formatSnapshot(s telemetry.Snapshot) string {
	var b strings.Builder
	b.WriteString("TELEMETRY\n")
	fmt.Fprintf(&b, "  Aux (median):     %s  (%d samples)\n", formatDisplay(s.AuxDisplay), len(s.Aux.Voltage))
	fmt.Fprintf(&b, "  Starter (latest): %s  (%d samples)\n", formatDisplay(s.StarterDisplay), len(s.Starter.Voltage))
	return b.String()
}

func formatDisplay(d telemetry.Display) string {
	v, i := "--", "--"
	if d.HasVoltage {
		v = fmt.Sprintf("%.2fV", d.Voltage)
	}
	if d.HasCurrent {
		i = fmt.Sprintf("%.2fA", d.Current)
	}
	return v + " " + i
}
