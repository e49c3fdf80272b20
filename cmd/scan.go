// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/Thermoquad/bluestat/pkg/config"
	"github.com/Thermoquad/bluestat/pkg/gatt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	scanTimeout time.Duration
	scanAll     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE peripherals and save them to the device list",
	Long: `Scan for advertising BLE peripherals.

Every peripheral seen is added to the device list, or has its last seen time
refreshed if already known. Only peripherals with an advertised name are
saved unless --all is given.

Examples:
  # Scan for the configured timeout (default 10s)
  bluestat scan

  # Scan for 30 seconds and include unnamed peripherals
  bluestat scan --timeout 30s --all`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Scan duration (default transport.scan_timeout)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Include peripherals without a name")
}

// scanSeen deduplicates advertisements, keeping the strongest RSSI
type scanSeen struct {
	mu      sync.Mutex
	entries map[string]gatt.Advertisement
}

func (s *scanSeen) add(ad gatt.Advertisement) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.entries[ad.Address]
	if ok && ad.Name == "" {
		ad.Name = prev.Name
	}
	if !ok || ad.RSSI > prev.RSSI || prev.Name != ad.Name {
		s.entries[ad.Address] = ad
	}
	return !ok
}

func (s *scanSeen) sorted() []gatt.Advertisement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gatt.Advertisement, 0, len(s.entries))
	for _, ad := range s.entries {
		out = append(out, ad)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RSSI > out[j].RSSI })
	return out
}

func runScan(cmd *cobra.Command, args []string) error {
	if cfg.Transport.Kind != config.TransportBLE {
		return errors.New("scan requires the ble transport")
	}

	timeout := scanTimeout
	if timeout == 0 {
		var err error
		if timeout, err = cfg.ScanTimeout(); err != nil {
			return err
		}
	}

	st, err := openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fmt.Printf("Bluestat - BLE Scan\n")
	fmt.Printf("Timeout: %s\n", timeout)
	fmt.Printf("Press Ctrl+C to stop early\n\n")

	seen := &scanSeen{entries: make(map[string]gatt.Advertisement)}
	var scanner gatt.Scanner = newBLETransport()
	err = scanner.Scan(ctx, func(ad gatt.Advertisement) {
		if ad.Name == "" && !scanAll {
			return
		}
		if seen.add(ad) {
			fmt.Printf("  %-17s  %4d dBm  %s\n", ad.Address, ad.RSSI, displayAdName(ad.Name))
		}
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	results := seen.sorted()
	saveCtx := context.Background()
	newCount := 0
	for _, ad := range results {
		_, isNew, err := st.devices.Observe(saveCtx, ad.Address, ad.Name)
		if err != nil {
			log.WithError(err).WithField("address", ad.Address).Warn("Failed to save device")
			continue
		}
		if isNew {
			newCount++
		}
	}

	fmt.Printf("\nFound %d peripheral(s), %d new\n", len(results), newCount)
	return nil
}

func displayAdName(name string) string {
	if name == "" {
		return "(no name)"
	}
	return name
}
