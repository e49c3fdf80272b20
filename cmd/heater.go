// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/Thermoquad/bluestat/pkg/dispatch"
	"github.com/Thermoquad/bluestat/pkg/gatt"
	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/spf13/cobra"
)

var (
	heaterPolicy string
	heaterWait   time.Duration
)

var heaterCmd = &cobra.Command{
	Use:   "heater <device> <command> [args...]",
	Short: "Send a command to a diesel heater",
	Long: `Connect to a diesel heater and send one command to its fff2 characteristic.

Commands:
  on, off, status           Power and status request
  level1, level2, level3    Output level
  set-temp <8-35>           Thermostat set point in °C
  custom <hex>              Raw frame, e.g. "aa 55 01"
  legacy <name> [temp]      Write every legacy variant for name
                            (names: ` + strings.Join(heater.LegacyNames(), ", ") + `, set-temp)

on and off schedule a status request; the reply is printed when it arrives
within --wait. Legacy variants are written 200ms apart; with --policy
first-success the loop stops after the first successful write.

Examples:
  bluestat heater "Diesel Heater" on
  bluestat heater AA:BB:CC:DD:EE:FF set-temp 22
  bluestat heater --transport serial --port /dev/ttyUSB0 bridge status
  bluestat heater AA:BB:CC:DD:EE:FF legacy on --policy first-success`,
	Args: cobra.MinimumNArgs(2),
	RunE: runHeater,
}

func init() {
	rootCmd.AddCommand(heaterCmd)
	heaterCmd.Flags().StringVar(&heaterPolicy, "policy", "", "Legacy policy: all or first-success (default dispatch.legacy_policy)")
	heaterCmd.Flags().DurationVar(&heaterWait, "wait", 5*time.Second, "How long to wait for a status reply (0 to exit immediately)")
}

func runHeater(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	// Validate before connecting
	name := strings.ToLower(args[1])
	var (
		command  heater.Command
		variants [][]byte
		policy   dispatch.Policy
		err      error
	)
	if name == "legacy" {
		variants, policy, err = parseLegacy(args[2:])
	} else {
		command, err = heater.ParseCommand(name, args[2:]...)
	}
	if err != nil {
		return err
	}

	statuses := make(chan *heater.Status, 4)
	sess, st, target, err := connectOnce(ctx, args[:1], func(sess *gatt.Session, _ gatt.Target) error {
		sess.AddListener(func(ev gatt.Event) {
			if ev.Kind != gatt.EventHeater {
				return
			}
			select {
			case statuses <- ev.Status:
			default:
			}
		})
		return nil
	})
	if err != nil {
		return err
	}
	defer closeSession(sess, st, target)

	fmt.Printf("Bluestat - Heater Command\n")
	fmt.Printf("Device: %s\n\n", target.Name)

	d := sess.Dispatcher()
	expectStatus := false
	if name == "legacy" {
		legacyName := strings.ToLower(args[2])
		res, err := d.SendLegacy(ctx, legacyName, variants, policy)
		printLegacyResult(res)
		if err != nil {
			return err
		}
		expectStatus = legacyName == "on" || legacyName == "off"
	} else {
		if err := d.Send(ctx, command); err != nil {
			return err
		}
		fmt.Printf("Sent %s: %s\n", command, byteframe.FormatHex(command.Encode()))
		expectStatus = command.ChangesPower() || command.Kind == heater.CmdRequestStatus
	}

	if !expectStatus || heaterWait <= 0 {
		return nil
	}
	return waitForStatus(ctx, statuses, heaterWait, command.ChangesPower() || name == "legacy")
}

// parseLegacy resolves "legacy <name> [temp]" to its variant frames
func parseLegacy(args []string) ([][]byte, dispatch.Policy, error) {
	policy, err := legacyPolicy()
	if err != nil {
		return nil, policy, err
	}
	if len(args) == 0 {
		return nil, policy, fmt.Errorf("legacy requires a command name (%s, set-temp)", strings.Join(heater.LegacyNames(), ", "))
	}

	name := strings.ToLower(args[0])
	if name == "set-temp" {
		if len(args) != 2 {
			return nil, policy, fmt.Errorf("legacy set-temp requires one temperature argument")
		}
		t, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, policy, fmt.Errorf("invalid temperature %q: %w", args[1], err)
		}
		frame, err := heater.LegacySetTemperature(t)
		if err != nil {
			return nil, policy, err
		}
		return [][]byte{frame}, policy, nil
	}

	variants, err := heater.LegacyVariants(name)
	return variants, policy, err
}

func legacyPolicy() (dispatch.Policy, error) {
	if heaterPolicy != "" {
		return dispatch.ParsePolicy(heaterPolicy)
	}
	return dispatch.ParsePolicy(cfg.Dispatch.LegacyPolicy)
}

func printLegacyResult(res *dispatch.LegacyResult) {
	if res == nil {
		return
	}
	fmt.Printf("Legacy %s (policy %s):\n", res.Name, res.Policy)
	for _, a := range res.Attempts {
		result := "ok"
		if a.Err != nil {
			result = "FAILED: " + a.Err.Error()
		}
		fmt.Printf("  [%d] %-36s %s\n", a.Index+1, byteframe.FormatHex(a.Frame), result)
	}
}

// waitForStatus prints statuses as they arrive. After a power change the
// deferred status request fires after dispatch.status_delay, so every status
// up to the end of the wait is shown and the last one is printed in full.
func waitForStatus(ctx context.Context, statuses <-chan *heater.Status, wait time.Duration, deferred bool) error {
	if deferred {
		if dcfg, err := cfg.DispatchSettings(); err == nil {
			wait += dcfg.StatusDelay
		}
	}
	fmt.Printf("Waiting up to %s for status...\n", wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var last *heater.Status
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if last == nil {
				fmt.Println("No status received")
				return nil
			}
			fmt.Print(heater.FormatStatus(last))
			return nil
		case s := <-statuses:
			if !deferred {
				fmt.Print(heater.FormatStatus(s))
				return nil
			}
			last = s
			fmt.Printf("Status: %s\n", heater.FormatStatusLine(s))
		}
	}
}
