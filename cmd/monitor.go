// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/Thermoquad/bluestat/pkg/gatt"
	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	monitorNoTUI bool
	monitorTrace bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [device]",
	Short: "Live telemetry and heater control",
	Long: `Connect to a device and show everything it sends.

In a terminal an interactive TUI is shown with the voltage/current charts,
the heater status, statistics and an event log. Heater commands can be typed
into the command line:

  on | off | status | level1 | level2 | level3 | set-temp N | custom HEX
  legacy NAME | learned NAME | clear

The session reconnects automatically with exponential backoff when the
device disconnects. Without a terminal (or with --no-tui) every value is
printed in the raw log format.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorNoTUI, "no-tui", false, "Print values instead of showing the TUI")
	monitorCmd.Flags().BoolVar(&monitorTrace, "trace", false, "Show decoder rule trace (text mode)")
}

// monitorDeps is what the TUI needs from the command
type monitorDeps struct {
	sess   *gatt.Session
	st     *stores
	target gatt.Target
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ref, err := deviceRef(args)
	if err != nil {
		return err
	}
	st, err := openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	tr, err := newTransport()
	if err != nil {
		return err
	}
	sess, err := newSession(tr)
	if err != nil {
		return err
	}
	trackConnection(st, sess)
	target := resolveTarget(cmd.Context(), st, ref)
	deps := monitorDeps{sess: sess, st: st, target: target}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	useTUI := cfg.Monitor.TUI && !monitorNoTUI && term.IsTerminal(int(os.Stdout.Fd()))
	if !useTUI {
		return runMonitorText(ctx, deps)
	}
	return runMonitorTUI(ctx, deps)
}

func runMonitorText(ctx context.Context, deps monitorDeps) error {
	fmt.Printf("Bluestat - Monitor\n")
	fmt.Printf("Device: %s\n", deps.target.Name)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	deps.sess.AddListener(func(ev gatt.Event) {
		fmt.Print(formatEvent(ev, monitorTrace))
	})

	// Periodic summary, as the TUI statistics bar
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if deps.sess.Connected() {
					fmt.Printf("\n%s\n%s\n", deps.sess.Statistics(), formatSnapshot(deps.sess.Aggregator().Snapshot()))
				}
			}
		}
	}()

	return runWithReconnect(ctx, deps.sess, deps.st, deps.target, func(ev connectionEvent) {
		switch {
		case ev.connected:
			log.WithField("device", ev.info).Info("Monitoring")
		case ev.err != nil:
			log.WithError(ev.err).Warn("Connection lost - reconnecting...")
		}
	})
}

func runMonitorTUI(ctx context.Context, deps monitorDeps) error {
	// Logs would corrupt the alt screen; they are shown in the event log
	hook := newEventLogHook()
	log.AddHook(hook)
	log.SetOutput(io.Discard)

	m := initialMonitorModel(deps)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	batcher := newEventBatcher(p)
	deps.sess.AddListener(batcher.add)
	hook.attach(p)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go batcher.run(runCtx)
	reconnectDone := goReconnect(runCtx, deps.sess, deps.st, deps.target, func(ev connectionEvent) {
		p.Send(ev)
	})
	go func() {
		if err := <-reconnectDone; err != nil {
			p.Send(connectionEvent{err: err})
		}
	}()

	_, err := p.Run()
	cancel()
	deps.sess.Close()
	<-reconnectDone
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
