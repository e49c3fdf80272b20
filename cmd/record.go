// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Thermoquad/bluestat/pkg/capture"
	"github.com/Thermoquad/bluestat/pkg/gatt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	recordOut      string
	recordDuration time.Duration
	recordQuiet    bool
)

var recordCmd = &cobra.Command{
	Use:   "record [device]",
	Short: "Record notifications to a capture file",
	Long: `Connect to a device and write every value it sends to a capture file.

The file can be decoded later with 'bluestat decode --capture FILE'.
Recording stops on Ctrl+C, after --duration, or when the device disconnects.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "Capture file to write (required)")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "Stop after this long (0 = until Ctrl+C)")
	recordCmd.Flags().BoolVarP(&recordQuiet, "quiet", "q", false, "Do not print values while recording")
	recordCmd.MarkFlagRequired("out")
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if recordDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, recordDuration)
		defer cancel()
	}

	f, err := os.OpenFile(recordOut, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var w *capture.Writer
	sess, st, target, err := connectOnce(ctx, args, func(sess *gatt.Session, target gatt.Target) error {
		var err error
		w, err = capture.NewWriter(f, capture.Header{Device: target.Address, Name: target.Name})
		if err != nil {
			return err
		}
		sess.AddListener(func(ev gatt.Event) {
			if err := w.Write(ev.Notification); err != nil {
				log.WithError(err).Warn("Capture write failed")
			}
			if !recordQuiet {
				fmt.Print(formatEvent(ev, false))
			}
		})
		return nil
	})
	if err != nil {
		return err
	}
	defer closeSession(sess, st, target)

	fmt.Printf("Bluestat - Recording\n")
	fmt.Printf("Device: %s\n", target.Name)
	fmt.Printf("Output: %s\n", recordOut)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	err = sess.Wait(ctx)
	fmt.Printf("\nRecorded %d value(s)\n", w.Count())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gatt.ErrClosed) {
		return nil
	}
	return err
}
