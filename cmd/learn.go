// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Save and replay raw command frames",
	Long: `Learned commands are raw frames saved under a name, for heaters whose
protocol is not covered by the built-in commands. A saved frame is replayed
byte for byte to the fff2 characteristic.

Commands are referenced by id, an id prefix of at least 8 characters, or
name.

Examples:
  bluestat learn save "vevor on" "aa 55 0c 22 01 00 00 2f"
  bluestat learn list
  bluestat learn replay "vevor on" "Diesel Heater"
  bluestat learn delete 3f2c9a1b`,
}

var learnSaveCmd = &cobra.Command{
	Use:   "save <name> <hex...>",
	Short: "Save a frame",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.Close()

		lc, err := st.learned.Save(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("Saved %q as %s: %s\n", lc.Name, lc.ID, lc.HexBytes)
		return nil
	},
}

var learnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved frames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.Close()

		cmds, err := st.learned.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(cmds) == 0 {
			fmt.Println("No learned commands")
			return nil
		}
		for _, c := range cmds {
			fmt.Printf("%s  %-20s  %s  %s\n", shortID(c.ID), truncate(c.Name, 20), c.SavedAt.Local().Format("2006-01-02 15:04"), c.HexBytes)
		}
		return nil
	},
}

var learnDeleteCmd = &cobra.Command{
	Use:   "delete <id|name>",
	Short: "Delete a saved frame",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.learned.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var learnReplayCmd = &cobra.Command{
	Use:   "replay <id|name> [device]",
	Short: "Write a saved frame to a device",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runLearnReplay,
}

func init() {
	rootCmd.AddCommand(learnCmd)
	learnCmd.AddCommand(learnSaveCmd, learnListCmd, learnDeleteCmd, learnReplayCmd)
}

func runLearnReplay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	// Look the command up before connecting
	st, err := openStores()
	if err != nil {
		return err
	}
	lc, err := st.learned.Get(ctx, args[0])
	st.Close()
	if err != nil {
		return err
	}
	frame, err := lc.Bytes()
	if err != nil {
		return fmt.Errorf("learned command %q: %w", lc.Name, err)
	}

	sess, sst, target, err := connectOnce(ctx, args[1:], nil)
	if err != nil {
		return err
	}
	defer closeSession(sess, sst, target)

	if err := sess.Dispatcher().SendRaw(ctx, frame); err != nil {
		return err
	}
	fmt.Printf("Replayed %q to %s: %s\n", lc.Name, target.Name, lc.HexBytes)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
