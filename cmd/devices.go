// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/bluestat/pkg/store"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage saved devices",
	Long: `List and edit the devices saved by scan.

Devices are referenced by address, custom name or advertised name (names are
matched case-insensitively). The category decides whether voltage/current
readings are charted: only "Dc to Dc Chargers" devices are.`,
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved devices",
	Args:  cobra.NoArgs,
	RunE:  runDevicesList,
}

var devicesRenameCmd = &cobra.Command{
	Use:   "rename <device> <name>",
	Short: "Set a custom name (empty restores the advertised name)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		return updateDevice(cmd, args[0], func(st *stores) (store.Device, error) {
			return st.devices.Rename(cmd.Context(), args[0], name)
		})
	},
}

var devicesSetBrandCmd = &cobra.Command{
	Use:   "set-brand <device> <brand>",
	Short: "Assign a brand",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateDevice(cmd, args[0], func(st *stores) (store.Device, error) {
			if err := requireListed(cmd, st.brands, args[1]); err != nil {
				return store.Device{}, err
			}
			return st.devices.SetBrand(cmd.Context(), args[0], args[1])
		})
	},
}

var devicesSetCategoryCmd = &cobra.Command{
	Use:   "set-category <device> <category>",
	Short: "Assign a category",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateDevice(cmd, args[0], func(st *stores) (store.Device, error) {
			if err := requireListed(cmd, st.categories, args[1]); err != nil {
				return store.Device{}, err
			}
			return st.devices.SetCategory(cmd.Context(), args[0], args[1])
		})
	},
}

var devicesDeleteCmd = &cobra.Command{
	Use:   "delete <device>",
	Short: "Remove a saved device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.devices.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(devicesListCmd, devicesRenameCmd, devicesSetBrandCmd, devicesSetCategoryCmd, devicesDeleteCmd)

	rootCmd.AddCommand(newListCmd("brands", "brand", func(st *stores) *store.List { return st.brands }))
	rootCmd.AddCommand(newListCmd("categories", "category", func(st *stores) *store.List { return st.categories }))
}

func runDevicesList(cmd *cobra.Command, args []string) error {
	st, err := openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	devices, err := st.devices.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No saved devices. Run 'bluestat scan' first.")
		return nil
	}

	fmt.Printf("%-17s  %-24s  %-12s  %-18s  %-12s  %s\n", "ADDRESS", "NAME", "BRAND", "CATEGORY", "STATUS", "LAST SEEN")
	for _, d := range devices {
		fmt.Printf("%-17s  %-24s  %-12s  %-18s  %-12s  %s\n",
			d.ID,
			truncate(d.DisplayName(), 24),
			orDash(d.Brand),
			orDash(d.Category),
			d.ConnectionStatus,
			d.LastSeen.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func updateDevice(cmd *cobra.Command, ref string, fn func(st *stores) (store.Device, error)) error {
	st, err := openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	d, err := fn(st)
	if err != nil {
		return err
	}
	fmt.Printf("%s: name=%q brand=%s category=%s\n", d.ID, d.DisplayName(), orDash(d.Brand), orDash(d.Category))
	return nil
}

// requireListed rejects values missing from the brand or category list
func requireListed(cmd *cobra.Command, list *store.List, value string) error {
	all, err := list.All(cmd.Context())
	if err != nil {
		return err
	}
	for _, v := range all {
		if v == strings.TrimSpace(value) {
			return nil
		}
	}
	return fmt.Errorf("%q is not in the list (known: %s)", value, strings.Join(all, ", "))
}

// newListCmd builds the list|add|remove command group for brands and
// categories
func newListCmd(use, kind string, pick func(st *stores) *store.List) *cobra.Command {
	group := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Manage the %s list", kind),
	}

	run := func(fn func(cmd *cobra.Command, l *store.List, args []string) ([]string, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			st, err := openStores()
			if err != nil {
				return err
			}
			defer st.Close()
			all, err := fn(cmd, pick(st), args)
			if err != nil {
				return err
			}
			for _, v := range all {
				fmt.Println(v)
			}
			return nil
		}
	}

	group.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: fmt.Sprintf("List every %s", kind),
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, l *store.List, _ []string) ([]string, error) {
				return l.All(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "add <name>",
			Short: fmt.Sprintf("Add a %s", kind),
			Args:  cobra.MinimumNArgs(1),
			RunE: run(func(cmd *cobra.Command, l *store.List, args []string) ([]string, error) {
				return l.Add(cmd.Context(), strings.Join(args, " "))
			}),
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: fmt.Sprintf("Remove a %s (defaults reappear)", kind),
			Args:  cobra.MinimumNArgs(1),
			RunE: run(func(cmd *cobra.Command, l *store.List, args []string) ([]string, error) {
				return l.Remove(cmd.Context(), strings.Join(args, " "))
			}),
		},
	)
	return group
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}
