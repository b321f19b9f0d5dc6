// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/espwifi/pkg/wifi"
	"github.com/spf13/cobra"
)

var resetAP bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restart the module in station (or --ap) mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := mustOpenSession(wifi.WithMode(resetMode()))
		defer s.Close()

		if err := s.driver.Reset(); err != nil {
			return err
		}
		fmt.Printf("Module reset (%s mode)\n", resetMode())
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore factory settings, then reset",
	Long: `Restore the module's factory settings, then restart it in station (or --ap)
mode. Stored networks and access point configuration are erased.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := mustOpenSession(wifi.WithMode(resetMode()))
		defer s.Close()

		if err := s.driver.Restore(); err != nil {
			return err
		}
		fmt.Printf("Factory settings restored (%s mode)\n", resetMode())
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{resetCmd, restoreCmd} {
		rootCmd.AddCommand(c)
		c.Flags().BoolVar(&resetAP, "ap", false, "Leave the module in access-point mode")
	}
}

func resetMode() wifi.Mode {
	if resetAP {
		return wifi.ModeAccessPoint
	}
	return wifi.ModeStation
}
