// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/espwifi/pkg/wifi"
	"github.com/spf13/cobra"
)

var (
	probeTimeout int
	probeAP      bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that an ESP8266 module answers and prepare it",
	Long: `Check that the module answers AT commands, then run the setup sequence.

In station mode (the default) the module is put in station mode, restarted,
and its MAC address is read. With --ap it is put in access-point mode.

Exit codes:
  0 - Module answered (setup warnings are printed but not fatal)
  1 - Module did not answer before the timeout
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 1000, "Milliseconds to wait for the presence check")
	probeCmd.Flags().BoolVar(&probeAP, "ap", false, "Prepare the module for access-point mode")
}

func runProbe(cmd *cobra.Command, args []string) error {
	timeouts := wifi.DefaultTimeouts()
	timeouts.AT = time.Duration(probeTimeout) * time.Millisecond

	mode := wifi.ModeStation
	if probeAP {
		mode = wifi.ModeAccessPoint
	}

	s := mustOpenSession(wifi.WithMode(mode), wifi.WithTimeouts(timeouts))

	fmt.Printf("espwifi - Probe\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Mode: %s\n\n", mode)

	code := probe(cmd.Context(), s)
	s.Close()
	os.Exit(code)
	return nil
}

func probe(ctx context.Context, s *session) int {
	err := s.driver.Begin(ctx)
	switch {
	case errors.Is(err, wifi.ErrNotPresent):
		if linkErr := s.linkError(); linkErr != nil {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", linkErr)
			return exitConnection
		}
		fmt.Fprintf(os.Stderr, "TIMEOUT: module did not answer within %d ms\n", probeTimeout)
		return exitFailure
	case err != nil:
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	fmt.Printf("SUCCESS: Module answered\n")
	fmt.Printf("  Driver version: %s\n", s.driver.Version())
	if mac := s.driver.MAC(); mac != "" {
		fmt.Printf("  MAC: %s\n", mac)
	}
	return exitOK
}
