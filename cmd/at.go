// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var atWindow int

var atCmd = &cobra.Command{
	Use:   "at <command>",
	Short: "Send a raw AT command and print the reply",
	Long: `Send one raw command line to the module and print everything it sends
back within the collection window.

Example:
  espwifi --port /dev/ttyUSB0 at AT+GMR`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAT,
}

func init() {
	rootCmd.AddCommand(atCmd)
	atCmd.Flags().IntVar(&atWindow, "window", 1000, "Milliseconds to collect the reply")
}

func runAT(cmd *cobra.Command, args []string) error {
	s := mustOpenSession()
	defer s.Close()

	line := strings.Join(args, " ")
	resp, err := s.driver.CustomCommand(line, time.Duration(atWindow)*time.Millisecond)
	if err != nil {
		return err
	}
	fmt.Print(resp)
	if !strings.HasSuffix(resp, "\n") {
		fmt.Println()
	}
	return s.linkError()
}
