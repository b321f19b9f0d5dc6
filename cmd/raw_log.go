// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var rawLogHex bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw module output line by line",
	Long: `Continuously display everything the module sends, one timestamped line at
a time, without driving it. Useful for watching unsolicited notifications
such as WIFI CONNECTED, +IPD frames and link CLOSED messages.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print each line as hex")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("espwifi - Raw Module Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go func() {
		<-cmd.Context().Done()
		conn.Close()
	}()

	if err := rawLog(conn, rawLogHex); err != nil {
		if cmd.Context().Err() != nil {
			return nil
		}
		// For WebSocket connections, a read error usually means
		// the connection is permanently closed - exit gracefully
		if errors.Is(err, ErrConnectionClosed) {
			log.Printf("Connection closed")
			return nil
		}
		return fmt.Errorf("read error: %v", err)
	}
	return nil
}

// rawLog prints each CRLF-terminated line read from r until r fails
func rawLog(r io.Reader, withHex bool) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fmt.Printf("%s %s\n", time.Now().Format(logTimeLayout), line)
		if withHex {
			fmt.Printf("%*s %x\n", len(logTimeLayout), "", line)
		}
	}
	return scanner.Err()
}
