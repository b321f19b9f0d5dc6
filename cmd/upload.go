// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/espwifi/pkg/wifi"
	"github.com/spf13/cobra"
)

var uploadFile string

var uploadCmd = &cobra.Command{
	Use:   "upload <host[:port]/path>",
	Short: "Stream a file as a chunked HTTP POST",
	Long: `Join a WiFi network and POST a file using chunked transfer encoding.

The file is streamed through the module one send window at a time, so it
may be larger than the inline data limit. Port 443 selects the module's
SSL connection.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	addStationFlags(uploadCmd)
	uploadCmd.Flags().StringVarP(&uploadFile, "file", "f", "", "File to upload")
	_ = uploadCmd.MarkFlagRequired("file")
}

func runUpload(cmd *cobra.Command, args []string) error {
	t, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	payload, err := os.ReadFile(uploadFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %v", uploadFile, err)
	}

	fmt.Fprintf(os.Stderr, "Uploading %d bytes to %s:%d%s\n", len(payload), t.Domain, t.Port, t.Path)
	os.Exit(runStation(cmd.Context(), func(d *wifi.Driver) error {
		return d.SendLargeRequest(t.Domain, t.Port, t.Path, payload)
	}))
	return nil
}
