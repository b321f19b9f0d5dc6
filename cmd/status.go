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
	statusJSON    bool
	statusTimeout int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report module identity and driver state",
	Long: `Prepare the module in station mode and report its identity and driver state.

With --ssid the module joins the network first and the report shows whether
the association succeeded within --timeout seconds.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&stationSSID, "ssid", "", "WiFi network to join before reporting")
	statusCmd.Flags().IntVar(&statusTimeout, "timeout", 30, "Seconds to wait for the association")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the report as JSON")
}

// statusReport is the output of the status command
type statusReport struct {
	Connection  string `json:"connection"`
	Version     string `json:"version"`
	MAC         string `json:"mac"`
	Mode        string `json:"mode"`
	State       string `json:"state"`
	Status      string `json:"status"`
	Connected   bool   `json:"connected"`
	AutoConnect bool   `json:"auto_connect"`
	Transmitted uint64 `json:"transmitted"`
	Received    uint64 `json:"received"`
	Failures    uint64 `json:"failures"`
	LastError   string `json:"last_error,omitempty"`
	SetupError  string `json:"setup_error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	password := ""
	if stationSSID != "" {
		var err error
		password, err = GetNetworkPassword()
		if err != nil {
			return err
		}
	}

	s := mustOpenSession()
	defer s.Close()

	report := statusReport{Connection: s.info}
	err := s.driver.Begin(cmd.Context())
	if errors.Is(err, wifi.ErrNotPresent) {
		return fmt.Errorf("module not responding on %s", s.info)
	}
	if err != nil {
		report.SetupError = err.Error()
	}

	if stationSSID != "" {
		if err := s.driver.ConnectWifi(stationSSID, password); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(statusTimeout)*time.Second)
		waitConnected(ctx, s.driver)
		cancel()
	}

	fillReport(&report, s.driver)
	if statusJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	printReport(report)
	return nil
}

// waitConnected polls d until it reports an association or ctx is done
func waitConnected(ctx context.Context, d *wifi.Driver) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !d.IsConnected() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func fillReport(r *statusReport, d *wifi.Driver) {
	stats := d.Statistics()
	r.Version = d.Version()
	r.MAC = d.MAC()
	r.Mode = d.Mode().String()
	r.State = d.State()
	r.Status = d.Status().String()
	r.Connected = d.IsConnected()
	r.AutoConnect = d.AutoConnect()
	r.Transmitted = stats.Transmitted
	r.Received = stats.Received
	r.Failures = stats.Failures
	if err := d.LastError(); err != nil {
		r.LastError = err.Error()
	}
}

func printReport(r statusReport) {
	fmt.Printf("Connection:   %s\n", r.Connection)
	fmt.Printf("Version:      %s\n", r.Version)
	fmt.Printf("MAC:          %s\n", r.MAC)
	fmt.Printf("Mode:         %s\n", r.Mode)
	fmt.Printf("State:        %s (%s)\n", r.State, r.Status)
	fmt.Printf("Connected:    %t\n", r.Connected)
	fmt.Printf("Auto-connect: %t\n", r.AutoConnect)
	fmt.Printf("Transmitted:  %d\n", r.Transmitted)
	fmt.Printf("Received:     %d\n", r.Received)
	if r.Failures > 0 {
		fmt.Printf("Failures:     %d\n", r.Failures)
	}
	if r.LastError != "" {
		fmt.Printf("Last error:   %s\n", r.LastError)
	}
	if r.SetupError != "" {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", r.SetupError)
	}
}
