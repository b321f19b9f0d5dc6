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
	serveSSID     string
	servePages    string
	serveDuration int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the module as an access point serving static pages",
	Long: `Put the module in access-point mode, start its HTTP server and serve pages.

Pages come from --pages, either a directory of .html files or a bundle
built with "pages pack". Query and form data from every request is printed
as it arrives. The access point password is read from the
ESPWIFI_WIFI_PASSWORD environment variable, or prompted interactively.

Runs until interrupted (Ctrl+C) or until --duration seconds have passed.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveSSID, "ssid", "", "Access point network name")
	serveCmd.Flags().StringVar(&servePages, "pages", "", "Page directory or bundle (.cbor or .json)")
	serveCmd.Flags().IntVar(&serveDuration, "duration", 0, "Seconds to serve (0 = until interrupted)")
	_ = serveCmd.MarkFlagRequired("ssid")
}

func runServe(cmd *cobra.Command, args []string) error {
	var bundle *PageBundle
	if servePages != "" {
		var err error
		bundle, err = LoadPages(servePages)
		if err != nil {
			return err
		}
	}

	password, err := GetNetworkPassword()
	if err != nil {
		return err
	}

	s := mustOpenSession(wifi.WithMode(wifi.ModeAccessPoint))
	defer s.Close()

	ctx := cmd.Context()
	if serveDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(serveDuration)*time.Second)
		defer cancel()
	}

	fmt.Printf("espwifi - Access Point\n")
	fmt.Printf("Connection: %s\n", s.info)

	if err := s.driver.Begin(ctx); err != nil {
		if errors.Is(err, wifi.ErrNotPresent) {
			return fmt.Errorf("module not responding on %s", s.info)
		}
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}
	if err := s.driver.StartServer(serveSSID, password); err != nil {
		// the machine keeps retrying server setup on its own
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}
	if bundle != nil {
		for _, p := range bundle.Pages {
			if err := s.driver.SetPage(p.Path, p.HTML); err != nil {
				return err
			}
		}
		fmt.Printf("Pages: %d loaded from %s\n", len(bundle.Pages), servePages)
	}
	fmt.Printf("Serving on SSID %q (Ctrl+C to stop)\n\n", serveSSID)

	serve(ctx, s.driver)

	stats := s.driver.Statistics()
	fmt.Printf("\n%s", stats.String())
	return s.linkError()
}

// serve prints inbound requests until ctx is done
func serve(ctx context.Context, d *wifi.Driver) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !d.HasData() {
			continue
		}
		req := d.LastRequest()
		data := d.Data()
		fmt.Printf("%s  %-4s %s", time.Now().Format(logTimeLayout), req.Method, req.Path)
		if data != "" {
			fmt.Printf("  %s", data)
		}
		fmt.Println()
	}
}
