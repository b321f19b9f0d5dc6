// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/espwifi/pkg/wifi"
	"github.com/spf13/cobra"
)

var (
	// Station flags, shared by the station commands
	stationSSID    string
	stationTimeout int

	requestData  string
	requestRetry bool
)

// errRequestDropped is returned when the driver gave up on a request
var errRequestDropped = errors.New("request dropped")

var getCmd = &cobra.Command{
	Use:   "get <host[:port]/path[?query]>",
	Short: "Send an HTTP GET through the module",
	Long: `Join a WiFi network and send an HTTP GET through the module.

The target may carry an http:// or https:// scheme; https selects the
module's SSL connection and defaults to port 443. The query string is sent
as the request data unless --data is given.

The WiFi password is read from the ESPWIFI_WIFI_PASSWORD environment
variable, or prompted interactively if not set.

Exit codes:
  0 - Response received and printed
  1 - Module absent, request failed or timed out
  2 - Connection error`,
	Args: cobra.ExactArgs(1),
	RunE: runRequest,
}

var postCmd = &cobra.Command{
	Use:   "post <host[:port]/path>",
	Short: "Send an HTTP POST through the module",
	Long: `Join a WiFi network and send a form-encoded HTTP POST through the module.

The body is taken from --data. Bodies larger than the module's send window
are streamed in window-sized segments. Use upload for payloads beyond the
inline data limit.`,
	Args: cobra.ExactArgs(1),
	RunE: runRequest,
}

func init() {
	for _, c := range []*cobra.Command{getCmd, postCmd} {
		rootCmd.AddCommand(c)
		addStationFlags(c)
		c.Flags().StringVarP(&requestData, "data", "d", "", "Request data (query string for GET, body for POST)")
		c.Flags().BoolVar(&requestRetry, "retry", false, "Retry the request until it succeeds or times out")
	}
}

func addStationFlags(c *cobra.Command) {
	c.Flags().StringVar(&stationSSID, "ssid", "", "WiFi network to join")
	c.Flags().IntVar(&stationTimeout, "timeout", 60, "Seconds to wait for the response")
	_ = c.MarkFlagRequired("ssid")
}

// target is a parsed host[:port]/path argument
type target struct {
	Domain string
	Port   int
	Path   string
	Query  string
	TLS    bool
}

// parseTarget parses host[:port]/path, with an optional http:// or https://
// scheme. Port defaults to 80, or 443 for https.
func parseTarget(s string) (target, error) {
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return target{}, fmt.Errorf("invalid target: %v", err)
	}

	t := target{Domain: u.Hostname(), Path: u.EscapedPath(), Query: u.RawQuery}
	switch u.Scheme {
	case "http":
		t.Port = 80
	case "https":
		t.Port = 443
		t.TLS = true
	default:
		return target{}, fmt.Errorf("unsupported scheme: %s (use http:// or https://)", u.Scheme)
	}
	if t.Domain == "" {
		return target{}, fmt.Errorf("invalid target: missing host")
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return target{}, fmt.Errorf("invalid port: %s", p)
		}
		t.Port = port
		t.TLS = t.TLS || port == 443
	}
	if t.Path == "" {
		t.Path = "/"
	}
	return t, nil
}

func runRequest(cmd *cobra.Command, args []string) error {
	method, err := wifi.ParseMethod(strings.ToUpper(cmd.Name()))
	if err != nil {
		return err
	}
	t, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	data := requestData
	if data == "" && method == wifi.MethodGet {
		data = t.Query
	}

	req := wifi.Request{
		Method:    method,
		Domain:    t.Domain,
		Port:      t.Port,
		Path:      t.Path,
		Data:      data,
		AutoRetry: requestRetry,
		TLS:       t.TLS,
	}

	os.Exit(runStation(cmd.Context(), func(d *wifi.Driver) error {
		return d.Submit(req)
	}))
	return nil
}

// runStation joins the network, queues a request with submit and prints
// the response. It returns the process exit code.
func runStation(ctx context.Context, submit func(*wifi.Driver) error) int {
	password, err := GetNetworkPassword()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	s := mustOpenSession()
	defer s.Close()

	if err := s.driver.Begin(ctx); err != nil {
		if errors.Is(err, wifi.ErrNotPresent) {
			fmt.Fprintf(os.Stderr, "Module not responding on %s\n", s.info)
			return exitFailure
		}
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}
	if err := s.driver.ConnectWifi(stationSSID, password); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	if err := submit(s.driver); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(stationTimeout)*time.Second)
	defer cancel()

	body, err := awaitResponse(ctx, s.driver, 10*time.Millisecond)
	if err != nil {
		s.driver.ClearRequest()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if linkErr := s.linkError(); linkErr != nil {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", linkErr)
			return exitConnection
		}
		return exitFailure
	}

	fmt.Println(body)
	return exitOK
}

// awaitResponse polls d until the pending request settles. A request the
// driver dropped returns errRequestDropped wrapping the last failure.
func awaitResponse(ctx context.Context, d *wifi.Driver, poll time.Duration) (string, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if d.HasResponse() {
			return d.Response(), nil
		}
		if !d.IsBusy() {
			// the response may have landed between the two checks
			if d.HasResponse() {
				return d.Response(), nil
			}
			if last := d.LastError(); last != nil {
				return "", fmt.Errorf("%w: %w", errRequestDropped, last)
			}
			return "", errRequestDropped
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for response (%s): %w", d.State(), ctx.Err())
		case <-ticker.C:
		}
	}
}
