// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thermoquad/espwifi/pkg/wifi"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	monitorSSID  string
	monitorAP    bool
	monitorPages string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive console for the module",
	Long: `Interactive console showing live driver state, traffic counters and an
event log.

In station mode, --ssid joins a network and requests are typed at the prompt:
  GET example.com/path?x=1
  POST example.com:8080/form name=value
  AT+GMR
  clear
  autoconnect on|off

With --ap the module runs as an access point named --ssid, serving --pages,
and inbound requests appear in the event log.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorSSID, "ssid", "", "WiFi network to join, or access point name with --ap")
	monitorCmd.Flags().BoolVar(&monitorAP, "ap", false, "Run the module as an access point")
	monitorCmd.Flags().StringVar(&monitorPages, "pages", "", "Page directory or bundle to serve with --ap")
}

// logChannelWriter hands log lines to the console without blocking the
// driver. Lines are dropped when the console falls behind.
type logChannelWriter chan string

func (w logChannelWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	select {
	case w <- line:
	default:
	}
	return len(p), nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	mode := wifi.ModeStation
	if monitorAP {
		mode = wifi.ModeAccessPoint
	}
	if monitorAP && monitorSSID == "" {
		return fmt.Errorf("--ap requires --ssid")
	}

	var bundle *PageBundle
	if monitorPages != "" {
		var err error
		if bundle, err = LoadPages(monitorPages); err != nil {
			return err
		}
	}

	password := ""
	if monitorSSID != "" {
		var err error
		if password, err = GetNetworkPassword(); err != nil {
			return err
		}
	}

	logLines := make(logChannelWriter, 256)
	s, err := openSession(newLogger(logLines), wifi.WithMode(mode))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.driver.Begin(cmd.Context()); err != nil {
		if errors.Is(err, wifi.ErrNotPresent) {
			return fmt.Errorf("module not responding on %s", s.info)
		}
		logLines.Write([]byte(err.Error()))
	}

	switch {
	case monitorAP:
		if err := s.driver.StartServer(monitorSSID, password); err != nil {
			logLines.Write([]byte(err.Error()))
		}
		if bundle != nil {
			for _, p := range bundle.Pages {
				if err := s.driver.SetPage(p.Path, p.HTML); err != nil {
					return err
				}
			}
		}
	case monitorSSID != "":
		if err := s.driver.ConnectWifi(monitorSSID, password); err != nil {
			return err
		}
	}

	m := initialMonitorModel(s.driver, s.info, logLines, s.linkError)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

type commandKind int

const (
	commandRequest commandKind = iota
	commandAT
	commandClear
	commandAutoConnect
)

// monitorCommand is one parsed console line
type monitorCommand struct {
	kind    commandKind
	request wifi.Request
	line    string
	enable  bool
}

// parseMonitorCommand parses a console line. Requests are
// "GET|POST <target> [data]", raw lines start with "AT".
func parseMonitorCommand(line string) (monitorCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return monitorCommand{}, fmt.Errorf("empty command")
	}

	verb := strings.ToUpper(fields[0])
	switch {
	case strings.HasPrefix(verb, "AT"):
		return monitorCommand{kind: commandAT, line: strings.TrimSpace(line)}, nil

	case verb == "CLEAR":
		return monitorCommand{kind: commandClear}, nil

	case verb == "AUTOCONNECT":
		if len(fields) != 2 {
			return monitorCommand{}, fmt.Errorf("usage: autoconnect on|off")
		}
		switch strings.ToLower(fields[1]) {
		case "on":
			return monitorCommand{kind: commandAutoConnect, enable: true}, nil
		case "off":
			return monitorCommand{kind: commandAutoConnect}, nil
		}
		return monitorCommand{}, fmt.Errorf("usage: autoconnect on|off")
	}

	method, err := wifi.ParseMethod(verb)
	if err != nil {
		return monitorCommand{}, fmt.Errorf("unknown command %q", fields[0])
	}
	if len(fields) < 2 {
		return monitorCommand{}, fmt.Errorf("usage: %s <host[:port]/path> [data]", method)
	}
	t, err := parseTarget(fields[1])
	if err != nil {
		return monitorCommand{}, err
	}

	data := strings.Join(fields[2:], " ")
	if data == "" && method == wifi.MethodGet {
		data = t.Query
	}
	return monitorCommand{
		kind: commandRequest,
		request: wifi.Request{
			Method: method,
			Domain: t.Domain,
			Port:   t.Port,
			Path:   t.Path,
			Data:   data,
			TLS:    t.TLS,
		},
	}, nil
}
