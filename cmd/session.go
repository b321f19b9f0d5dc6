// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/espwifi/pkg/wifi"
	"go.uber.org/zap"
)

// Exit codes shared by all commands
const (
	exitOK         = 0
	exitFailure    = 1 // module absent, request failed or timed out
	exitConnection = 2 // serial port or bridge could not be used
)

// session is an open link to the module with a driver on top of it
type session struct {
	conn   Connection
	tr     *wifi.StreamTransport
	driver *wifi.Driver
	info   string
	log    *zap.Logger
}

// openSession opens the connection selected by the root flags and builds
// a driver on it. The tick is not started; callers run Begin when they
// need it.
func openSession(log *zap.Logger, opts ...wifi.Option) (*session, error) {
	conn, info, err := OpenConnection()
	if err != nil {
		return nil, err
	}

	tr := wifi.NewStreamTransport(conn, log)
	opts = append([]wifi.Option{wifi.WithLogger(log)}, opts...)

	return &session{
		conn:   conn,
		tr:     tr,
		driver: wifi.New(tr, opts...),
		info:   info,
		log:    log,
	}, nil
}

// mustOpenSession is openSession for commands that exit on connection
// errors.
func mustOpenSession(opts ...wifi.Option) *session {
	s, err := openSession(newLogger(os.Stderr), opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(exitConnection)
	}
	return s
}

// Close stops the driver and releases the connection.
func (s *session) Close() {
	s.driver.Stop()
	if err := s.tr.Close(); err != nil {
		s.log.Debug("close connection", zap.Error(err))
	}
	_ = s.log.Sync()
}

// linkError reports the transport's read error, if the link went away.
func (s *session) linkError() error {
	return s.tr.Err()
}
