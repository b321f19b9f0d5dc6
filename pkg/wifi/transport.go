// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Transport is the raw byte channel to the module. Buffered and ReadByte
// must never block; the tick relies on them to poll.
type Transport interface {
	// Buffered reports how many received bytes can be read without blocking.
	Buffered() int
	// ReadByte returns the next received byte, or an error if none is buffered.
	ReadByte() (byte, error)
	// Write sends bytes to the module.
	Write(p []byte) (int, error)
}

// ErrNoData is returned by ReadByte when nothing is buffered.
var ErrNoData = errors.New("no data buffered")

// RXBufferSize is the receive queue size of a StreamTransport.
const RXBufferSize = 4096

// StreamTransport adapts a blocking io.ReadWriteCloser (serial port,
// websocket bridge) into a polling Transport. A reader goroutine fills a
// bounded receive queue, the way a UART driver fills its RX ring.
type StreamTransport struct {
	conn io.ReadWriteCloser
	log  *zap.Logger

	mu       sync.Mutex
	rx       []byte
	head     int
	size     int
	dropped  uint64
	err      error
	done     chan struct{}
	closeErr error
	once     sync.Once
}

// NewStreamTransport starts reading from conn in the background.
func NewStreamTransport(conn io.ReadWriteCloser, log *zap.Logger) *StreamTransport {
	if log == nil {
		log = zap.NewNop()
	}
	t := &StreamTransport{
		conn: conn,
		log:  log.Named("transport"),
		rx:   make([]byte, RXBufferSize),
		done: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *StreamTransport) readLoop() {
	defer close(t.done)
	buf := make([]byte, 256)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.push(buf[:n])
		}
		if err != nil {
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			if !errors.Is(err, io.EOF) {
				t.log.Debug("read loop stopped", zap.Error(err))
			}
			return
		}
	}
}

func (t *StreamTransport) push(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range p {
		if t.size == len(t.rx) {
			t.dropped++
			continue
		}
		t.rx[(t.head+t.size)%len(t.rx)] = b
		t.size++
	}
	if t.dropped > 0 && t.dropped%uint64(len(t.rx)) == 1 {
		t.log.Warn("receive queue overflow", zap.Uint64("dropped", t.dropped))
	}
}

// Buffered implements Transport.
func (t *StreamTransport) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// ReadByte implements Transport.
func (t *StreamTransport) ReadByte() (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.size == 0 {
		if t.err != nil {
			return 0, t.err
		}
		return 0, ErrNoData
	}
	b := t.rx[t.head]
	t.head = (t.head + 1) % len(t.rx)
	t.size--
	return b, nil
}

// Write implements Transport.
func (t *StreamTransport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

// Dropped returns how many received bytes were lost to queue overflow.
func (t *StreamTransport) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Err returns the error that stopped the reader, if any.
func (t *StreamTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close closes the underlying connection and waits for the reader to exit.
func (t *StreamTransport) Close() error {
	t.once.Do(func() {
		t.closeErr = t.conn.Close()
		<-t.done
	})
	return t.closeErr
}

// drain discards everything currently buffered in t.
func drain(t Transport) {
	for t.Buffered() > 0 {
		if _, err := t.ReadByte(); err != nil {
			return
		}
	}
}
