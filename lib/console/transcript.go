// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package console owns the byte-level conversation with a device.
//
// Four layers build on each other:
//
//   - [Transcript]: dual-sink capture of everything the device says.
//   - [Session]: the raw byte link. [StartProcess] spawns a local
//     console command (conmux style), [DialConsole] attaches to a TCP
//     console server, [DialSSH] attaches over SSH.
//   - [Connection]: wraps a Session, pumps its output into the
//     Transcript, and provides pattern waits ([Connection.Expect])
//     and line sends.
//   - [Runner]: binds a Connection to one shell prompt pattern and
//     runs commands with a prompt/timeout contract.
//
// Every byte the device emits flows through exactly one pump goroutine
// into the transcript, in arrival order, regardless of which layer is
// currently consuming output.
package console

import (
	"bytes"
	"io"
	"sync"
)

// Transcript captures console output into two sinks: an in-memory
// buffer read back when the job's result bundle is assembled, and a
// persistent writer (a log file, or the dispatcher's stdout) that
// survives a dispatcher crash.
//
// Writes go to both sinks; Flush pushes the persistent sink only; the
// in-memory contents remain readable after Close so teardown order
// never races bundle assembly.
type Transcript struct {
	mu         sync.Mutex
	buffer     bytes.Buffer
	persistent io.WriteCloser
	closed     bool
}

// NewTranscript returns a Transcript writing its persistent copy to
// persistent. A nil persistent writer discards the persistent copy.
// Wrap a writer the caller does not own (such as os.Stdout) in
// [NopWriteCloser] so Close leaves it open.
func NewTranscript(persistent io.WriteCloser) *Transcript {
	if persistent == nil {
		persistent = NopWriteCloser(io.Discard)
	}
	return &Transcript{persistent: persistent}
}

// Write appends p to both sinks. Writes after Close are dropped:
// teardown closes the connection (and joins its pump) before the
// transcript, so anything arriving later is a stray tail with nowhere
// to go.
func (t *Transcript) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return len(p), nil
	}
	t.buffer.Write(p)
	if _, err := t.persistent.Write(p); err != nil {
		return len(p), err
	}
	return len(p), nil
}

// Flush pushes the persistent sink to stable storage when it supports
// it. The in-memory buffer needs no flushing.
func (t *Transcript) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	switch sink := t.persistent.(type) {
	case interface{ Sync() error }:
		return sink.Sync()
	case interface{ Flush() error }:
		return sink.Flush()
	}
	return nil
}

// Bytes returns a copy of everything captured so far, in arrival
// order. Valid before and after Close.
func (t *Transcript) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buffer.Bytes()...)
}

// String returns the captured output as a string.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer.String()
}

// Size returns the number of captured bytes.
func (t *Transcript) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer.Len()
}

// Close closes both sinks: the persistent writer is closed, and the
// transcript stops accepting writes. The captured bytes remain
// readable. Closing twice is safe; only the first call closes the
// persistent writer.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.persistent.Close()
}

// NopWriteCloser returns a WriteCloser whose Close is a no-op, for
// persistent sinks the transcript does not own.
func NopWriteCloser(w io.Writer) io.WriteCloser {
	return nopWriteCloser{w}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
