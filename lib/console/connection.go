// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/bwenstar/lava/lib/clock"
	"github.com/bwenstar/lava/lib/fault"
)

// ErrClosed reports that the console session ended while a caller was
// waiting on it: the device dropped the line, the console process
// died, or the session was closed underneath the wait.
var ErrClosed = errors.New("console: connection closed")

// Connection wires a live [Session] to a [Transcript]. A single pump
// goroutine copies every output byte into the transcript and into an
// unconsumed window that [Expect] matches against, so capture and
// matching can never diverge.
type Connection struct {
	session    Session
	transcript *Transcript
	clk        clock.Clock
	log        *slog.Logger

	mu     sync.Mutex
	window []byte
	eof    bool

	// dataAvailable is a coalescing signal: the pump posts after
	// each append, waiters drain and rescan.
	dataAvailable chan struct{}

	// pumpDone closes when the pump exits, which happens exactly
	// when the session reaches EOF or errors.
	pumpDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewConnection starts the pump over session. The connection owns the
// session: closing the connection closes the session and joins the
// pump. The transcript is shared and stays open.
func NewConnection(session Session, transcript *Transcript, clk clock.Clock, log *slog.Logger) *Connection {
	connection := &Connection{
		session:       session,
		transcript:    transcript,
		clk:           clk,
		log:           log,
		dataAvailable: make(chan struct{}, 1),
		pumpDone:      make(chan struct{}),
	}
	go connection.pump()
	return connection
}

// pump moves bytes from the session into the transcript and the match
// window until the session ends.
func (c *Connection) pump() {
	defer close(c.pumpDone)

	buffer := make([]byte, 4096)
	for {
		n, err := c.session.Read(buffer)
		if n > 0 {
			if _, writeErr := c.transcript.Write(buffer[:n]); writeErr != nil {
				c.log.Warn("transcript write failed", "error", writeErr)
			}
			c.mu.Lock()
			c.window = append(c.window, buffer[:n]...)
			c.mu.Unlock()
			select {
			case c.dataAvailable <- struct{}{}:
			default:
			}
		}
		if err != nil {
			c.mu.Lock()
			c.eof = true
			c.mu.Unlock()
			return
		}
	}
}

// SendLine writes line followed by a newline to the session. The
// device's echo, not the send itself, puts the text in the transcript,
// matching what a serial capture shows.
func (c *Connection) SendLine(line string) error {
	return c.send(line + "\n")
}

// Send writes raw bytes with no newline, for bootloader interrupt
// keys and similar single-keystroke interactions.
func (c *Connection) Send(raw string) error {
	return c.send(raw)
}

func (c *Connection) send(raw string) error {
	if _, err := c.session.Write([]byte(raw)); err != nil {
		return fmt.Errorf("console write: %w", err)
	}
	return nil
}

// Expect waits until pattern matches the unconsumed console output,
// consuming everything through the end of the match, and returns the
// matched text. It fails with a [fault.TimeoutError] when timeout
// elapses first, with [ErrClosed] when the session ends first, and
// with ctx.Err() when the context is cancelled.
//
// Bytes before the match stay in the transcript but leave the window;
// bytes after the match remain for the next Expect.
func (c *Connection) Expect(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	deadline := c.clk.After(timeout)

	for {
		c.mu.Lock()
		if location := pattern.FindIndex(c.window); location != nil {
			matched := string(c.window[location[0]:location[1]])
			c.window = append([]byte(nil), c.window[location[1]:]...)
			c.mu.Unlock()
			return matched, nil
		}
		sawEOF := c.eof
		c.mu.Unlock()

		if sawEOF {
			return "", fmt.Errorf("expect %q: %w", pattern.String(), ErrClosed)
		}

		select {
		case <-c.dataAvailable:
		case <-c.pumpDone:
			// Loop once more: the final read may have appended a
			// tail containing the match.
		case <-deadline:
			return "", fault.Timeout(fmt.Sprintf("expect %q", pattern.String()), timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close severs the session and joins the pump. Safe to call more than
// once and safe concurrently with Expect, which returns ErrClosed.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
		<-c.pumpDone
	})
	return c.closeErr
}
