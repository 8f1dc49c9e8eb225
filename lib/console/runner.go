// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/bwenstar/lava/lib/fault"
)

// Runner binds one live [Connection] to one shell prompt pattern and
// turns the raw console into a command/response channel: send a
// command line, wait for the prompt to come back.
//
// A timeout is not fatal by itself. The runner reports it as a
// [fault.TimeoutError] and the caller decides: a test shell records a
// failure and moves to the next command, a boot sequence gives up on
// the job.
type Runner struct {
	connection     *Connection
	prompt         *regexp.Regexp
	defaultTimeout time.Duration
}

// NewRunner returns a Runner matching prompt. Commands run with
// defaultTimeout when the caller passes no explicit timeout.
func NewRunner(connection *Connection, prompt *regexp.Regexp, defaultTimeout time.Duration) *Runner {
	return &Runner{connection: connection, prompt: prompt, defaultTimeout: defaultTimeout}
}

// Run sends command and waits for the prompt to reappear. A timeout
// of zero or less uses the runner's default. The command's echo and
// output land in the transcript in arrival order; Run consumes them
// from the match window so the next command starts clean.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	if err := r.connection.SendLine(command); err != nil {
		return fmt.Errorf("sending %q: %w", command, err)
	}
	if _, err := r.connection.Expect(ctx, r.prompt, timeout); err != nil {
		return describeRunError(command, timeout, err)
	}
	return nil
}

// Output sends command and returns everything the console printed
// between the send and the prompt's return, echo included. Callers
// parse device state out of it: IP addresses, partition tables,
// mount results.
func (r *Runner) Output(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	before := r.connection.transcript.Size()
	if err := r.connection.SendLine(command); err != nil {
		return "", fmt.Errorf("sending %q: %w", command, err)
	}
	if _, err := r.connection.Expect(ctx, r.prompt, timeout); err != nil {
		return "", describeRunError(command, timeout, err)
	}
	captured := r.connection.transcript.Bytes()
	if before > len(captured) {
		return "", nil
	}
	return string(captured[before:]), nil
}

// Prompt returns the pattern this runner waits for.
func (r *Runner) Prompt() *regexp.Regexp {
	return r.prompt
}

// describeRunError rewrites an Expect failure in terms of the command
// that was running. Timeouts keep their type so callers can treat
// them as recoverable.
func describeRunError(command string, timeout time.Duration, err error) error {
	if fault.IsTimeout(err) {
		return fault.Timeout(fmt.Sprintf("run %q", command), timeout)
	}
	return fmt.Errorf("running %q: %w", command, err)
}
