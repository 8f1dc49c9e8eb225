// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates the structured logger for a CLI invocation.
// When stderr is a terminal, uses slog.TextHandler for human-readable
// output. When stderr is piped or redirected (cron, CI, a scheduler
// wrapping the dispatcher), uses slog.JSONHandler so job logs stay
// machine-parseable.
//
// Callers scope the logger with job context via With():
//
//	logger := cli.NewCommandLogger().With("job", job.JobName)
func NewCommandLogger() *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
