// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwenstar/lava/lib/clock"
	"github.com/bwenstar/lava/lib/device"
	"github.com/bwenstar/lava/lib/fault"
)

const (
	// adbConnectAttempts is how many times a network adb connect is
	// tried before the boot is declared failed. Boards bring their
	// network up a little after the console prompt appears, so the
	// first attempt often races the interface.
	adbConnectAttempts = 5

	// adbConnectRetryDelay separates connect attempts.
	adbConnectRetryDelay = 2 * time.Second
)

// ADBBridge manages network adb links from the dispatcher host to a
// booted Android image.
type ADBBridge interface {
	// Connect establishes an adb link to address ("ip:port"),
	// retrying while the board's network settles. Failure to connect
	// is reported as a [fault.ADBConnectError].
	Connect(ctx context.Context, address string) error

	// Devices returns the raw "adb devices" output.
	Devices(ctx context.Context) (string, error)
}

// execBridge drives the adb binary on the dispatcher host.
type execBridge struct {
	log *slog.Logger
	clk clock.Clock
}

func (b *execBridge) Connect(ctx context.Context, address string) error {
	var lastErr error
	for attempt := 1; attempt <= adbConnectAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fault.ADBConnect(address, ctx.Err())
			case <-b.clk.After(adbConnectRetryDelay):
			}
		}

		output, err := device.RunLocalOutput(ctx, b.log, "adb connect "+address)
		if err == nil && strings.Contains(output, "connected to "+address) {
			return nil
		}

		// adb connect exits zero even when it fails, so the output
		// text is the only failure signal.
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("adb connect said %q", strings.TrimSpace(output))
		}
		b.log.Warn("adb connect attempt failed",
			"address", address, "attempt", attempt, "error", lastErr)
	}
	return fault.ADBConnect(address, lastErr)
}

func (b *execBridge) Devices(ctx context.Context) (string, error) {
	return device.RunLocalOutput(ctx, b.log, "adb devices")
}
