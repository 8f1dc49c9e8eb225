// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// localCommandGrace is how long a cancelled local command gets to shut
// down after SIGTERM before the process group is SIGKILLed.
const localCommandGrace = 5 * time.Second

// RunLocal runs a host-side shell command: power relay control, image
// tools, fastboot. The context bounds it; on cancellation the whole
// process group gets SIGTERM, then SIGKILL after a grace period.
func RunLocal(ctx context.Context, log *slog.Logger, command string) error {
	_, err := RunLocalOutput(ctx, log, command)
	return err
}

// RunLocalOutput runs a host-side shell command and returns its
// combined output. On failure the output is folded into the error so
// relay and tool diagnostics are not lost.
func RunLocalOutput(ctx context.Context, log *slog.Logger, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	// Own process group so that signals reach the shell and all its
	// children (negative PID = the whole group).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		processGroupID := -cmd.Process.Pid
		if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
			// SIGTERM failed (process group already gone), escalate.
			return syscall.Kill(processGroupID, syscall.SIGKILL)
		}
		go func() {
			time.Sleep(localCommandGrace)
			// Best-effort: ESRCH from a dead process group is
			// harmless.
			_ = syscall.Kill(processGroupID, syscall.SIGKILL)
		}()
		return nil
	}

	log.Debug("running local command", "command", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(output))
		if trimmed != "" {
			return string(output), fmt.Errorf("%q: %w (output: %s)", command, err, trimmed)
		}
		return string(output), fmt.Errorf("%q: %w", command, err)
	}
	return string(output), nil
}
