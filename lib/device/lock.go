// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is an exclusive per-device claim held for the duration of a
// job. flock backs it, so the claim dies with the dispatcher process
// and a crashed job never wedges its board.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock claims the named device. A device already claimed by
// any dispatcher process fails immediately rather than queueing; the
// scheduler owns queueing, not the dispatcher.
func AcquireLock(runDirectory, hostname string) (*Lock, error) {
	if err := os.MkdirAll(runDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	path := filepath.Join(runDirectory, hostname+".lock")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("device %s is claimed by another dispatcher", hostname)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	// The pid makes a stale-looking lock diagnosable from the shell.
	if err := file.Truncate(0); err == nil {
		fmt.Fprintf(file, "%d\n", os.Getpid())
	}
	return &Lock{file: file, path: path}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the claim. The lock file stays behind; removing it
// would race a concurrent acquirer holding the same inode.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("unlocking %s: %w", l.path, err)
	}
	return l.file.Close()
}
