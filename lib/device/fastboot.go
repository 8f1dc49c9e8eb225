// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"fmt"

	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/console"
	"github.com/bwenstar/lava/lib/fault"
)

func init() {
	Register(config.DeviceTypeFastboot, func(opts Options) (Target, error) {
		base, err := NewBase(opts)
		if err != nil {
			return nil, err
		}
		// Fastboot boards only ever run Android, so the deployment
		// data is fixed from the start and a job may boot a board
		// that was flashed by an earlier job.
		base.setDeploymentData(androidDeploymentData())
		return &fastbootTarget{Base: base}, nil
	})
}

// fastbootTarget drives an Android board over USB. Images are written
// with fastboot, the console is an adb shell, and filesystem access
// goes through adb pull and push.
type fastbootTarget struct {
	*Base
}

var _ Target = (*fastbootTarget)(nil)

// adb builds an adb command line, pinned to the configured serial
// when the dispatcher host drives more than one board.
func (t *fastbootTarget) adb(args string) string {
	if t.device.FastbootSerial != "" {
		return fmt.Sprintf("adb -s %s %s", t.device.FastbootSerial, args)
	}
	return "adb " + args
}

func (t *fastbootTarget) fastboot(args string) string {
	if t.device.FastbootSerial != "" {
		return fmt.Sprintf("fastboot -s %s %s", t.device.FastbootSerial, args)
	}
	return "fastboot " + args
}

// enterFastboot reboots a running Android into the bootloader. The
// board may already be sitting in fastboot, in which case adb cannot
// reach it and the failure is expected.
func (t *fastbootTarget) enterFastboot(ctx context.Context) {
	if err := RunLocal(ctx, t.log, t.adb("reboot bootloader")); err != nil {
		t.log.Debug("adb reboot failed; assuming the board is already in fastboot", "error", err)
	}
}

func (t *fastbootTarget) DeployAndroid(ctx context.Context, boot, system, userdata string) error {
	deployCtx, cancel := context.WithTimeout(ctx, t.device.Timeouts.DeployTimeout())
	defer cancel()

	var staged [3]string
	for i, source := range []string{boot, system, userdata} {
		image, err := t.fetchImage(deployCtx, source)
		if err != nil {
			return err
		}
		staged[i] = image
	}

	t.enterFastboot(deployCtx)
	for i, partition := range []string{"boot", "system", "userdata"} {
		if err := RunLocal(deployCtx, t.log, t.fastboot(fmt.Sprintf("flash %s %q", partition, staged[i]))); err != nil {
			return fmt.Errorf("flashing %s: %w", partition, err)
		}
	}
	t.setDeploymentData(androidDeploymentData())
	return nil
}

// PowerOn reboots the board through fastboot, waits for adb to see it
// again, and attaches an adb shell as the console.
func (t *fastbootTarget) PowerOn(ctx context.Context) (*console.Connection, error) {
	if err := t.releaseSession(nil); err != nil {
		t.log.Warn("closing the previous adb shell", "error", err)
	}

	t.enterFastboot(ctx)
	if err := RunLocal(ctx, t.log, t.fastboot("reboot")); err != nil {
		return nil, fmt.Errorf("rebooting out of fastboot: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.device.Timeouts.BootTimeout())
	defer cancel()
	if err := RunLocal(waitCtx, t.log, t.adb("wait-for-device")); err != nil {
		return nil, fmt.Errorf("waiting for adb: %w", err)
	}

	session, err := console.StartProcess(t.adb("shell"))
	if err != nil {
		return nil, err
	}
	connection := console.NewConnection(session, t.transcript, t.clk, t.log)
	// A fresh adb shell does not print a prompt until it gets a
	// newline.
	if err := connection.SendLine(""); err != nil {
		connection.Close()
		return nil, err
	}
	if _, err := connection.Expect(ctx, t.testerPrompt, t.device.Timeouts.BootTimeout()); err != nil {
		connection.Close()
		return nil, fmt.Errorf("waiting for the adb shell prompt: %w", err)
	}
	t.trackSession(connection, t.testerPrompt)
	return connection, nil
}

// PowerOff drops the adb shell. The board keeps running: USB boards
// have no lab power control, and the next job reboots through
// fastboot anyway.
func (t *fastbootTarget) PowerOff(ctx context.Context, connection *console.Connection) error {
	return t.releaseSession(connection)
}

func (t *fastbootTarget) partitionMountPoint(partition int) (string, error) {
	switch partition {
	case t.device.AndroidSystemPartition:
		return "/system", nil
	case t.device.AndroidDataPartition:
		return "/data", nil
	}
	return "", fault.Criticalf("no mount point known for partition %d on %s", partition, t.device.Describe())
}

func (t *fastbootTarget) FileSystem(ctx context.Context, partition int, directory string, fn func(local string) error) error {
	mountPoint, err := t.partitionMountPoint(partition)
	if err != nil {
		return err
	}
	target := mountPoint + "/" + directory

	extract := func(ctx context.Context, staging string) error {
		// The directory may not exist yet on a fresh image; an empty
		// staging area is fine.
		if err := RunLocal(ctx, t.log, t.adb(fmt.Sprintf("pull %s/. %q/", target, staging))); err != nil {
			t.log.Debug("adb pull found nothing to stage", "directory", target, "error", err)
		}
		return nil
	}
	push := func(ctx context.Context, staging string) error {
		if err := RunLocal(ctx, t.log, t.adb(fmt.Sprintf("push %q/. %s/", staging, target))); err != nil {
			return fmt.Errorf("pushing into %s: %w", target, err)
		}
		return nil
	}
	return t.fileSystemScope(ctx, extract, push, fn)
}

func (t *fastbootTarget) Close(ctx context.Context) error {
	return t.closeTarget(ctx, t)
}
