// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/console"
	"github.com/bwenstar/lava/lib/fault"
)

func init() {
	Register(config.DeviceTypeQEMU, func(opts Options) (Target, error) {
		base, err := NewBase(opts)
		if err != nil {
			return nil, err
		}
		return &qemuTarget{Base: base}, nil
	})
}

// qemuTarget emulates a board. The "device" is a QEMU process whose
// stdio is the serial console, and the test media is a disk image in
// the scratch directory, so deploys and filesystem access are plain
// dispatcher-side file operations.
type qemuTarget struct {
	*Base

	// imagePath is the deployed disk image. Empty until a deploy
	// action runs.
	imagePath string
}

var _ Target = (*qemuTarget)(nil)

func (t *qemuTarget) PowerOn(ctx context.Context) (*console.Connection, error) {
	if t.imagePath == "" {
		return nil, fault.Critical("no image deployed; run a deploy action first")
	}
	if err := t.releaseSession(nil); err != nil {
		t.log.Warn("closing the previous emulator session", "error", err)
	}

	command := t.qemuCommand()
	t.log.Info("starting emulator", "command", command)
	session, err := console.StartProcess(command)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", t.device.QEMUBinary, err)
	}
	connection := console.NewConnection(session, t.transcript, t.clk, t.log)

	if _, err := connection.Expect(ctx, t.testerPrompt, t.device.Timeouts.BootTimeout()); err != nil {
		connection.Close()
		return nil, fmt.Errorf("waiting for the test image shell: %w", err)
	}
	t.trackSession(connection, t.testerPrompt)
	return connection, nil
}

func (t *qemuTarget) qemuCommand() string {
	parts := []string{t.device.QEMUBinary}
	parts = append(parts, t.device.QEMUOptions...)
	parts = append(parts,
		fmt.Sprintf("-drive if=sd,cache=writeback,file=%s", t.imagePath),
		"-nographic")
	return strings.Join(parts, " ")
}

// PowerOff terminates the emulator by closing its console session.
func (t *qemuTarget) PowerOff(ctx context.Context, connection *console.Connection) error {
	return t.releaseSession(connection)
}

func (t *qemuTarget) DeployLinaro(ctx context.Context, hwpack, rootfs string) error {
	deployCtx, cancel := context.WithTimeout(ctx, t.device.Timeouts.DeployTimeout())
	defer cancel()

	image, err := t.buildLinaroImage(deployCtx, hwpack, rootfs)
	if err != nil {
		return err
	}
	t.imagePath = image
	t.setDeploymentData(linaroDeploymentData())
	return nil
}

func (t *qemuTarget) DeployLinaroPrebuilt(ctx context.Context, image string) error {
	deployCtx, cancel := context.WithTimeout(ctx, t.device.Timeouts.DeployTimeout())
	defer cancel()

	staged, err := t.fetchImage(deployCtx, image)
	if err != nil {
		return err
	}
	t.imagePath = staged
	t.setDeploymentData(linaroDeploymentData())
	return nil
}

func (t *qemuTarget) FileSystem(ctx context.Context, partition int, directory string, fn func(local string) error) error {
	if t.imagePath == "" {
		return fault.Critical("no image deployed; nothing to access")
	}
	if connection, _ := t.currentSession(); connection != nil {
		return fault.Critical("cannot access the image while the emulator is running")
	}

	extract := func(ctx context.Context, staging string) error {
		return withMountedPartition(ctx, t.log, t.imagePath, partition, func(mount string) error {
			source := filepath.Join(mount, directory)
			return RunLocal(ctx, t.log,
				fmt.Sprintf("mkdir -p %q && cp -a %q/. %q/", source, source, staging))
		})
	}
	push := func(ctx context.Context, staging string) error {
		return withMountedPartition(ctx, t.log, t.imagePath, partition, func(mount string) error {
			destination := filepath.Join(mount, directory)
			return RunLocal(ctx, t.log,
				fmt.Sprintf("rm -rf %q && mkdir -p %q && cp -a %q/. %q/ && sync", destination, destination, staging, destination))
		})
	}
	return t.fileSystemScope(ctx, extract, push, fn)
}

func (t *qemuTarget) Close(ctx context.Context) error {
	return t.closeTarget(ctx, t)
}
