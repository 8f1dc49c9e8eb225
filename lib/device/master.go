// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/console"
	"github.com/bwenstar/lava/lib/fault"
)

func init() {
	Register(config.DeviceTypeMaster, func(opts Options) (Target, error) {
		base, err := NewBase(opts)
		if err != nil {
			return nil, err
		}
		return &masterTarget{Base: base}, nil
	})
}

// Partition labels baked into every master image. The master deploy
// flow reformats the test partitions, and reformatting reapplies the
// label, so /dev/disk/by-label stays valid across deploys.
const (
	testBootLabel = "testboot"
	testRootLabel = "testrootfs"
)

// masterTarget drives a physical board that carries a known-good
// recovery OS, the master image, alongside the test partitions. Test
// images are written by booting into the master image and streaming
// tarballs to it over the lab network; the test image itself is
// booted by interrupting the bootloader and typing the boot commands.
type masterTarget struct {
	*Base
}

var _ Target = (*masterTarget)(nil)

var httpServerPattern = regexp.MustCompile(`Serving HTTP on 0\.0\.0\.0 port (\d+)`)

// openConsole attaches to the board's serial line using whichever
// transport the device configuration names.
func (t *masterTarget) openConsole() (console.Session, error) {
	switch {
	case t.device.ConnectionCommand != "":
		return console.StartProcess(t.device.ConnectionCommand)
	case t.device.ConsoleAddress != "":
		return console.DialConsole(t.device.ConsoleAddress)
	case t.device.SSH != nil:
		return console.DialSSH(console.SSHConfig{
			Host:         t.device.SSH.Host,
			Port:         t.device.SSH.Port,
			User:         t.device.SSH.User,
			IdentityFile: t.device.SSH.IdentityFile,
		})
	}
	return nil, fault.Criticalf("device %s has no console configured", t.device.Hostname)
}

// hardReset power cycles the board. The console must already be
// attached so the transcript catches the first boot messages.
func (t *masterTarget) hardReset(ctx context.Context) error {
	if t.device.HardResetCommand != "" {
		return RunLocal(ctx, t.log, t.device.HardResetCommand)
	}
	if err := RunLocal(ctx, t.log, t.device.PowerOffCommand); err != nil {
		return err
	}
	return RunLocal(ctx, t.log, t.device.PowerOnCommand)
}

// BootMaster power cycles into the recovery OS and waits for its
// shell. The bootloader falls through to the master image when nobody
// interrupts it.
func (t *masterTarget) BootMaster(ctx context.Context) (*console.Connection, error) {
	if err := t.releaseSession(nil); err != nil {
		t.log.Warn("closing the previous console session", "error", err)
	}

	session, err := t.openConsole()
	if err != nil {
		return nil, err
	}
	connection := console.NewConnection(session, t.transcript, t.clk, t.log)

	t.log.Info("booting the master image")
	if err := t.hardReset(ctx); err != nil {
		connection.Close()
		return nil, fmt.Errorf("resetting %s: %w", t.device.Hostname, err)
	}
	if _, err := connection.Expect(ctx, t.masterPrompt, t.device.Timeouts.BootTimeout()); err != nil {
		connection.Close()
		return nil, fmt.Errorf("waiting for the master shell: %w", err)
	}
	t.trackSession(connection, t.masterPrompt)
	return connection, nil
}

// PowerOn power cycles into the test image: interrupt the bootloader,
// type the boot command sequence, wait for the test shell.
func (t *masterTarget) PowerOn(ctx context.Context) (*console.Connection, error) {
	// Resolve the boot commands before touching the hardware so a
	// configuration mistake fails without a pointless power cycle.
	bootCommands, err := t.resolveBootCommands()
	if err != nil {
		return nil, err
	}
	commandTimeout := t.device.Timeouts.CommandTimeout()

	if err := t.releaseSession(nil); err != nil {
		t.log.Warn("closing the previous console session", "error", err)
	}
	session, err := t.openConsole()
	if err != nil {
		return nil, err
	}
	connection := console.NewConnection(session, t.transcript, t.clk, t.log)

	fail := func(step string, err error) (*console.Connection, error) {
		connection.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	t.log.Info("booting the test image", "boot_commands", len(bootCommands))
	if err := t.hardReset(ctx); err != nil {
		return fail("resetting "+t.device.Hostname, err)
	}
	if _, err := connection.Expect(ctx, t.interruptPrompt, t.device.Timeouts.BootTimeout()); err != nil {
		return fail("waiting for the autoboot banner", err)
	}
	// An empty interrupt command still sends the newline, which is
	// the keypress most bootloaders ask for.
	if err := connection.SendLine(t.device.InterruptBootCommand); err != nil {
		return fail("interrupting autoboot", err)
	}
	for _, command := range bootCommands {
		if _, err := connection.Expect(ctx, t.bootloaderPrompt, commandTimeout); err != nil {
			return fail("waiting for the bootloader prompt", err)
		}
		if err := connection.SendLine(command); err != nil {
			return fail(fmt.Sprintf("sending boot command %q", command), err)
		}
	}
	if _, err := connection.Expect(ctx, t.testerPrompt, t.device.Timeouts.BootTimeout()); err != nil {
		return fail("waiting for the test image shell", err)
	}
	t.trackSession(connection, t.testerPrompt)
	return connection, nil
}

// PowerOff cuts board power when a power command is configured and
// drops the console session either way.
func (t *masterTarget) PowerOff(ctx context.Context, connection *console.Connection) error {
	var errs []error
	if t.device.PowerOffCommand != "" {
		if err := RunLocal(ctx, t.log, t.device.PowerOffCommand); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.releaseSession(connection); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// masterSession returns a runner on the master shell, booting the
// master image first unless the board is already sitting at it.
func (t *masterTarget) masterSession(ctx context.Context) (*console.Runner, error) {
	connection, prompt := t.currentSession()
	if connection == nil || prompt != t.masterPrompt {
		var err error
		connection, err = t.BootMaster(ctx)
		if err != nil {
			return nil, err
		}
	}
	return console.NewRunner(connection, t.masterPrompt, t.device.Timeouts.CommandTimeout()), nil
}

func (t *masterTarget) DeployLinaro(ctx context.Context, hwpack, rootfs string) error {
	deployCtx, cancel := context.WithTimeout(ctx, t.device.Timeouts.DeployTimeout())
	defer cancel()

	image, err := t.buildLinaroImage(deployCtx, hwpack, rootfs)
	if err != nil {
		return err
	}
	bootTarball, rootTarball, err := t.imageToTarballs(deployCtx, image)
	if err != nil {
		return err
	}
	if err := t.deployTarballs(deployCtx, bootTarball, rootTarball); err != nil {
		return err
	}
	t.setDeploymentData(linaroDeploymentData())
	return nil
}

func (t *masterTarget) DeployLinaroPrebuilt(ctx context.Context, image string) error {
	deployCtx, cancel := context.WithTimeout(ctx, t.device.Timeouts.DeployTimeout())
	defer cancel()

	staged, err := t.fetchImage(deployCtx, image)
	if err != nil {
		return err
	}
	bootTarball, rootTarball, err := t.imageToTarballs(deployCtx, staged)
	if err != nil {
		return err
	}
	if err := t.deployTarballs(deployCtx, bootTarball, rootTarball); err != nil {
		return err
	}
	t.setDeploymentData(linaroDeploymentData())
	return nil
}

// imageToTarballs splits a disk image into boot and root tarballs by
// loop mounting its partitions on the dispatcher. The master image
// consumes tarballs, not raw images: streaming a tarball over the lab
// network beats dd for both time and flash wear.
func (t *masterTarget) imageToTarballs(ctx context.Context, image string) (string, string, error) {
	scratch, err := t.ScratchDir()
	if err != nil {
		return "", "", err
	}
	bootTarball := filepath.Join(scratch, "boot.tgz")
	rootTarball := filepath.Join(scratch, "root.tgz")

	err = withMountedPartition(ctx, t.log, image, t.device.BootPartition, func(mount string) error {
		return RunLocal(ctx, t.log, fmt.Sprintf("tar -C %q -czf %q .", mount, bootTarball))
	})
	if err != nil {
		return "", "", fmt.Errorf("packing boot partition: %w", err)
	}
	err = withMountedPartition(ctx, t.log, image, t.device.RootPartition, func(mount string) error {
		return RunLocal(ctx, t.log, fmt.Sprintf("tar -C %q -czf %q .", mount, rootTarball))
	})
	if err != nil {
		return "", "", fmt.Errorf("packing root partition: %w", err)
	}
	return bootTarball, rootTarball, nil
}

// deployTarballs reformats the test partitions from the master shell
// and streams the tarballs into them over HTTP.
func (t *masterTarget) deployTarballs(ctx context.Context, bootTarball, rootTarball string) error {
	bootURL, err := t.scratchURL(bootTarball)
	if err != nil {
		return err
	}
	rootURL, err := t.scratchURL(rootTarball)
	if err != nil {
		return err
	}
	runner, err := t.masterSession(ctx)
	if err != nil {
		return err
	}
	if err := t.formatTestPartitions(ctx, runner); err != nil {
		return err
	}

	deployTimeout := t.device.Timeouts.DeployTimeout()
	steps := []struct {
		label string
		url   string
	}{
		{testBootLabel, bootURL},
		{testRootLabel, rootURL},
	}
	for _, step := range steps {
		mountPoint := "/mnt/lava/" + step.label
		if err := runner.Run(ctx, fmt.Sprintf("mkdir -p %s && mount /dev/disk/by-label/%s %s", mountPoint, step.label, mountPoint), 0); err != nil {
			return fmt.Errorf("mounting %s: %w", step.label, err)
		}
		if err := runner.Run(ctx, fmt.Sprintf("wget -qO- %q | tar --numeric-owner -C %s -xzf -", step.url, mountPoint), deployTimeout); err != nil {
			return fmt.Errorf("unpacking into %s: %w", step.label, err)
		}
		if err := runner.Run(ctx, fmt.Sprintf("sync && umount %s", mountPoint), deployTimeout); err != nil {
			return fmt.Errorf("releasing %s: %w", step.label, err)
		}
	}
	return nil
}

// formatTestPartitions wipes the test partitions: vfat for boot, ext4
// for root. mkfs reapplies the labels the by-label paths rely on.
func (t *masterTarget) formatTestPartitions(ctx context.Context, runner *console.Runner) error {
	t.log.Info("formatting the test partitions")
	deployTimeout := t.device.Timeouts.DeployTimeout()

	if err := runner.Run(ctx, "umount /dev/disk/by-label/"+testBootLabel, 0); err != nil {
		return err
	}
	if err := runner.Run(ctx, fmt.Sprintf("mkfs.vfat /dev/disk/by-label/%s -n %s", testBootLabel, testBootLabel), deployTimeout); err != nil {
		return fmt.Errorf("formatting %s: %w", testBootLabel, err)
	}
	if err := runner.Run(ctx, "umount /dev/disk/by-label/"+testRootLabel, 0); err != nil {
		return err
	}
	if err := runner.Run(ctx, fmt.Sprintf("mkfs.ext4 -q /dev/disk/by-label/%s -L %s", testRootLabel, testRootLabel), deployTimeout); err != nil {
		return fmt.Errorf("formatting %s: %w", testRootLabel, err)
	}
	return nil
}

// DeployAndroid streams the three Android tarballs into the test
// partitions: boot into the boot partition, system and userdata into
// the root partition, which Android mounts by directory.
func (t *masterTarget) DeployAndroid(ctx context.Context, boot, system, userdata string) error {
	deployCtx, cancel := context.WithTimeout(ctx, t.device.Timeouts.DeployTimeout())
	defer cancel()

	var urls [3]string
	for i, source := range []string{boot, system, userdata} {
		staged, err := t.fetchImage(deployCtx, source)
		if err != nil {
			return err
		}
		if urls[i], err = t.scratchURL(staged); err != nil {
			return err
		}
	}

	runner, err := t.masterSession(deployCtx)
	if err != nil {
		return err
	}
	if err := t.formatTestPartitions(deployCtx, runner); err != nil {
		return err
	}

	deployTimeout := t.device.Timeouts.DeployTimeout()
	steps := []struct {
		label string
		urls  []string
	}{
		{testBootLabel, urls[:1]},
		{testRootLabel, urls[1:]},
	}
	for _, step := range steps {
		mountPoint := "/mnt/lava/" + step.label
		if err := runner.Run(deployCtx, fmt.Sprintf("mkdir -p %s && mount /dev/disk/by-label/%s %s", mountPoint, step.label, mountPoint), 0); err != nil {
			return fmt.Errorf("mounting %s: %w", step.label, err)
		}
		for _, url := range step.urls {
			if err := runner.Run(deployCtx, fmt.Sprintf("wget -qO- %q | tar --numeric-owner -C %s -xzf -", url, mountPoint), deployTimeout); err != nil {
				return fmt.Errorf("unpacking into %s: %w", step.label, err)
			}
		}
		if err := runner.Run(deployCtx, fmt.Sprintf("sync && umount %s", mountPoint), deployTimeout); err != nil {
			return fmt.Errorf("releasing %s: %w", step.label, err)
		}
	}
	t.setDeploymentData(androidDeploymentData())
	return nil
}

func (t *masterTarget) partitionLabel(partition int) (string, error) {
	switch partition {
	case t.device.BootPartition:
		return testBootLabel, nil
	case t.device.RootPartition:
		return testRootLabel, nil
	}
	return "", fault.Criticalf("no label known for partition %d on %s", partition, t.device.Describe())
}

// masterIP asks the master shell for the board's lab network address.
func (t *masterTarget) masterIP(ctx context.Context, runner *console.Runner) (string, error) {
	output, err := runner.Output(ctx, "ip -4 addr show scope global", 0)
	if err != nil {
		return "", fmt.Errorf("querying the master ip: %w", err)
	}
	ip, err := FirstIPv4(output)
	if err != nil {
		return "", fmt.Errorf("querying the master ip: %w", err)
	}
	return ip, nil
}

// FileSystem stages a directory of a test partition on the
// dispatcher. Extraction pulls a tarball from an ephemeral HTTP
// server on the master; pushing streams the edited tarball back over
// the same wget pipeline the deploys use.
func (t *masterTarget) FileSystem(ctx context.Context, partition int, directory string, fn func(local string) error) error {
	cleaned := path.Clean("/" + directory)
	if cleaned == "/" {
		return fault.Critical("refusing to stage an entire partition")
	}
	label, err := t.partitionLabel(partition)
	if err != nil {
		return err
	}
	runner, err := t.masterSession(ctx)
	if err != nil {
		return err
	}
	commandTimeout := t.device.Timeouts.CommandTimeout()

	mountPoint := "/mnt/lava/" + label
	if err := runner.Run(ctx, fmt.Sprintf("mkdir -p %s && mount /dev/disk/by-label/%s %s", mountPoint, label, mountPoint), 0); err != nil {
		return fmt.Errorf("mounting %s: %w", label, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if err := runner.Run(releaseCtx, "sync && umount "+mountPoint, 0); err != nil {
			t.log.Warn("unmounting the test partition", "label", label, "error", err)
		}
	}()
	targetDir := mountPoint + cleaned

	extract := func(ctx context.Context, staging string) error {
		ip, err := t.masterIP(ctx, runner)
		if err != nil {
			return err
		}
		parent, name := path.Split(targetDir)
		if err := runner.Run(ctx, fmt.Sprintf("mkdir -p %s && tar -czf /tmp/fs.tgz -C %s %s", targetDir, parent, name), commandTimeout); err != nil {
			return fmt.Errorf("packing %s: %w", targetDir, err)
		}

		// The server call occupies the master shell, so everything
		// that needs the runner happened above. Ctrl-C gets the
		// prompt back afterwards.
		connection, _ := t.currentSession()
		if err := connection.SendLine("cd /tmp && python -m SimpleHTTPServer 0 2>/dev/null"); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
			defer cancel()
			_ = connection.Send("\x03")
			if _, err := connection.Expect(stopCtx, t.masterPrompt, commandTimeout); err != nil {
				t.log.Warn("stopping the file server", "error", err)
			}
		}()
		matched, err := connection.Expect(ctx, httpServerPattern, commandTimeout)
		if err != nil {
			return fmt.Errorf("starting the file server: %w", err)
		}
		port := httpServerPattern.FindStringSubmatch(matched)[1]

		tarball, err := t.fetchImage(ctx, fmt.Sprintf("http://%s:%s/fs.tgz", ip, port))
		if err != nil {
			return err
		}
		defer os.Remove(tarball)
		return RunLocal(ctx, t.log, fmt.Sprintf("tar -xzf %q -C %q --strip-components=1", tarball, staging))
	}

	push := func(ctx context.Context, staging string) error {
		scratch, err := t.ScratchDir()
		if err != nil {
			return err
		}
		tarball := filepath.Join(scratch, "fs-push.tgz")
		if err := RunLocal(ctx, t.log, fmt.Sprintf("tar -czf %q -C %q .", tarball, staging)); err != nil {
			return err
		}
		defer os.Remove(tarball)
		url, err := t.scratchURL(tarball)
		if err != nil {
			return err
		}
		command := fmt.Sprintf("rm -rf %s && mkdir -p %s && wget -qO- %q | tar --numeric-owner -C %s -xzf -",
			targetDir, targetDir, url, targetDir)
		if err := runner.Run(ctx, command, t.device.Timeouts.DeployTimeout()); err != nil {
			return fmt.Errorf("writing back %s: %w", targetDir, err)
		}
		return runner.Run(ctx, "sync", commandTimeout)
	}

	return t.fileSystemScope(ctx, extract, push, fn)
}

func (t *masterTarget) Close(ctx context.Context) error {
	return t.closeTarget(ctx, t)
}
