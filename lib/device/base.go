// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/bwenstar/lava/lib/clock"
	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/console"
	"github.com/bwenstar/lava/lib/fault"
)

// Base carries the state and behavior every target variant shares:
// configuration, compiled prompts, the scratch directory, deployment
// data, mutable boot inputs, and the live session. Variants embed
// *Base and override the capabilities their hardware supports; the
// rest fall through to Base's not-supported defaults.
type Base struct {
	device     *config.Device
	dispatcher *config.Dispatcher
	transcript *console.Transcript
	log        *slog.Logger
	clk        clock.Clock

	testerPrompt     *regexp.Regexp
	masterPrompt     *regexp.Regexp
	interruptPrompt  *regexp.Regexp
	bootloaderPrompt *regexp.Regexp

	mu                      sync.Mutex
	scratch                 string
	deploymentData          map[string]string
	bootOptions             []string
	interactiveBootCommands []string
	waitForHomeScreen       bool
	connection              *console.Connection
	livePrompt              *regexp.Regexp

	closeOnce sync.Once
	closeErr  error
}

// NewBase builds the shared target state from opts, compiling every
// configured prompt pattern. Variant factories call it first.
func NewBase(opts Options) (*Base, error) {
	if opts.Device == nil {
		return nil, fmt.Errorf("device: Options.Device is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("device: Options.Dispatcher is required")
	}
	if opts.Transcript == nil {
		return nil, fmt.Errorf("device: Options.Transcript is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	base := &Base{
		device:            opts.Device,
		dispatcher:        opts.Dispatcher,
		transcript:        opts.Transcript,
		log:               log.With("device", opts.Device.Hostname),
		clk:               clk,
		deploymentData:    map[string]string{},
		waitForHomeScreen: true,
	}

	var errs []error
	compile := func(name, pattern string) *regexp.Regexp {
		if pattern == "" {
			return nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return nil
		}
		return re
	}
	base.testerPrompt = compile("tester_prompt", opts.Device.TesterPrompt)
	base.masterPrompt = compile("master_prompt", opts.Device.MasterPrompt)
	base.interruptPrompt = compile("interrupt_boot_prompt", opts.Device.InterruptBootPrompt)
	base.bootloaderPrompt = compile("bootloader_prompt", opts.Device.BootloaderPrompt)
	if base.testerPrompt == nil && len(errs) == 0 {
		errs = append(errs, fmt.Errorf("tester_prompt is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("device %s: %w", opts.Device.Hostname, errors.Join(errs...))
	}
	return base, nil
}

// Device returns the static configuration.
func (b *Base) Device() *config.Device {
	return b.device
}

// Transcript returns the job's console capture.
func (b *Base) Transcript() *console.Transcript {
	return b.transcript
}

// TesterPrompt returns the compiled test image shell prompt.
func (b *Base) TesterPrompt() *regexp.Regexp {
	return b.testerPrompt
}

// ScratchDir returns the job's staging directory, creating it beneath
// the dispatcher's scratch root on first use.
func (b *Base) ScratchDir() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scratch != "" {
		return b.scratch, nil
	}
	if err := os.MkdirAll(b.dispatcher.Paths.Scratch, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(b.dispatcher.Paths.Scratch, b.device.Hostname+"-")
	if err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	b.scratch = dir
	return dir, nil
}

// DeploymentData describes the OS family currently on the test media.
// The returned map is the live one: deploys replace it, boot command
// resolution reads it. Only the job goroutine touches it.
func (b *Base) DeploymentData() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deploymentData
}

// setDeploymentData replaces the deployment data after a deploy.
func (b *Base) setDeploymentData(data map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deploymentData = data
}

// linaroDeploymentData describes a freshly written Linaro image.
func linaroDeploymentData() map[string]string {
	return map[string]string{
		"image_type": "ubuntu",
		"boot_cmds":  "boot_cmds",
	}
}

// androidDeploymentData describes a freshly written Android image.
func androidDeploymentData() map[string]string {
	return map[string]string{
		"image_type": "android",
		"boot_cmds":  "boot_cmds_android",
	}
}

// SetBootOptions stores bootloader option overrides for the next
// boot. Options have the form "boot_cmds=<set name>".
func (b *Base) SetBootOptions(options []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bootOptions = append([]string(nil), options...)
}

// SetInteractiveBootCommands replaces the configured boot command
// sequence with literal commands for the next boot.
func (b *Base) SetInteractiveBootCommands(commands []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interactiveBootCommands = append([]string(nil), commands...)
}

// SetAndroidWaitForHomeScreen sets whether the next Android boot
// waits for the launcher to appear before declaring success.
func (b *Base) SetAndroidWaitForHomeScreen(wait bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waitForHomeScreen = wait
}

// AndroidWaitForHomeScreen reports the current wait setting.
func (b *Base) AndroidWaitForHomeScreen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waitForHomeScreen
}

// resolveBootCommands returns the bootloader command sequence for the
// next boot. Interactive commands, when set, win outright. Otherwise
// the command set named by the deployment data is the starting point
// and boot options of the form "boot_cmds=<name>" may reselect it.
func (b *Base) resolveBootCommands() ([]string, error) {
	b.mu.Lock()
	interactive := append([]string(nil), b.interactiveBootCommands...)
	options := append([]string(nil), b.bootOptions...)
	setName := b.deploymentData["boot_cmds"]
	b.mu.Unlock()

	if len(interactive) > 0 {
		return interactive, nil
	}

	if setName == "" {
		setName = "boot_cmds"
	}
	for _, option := range options {
		key, value, found := strings.Cut(option, "=")
		if !found || key != "boot_cmds" {
			return nil, fault.Criticalf("unsupported boot option %q", option)
		}
		setName = value
	}

	var commands []string
	switch setName {
	case "boot_cmds":
		commands = b.device.BootCommands
	case "boot_cmds_android":
		commands = b.device.BootCommandsAndroid
	default:
		return nil, fault.Criticalf("unknown boot command set %q", setName)
	}
	if len(commands) == 0 {
		return nil, fault.Criticalf("device %s has no %s configured", b.device.Hostname, setName)
	}
	return commands, nil
}

// trackSession records the live connection and the prompt of the
// environment it is parked at.
func (b *Base) trackSession(connection *console.Connection, prompt *regexp.Regexp) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connection = connection
	b.livePrompt = prompt
}

// currentSession returns the live connection and its prompt, or nil
// when the board has no session.
func (b *Base) currentSession() (*console.Connection, *regexp.Regexp) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connection, b.livePrompt
}

// releaseSession closes the given connection (or the tracked one when
// nil) and forgets it. Releasing with no live session succeeds.
func (b *Base) releaseSession(connection *console.Connection) error {
	b.mu.Lock()
	if connection == nil {
		connection = b.connection
	}
	if b.connection == connection {
		b.connection = nil
		b.livePrompt = nil
	}
	b.mu.Unlock()

	if connection == nil {
		return nil
	}
	return connection.Close()
}

// fileSystemScope is the extract/modify/push cycle behind every
// variant's FileSystem. A staging directory is created under scratch,
// extract fills it, fn works on it, and push writes it back only when
// fn succeeds. The staging directory is removed in every path.
func (b *Base) fileSystemScope(ctx context.Context, extract, push func(ctx context.Context, staging string) error, fn func(local string) error) error {
	scratch, err := b.ScratchDir()
	if err != nil {
		return err
	}
	staging, err := os.MkdirTemp(scratch, "fs-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extract(ctx, staging); err != nil {
		return fmt.Errorf("extracting target filesystem: %w", err)
	}
	if err := fn(staging); err != nil {
		// The staged changes are discarded; nothing reaches the
		// device.
		return err
	}
	if err := push(ctx, staging); err != nil {
		return fmt.Errorf("pushing staged filesystem: %w", err)
	}
	return nil
}

// closeTarget runs the job teardown exactly once. The teardown gets
// its own deadline, detached from the job context, so a cancelled job
// still releases its board.
func (b *Base) closeTarget(ctx context.Context, t Target) error {
	b.closeOnce.Do(func() {
		teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		b.closeErr = b.teardown(teardownCtx, t)
	})
	return b.closeErr
}

func (b *Base) teardown(ctx context.Context, t Target) error {
	var errs []error

	if connection, prompt := b.currentSession(); connection != nil {
		b.log.Info("attempting a filesystem sync before power off")
		runner := console.NewRunner(connection, prompt, syncTimeout)
		_ = runner.Run(ctx, "sync", syncTimeout)
		if err := t.PowerOff(ctx, connection); err != nil {
			errs = append(errs, fmt.Errorf("powering off: %w", err))
		}
	}

	if err := b.transcript.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing transcript: %w", err))
	}
	if err := b.removeScratch(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *Base) removeScratch() error {
	b.mu.Lock()
	dir := b.scratch
	b.scratch = ""
	b.mu.Unlock()

	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing scratch directory: %w", err)
	}
	return nil
}

// Capability defaults. Variants override the ones their hardware
// supports.

func (b *Base) BootMaster(ctx context.Context) (*console.Connection, error) {
	return nil, fault.NotSupported(b.device.Describe(), "master image boot")
}

func (b *Base) DeployLinaro(ctx context.Context, hwpack, rootfs string) error {
	return fault.NotSupported(b.device.Describe(), "linaro image deployment")
}

func (b *Base) DeployAndroid(ctx context.Context, boot, system, userdata string) error {
	return fault.NotSupported(b.device.Describe(), "android image deployment")
}

func (b *Base) DeployLinaroPrebuilt(ctx context.Context, image string) error {
	return fault.NotSupported(b.device.Describe(), "prebuilt image deployment")
}

func (b *Base) FileSystem(ctx context.Context, partition int, directory string, fn func(local string) error) error {
	return fault.NotSupported(b.device.Describe(), "filesystem access")
}

var ipv4Pattern = regexp.MustCompile(`(?:\d{1,3}\.){3}\d{1,3}`)

// FirstIPv4 extracts the device's IPv4 address from the output of its
// network configuration command. Tools like netcfg and ip print one
// interface per line with the address before the netmask, so only the
// first address-shaped token of each line counts, and lines whose
// address is loopback or otherwise unroutable (the lo entry) are
// skipped.
func FirstIPv4(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		match := ipv4Pattern.FindString(line)
		if match == "" {
			continue
		}
		ip := net.ParseIP(match)
		if ip == nil || !ip.IsGlobalUnicast() {
			continue
		}
		return match, nil
	}
	trimmed := strings.TrimSpace(output)
	if len(trimmed) > 200 {
		trimmed = trimmed[:200] + "..."
	}
	return "", fmt.Errorf("no usable IPv4 address in %q", trimmed)
}
