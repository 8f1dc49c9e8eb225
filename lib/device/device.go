// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package device abstracts the hardware target a job runs against.
//
// A [Target] owns exactly one device for the duration of one job: its
// power state, the deployed image, a scratch directory for staging,
// and the live console session. Three variants ship built in:
//
//   - qemu: an emulated board. The "device" is a QEMU process whose
//     stdio is the serial console; deploys happen on the dispatcher
//     filesystem.
//   - master: a physical board with a known-good master image on
//     separate media. Power comes from external relay commands, the
//     console from a connection command, a TCP console server, or
//     SSH. Deploys run from the master shell, pulling staged tarballs
//     over HTTP from the dispatcher.
//   - fastboot: an Android device attached over USB. Deploys go
//     through fastboot, the console is an adb shell.
//
// Variants register themselves by device type in init; [New] looks the
// factory up from the device configuration. Capabilities a variant
// lacks (a qemu board has no master image to boot) return a
// [fault.NotSupportedError] instead of being absent, so actions can
// report precisely what a job asked of the wrong hardware.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwenstar/lava/lib/clock"
	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/console"
	"github.com/bwenstar/lava/lib/fault"
)

const (
	// syncTimeout bounds the best-effort filesystem sync attempted
	// before a powered-on target is released.
	syncTimeout = 5 * time.Second

	// teardownTimeout bounds release work (sync, power off, scratch
	// removal) independently of the job context, so a cancelled job
	// still powers its board off.
	teardownTimeout = time.Minute
)

// Target is the contract the dispatcher needs from a device. A Target
// is bound to one job and must not be shared; all methods are called
// from the single job goroutine.
type Target interface {
	// Device returns the static configuration this target was built
	// from.
	Device() *config.Device

	// PowerOn boots the deployed test image through the variant's
	// boot sequence and returns a live console connection at the
	// test image's shell prompt.
	PowerOn(ctx context.Context) (*console.Connection, error)

	// PowerOff releases the given connection (or the tracked one
	// when nil) and powers the board down where the hardware
	// supports it. Releasing an already-dead session succeeds.
	PowerOff(ctx context.Context, connection *console.Connection) error

	// BootMaster boots the known-good master environment and
	// returns a connection at the master shell prompt.
	BootMaster(ctx context.Context) (*console.Connection, error)

	// DeployLinaro builds a bootable image from a hardware pack and
	// a root filesystem and writes it to the test media.
	DeployLinaro(ctx context.Context, hwpack, rootfs string) error

	// DeployAndroid writes the three Android images to the test
	// media.
	DeployAndroid(ctx context.Context, boot, system, userdata string) error

	// DeployLinaroPrebuilt writes a prebuilt image to the test
	// media.
	DeployLinaroPrebuilt(ctx context.Context, image string) error

	// FileSystem stages the given directory of the numbered
	// partition into a local directory, runs fn against it, and
	// pushes the modified tree back when fn returns nil. When fn
	// fails the changes are discarded. The staging directory is
	// removed either way.
	FileSystem(ctx context.Context, partition int, directory string, fn func(local string) error) error

	// Transcript returns the job's console capture.
	Transcript() *console.Transcript

	// ScratchDir returns the job's staging directory, creating it
	// on first use.
	ScratchDir() (string, error)

	// DeploymentData describes the OS family currently deployed.
	// Deploy operations replace it; boot resolution reads it.
	DeploymentData() map[string]string

	// TesterPrompt is the compiled shell prompt of the deployed
	// test image.
	TesterPrompt() *regexp.Regexp

	// SetBootOptions, SetInteractiveBootCommands and
	// SetAndroidWaitForHomeScreen adjust the next boot. Boot
	// actions call them before PowerOn.
	SetBootOptions(options []string)
	SetInteractiveBootCommands(commands []string)
	SetAndroidWaitForHomeScreen(wait bool)

	// AndroidWaitForHomeScreen reports whether the next Android
	// boot should wait for the launcher before declaring success.
	AndroidWaitForHomeScreen() bool

	// Close tears the target down: best-effort sync and power off
	// of any live session, transcript closed, scratch removed.
	// Exactly once; later calls return the first result.
	Close(ctx context.Context) error
}

// Options carries everything a target variant needs at construction.
type Options struct {
	// Device is the board's static configuration. Required.
	Device *config.Device

	// Dispatcher is the host configuration (scratch root, image
	// URL base, default timeouts). Required.
	Dispatcher *config.Dispatcher

	// Transcript receives every console byte for the job. Required.
	Transcript *console.Transcript

	// Log receives structured progress. Defaults to slog.Default.
	Log *slog.Logger

	// Clock drives console timeouts. Defaults to the real clock.
	Clock clock.Clock
}

// Factory builds a target variant from its options.
type Factory func(opts Options) (Target, error)

// Registry maps device types to target factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry. Most callers use the package
// default, which the built-in variants populate in init.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a device type. Registering the same
// type twice is a programming error and panics.
func (r *Registry) Register(deviceType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[deviceType]; exists {
		panic(fmt.Sprintf("device: duplicate registration for type %q", deviceType))
	}
	r.factories[deviceType] = factory
}

// New validates the device configuration and builds the target for
// its device type. An unknown type is a validation error; no device
// is contacted.
func (r *Registry) New(opts Options) (Target, error) {
	if opts.Device == nil {
		return nil, fmt.Errorf("device: Options.Device is required")
	}
	if err := opts.Device.Validate(); err != nil {
		return nil, fmt.Errorf("device configuration for %s: %w", opts.Device.Hostname, err)
	}

	r.mu.RLock()
	factory, ok := r.factories[opts.Device.DeviceType]
	r.mu.RUnlock()
	if !ok {
		issue := fmt.Sprintf("unknown device_type %q (known types: %s)",
			opts.Device.DeviceType, strings.Join(r.Types(), ", "))
		return nil, fault.Validation(opts.Device.Describe(), []string{issue})
	}
	return factory(opts)
}

// Types returns the registered device types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for deviceType := range r.factories {
		types = append(types, deviceType)
	}
	sort.Strings(types)
	return types
}

var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(deviceType string, factory Factory) {
	defaultRegistry.Register(deviceType, factory)
}

// New builds a target from the default registry.
func New(opts Options) (Target, error) {
	return defaultRegistry.New(opts)
}

// Types returns the device types in the default registry.
func Types() []string {
	return defaultRegistry.Types()
}

// WithRunner powers the target on, hands fn a command runner bound to
// the test image's shell prompt, and releases the session when fn
// returns. The release path runs even when fn fails or panics: a
// best-effort sync bounded by syncTimeout, then exactly one power
// off. The release gets its own deadline so a cancelled job context
// cannot leave the board powered.
func WithRunner(ctx context.Context, target Target, fn func(*console.Runner) error) (err error) {
	connection, err := target.PowerOn(ctx)
	if err != nil {
		return err
	}
	runner := console.NewRunner(connection, target.TesterPrompt(), target.Device().Timeouts.CommandTimeout())

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		// Sync failures are ignored: the session may already be
		// dead, and the power off proceeds regardless.
		_ = runner.Run(releaseCtx, "sync", syncTimeout)

		if offErr := target.PowerOff(releaseCtx, connection); offErr != nil && err == nil {
			err = fmt.Errorf("powering off after runner scope: %w", offErr)
		}
	}()

	return fn(runner)
}
