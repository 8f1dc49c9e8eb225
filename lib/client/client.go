// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package client drives a dispatch job's view of its target.
//
// A Client wraps a [device.Target] with the state a running job needs
// on top of raw hardware control: the command runner for the booted
// test image, the adb bridge for network-attached Android boards, and
// the job's accumulating test results. Actions receive a Client rather
// than a Target so that consecutive shell actions reuse the live
// session and a deploy invalidates it.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwenstar/lava/lib/clock"
	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/console"
	"github.com/bwenstar/lava/lib/device"
	"github.com/bwenstar/lava/lib/fault"
	"github.com/bwenstar/lava/lib/result"
)

// Client binds one job to one target. It is confined to the job
// goroutine and is not safe for concurrent use.
type Client struct {
	target     device.Target
	dispatcher *config.Dispatcher
	testData   *result.TestData
	log        *slog.Logger
	clk        clock.Clock
	bridge     ADBBridge

	// testerRunner is the live command runner for the booted test
	// image, nil when no test image session is known to be up. Boots
	// replace it; deploys clear it, since a deploy may leave the
	// console in the master environment.
	testerRunner *console.Runner
}

// Options configures a Client.
type Options struct {
	// Target is the device the job runs against. Required.
	Target device.Target

	// Dispatcher is the host configuration. Required.
	Dispatcher *config.Dispatcher

	// TestData collects the job's results. Defaults to a fresh
	// collector with the default test ID.
	TestData *result.TestData

	// Log receives structured progress. Defaults to slog.Default.
	Log *slog.Logger

	// Clock paces adb connection retries. Defaults to the real clock.
	Clock clock.Clock

	// Bridge manages network adb links. Defaults to running the adb
	// binary on the dispatcher host.
	Bridge ADBBridge
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	if opts.Target == nil {
		return nil, fmt.Errorf("client: Options.Target is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("client: Options.Dispatcher is required")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	testData := opts.TestData
	if testData == nil {
		testData = result.New("")
	}
	bridge := opts.Bridge
	if bridge == nil {
		bridge = &execBridge{log: log, clk: clk}
	}

	return &Client{
		target:     opts.Target,
		dispatcher: opts.Dispatcher,
		testData:   testData,
		log:        log,
		clk:        clk,
		bridge:     bridge,
	}, nil
}

// Target returns the device the job runs against.
func (c *Client) Target() device.Target { return c.target }

// TestData returns the job's result collector.
func (c *Client) TestData() *result.TestData { return c.testData }

// Log returns the job's logger.
func (c *Client) Log() *slog.Logger { return c.log }

// invalidateSession forgets the cached test image runner. Every
// operation that can change what is on the media or which environment
// the console shows calls it first.
func (c *Client) invalidateSession() { c.testerRunner = nil }

// BootLinaroImage power-cycles the target into the deployed Linaro
// image and caches a command runner at its shell prompt.
func (c *Client) BootLinaroImage(ctx context.Context) error {
	c.invalidateSession()

	connection, err := c.target.PowerOn(ctx)
	if err != nil {
		return err
	}
	c.testerRunner = console.NewRunner(connection, c.target.TesterPrompt(),
		c.target.Device().Timeouts.CommandTimeout())
	return nil
}

// BootAndroidImage power-cycles the target into the deployed Android
// image. Once the shell prompt appears it waits for the launcher
// (unless the target was told not to), then establishes the network
// adb link for boards that need one. With adbCheck set the new link
// must also show up in "adb devices" before the boot counts as done.
func (c *Client) BootAndroidImage(ctx context.Context, adbCheck bool) error {
	c.invalidateSession()

	deviceConfig := c.target.Device()

	connection, err := c.target.PowerOn(ctx)
	if err != nil {
		return err
	}

	if c.target.AndroidWaitForHomeScreen() {
		pattern, err := regexp.Compile(deviceConfig.HomeScreenPattern)
		if err != nil {
			return fmt.Errorf("compiling android_home_screen_pattern: %w", err)
		}
		c.log.Info("waiting for the home screen")
		if _, err := connection.Expect(ctx, pattern, deviceConfig.Timeouts.BootTimeout()); err != nil {
			return fmt.Errorf("waiting for the home screen: %w", err)
		}
	}

	c.testerRunner = console.NewRunner(connection, c.target.TesterPrompt(),
		deviceConfig.Timeouts.CommandTimeout())

	// A USB-attached board already carries its adb link; only boards
	// reached over the network need an explicit adb connect.
	if deviceConfig.DeviceType == config.DeviceTypeFastboot {
		return nil
	}

	address, err := c.boardADBAddress(ctx)
	if err != nil {
		return err
	}
	c.log.Info("connecting adb", "address", address)
	if err := c.bridge.Connect(ctx, address); err != nil {
		return err
	}
	if adbCheck {
		return c.verifyADBDevice(ctx, address)
	}
	return nil
}

// BootMasterImage boots the target's known-good master environment.
// The cached test image runner is dropped: the console now belongs to
// the master shell.
func (c *Client) BootMasterImage(ctx context.Context) error {
	c.invalidateSession()
	_, err := c.target.BootMaster(ctx)
	return err
}

// TesterSession returns a command runner for the booted test image,
// booting the image first when no session is live. The deployment
// data decides which boot flavor fits what is on the media.
func (c *Client) TesterSession(ctx context.Context) (*console.Runner, error) {
	if c.testerRunner != nil {
		return c.testerRunner, nil
	}

	var err error
	if c.target.DeploymentData()["image_type"] == "android" {
		err = c.BootAndroidImage(ctx, false)
	} else {
		err = c.BootLinaroImage(ctx)
	}
	if err != nil {
		return nil, err
	}
	return c.testerRunner, nil
}

// DeployLinaro builds and writes a Linaro image from a hardware pack
// and root filesystem.
func (c *Client) DeployLinaro(ctx context.Context, hwpack, rootfs string) error {
	c.invalidateSession()
	return c.target.DeployLinaro(ctx, hwpack, rootfs)
}

// DeployAndroid writes the three Android images to the test media.
func (c *Client) DeployAndroid(ctx context.Context, boot, system, userdata string) error {
	c.invalidateSession()
	return c.target.DeployAndroid(ctx, boot, system, userdata)
}

// DeployLinaroPrebuilt writes a prebuilt image to the test media.
func (c *Client) DeployLinaroPrebuilt(ctx context.Context, image string) error {
	c.invalidateSession()
	return c.target.DeployLinaroPrebuilt(ctx, image)
}

// boardADBAddress asks the booted Android image for its address over
// the console and pairs it with the configured adb port.
func (c *Client) boardADBAddress(ctx context.Context) (string, error) {
	deviceConfig := c.target.Device()

	output, err := c.testerRunner.Output(ctx, deviceConfig.AndroidIPCommand, 0)
	if err != nil {
		return "", fmt.Errorf("querying the board address: %w", err)
	}
	ip, err := device.FirstIPv4(output)
	if err != nil {
		return "", fmt.Errorf("querying the board address: %w", err)
	}
	return net.JoinHostPort(ip, strconv.Itoa(deviceConfig.ADBPort)), nil
}

// verifyADBDevice confirms that address appears in "adb devices" in
// the ready state. Connect can report success for links that adb then
// drops, so a requested check reads the device list back.
func (c *Client) verifyADBDevice(ctx context.Context, address string) error {
	output, err := c.bridge.Devices(ctx)
	if err != nil {
		return fault.ADBConnect(address, err)
	}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == address && fields[1] == "device" {
			return nil
		}
	}
	return fault.ADBConnect(address, fmt.Errorf("board not in adb devices output"))
}
