// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"

	"github.com/bwenstar/lava/lib/client"
	"github.com/bwenstar/lava/lib/fault"
	"github.com/bwenstar/lava/lib/result"
	"github.com/bwenstar/lava/lib/schema"
)

func init() {
	Register(bootMasterImage{})
	Register(bootLinaroImage{})
	Register(bootLinaroAndroidImage{})
}

// bootMasterImage boots the device's known-good master environment.
type bootMasterImage struct{}

func (bootMasterImage) Name() string           { return "boot_master_image" }
func (bootMasterImage) Schema() *schema.Object { return nil }

func (bootMasterImage) Run(ctx context.Context, c *client.Client, params schema.Params) error {
	return c.BootMasterImage(ctx)
}

// bootLinaroImage boots the deployed Linaro image and records the
// boot outcome as the job's first test result.
type bootLinaroImage struct{}

func (bootLinaroImage) Name() string { return "boot_linaro_image" }

func (bootLinaroImage) Schema() *schema.Object {
	return &schema.Object{
		Properties: map[string]schema.Property{
			"options":               {Type: schema.TypeStringList, Optional: true},
			"interactive_boot_cmds": {Type: schema.TypeBool, Optional: true, Default: false},
		},
	}
}

func (bootLinaroImage) Run(ctx context.Context, c *client.Client, params schema.Params) error {
	target := c.Target()
	options := params.StringList("options")
	if params.Bool("interactive_boot_cmds") {
		// The options are the literal bootloader command sequence,
		// not "boot_cmds=..." selectors.
		target.SetInteractiveBootCommands(options)
	} else {
		target.SetBootOptions(options)
	}

	err := c.BootLinaroImage(ctx)

	// The boot outcome is recorded whether it worked or not, so the
	// bundle of a job that died booting still says why.
	outcome := result.OutcomePass
	if err != nil {
		outcome = result.OutcomeFail
	}
	c.TestData().AddResult("boot_image", outcome, "")

	if err != nil {
		return fault.WrapCritical("Failed to boot test image.", err)
	}
	return nil
}

// bootLinaroAndroidImage boots the deployed Android image and brings
// up the adb bridge.
type bootLinaroAndroidImage struct{}

func (bootLinaroAndroidImage) Name() string { return "boot_linaro_android_image" }

func (bootLinaroAndroidImage) Schema() *schema.Object {
	return &schema.Object{
		Properties: map[string]schema.Property{
			"options":              {Type: schema.TypeStringList, Optional: true},
			"adb_check":            {Type: schema.TypeBool, Optional: true, Default: false},
			"wait_for_home_screen": {Type: schema.TypeBool, Optional: true, Default: true},
		},
	}
}

func (bootLinaroAndroidImage) Run(ctx context.Context, c *client.Client, params schema.Params) error {
	target := c.Target()
	target.SetBootOptions(params.StringList("options"))
	target.SetAndroidWaitForHomeScreen(params.Bool("wait_for_home_screen"))

	err := c.BootAndroidImage(ctx, params.Bool("adb_check"))
	if err == nil {
		return nil
	}

	// An adb failure keeps its type: the image may be fine and only
	// the bridge unreachable, and the dispatcher reports those
	// differently.
	if fault.IsADBConnect(err) {
		c.Log().Error("failed to create the adb connection", "error", err)
		return err
	}
	return fault.WrapCritical("Failed to boot test image.", err)
}
