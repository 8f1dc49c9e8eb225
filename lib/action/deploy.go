// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"

	"github.com/bwenstar/lava/lib/client"
	"github.com/bwenstar/lava/lib/fault"
	"github.com/bwenstar/lava/lib/schema"
)

func init() {
	Register(deployLinaroImage{})
	Register(deployLinaroAndroidImage{})
	Register(deployLinaroPrebuiltImage{})
}

// deployLinaroImage builds a Linaro image from a hardware pack and a
// root filesystem and writes it to the test media.
type deployLinaroImage struct{}

func (deployLinaroImage) Name() string { return "deploy_linaro_image" }

func (deployLinaroImage) Schema() *schema.Object {
	return &schema.Object{
		Properties: map[string]schema.Property{
			"hwpack": {Type: schema.TypeString},
			"rootfs": {Type: schema.TypeString},
		},
	}
}

func (deployLinaroImage) Run(ctx context.Context, c *client.Client, params schema.Params) error {
	err := c.DeployLinaro(ctx, params.String("hwpack"), params.String("rootfs"))
	if err != nil {
		return fault.WrapCritical("Failed to deploy test image.", err)
	}
	return nil
}

// deployLinaroAndroidImage writes the three Android images to the
// test media.
type deployLinaroAndroidImage struct{}

func (deployLinaroAndroidImage) Name() string { return "deploy_linaro_android_image" }

func (deployLinaroAndroidImage) Schema() *schema.Object {
	return &schema.Object{
		Properties: map[string]schema.Property{
			"boot":     {Type: schema.TypeString},
			"system":   {Type: schema.TypeString},
			"userdata": {Type: schema.TypeString},
		},
	}
}

func (deployLinaroAndroidImage) Run(ctx context.Context, c *client.Client, params schema.Params) error {
	err := c.DeployAndroid(ctx,
		params.String("boot"), params.String("system"), params.String("userdata"))
	if err != nil {
		return fault.WrapCritical("Failed to deploy test image.", err)
	}
	return nil
}

// deployLinaroPrebuiltImage writes an already-built image to the test
// media.
type deployLinaroPrebuiltImage struct{}

func (deployLinaroPrebuiltImage) Name() string { return "deploy_linaro_prebuilt_image" }

func (deployLinaroPrebuiltImage) Schema() *schema.Object {
	return &schema.Object{
		Properties: map[string]schema.Property{
			"image": {Type: schema.TypeString},
		},
	}
}

func (deployLinaroPrebuiltImage) Run(ctx context.Context, c *client.Client, params schema.Params) error {
	if err := c.DeployLinaroPrebuilt(ctx, params.String("image")); err != nil {
		return fault.WrapCritical("Failed to deploy test image.", err)
	}
	return nil
}
