// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the lava-dispatch CLI command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/bwenstar/lava/cmd/lava-dispatch/cli"
	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/version"
)

// Root builds and returns the complete lava-dispatch command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "lava-dispatch",
		Description: `LAVA dispatcher: run validation jobs on hardware targets.

A job file lists actions (deploy an image, boot it, run tests) that
execute in order against one reserved device. Device definitions and
dispatcher paths come from YAML configuration, found via --config or
the LAVA_DISPATCHER_CONFIG environment variable.`,
		Subcommands: []*cli.Command{
			runCommand(),
			validateCommand(),
			devicesCommand(),
			bundleCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("lava-dispatch %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Run a job on the device named in the job file",
				Command:     "lava-dispatch run jobs/panda-boot.jsonc",
			},
			{
				Description: "Run the same job against a different board",
				Command:     "lava-dispatch run jobs/panda-boot.jsonc --device panda02",
			},
			{
				Description: "Check job files without touching any hardware",
				Command:     "lava-dispatch validate jobs/*.jsonc",
			},
			{
				Description: "List configured devices",
				Command:     "lava-dispatch devices --config /etc/lava/dispatcher.yaml",
			},
			{
				Description: "Inspect the result bundle a job wrote",
				Command:     "lava-dispatch bundle logs/panda-nightly-20260825-103000.bundle",
			},
		},
	}
}

// loadDispatcher resolves the dispatcher configuration. An explicit
// --config path wins, then the LAVA_DISPATCHER_CONFIG environment
// variable, then the built-in development defaults.
func loadDispatcher(path string) (*config.Dispatcher, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("LAVA_DISPATCHER_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}
