// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bwenstar/lava/cmd/lava-dispatch/cli"
	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/jobdef"
	"github.com/bwenstar/lava/lib/pipeline"
)

// runCommand returns the "run" subcommand: execute one job file
// against one device, end to end.
func runCommand() *cli.Command {
	var configPath string
	var deviceName string

	return &cli.Command{
		Name:    "run",
		Summary: "Run a job against a device",
		Description: `Execute a job file action by action against one device.

The job runs on the device named by --device, or on the job file's
"target" when the flag is absent. Every action's parameters are
checked against its command's schema before the device is claimed; a
job with a bad action never touches hardware.

The console transcript is written to the log directory alongside a
result bundle recording every test outcome. A SIGINT or SIGTERM
aborts the remaining actions but still tears the device down and
writes the bundle.`,
		Usage: "lava-dispatch run [flags] <job-file>",
		Examples: []cli.Example{
			{
				Description: "Run a job on its own target",
				Command:     "lava-dispatch run jobs/panda-boot.jsonc",
			},
			{
				Description: "Same job, different board",
				Command:     "lava-dispatch run jobs/panda-boot.jsonc --device panda02",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "dispatcher configuration file")
			flagSet.StringVar(&deviceName, "device", "", "device to run on (overrides the job's target)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: lava-dispatch run [flags] <job-file>")
			}

			job, err := jobdef.ReadFile(args[0])
			if err != nil {
				return err
			}
			if job.JobName == "" {
				job.JobName = jobdef.NameFromPath(args[0])
			}

			dispatcher, err := loadDispatcher(configPath)
			if err != nil {
				return err
			}
			if err := dispatcher.Validate(); err != nil {
				return err
			}
			if err := dispatcher.EnsurePaths(); err != nil {
				return err
			}

			target := deviceName
			if target == "" {
				target = job.Target
			}
			if target == "" {
				return fmt.Errorf("no device: job %q names no target and --device was not given", job.JobName)
			}

			device, err := config.LoadDevice(dispatcher, target)
			if err != nil {
				return fmt.Errorf("loading device %s: %w", target, err)
			}

			runner, err := pipeline.New(pipeline.Options{
				Job:        job,
				Device:     device,
				Dispatcher: dispatcher,
				Log:        cli.NewCommandLogger(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bundle, err := runner.Run(ctx)
			if bundle != nil {
				fmt.Fprintf(os.Stderr, "job %s: %s (%d results)\n",
					job.JobName, bundle.JobStatus, len(bundle.Results))
			}
			return err
		},
	}
}
