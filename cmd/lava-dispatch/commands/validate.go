// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bwenstar/lava/cmd/lava-dispatch/cli"
	"github.com/bwenstar/lava/lib/fault"
	"github.com/bwenstar/lava/lib/jobdef"
	"github.com/bwenstar/lava/lib/pipeline"
)

// validateCommand returns the "validate" subcommand: parse job files
// and resolve every action against the command registry, without
// claiming any device.
func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Check job files without running them",
		Description: `Parse each job file and resolve its actions: every command must be
registered and every parameter must satisfy the command's schema.
Nothing executes and no device is claimed, so a validate run is safe
on a dispatcher whose boards are busy.

Prints one line per issue and exits 1 if any file has issues.`,
		Usage: "lava-dispatch validate <job-file>...",
		Examples: []cli.Example{
			{
				Description: "Check a single job",
				Command:     "lava-dispatch validate jobs/panda-boot.jsonc",
			},
			{
				Description: "Check every job in a directory",
				Command:     "lava-dispatch validate jobs/*.jsonc",
			},
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("usage: lava-dispatch validate <job-file>...")
			}

			allValid := true
			for _, path := range args {
				if !validateJobFile(path, os.Stdout) {
					allValid = false
				}
			}
			if !allValid {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// validateJobFile checks one job file and writes a report line per
// issue (or a single ok line) to out. Returns true when the file is
// valid.
func validateJobFile(path string, out io.Writer) bool {
	job, err := jobdef.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "%v\n", err)
		return false
	}
	if job.JobName == "" {
		job.JobName = jobdef.NameFromPath(path)
	}

	steps, err := pipeline.Resolve(job, nil)
	if err != nil {
		var validation *fault.ValidationError
		if errors.As(err, &validation) {
			for _, issue := range validation.Issues {
				fmt.Fprintf(out, "%s: %s\n", path, issue)
			}
		} else {
			fmt.Fprintf(out, "%s: %v\n", path, err)
		}
		return false
	}

	fmt.Fprintf(out, "%s: ok (%d actions)\n", path, len(steps))
	return true
}
