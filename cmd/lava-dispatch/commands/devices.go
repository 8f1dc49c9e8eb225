// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bwenstar/lava/cmd/lava-dispatch/cli"
	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/device"
)

// devicesCommand returns the "devices" subcommand: list the device
// definitions the dispatcher knows about.
func devicesCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "devices",
		Summary: "List configured devices",
		Description: `List every device definition in the dispatcher's device directory
with its device type and console transport. Definitions that fail to
parse or validate are listed with the problem instead, so a bad YAML
file shows up here rather than at the start of a job.`,
		Usage: "lava-dispatch devices [flags]",
		Examples: []cli.Example{
			{
				Description: "List devices from a deployed configuration",
				Command:     "lava-dispatch devices --config /etc/lava/dispatcher.yaml",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("devices", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "dispatcher configuration file")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: lava-dispatch devices [flags]")
			}

			dispatcher, err := loadDispatcher(configPath)
			if err != nil {
				return err
			}
			return printDevices(dispatcher, os.Stdout)
		},
	}
}

// printDevices writes one row per configured device to out. Broken
// definitions get their error in place of the console column.
func printDevices(dispatcher *config.Dispatcher, out io.Writer) error {
	names, err := dispatcher.ListDevices()
	if err != nil {
		return err
	}

	if len(names) == 0 {
		fmt.Fprintf(out, "no devices configured in %s\n", dispatcher.Paths.Devices)
		fmt.Fprintf(out, "supported device types: %s\n", strings.Join(device.Types(), ", "))
		return nil
	}

	tw := tabwriter.NewWriter(out, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "NAME\tTYPE\tCONSOLE\n")
	for _, name := range names {
		definition, err := config.LoadDevice(dispatcher, name)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\terror: %v\n", name, err)
			continue
		}
		if err := definition.Validate(); err != nil {
			fmt.Fprintf(tw, "%s\t%s\tinvalid: %v\n", name, definition.DeviceType, firstLine(err.Error()))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, definition.DeviceType, consoleTransport(definition))
	}
	return tw.Flush()
}

// consoleTransport names the configured console transport for the
// listing.
func consoleTransport(definition *config.Device) string {
	switch {
	case definition.ConnectionCommand != "":
		return "command"
	case definition.ConsoleAddress != "":
		return "tcp " + definition.ConsoleAddress
	case definition.SSH != nil:
		return "ssh " + definition.SSH.Host
	default:
		return "-"
	}
}

// firstLine truncates a multi-error string (errors.Join output) to
// its first line so the table stays one row per device.
func firstLine(s string) string {
	if index := strings.IndexByte(s, '\n'); index >= 0 {
		return s[:index] + " (and more)"
	}
	return s
}
