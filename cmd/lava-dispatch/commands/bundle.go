// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bwenstar/lava/cmd/lava-dispatch/cli"
	"github.com/bwenstar/lava/lib/codec"
	"github.com/bwenstar/lava/lib/result"
)

// bundleCommand returns the "bundle" subcommand: inspect a result
// bundle written by a finished job.
func bundleCommand() *cli.Command {
	var attachmentName string
	var cborDump bool

	return &cli.Command{
		Name:    "bundle",
		Summary: "Inspect a result bundle",
		Description: `Print the contents of a result bundle: job status, metadata, test
results, and attachments. Every attachment is decompressed and checked
against its recorded digest, so a corrupted bundle is visible from the
listing.

--attachment writes one attachment's decoded content to stdout, which
is the quickest way back to a console transcript after the fact.
--cbor prints the file in CBOR diagnostic notation instead.`,
		Usage: "lava-dispatch bundle [flags] <bundle-file>",
		Examples: []cli.Example{
			{
				Description: "Summarize a finished job's bundle",
				Command:     "lava-dispatch bundle logs/panda-nightly-20260825-103000.bundle",
			},
			{
				Description: "Recover the console transcript",
				Command:     "lava-dispatch bundle logs/panda-nightly-20260825-103000.bundle --attachment console.log > console.log",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("bundle", pflag.ContinueOnError)
			flagSet.StringVar(&attachmentName, "attachment", "", "write the named attachment's content to stdout")
			flagSet.BoolVar(&cborDump, "cbor", false, "print the file in CBOR diagnostic notation")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: lava-dispatch bundle [flags] <bundle-file>")
			}
			if cborDump && attachmentName != "" {
				return fmt.Errorf("--cbor and --attachment are mutually exclusive")
			}

			if cborDump {
				return printBundleCBOR(args[0], os.Stdout)
			}
			bundle, err := result.ReadBundleFile(args[0])
			if err != nil {
				return err
			}
			if attachmentName != "" {
				return writeAttachment(bundle, attachmentName, os.Stdout)
			}
			return printBundle(bundle, os.Stdout)
		},
	}
}

// printBundle writes a summary of the bundle to out: the job header,
// one row per test result, and one row per attachment with its digest
// verified.
func printBundle(bundle *result.Bundle, out io.Writer) error {
	fmt.Fprintf(out, "test id:    %s\n", bundle.TestID)
	fmt.Fprintf(out, "job status: %s\n", bundle.JobStatus)
	fmt.Fprintf(out, "created:    %s\n", bundle.CreatedAt.Format(time.RFC3339))

	if len(bundle.Metadata) > 0 {
		keys := make([]string, 0, len(bundle.Metadata))
		for key := range bundle.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintf(out, "metadata:\n")
		for _, key := range keys {
			fmt.Fprintf(out, "  %s: %s\n", key, bundle.Metadata[key])
		}
	}

	fmt.Fprintf(out, "\n")
	if len(bundle.Results) == 0 {
		fmt.Fprintf(out, "no test results recorded\n")
	} else {
		tw := tabwriter.NewWriter(out, 2, 0, 3, ' ', 0)
		fmt.Fprintf(tw, "TEST CASE\tOUTCOME\tMESSAGE\n")
		for _, entry := range bundle.Results {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", entry.TestCaseID, entry.Outcome, entry.Message)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(bundle.Attachments) == 0 {
		return nil
	}
	fmt.Fprintf(out, "\n")
	tw := tabwriter.NewWriter(out, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "ATTACHMENT\tMIME TYPE\tCOMPRESSION\tSIZE\tDIGEST\n")
	for i := range bundle.Attachments {
		attachment := &bundle.Attachments[i]
		verdict := "ok"
		if _, err := attachment.Data(); err != nil {
			verdict = "error: " + err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			attachment.Name, attachment.MimeType, attachment.Compression, attachment.Size, verdict)
	}
	return tw.Flush()
}

// writeAttachment writes the named attachment's verified content to
// out.
func writeAttachment(bundle *result.Bundle, name string, out io.Writer) error {
	names := make([]string, 0, len(bundle.Attachments))
	for i := range bundle.Attachments {
		attachment := &bundle.Attachments[i]
		if attachment.Name != name {
			names = append(names, attachment.Name)
			continue
		}
		content, err := attachment.Data()
		if err != nil {
			return err
		}
		_, err = out.Write(content)
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("bundle has no attachments")
	}
	return fmt.Errorf("bundle has no attachment %q (has: %s)", name, strings.Join(names, ", "))
}

// printBundleCBOR prints the file in CBOR diagnostic notation. The
// file is not decoded as a bundle first, so a damaged format marker
// still prints.
func printBundleCBOR(path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	notation, err := codec.Diagnose(data)
	if err != nil {
		return fmt.Errorf("diagnosing %s: %w", path, err)
	}
	_, err = fmt.Fprintln(out, notation)
	return err
}
