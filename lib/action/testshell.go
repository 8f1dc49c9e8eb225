// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/bwenstar/lava/lib/client"
	"github.com/bwenstar/lava/lib/fault"
	"github.com/bwenstar/lava/lib/result"
	"github.com/bwenstar/lava/lib/schema"
)

func init() {
	Register(lavaTestShell{})
}

// lavaTestShell runs shell commands in the booted test image and
// records one result per command. A command overrunning its timeout
// is a failed result, not a job failure: the session usually comes
// back, so the remaining commands still run. Losing the session
// entirely is job-fatal.
type lavaTestShell struct{}

func (lavaTestShell) Name() string { return "lava_test_shell" }

func (lavaTestShell) Schema() *schema.Object {
	return &schema.Object{
		Properties: map[string]schema.Property{
			"commands": {Type: schema.TypeStringList, Optional: true},
			"timeout":  {Type: schema.TypeInteger, Optional: true},
		},
	}
}

func (lavaTestShell) Run(ctx context.Context, c *client.Client, params schema.Params) error {
	commands := params.StringList("commands")
	if len(commands) == 0 {
		return nil
	}

	// Zero falls through to the device's command timeout.
	timeout := time.Duration(params.Int("timeout")) * time.Second

	runner, err := c.TesterSession(ctx)
	if err != nil {
		return fault.WrapCritical("test shell could not reach the test image", err)
	}

	for _, command := range commands {
		err := runner.Run(ctx, command, timeout)
		switch {
		case err == nil:
			c.TestData().AddResult(testCaseID(command), result.OutcomePass, "")
		case fault.IsTimeout(err):
			c.Log().Warn("test command timed out", "command", command, "error", err)
			c.TestData().AddResult(testCaseID(command), result.OutcomeFail, err.Error())
		default:
			return fault.WrapCritical("test shell lost the device session", err)
		}
	}
	return nil
}

var testCaseIDPattern = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// testCaseID derives a result identifier from a shell command, so
// "lava-test run stream" records as "lava-test_run_stream".
func testCaseID(command string) string {
	id := testCaseIDPattern.ReplaceAllString(command, "_")
	id = strings.Trim(id, "_.")
	if len(id) > 60 {
		id = id[:60]
	}
	if id == "" {
		id = "shell_command"
	}
	return id
}
