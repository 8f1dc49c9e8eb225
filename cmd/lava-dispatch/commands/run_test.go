// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwenstar/lava/lib/result"
)

const fakeDeviceYAML = `device_type: fake
tester_prompt: 'fake-shell# '
`

const smokeJobJSONC = `// Smoke job for the fake board.
{
	"target": "fake01",
	"actions": [
		{
			"command": "deploy_linaro_image",
			"parameters": {
				"hwpack": "http://images/hwpack.tar.gz",
				"rootfs": "http://images/rootfs.tar.gz"
			}
		},
		{
			"command": "lava_test_shell",
			"parameters": {"commands": ["uname -a"]}
		}
	]
}
`

func TestRunUsage(t *testing.T) {
	for _, args := range [][]string{
		{"run"},
		{"run", "a.jsonc", "b.jsonc"},
	} {
		err := Root().Execute(args)
		if err == nil {
			t.Fatalf("Execute(%v) = nil, want usage error", args)
		}
		if !strings.Contains(err.Error(), "usage:") {
			t.Fatalf("Execute(%v) error = %q, want usage error", args, err)
		}
	}
}

func TestRunRejectsMissingJobFile(t *testing.T) {
	err := Root().Execute([]string{"run", filepath.Join(t.TempDir(), "nope.jsonc")})
	if err == nil {
		t.Fatal("expected an error for a missing job file")
	}
	if !strings.Contains(err.Error(), "reading") {
		t.Fatalf("error = %q, want a read error", err)
	}
}

func TestRunRequiresATarget(t *testing.T) {
	configPath, _ := newTestConfig(t)
	jobPath := filepath.Join(t.TempDir(), "anon.jsonc")
	writeFile(t, jobPath, `{"actions": [{"command": "boot_linaro_image"}]}`)

	err := Root().Execute([]string{"run", jobPath, "--config", configPath})
	if err == nil {
		t.Fatal("expected an error for a job with no target")
	}
	if !strings.Contains(err.Error(), "names no target") {
		t.Fatalf("error = %q, want 'names no target'", err)
	}
}

func TestRunRejectsUnknownDevice(t *testing.T) {
	configPath, _ := newTestConfig(t)
	jobPath := filepath.Join(t.TempDir(), "ghost.jsonc")
	writeFile(t, jobPath, `{"target": "ghost01", "actions": [{"command": "boot_linaro_image"}]}`)

	err := Root().Execute([]string{"run", jobPath, "--config", configPath})
	if err == nil {
		t.Fatal("expected an error for an unconfigured device")
	}
	if !strings.Contains(err.Error(), "loading device ghost01") {
		t.Fatalf("error = %q, want 'loading device ghost01'", err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	configPath, dispatcher := newTestConfig(t)
	writeFile(t, filepath.Join(dispatcher.Paths.Devices, "fake01.yaml"), fakeDeviceYAML)

	jobPath := filepath.Join(t.TempDir(), "smoke.jsonc")
	writeFile(t, jobPath, smokeJobJSONC)

	if err := Root().Execute([]string{"run", jobPath, "--config", configPath}); err != nil {
		t.Fatalf("run: %v", err)
	}

	bundles, err := filepath.Glob(filepath.Join(dispatcher.Paths.Logs, "smoke-*.bundle"))
	if err != nil || len(bundles) != 1 {
		t.Fatalf("bundle files = %v (err %v), want exactly one", bundles, err)
	}

	bundle, err := result.ReadBundleFile(bundles[0])
	if err != nil {
		t.Fatalf("reading bundle: %v", err)
	}
	if bundle.TestID != "smoke" {
		t.Errorf("bundle test id = %q, want %q (from the file name)", bundle.TestID, "smoke")
	}
	if bundle.JobStatus != result.OutcomePass {
		t.Errorf("job status = %q, want pass", bundle.JobStatus)
	}

	logs, err := filepath.Glob(filepath.Join(dispatcher.Paths.Logs, "smoke-*.log"))
	if err != nil || len(logs) != 1 {
		t.Fatalf("console logs = %v (err %v), want exactly one", logs, err)
	}
}

func TestRunDeviceFlagOverridesJobTarget(t *testing.T) {
	configPath, dispatcher := newTestConfig(t)
	writeFile(t, filepath.Join(dispatcher.Paths.Devices, "fake02.yaml"), fakeDeviceYAML)

	// The job names a target that does not exist; --device must win.
	jobPath := filepath.Join(t.TempDir(), "redirect.jsonc")
	writeFile(t, jobPath, smokeJobJSONC)

	err := Root().Execute([]string{"run", jobPath, "--config", configPath, "--device", "fake02"})
	if err != nil {
		t.Fatalf("run with --device: %v", err)
	}

	bundles, err := filepath.Glob(filepath.Join(dispatcher.Paths.Logs, "redirect-*.bundle"))
	if err != nil || len(bundles) != 1 {
		t.Fatalf("bundle files = %v (err %v), want exactly one", bundles, err)
	}
}
