// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/device"
)

// The fake device type backs the end-to-end CLI tests: a run against
// a fake board exercises config loading, device selection, the action
// pipeline, and bundle writing without any hardware.
func init() {
	device.Register("fake", func(opts device.Options) (device.Target, error) {
		return device.NewFake(opts.Device.Hostname), nil
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// newTestConfig writes a dispatcher configuration rooted in a fresh
// temp directory, creates its paths, and returns the config file path
// plus the loaded configuration.
func newTestConfig(t *testing.T) (string, *config.Dispatcher) {
	t.Helper()

	root := t.TempDir()
	configPath := filepath.Join(root, "dispatcher.yaml")
	writeFile(t, configPath, fmt.Sprintf(`paths:
  root: %s
  devices: %s
  scratch: %s
  logs: %s
  run: %s
`,
		root,
		filepath.Join(root, "devices"),
		filepath.Join(root, "scratch"),
		filepath.Join(root, "logs"),
		filepath.Join(root, "run")))

	dispatcher, err := config.LoadFile(configPath)
	if err != nil {
		t.Fatalf("loading test config: %v", err)
	}
	if err := dispatcher.EnsurePaths(); err != nil {
		t.Fatalf("creating config paths: %v", err)
	}
	return configPath, dispatcher
}

func TestRootDispatchesVersion(t *testing.T) {
	if err := Root().Execute([]string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
}

func TestRootRejectsUnknownCommand(t *testing.T) {
	err := Root().Execute([]string{"frobnicate"})
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("error = %q, want 'unknown command'", err)
	}
}

func TestRootSuggestsCloseCommand(t *testing.T) {
	err := Root().Execute([]string{"validte", "job.jsonc"})
	if err == nil {
		t.Fatal("expected an error for a misspelled command")
	}
	if !strings.Contains(err.Error(), `did you mean "validate"`) {
		t.Fatalf("error = %q, want a 'validate' suggestion", err)
	}
}

func TestRootHelp(t *testing.T) {
	if err := Root().Execute([]string{"--help"}); err != nil {
		t.Fatalf("--help: %v", err)
	}
}

func TestLoadDispatcherExplicitPath(t *testing.T) {
	configPath, _ := newTestConfig(t)

	dispatcher, err := loadDispatcher(configPath)
	if err != nil {
		t.Fatalf("loadDispatcher: %v", err)
	}
	if dispatcher.Paths.Devices != filepath.Join(filepath.Dir(configPath), "devices") {
		t.Fatalf("devices path = %q, want the test tree", dispatcher.Paths.Devices)
	}
}

func TestLoadDispatcherFromEnvironment(t *testing.T) {
	configPath, _ := newTestConfig(t)
	t.Setenv("LAVA_DISPATCHER_CONFIG", configPath)

	dispatcher, err := loadDispatcher("")
	if err != nil {
		t.Fatalf("loadDispatcher: %v", err)
	}
	if dispatcher.Paths.Devices != filepath.Join(filepath.Dir(configPath), "devices") {
		t.Fatalf("devices path = %q, want the test tree", dispatcher.Paths.Devices)
	}
}

func TestLoadDispatcherDefaults(t *testing.T) {
	t.Setenv("LAVA_DISPATCHER_CONFIG", "")

	dispatcher, err := loadDispatcher("")
	if err != nil {
		t.Fatalf("loadDispatcher: %v", err)
	}
	if dispatcher.Paths.Root != config.Default().Paths.Root {
		t.Fatalf("root = %q, want the built-in default", dispatcher.Paths.Root)
	}
}
