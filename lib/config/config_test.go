// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, directory, name, content string) string {
	t.Helper()
	path := filepath.Join(directory, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	directory := t.TempDir()
	path := writeFile(t, directory, "dispatcher.yaml", `
paths:
  root: /srv/lava
images:
  url_base: http://dispatcher.example.com/images
timeouts:
  boot: 10m
`)

	dispatcher, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := dispatcher.Paths.Root; got != "/srv/lava" {
		t.Errorf("Paths.Root = %q, want /srv/lava", got)
	}
	// Unset fields keep their defaults.
	if dispatcher.Images.MediaCreate != "linaro-media-create" {
		t.Errorf("Images.MediaCreate = %q, want default", dispatcher.Images.MediaCreate)
	}
	if got := dispatcher.Timeouts.BootTimeout(); got != 10*time.Minute {
		t.Errorf("BootTimeout = %v, want 10m", got)
	}
	if got := dispatcher.Timeouts.CommandTimeout(); got != defaultCommandTimeout {
		t.Errorf("CommandTimeout = %v, want default %v", got, defaultCommandTimeout)
	}
}

func TestLoadFileExpandsVariables(t *testing.T) {
	directory := t.TempDir()
	path := writeFile(t, directory, "dispatcher.yaml", `
paths:
  root: /srv/lava
  scratch: ${LAVA_ROOT}/scratch
  logs: ${UNSET_LOG_DIR:-/var/log/lava}
`)

	dispatcher, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := dispatcher.Paths.Scratch; got != "/srv/lava/scratch" {
		t.Errorf("Paths.Scratch = %q, want /srv/lava/scratch", got)
	}
	if got := dispatcher.Paths.Logs; got != "/var/log/lava" {
		t.Errorf("Paths.Logs = %q, want fallback /var/log/lava", got)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv("LAVA_DISPATCHER_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load should fail without LAVA_DISPATCHER_CONFIG")
	}
}

func TestLoadUsesEnvironmentVariable(t *testing.T) {
	directory := t.TempDir()
	path := writeFile(t, directory, "dispatcher.yaml", "paths:\n  root: /srv/lava\n")
	t.Setenv("LAVA_DISPATCHER_CONFIG", path)

	dispatcher, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dispatcher.Paths.Root != "/srv/lava" {
		t.Errorf("Paths.Root = %q, want /srv/lava", dispatcher.Paths.Root)
	}
}

func TestDispatcherValidate(t *testing.T) {
	t.Parallel()

	dispatcher := Default()
	if err := dispatcher.Validate(); err != nil {
		t.Errorf("default configuration should validate, got: %v", err)
	}

	dispatcher.Paths.Root = ""
	dispatcher.Timeouts.Boot = "not-a-duration"
	err := dispatcher.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
	message := err.Error()
	for _, want := range []string{"paths.root is required", "timeouts.boot"} {
		if !strings.Contains(message, want) {
			t.Errorf("Validate error missing %q: %v", want, message)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dispatcher := &Dispatcher{
		Paths: PathsConfig{
			Root:    filepath.Join(root, "lava"),
			Devices: filepath.Join(root, "lava", "devices"),
			Scratch: filepath.Join(root, "lava", "scratch"),
		},
	}
	if err := dispatcher.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, path := range []string{dispatcher.Paths.Root, dispatcher.Paths.Devices, dispatcher.Paths.Scratch} {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory at %s, err=%v", path, err)
		}
	}
}

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	root := t.TempDir()
	dispatcher := Default()
	dispatcher.Paths.Root = root
	dispatcher.Paths.Devices = filepath.Join(root, "devices")
	dispatcher.Paths.Scratch = filepath.Join(root, "scratch")
	dispatcher.Paths.Logs = filepath.Join(root, "logs")
	dispatcher.Paths.Run = filepath.Join(root, "run")
	if err := dispatcher.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	return dispatcher
}

func TestLoadDevice(t *testing.T) {
	dispatcher := testDispatcher(t)
	dispatcher.Timeouts.Boot = "7m"
	writeFile(t, dispatcher.Paths.Devices, "panda01.yaml", `
device_type: master
connection_command: conmux-console panda01
tester_prompt: 'root@linaro:~#'
master_prompt: 'root@master:~#'
bootloader_prompt: 'Panda #'
hard_reset_command: pduclient --hostname pdu01 --command reboot --port 4
boot_cmds:
  - mmc init
  - setenv bootargs 'console=ttyO2,115200n8 root=LABEL=testrootfs rootwait ro'
  - boot
boot_part: 5
root_part: 6
timeouts:
  command: 45s
`)

	device, err := LoadDevice(dispatcher, "panda01")
	if err != nil {
		t.Fatalf("LoadDevice: %v", err)
	}
	if err := device.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if device.Hostname != "panda01" {
		t.Errorf("Hostname = %q, want panda01 (from file name)", device.Hostname)
	}
	if device.Describe() != "panda01 (master)" {
		t.Errorf("Describe = %q", device.Describe())
	}
	if device.BootPartition != 5 || device.RootPartition != 6 {
		t.Errorf("partitions = %d/%d, want 5/6", device.BootPartition, device.RootPartition)
	}
	// Defaults survive the merge.
	if device.InterruptBootPrompt != "Hit any key to stop autoboot" {
		t.Errorf("InterruptBootPrompt = %q, want default", device.InterruptBootPrompt)
	}
	// Timeouts: device override wins, dispatcher default fills gaps.
	if got := device.Timeouts.CommandTimeout(); got != 45*time.Second {
		t.Errorf("CommandTimeout = %v, want 45s", got)
	}
	if got := device.Timeouts.BootTimeout(); got != 7*time.Minute {
		t.Errorf("BootTimeout = %v, want inherited 7m", got)
	}
}

func TestLoadDeviceMissing(t *testing.T) {
	dispatcher := testDispatcher(t)
	if _, err := LoadDevice(dispatcher, "no-such-board"); err == nil {
		t.Fatal("LoadDevice should fail for a missing device file")
	}
}

func TestDeviceValidatePerType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		mutate         func(*Device)
		wantSubstrings []string
	}{
		{
			name: "qemu without binary",
			mutate: func(d *Device) {
				d.DeviceType = DeviceTypeQEMU
				d.QEMUBinary = ""
			},
			wantSubstrings: []string{"qemu_binary is required"},
		},
		{
			name: "master without console or prompts",
			mutate: func(d *Device) {
				d.DeviceType = DeviceTypeMaster
			},
			wantSubstrings: []string{
				"master devices need a console",
				"master_prompt is required",
				"boot_cmds is required",
				"hard_reset_command",
			},
		},
		{
			name: "missing tester prompt",
			mutate: func(d *Device) {
				d.DeviceType = DeviceTypeFastboot
				d.TesterPrompt = ""
			},
			wantSubstrings: []string{"tester_prompt is required"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			device := DeviceDefaults()
			device.Hostname = "board01"
			device.TesterPrompt = `root@linaro:~#`
			test.mutate(device)

			err := device.Validate()
			if err == nil {
				t.Fatal("Validate should fail")
			}
			for _, want := range test.wantSubstrings {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate error missing %q: %v", want, err)
				}
			}
		})
	}
}

func TestListDevices(t *testing.T) {
	dispatcher := testDispatcher(t)
	writeFile(t, dispatcher.Paths.Devices, "panda01.yaml", "device_type: master\n")
	writeFile(t, dispatcher.Paths.Devices, "beagle03.yaml", "device_type: master\n")
	writeFile(t, dispatcher.Paths.Devices, "README", "not a device\n")

	names, err := dispatcher.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	want := []string{"beagle03", "panda01"}
	if len(names) != len(want) {
		t.Fatalf("ListDevices = %v, want %v", names, want)
	}
	for index := range want {
		if names[index] != want[index] {
			t.Errorf("ListDevices[%d] = %q, want %q", index, names[index], want[index])
		}
	}
}
