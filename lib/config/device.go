// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Device type names understood by the built-in target variants.
const (
	DeviceTypeQEMU     = "qemu"
	DeviceTypeMaster   = "master"
	DeviceTypeFastboot = "fastboot"
)

// Device is the static per-board configuration. It is read-only for
// the duration of a job: anything a boot action needs to vary at run
// time (boot options, interactive boot commands) lives on the Target,
// not here.
type Device struct {
	// Hostname names the device. Defaults to the config file name.
	Hostname string `yaml:"hostname"`

	// DeviceType selects the target variant: qemu, master, fastboot.
	DeviceType string `yaml:"device_type"`

	// ConnectionCommand spawns the console as a local process, for
	// example "conmux-console panda01". Mutually exclusive with
	// ConsoleAddress and SSH; the first one set wins in the order
	// command, address, ssh.
	ConnectionCommand string `yaml:"connection_command"`

	// ConsoleAddress connects to a TCP console server (ser2net
	// style), "host:port".
	ConsoleAddress string `yaml:"console_address"`

	// SSH attaches the console over an SSH session.
	SSH *SSHConsole `yaml:"ssh"`

	// TesterPrompt is the regular expression matching the deployed
	// test image's shell prompt.
	TesterPrompt string `yaml:"tester_prompt"`

	// MasterPrompt matches the master image's shell prompt.
	MasterPrompt string `yaml:"master_prompt"`

	// InterruptBootPrompt is the bootloader's autoboot banner, the
	// moment to interrupt, for example "Hit any key to stop
	// autoboot".
	InterruptBootPrompt string `yaml:"interrupt_boot_prompt"`

	// InterruptBootCommand is sent to interrupt autoboot. Empty
	// sends a bare newline.
	InterruptBootCommand string `yaml:"interrupt_boot_command"`

	// BootloaderPrompt matches the interrupted bootloader's own
	// prompt, where boot commands are typed.
	BootloaderPrompt string `yaml:"bootloader_prompt"`

	// PowerOnCommand and PowerOffCommand drive an external power
	// relay. HardResetCommand power-cycles in one step where the
	// relay supports it.
	PowerOnCommand   string `yaml:"power_on_command"`
	PowerOffCommand  string `yaml:"power_off_command"`
	HardResetCommand string `yaml:"hard_reset_command"`

	// SoftBootCommand reboots from a live shell.
	SoftBootCommand string `yaml:"soft_boot_command"`

	// BootCommands is the bootloader command sequence that boots the
	// deployed test image. BootCommandsAndroid is its Android
	// counterpart.
	BootCommands        []string `yaml:"boot_cmds"`
	BootCommandsAndroid []string `yaml:"boot_cmds_android"`

	// BootPartition and RootPartition number the partitions holding
	// the deployed boot and root filesystems on the test media.
	BootPartition int `yaml:"boot_part"`
	RootPartition int `yaml:"root_part"`

	// MasterHTTPPort is where the master shell serves staged files
	// back to the dispatcher during filesystem extraction.
	MasterHTTPPort int `yaml:"master_http_port"`

	// QEMUBinary and QEMUOptions configure emulated devices.
	QEMUBinary  string   `yaml:"qemu_binary"`
	QEMUOptions []string `yaml:"qemu_options"`

	// MediaCreateDevice is the board name passed to the image build
	// tool (--dev). Defaults to the device type.
	MediaCreateDevice string `yaml:"media_create_device"`

	// ADBPort is the TCP port for network adb connections.
	ADBPort int `yaml:"android_adb_port"`

	// AndroidIPCommand prints the booted Android device's network
	// configuration on the console; the dispatcher parses the first
	// IPv4 address out of its output.
	AndroidIPCommand string `yaml:"android_ip_command"`

	// HomeScreenPattern appears in the console log once the Android
	// launcher is up.
	HomeScreenPattern string `yaml:"android_home_screen_pattern"`

	// FastbootSerial selects the device for fastboot and adb when
	// several are attached over USB.
	FastbootSerial string `yaml:"fastboot_serial"`

	// AndroidSystemPartition and AndroidDataPartition number the
	// partitions holding /system and /data on fastboot devices.
	AndroidSystemPartition int `yaml:"android_sys_part"`
	AndroidDataPartition   int `yaml:"android_data_part"`

	// Timeouts override the dispatcher-wide defaults for this
	// device.
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// SSHConsole configures an SSH-attached console.
type SSHConsole struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	IdentityFile string `yaml:"identity_file"`
}

// DeviceDefaults returns a device configuration with every
// behavioral default filled in. Loading a device file merges over it.
func DeviceDefaults() *Device {
	return &Device{
		InterruptBootPrompt: "Hit any key to stop autoboot",
		SoftBootCommand:     "reboot",
		BootPartition:       1,
		RootPartition:       2,
		MasterHTTPPort:      8080,
		QEMUBinary:          "qemu-system-arm",
		ADBPort:             5555,
		AndroidIPCommand:    "netcfg",
		HomeScreenPattern:   "Displayed com.android.launcher",

		AndroidSystemPartition: 2,
		AndroidDataPartition:   5,
	}
}

// LoadDevice loads the named device's configuration from the
// dispatcher's device directory, merging the file over
// [DeviceDefaults] and inheriting unset timeouts from the dispatcher.
func LoadDevice(dispatcher *Dispatcher, name string) (*Device, error) {
	return LoadDeviceFile(dispatcher, filepath.Join(dispatcher.Paths.Devices, name+".yaml"))
}

// LoadDeviceFile loads a device configuration from an explicit path.
func LoadDeviceFile(dispatcher *Dispatcher, path string) (*Device, error) {
	device := DeviceDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, device); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if device.Hostname == "" {
		base := filepath.Base(path)
		device.Hostname = base[:len(base)-len(filepath.Ext(base))]
	}
	if device.Timeouts.Boot == "" {
		device.Timeouts.Boot = dispatcher.Timeouts.Boot
	}
	if device.Timeouts.Command == "" {
		device.Timeouts.Command = dispatcher.Timeouts.Command
	}
	if device.Timeouts.Deploy == "" {
		device.Timeouts.Deploy = dispatcher.Timeouts.Deploy
	}

	return device, nil
}

// Describe returns "hostname (type)" for log lines and capability
// errors.
func (d *Device) Describe() string {
	return fmt.Sprintf("%s (%s)", d.Hostname, d.DeviceType)
}

// HasConsole reports whether any console transport is configured.
func (d *Device) HasConsole() bool {
	return d.ConnectionCommand != "" || d.ConsoleAddress != "" || d.SSH != nil
}

// Validate checks the device configuration for errors. Variant
// specific requirements are enforced for the built-in device types;
// unknown types are left to the device registry to reject.
func (d *Device) Validate() error {
	var errs []error

	if d.Hostname == "" {
		errs = append(errs, fmt.Errorf("hostname is required"))
	}
	if d.DeviceType == "" {
		errs = append(errs, fmt.Errorf("device_type is required"))
	}
	if d.TesterPrompt == "" {
		errs = append(errs, fmt.Errorf("tester_prompt is required"))
	}

	switch d.DeviceType {
	case DeviceTypeQEMU:
		if d.QEMUBinary == "" {
			errs = append(errs, fmt.Errorf("qemu_binary is required for qemu devices"))
		}
	case DeviceTypeMaster:
		if !d.HasConsole() {
			errs = append(errs, fmt.Errorf("master devices need a console: connection_command, console_address, or ssh"))
		}
		if d.MasterPrompt == "" {
			errs = append(errs, fmt.Errorf("master_prompt is required for master devices"))
		}
		if d.BootloaderPrompt == "" {
			errs = append(errs, fmt.Errorf("bootloader_prompt is required for master devices"))
		}
		if len(d.BootCommands) == 0 {
			errs = append(errs, fmt.Errorf("boot_cmds is required for master devices"))
		}
		if d.HardResetCommand == "" && (d.PowerOnCommand == "" || d.PowerOffCommand == "") {
			errs = append(errs, fmt.Errorf("master devices need hard_reset_command or both power_on_command and power_off_command"))
		}
	case DeviceTypeFastboot:
		// A single attached device needs no serial; nothing further
		// to require.
	}

	if d.SSH != nil {
		if d.SSH.Host == "" {
			errs = append(errs, fmt.Errorf("ssh.host is required"))
		}
		if d.SSH.User == "" {
			errs = append(errs, fmt.Errorf("ssh.user is required"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
