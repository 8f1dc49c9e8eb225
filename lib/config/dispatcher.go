// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the dispatcher.
//
// Two configuration surfaces exist:
//
//   - [Dispatcher]: per-host settings loaded from a single YAML file
//     named by the LAVA_DISPATCHER_CONFIG environment variable or the
//     --config flag. There are no fallbacks or automatic discovery;
//     configuration stays deterministic and auditable.
//   - [Device]: per-board settings, one YAML file per device under the
//     dispatcher's device directory, loaded by device name when a job
//     is assigned.
//
// The only expansion performed is ${VAR} and ${VAR:-default} in path
// values, so files can reference ${HOME} and ${LAVA_ROOT} portably.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Dispatcher is the per-host configuration.
type Dispatcher struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Images configures how deployed images reach devices.
	Images ImageConfig `yaml:"images"`

	// Timeouts are the host-wide defaults, overridable per device.
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for dispatcher data.
	Root string `yaml:"root"`

	// Devices is the directory of per-device YAML files.
	Devices string `yaml:"devices"`

	// Scratch is the staging root. Each job gets a scratch directory
	// beneath it for downloaded images and filesystem staging.
	Scratch string `yaml:"scratch"`

	// Logs is where per-job console logs and result bundles land.
	Logs string `yaml:"logs"`

	// Run is where per-device lock files live.
	Run string `yaml:"run"`
}

// ImageConfig configures image staging.
type ImageConfig struct {
	// URLBase is the HTTP URL under which the scratch root is
	// exported to devices. A board in the master shell fetches
	// staged files as <url_base>/<job>/<file>. The web server
	// itself is external to the dispatcher, as is traditional.
	URLBase string `yaml:"url_base"`

	// MediaCreate is the image build tool invoked on the dispatcher
	// to turn a hardware pack plus root filesystem into a bootable
	// image.
	MediaCreate string `yaml:"media_create"`
}

// TimeoutConfig holds duration strings ("5m", "30s"). Strings keep the
// YAML readable; accessors parse with defaults.
type TimeoutConfig struct {
	// Boot bounds a full power-on to shell prompt sequence.
	Boot string `yaml:"boot"`

	// Command bounds a single console command returning to the
	// prompt.
	Command string `yaml:"command"`

	// Deploy bounds one image deployment.
	Deploy string `yaml:"deploy"`
}

const (
	defaultBootTimeout    = 5 * time.Minute
	defaultCommandTimeout = 30 * time.Second
	defaultDeployTimeout  = 30 * time.Minute
)

// BootTimeout returns the parsed boot timeout, or the built-in default
// when unset or malformed (Validate reports malformed values).
func (t TimeoutConfig) BootTimeout() time.Duration {
	return parseTimeout(t.Boot, defaultBootTimeout)
}

// CommandTimeout returns the parsed per-command timeout.
func (t TimeoutConfig) CommandTimeout() time.Duration {
	return parseTimeout(t.Command, defaultCommandTimeout)
}

// DeployTimeout returns the parsed per-deployment timeout.
func (t TimeoutConfig) DeployTimeout() time.Duration {
	return parseTimeout(t.Deploy, defaultDeployTimeout)
}

func parseTimeout(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// Default returns the default dispatcher configuration. The defaults
// give every field a sensible value for a development machine; real
// deployments load a file over them.
func Default() *Dispatcher {
	homeDirectory, _ := os.UserHomeDir()
	root := filepath.Join(homeDirectory, ".cache", "lava-dispatch")

	return &Dispatcher{
		Paths: PathsConfig{
			Root:    root,
			Devices: filepath.Join(root, "devices"),
			Scratch: filepath.Join(root, "scratch"),
			Logs:    filepath.Join(root, "logs"),
			Run:     filepath.Join(root, "run"),
		},
		Images: ImageConfig{
			MediaCreate: "linaro-media-create",
		},
	}
}

// Load loads the dispatcher configuration from the file named by the
// LAVA_DISPATCHER_CONFIG environment variable. There are no fallbacks:
// if the variable is not set, Load fails.
func Load() (*Dispatcher, error) {
	path := os.Getenv("LAVA_DISPATCHER_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("LAVA_DISPATCHER_CONFIG environment variable not set; " +
			"set it to the path of your dispatcher.yaml, or use the --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads the dispatcher configuration from a specific path,
// merging the file over [Default] and expanding path variables.
func LoadFile(path string) (*Dispatcher, error) {
	dispatcher := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, dispatcher); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	dispatcher.expandVariables()
	return dispatcher, nil
}

// expandVariables expands ${VAR} patterns in every path field. The
// root is expanded first so dependent paths can reference
// ${LAVA_ROOT}.
func (d *Dispatcher) expandVariables() {
	vars := map[string]string{
		"LAVA_ROOT": d.Paths.Root,
		"HOME":      os.Getenv("HOME"),
	}

	d.Paths.Root = expandVars(d.Paths.Root, vars)
	vars["LAVA_ROOT"] = d.Paths.Root

	d.Paths.Devices = expandVars(d.Paths.Devices, vars)
	d.Paths.Scratch = expandVars(d.Paths.Scratch, vars)
	d.Paths.Logs = expandVars(d.Paths.Logs, vars)
	d.Paths.Run = expandVars(d.Paths.Run, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (d *Dispatcher) Validate() error {
	var errs []error

	if d.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if d.Paths.Devices == "" {
		errs = append(errs, fmt.Errorf("paths.devices is required"))
	}
	if d.Paths.Scratch == "" {
		errs = append(errs, fmt.Errorf("paths.scratch is required"))
	}
	for name, value := range map[string]string{
		"timeouts.boot":    d.Timeouts.Boot,
		"timeouts.command": d.Timeouts.Command,
		"timeouts.deploy":  d.Timeouts.Deploy,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they do not exist.
func (d *Dispatcher) EnsurePaths() error {
	for _, path := range []string{
		d.Paths.Root,
		d.Paths.Devices,
		d.Paths.Scratch,
		d.Paths.Logs,
		d.Paths.Run,
	} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// ListDevices returns the names of every device configured under the
// device directory, sorted.
func (d *Dispatcher) ListDevices() ([]string, error) {
	entries, err := os.ReadDir(d.Paths.Devices)
	if err != nil {
		return nil, fmt.Errorf("reading device directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}
