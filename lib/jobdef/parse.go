// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobdef parses and validates dispatch job files.
//
// A job file is JSONC (JSON extended with // line comments, /* block
// comments */, and trailing commas) naming the device and the ordered
// action list to run against it:
//
//	{
//	    // nightly panda stress run
//	    "job_name": "panda-stress",
//	    "target": "panda01",
//	    "timeout": "2h",
//	    "actions": [
//	        {"command": "deploy_linaro_image", "parameters": {
//	            "hwpack": "http://images/hwpack_panda.tar.gz",
//	            "rootfs": "http://images/nano.tar.gz",
//	        }},
//	        {"command": "boot_linaro_image"},
//	    ],
//	}
//
// This package checks structure only: fields present, timeout
// parseable, every step carrying a command. Whether a command exists
// and whether its parameters fit that command's schema is the
// executor's job, which resolves steps against the action registry
// before any device is touched.
package jobdef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Job is one dispatch request: a named device and the actions to run
// on it, in order.
type Job struct {
	// JobName labels the job in logs and the result bundle.
	JobName string `json:"job_name"`

	// Target names the device to run on. The dispatcher loads the
	// device's configuration by this name. A command line device
	// override takes precedence.
	Target string `json:"target"`

	// DeviceType, when set, must match the target device's
	// configured type. It guards against running a job written for
	// one board family on another.
	DeviceType string `json:"device_type"`

	// Timeout bounds the whole job, in time.ParseDuration form
	// ("30m", "2h"). Empty means no job-level deadline.
	Timeout string `json:"timeout"`

	// Actions run strictly in order; the first failure aborts the
	// rest.
	Actions []Step `json:"actions"`
}

// Step is one action invocation.
type Step struct {
	// Command names the action to run.
	Command string `json:"command"`

	// Parameters carries the raw action parameters, bound against
	// the action's schema at load time.
	Parameters map[string]any `json:"parameters"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Job.
func Parse(data []byte) (*Job, error) {
	stripped := jsonc.ToJSON(data)

	var job Job
	if err := json.Unmarshal(stripped, &job); err != nil {
		return nil, fmt.Errorf("parsing job: %w", err)
	}
	return &job, nil
}

// ReadFile reads a JSONC job file from disk and parses it into a Job.
// Returns a descriptive error if the file cannot be read or the JSON
// is malformed.
func ReadFile(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	job, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return job, nil
}

// NameFromPath extracts a fallback job name from a file path by
// stripping the directory prefix and the file extension. Used when a
// job file carries no job_name of its own.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}
