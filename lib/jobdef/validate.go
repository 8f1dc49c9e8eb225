// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package jobdef

import (
	"fmt"
	"time"
)

// Validate checks a Job for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the job is
// structurally valid.
//
// Structural checks include:
//   - At least one action is required
//   - Each action must have a non-empty command
//   - Timeout (when present) must be parseable by time.ParseDuration
//
// Whether each command names a registered action, and whether its
// parameters satisfy that action's schema, is checked by the executor,
// which has the action registry in hand. A missing target is not an
// issue here either: the dispatcher command line can supply one.
func Validate(job *Job) []string {
	var issues []string

	if len(job.Actions) == 0 {
		issues = append(issues, "job has no actions (at least one action is required)")
	}

	for index, step := range job.Actions {
		if step.Command == "" {
			issues = append(issues, fmt.Sprintf("actions[%d]: command is required", index))
		}
	}

	if job.Timeout != "" {
		if _, err := time.ParseDuration(job.Timeout); err != nil {
			issues = append(issues, fmt.Sprintf("invalid timeout %q: %v", job.Timeout, err))
		}
	}

	return issues
}
