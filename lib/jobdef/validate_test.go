// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package jobdef

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		job            *Job
		expectedIssues int
		wantSubstrings []string
	}{
		{
			name: "valid single action",
			job: &Job{
				Target:  "panda01",
				Actions: []Step{{Command: "boot_linaro_image"}},
			},
			expectedIssues: 0,
		},
		{
			name: "valid full job",
			job: &Job{
				JobName:    "panda-nightly",
				Target:     "panda01",
				DeviceType: "panda",
				Timeout:    "2h",
				Actions: []Step{
					{Command: "deploy_linaro_image", Parameters: map[string]any{
						"hwpack": "http://images/hwpack.tar.gz",
						"rootfs": "http://images/rootfs.tar.gz",
					}},
					{Command: "boot_linaro_image"},
					{Command: "lava_test_shell", Parameters: map[string]any{
						"commands": []any{"uname -a"},
					}},
				},
			},
			expectedIssues: 0,
		},
		{
			name: "missing target is not a structural issue",
			job: &Job{
				Actions: []Step{{Command: "boot_linaro_image"}},
			},
			expectedIssues: 0,
		},
		{
			name:           "no actions",
			job:            &Job{Target: "panda01"},
			expectedIssues: 1,
			wantSubstrings: []string{"no actions"},
		},
		{
			name: "action missing command",
			job: &Job{
				Target:  "panda01",
				Actions: []Step{{Parameters: map[string]any{"hwpack": "x"}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"actions[0]: command is required"},
		},
		{
			name: "invalid timeout",
			job: &Job{
				Target:  "panda01",
				Timeout: "2 hours",
				Actions: []Step{{Command: "boot_linaro_image"}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"invalid timeout"},
		},
		{
			name: "multiple issues",
			job: &Job{
				Timeout: "soon",
				Actions: []Step{
					{Command: "boot_linaro_image"},
					{}, // missing command
				},
			},
			// command is required, invalid timeout
			expectedIssues: 2,
			wantSubstrings: []string{"actions[1]"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			issues := Validate(testCase.job)
			if len(issues) != testCase.expectedIssues {
				t.Fatalf("got %d issues, want %d:\n%s", len(issues), testCase.expectedIssues, strings.Join(issues, "\n"))
			}

			for _, substring := range testCase.wantSubstrings {
				found := false
				for _, issue := range issues {
					if strings.Contains(issue, substring) {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("expected issue containing %q, got:\n%s", substring, strings.Join(issues, "\n"))
				}
			}
		})
	}
}
