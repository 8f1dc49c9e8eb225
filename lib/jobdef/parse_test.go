// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package jobdef

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("minimal job", func(t *testing.T) {
		t.Parallel()

		job, err := Parse([]byte(`{
  "target": "panda01",
  "actions": [
    {"command": "boot_linaro_image"}
  ]
}`))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if job.Target != "panda01" {
			t.Errorf("Target = %q, want %q", job.Target, "panda01")
		}
		if len(job.Actions) != 1 {
			t.Fatalf("Actions count = %d, want 1", len(job.Actions))
		}
		if job.Actions[0].Command != "boot_linaro_image" {
			t.Errorf("Actions[0].Command = %q, want %q", job.Actions[0].Command, "boot_linaro_image")
		}
		if job.Actions[0].Parameters != nil {
			t.Errorf("Actions[0].Parameters = %v, want nil", job.Actions[0].Parameters)
		}
	})

	t.Run("full job", func(t *testing.T) {
		t.Parallel()

		job, err := Parse([]byte(`{
  "job_name": "panda-nightly",
  "target": "panda01",
  "device_type": "panda",
  "timeout": "2h",
  "actions": [
    {
      "command": "deploy_linaro_image",
      "parameters": {
        "hwpack": "http://images/hwpack_panda.tar.gz",
        "rootfs": "http://images/nano.tar.gz"
      }
    },
    {"command": "boot_linaro_image"},
    {
      "command": "lava_test_shell",
      "parameters": {
        "commands": ["uname -a", "lava-test run stream"],
        "timeout": 600
      }
    }
  ]
}`))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if job.JobName != "panda-nightly" {
			t.Errorf("JobName = %q", job.JobName)
		}
		if job.DeviceType != "panda" {
			t.Errorf("DeviceType = %q", job.DeviceType)
		}
		if job.Timeout != "2h" {
			t.Errorf("Timeout = %q, want %q", job.Timeout, "2h")
		}
		if len(job.Actions) != 3 {
			t.Fatalf("Actions count = %d, want 3", len(job.Actions))
		}
		if job.Actions[0].Parameters["hwpack"] != "http://images/hwpack_panda.tar.gz" {
			t.Errorf("Actions[0].Parameters[hwpack] = %v", job.Actions[0].Parameters["hwpack"])
		}
		commands, ok := job.Actions[2].Parameters["commands"].([]any)
		if !ok || len(commands) != 2 {
			t.Errorf("Actions[2].Parameters[commands] = %v", job.Actions[2].Parameters["commands"])
		}
	})

	t.Run("JSONC with comments", func(t *testing.T) {
		t.Parallel()

		job, err := Parse([]byte(`{
  // nightly stress run on the panda rack
  "job_name": "panda-stress",
  "actions": [
    {
      "command": "boot_linaro_image",
      /* boot options are board specific;
         these come from the panda wiki page */
      "parameters": {"options": ["boot_cmds=boot_cmds_oe"]},
    },
  ]
}`))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if job.JobName != "panda-stress" {
			t.Errorf("JobName = %q", job.JobName)
		}
		if len(job.Actions) != 1 {
			t.Fatalf("Actions count = %d, want 1", len(job.Actions))
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		t.Parallel()

		_, err := Parse([]byte("{not json"))
		if err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})

	t.Run("empty object", func(t *testing.T) {
		t.Parallel()

		job, err := Parse([]byte("{}"))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if len(job.Actions) != 0 {
			t.Errorf("Actions count = %d, want 0", len(job.Actions))
		}
	})
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	t.Run("valid JSONC file", func(t *testing.T) {
		t.Parallel()

		directory := t.TempDir()
		path := filepath.Join(directory, "panda-boot.jsonc")
		err := os.WriteFile(path, []byte(`{
  // smoke test: deploy and boot
  "target": "panda01",
  "actions": [
    {"command": "boot_linaro_image"},
  ]
}`), 0o644)
		if err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		job, err := ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if job.Target != "panda01" {
			t.Errorf("Target = %q", job.Target)
		}
	})

	t.Run("nonexistent file", func(t *testing.T) {
		t.Parallel()

		_, err := ReadFile("/nonexistent/job.json")
		if err == nil {
			t.Fatal("expected error for nonexistent file")
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()

		directory := t.TempDir()
		path := filepath.Join(directory, "bad.json")
		if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		_, err := ReadFile(path)
		if err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})
}

func TestNameFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"jobs/panda/nightly-stress.jsonc", "nightly-stress"},
		{"nightly-stress.json", "nightly-stress"},
		{"/var/lib/lava/jobs/beagle-boot.jsonc", "beagle-boot"},
		{"no-extension", "no-extension"},
		{"multiple.dots.in.name.jsonc", "multiple.dots.in.name"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.path, func(t *testing.T) {
			t.Parallel()

			got := NameFromPath(testCase.path)
			if got != testCase.want {
				t.Errorf("NameFromPath(%q) = %q, want %q", testCase.path, got, testCase.want)
			}
		})
	}
}
