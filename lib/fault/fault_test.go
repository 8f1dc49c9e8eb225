// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCriticalError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "message only",
			err:      Critical("Failed to boot test image."),
			expected: "Failed to boot test image.",
		},
		{
			name:     "formatted message",
			err:      Criticalf("deploying image %q failed", "nano.img"),
			expected: `deploying image "nano.img" failed`,
		},
		{
			name:     "wrapped cause",
			err:      WrapCritical("Failed to deploy", errors.New("no space left on device")),
			expected: "Failed to deploy: no space left on device",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.err.Error(); got != test.expected {
				t.Errorf("got %q, want %q", got, test.expected)
			}
		})
	}
}

func TestWrapCritical_PreservesCause(t *testing.T) {
	cause := errors.New("serial console went away")
	wrapped := WrapCritical("Failed to boot test image.", cause)

	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should see the original cause through the critical wrapper")
	}
	if !IsCritical(wrapped) {
		t.Error("expected IsCritical for a wrapped critical error")
	}
}

func TestIsCritical(t *testing.T) {
	if !IsCritical(Critical("boom")) {
		t.Error("expected IsCritical for a critical error")
	}
	if IsCritical(errors.New("ordinary failure")) {
		t.Error("unexpected IsCritical for a plain error")
	}
	if !IsCritical(fmt.Errorf("running action: %w", Critical("boom"))) {
		t.Error("IsCritical should see through fmt.Errorf wrapping")
	}
}

func TestNotSupportedError(t *testing.T) {
	err := NotSupported("qemu01 (qemu)", "boot master image")
	expected := "qemu01 (qemu) does not support boot master image"
	if got := err.Error(); got != expected {
		t.Errorf("got %q, want %q", got, expected)
	}
	if !IsNotSupported(err) {
		t.Error("expected IsNotSupported")
	}
	if IsNotSupported(Critical("boom")) {
		t.Error("unexpected IsNotSupported for a critical error")
	}
}

func TestADBConnectError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "no cause",
			err:      ADBConnect("10.0.0.17:5555", nil),
			expected: "adb connect to 10.0.0.17:5555 failed",
		},
		{
			name:     "with cause",
			err:      ADBConnect("10.0.0.17:5555", errors.New("connection refused")),
			expected: "adb connect to 10.0.0.17:5555 failed: connection refused",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.err.Error(); got != test.expected {
				t.Errorf("got %q, want %q", got, test.expected)
			}
			if !IsADBConnect(test.err) {
				t.Error("expected IsADBConnect")
			}
		})
	}
}

func TestADBConnect_SurvivesWrapping(t *testing.T) {
	// The android boot action must be able to classify a bridge
	// failure even if an intermediate layer wrapped it.
	original := ADBConnect("10.0.0.17:5555", nil)
	wrapped := fmt.Errorf("booting android: %w", original)

	if !IsADBConnect(wrapped) {
		t.Error("IsADBConnect should see through fmt.Errorf wrapping")
	}
	var adb *ADBConnectError
	if !errors.As(wrapped, &adb) || adb.Address != "10.0.0.17:5555" {
		t.Errorf("errors.As should recover the original address, got %+v", adb)
	}
}

func TestTimeoutError(t *testing.T) {
	err := Timeout(`run "sync"`, 5*time.Second)
	expected := `run "sync" timed out after 5s`
	if got := err.Error(); got != expected {
		t.Errorf("got %q, want %q", got, expected)
	}
	if !IsTimeout(err) {
		t.Error("expected IsTimeout")
	}
	if IsTimeout(errors.New("slow")) {
		t.Error("unexpected IsTimeout for a plain error")
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "single issue",
			err:      Validation("boot_linaro_image", []string{"unknown property \"optins\""}),
			expected: `boot_linaro_image: unknown property "optins"`,
		},
		{
			name: "multiple issues",
			err: Validation("job.jsonc", []string{
				"missing required property \"image\"",
				"property \"adb_check\": expected bool, got string",
			}),
			expected: `job.jsonc: 2 validation issues, first: missing required property "image"`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.err.Error(); got != test.expected {
				t.Errorf("got %q, want %q", got, test.expected)
			}
			if !IsValidation(test.err) {
				t.Error("expected IsValidation")
			}
		})
	}
}

func TestTaxonomyIsDisjoint(t *testing.T) {
	// Each predicate matches only its own type. The executor relies on
	// this when deciding whether to abort, re-raise, or record-and-go.
	classified := []struct {
		name string
		err  error
	}{
		{"critical", Critical("x")},
		{"not supported", NotSupported("d", "c")},
		{"adb connect", ADBConnect("a", nil)},
		{"timeout", Timeout("op", time.Second)},
		{"validation", Validation("s", []string{"i"})},
	}
	predicates := map[string]func(error) bool{
		"critical":      IsCritical,
		"not supported": IsNotSupported,
		"adb connect":   IsADBConnect,
		"timeout":       IsTimeout,
		"validation":    IsValidation,
	}

	for _, entry := range classified {
		for name, predicate := range predicates {
			got := predicate(entry.err)
			want := name == entry.name
			if got != want {
				t.Errorf("%s(%s error) = %v, want %v", name, entry.name, got, want)
			}
		}
	}
}
