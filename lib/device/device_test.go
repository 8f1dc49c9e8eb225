// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/console"
	"github.com/bwenstar/lava/lib/fault"
)

func countCalls(calls []string, name string) int {
	n := 0
	for _, call := range calls {
		if call == name {
			n++
		}
	}
	return n
}

func TestWithRunnerReleasesAfterScope(t *testing.T) {
	fake := NewFake("panda01")
	t.Cleanup(func() { fake.Close(context.Background()) })

	err := WithRunner(context.Background(), fake, func(runner *console.Runner) error {
		return runner.Run(context.Background(), "uname -a", 0)
	})
	if err != nil {
		t.Fatalf("WithRunner: %v", err)
	}

	want := []string{"power_on", "console uname -a", "console sync", "power_off"}
	if got := fake.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestWithRunnerPowersOffOnScopeError(t *testing.T) {
	fake := NewFake("panda01")
	t.Cleanup(func() { fake.Close(context.Background()) })

	scopeErr := errors.New("test shell wedged")
	err := WithRunner(context.Background(), fake, func(runner *console.Runner) error {
		return scopeErr
	})
	if !errors.Is(err, scopeErr) {
		t.Fatalf("WithRunner error = %v, want %v", err, scopeErr)
	}

	calls := fake.Calls()
	if countCalls(calls, "power_off") != 1 {
		t.Fatalf("power_off ran %d times in %v, want once", countCalls(calls, "power_off"), calls)
	}
	if last := calls[len(calls)-1]; last != "power_off" {
		t.Fatalf("last call = %q, want power_off", last)
	}
}

func TestWithRunnerSkipsReleaseWhenPowerOnFails(t *testing.T) {
	fake := NewFake("panda01")
	t.Cleanup(func() { fake.Close(context.Background()) })
	fake.PowerOnError = errors.New("pdu unreachable")

	err := WithRunner(context.Background(), fake, func(runner *console.Runner) error {
		t.Error("scope ran despite the power on failure")
		return nil
	})
	if !errors.Is(err, fake.PowerOnError) {
		t.Fatalf("WithRunner error = %v, want %v", err, fake.PowerOnError)
	}
	if got := fake.Calls(); !reflect.DeepEqual(got, []string{"power_on"}) {
		t.Fatalf("calls = %v, want only power_on", got)
	}
}

func TestCloseAfterRunnerScopeDoesNotPowerOffTwice(t *testing.T) {
	fake := NewFake("panda01")

	err := WithRunner(context.Background(), fake, func(runner *console.Runner) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithRunner: %v", err)
	}
	if err := fake.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	calls := fake.Calls()
	if countCalls(calls, "power_off") != 1 {
		t.Fatalf("power_off ran %d times in %v, want once", countCalls(calls, "power_off"), calls)
	}
}

func TestCloseWithLiveSessionSyncsAndPowersOff(t *testing.T) {
	fake := NewFake("panda01")

	if _, err := fake.PowerOn(context.Background()); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	if err := fake.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// "close" is recorded on entry; the sync and power off are the
	// teardown it triggers.
	want := []string{"power_on", "close", "console sync", "power_off"}
	if got := fake.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}

	// A second close is a no-op beyond the record.
	if err := fake.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := countCalls(fake.Calls(), "power_off"); got != 1 {
		t.Fatalf("power_off ran %d times, want once", got)
	}
}

func TestNewRejectsUnknownDeviceType(t *testing.T) {
	deviceConfig := &config.Device{
		Hostname:     "imx53-01",
		DeviceType:   "frobnicator",
		TesterPrompt: `\$ `,
	}
	_, err := New(Options{
		Device:     deviceConfig,
		Dispatcher: config.Default(),
		Transcript: console.NewTranscript(nil),
	})
	if err == nil {
		t.Fatal("New accepted an unknown device type")
	}
	if !fault.IsValidation(err) {
		t.Fatalf("error = %v, want a validation error", err)
	}
	if !strings.Contains(err.Error(), "frobnicator") {
		t.Fatalf("error %q does not name the unknown type", err)
	}
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	deviceConfig := &config.Device{
		Hostname:     "panda01",
		DeviceType:   config.DeviceTypeMaster,
		TesterPrompt: `\$ `,
	}
	_, err := New(Options{
		Device:     deviceConfig,
		Dispatcher: config.Default(),
		Transcript: console.NewTranscript(nil),
	})
	if err == nil {
		t.Fatal("New accepted a master device with no console or power control")
	}
	if !strings.Contains(err.Error(), "master_prompt") {
		t.Fatalf("error %q does not mention the missing master_prompt", err)
	}
}

func TestTypesListsBuiltinVariants(t *testing.T) {
	want := []string{
		config.DeviceTypeFastboot,
		config.DeviceTypeMaster,
		config.DeviceTypeQEMU,
	}
	if got := Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Types() = %v, want %v", got, want)
	}
}

func TestRegisterPanicsOnDuplicateType(t *testing.T) {
	registry := NewRegistry()
	factory := func(opts Options) (Target, error) { return nil, nil }
	registry.Register("loaner", factory)

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration did not panic")
		}
	}()
	registry.Register("loaner", factory)
}
