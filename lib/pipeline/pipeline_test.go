// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwenstar/lava/lib/action"
	"github.com/bwenstar/lava/lib/client"
	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/device"
	"github.com/bwenstar/lava/lib/fault"
	"github.com/bwenstar/lava/lib/jobdef"
	"github.com/bwenstar/lava/lib/result"
	"github.com/bwenstar/lava/lib/schema"
)

func testDispatcher(t *testing.T) *config.Dispatcher {
	t.Helper()
	root := t.TempDir()
	dispatcher := config.Default()
	dispatcher.Paths.Root = root
	dispatcher.Paths.Devices = filepath.Join(root, "devices")
	dispatcher.Paths.Scratch = filepath.Join(root, "scratch")
	dispatcher.Paths.Logs = filepath.Join(root, "logs")
	dispatcher.Paths.Run = filepath.Join(root, "run")
	return dispatcher
}

// fakeTargets returns a fake board and a registry whose "fake" factory
// hands it out, counting how often it is asked to.
func fakeTargets(t *testing.T) (*device.Fake, *device.Registry, *int) {
	t.Helper()
	fake := device.NewFake("panda01")
	t.Cleanup(func() { fake.Close(context.Background()) })

	builds := 0
	targets := device.NewRegistry()
	targets.Register("fake", func(opts device.Options) (device.Target, error) {
		builds++
		return fake, nil
	})
	return fake, targets, &builds
}

func newTestPipeline(t *testing.T, job *jobdef.Job) (*Pipeline, *device.Fake, *config.Dispatcher) {
	t.Helper()
	fake, targets, _ := fakeTargets(t)
	dispatcher := testDispatcher(t)

	p, err := New(Options{
		Job:        job,
		Device:     fake.Device(),
		Dispatcher: dispatcher,
		Targets:    targets,
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, fake, dispatcher
}

func smokeJob() *jobdef.Job {
	return &jobdef.Job{
		JobName: "panda-smoke",
		Target:  "panda01",
		Timeout: "1m",
		Actions: []jobdef.Step{
			{Command: "deploy_linaro_image", Parameters: map[string]any{
				"hwpack": "http://images/hwpack.tar.gz",
				"rootfs": "http://images/rootfs.tar.gz",
			}},
			{Command: "boot_linaro_image", Parameters: map[string]any{
				"options": []any{"boot_cmds=boot_cmds_oe"},
			}},
			{Command: "lava_test_shell", Parameters: map[string]any{
				"commands": []any{"uname -a"},
			}},
		},
	}
}

func callIndex(calls []string, want string) int {
	for index, call := range calls {
		if call == want {
			return index
		}
	}
	return -1
}

func TestRunExecutesActionsInOrder(t *testing.T) {
	p, fake, _ := newTestPipeline(t, smokeJob())

	bundle, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := fake.Calls()
	order := []string{
		"deploy_linaro http://images/hwpack.tar.gz http://images/rootfs.tar.gz",
		"set_boot_options boot_cmds=boot_cmds_oe",
		"power_on",
		"console uname -a",
		"close",
	}
	last := -1
	for _, want := range order {
		index := callIndex(calls, want)
		if index < 0 {
			t.Fatalf("call %q missing from %v", want, calls)
		}
		if index < last {
			t.Errorf("call %q out of order in %v", want, calls)
		}
		last = index
	}

	if bundle.JobStatus != result.OutcomePass {
		t.Errorf("JobStatus = %q, want pass", bundle.JobStatus)
	}
	if len(bundle.Results) != 2 {
		t.Fatalf("Results = %v, want boot_image and uname_-a", bundle.Results)
	}
	if bundle.Results[0].TestCaseID != "boot_image" || bundle.Results[0].Outcome != result.OutcomePass {
		t.Errorf("Results[0] = %+v, want boot_image pass", bundle.Results[0])
	}
	if bundle.Results[1].TestCaseID != "uname_-a" || bundle.Results[1].Outcome != result.OutcomePass {
		t.Errorf("Results[1] = %+v, want uname_-a pass", bundle.Results[1])
	}
	if bundle.Metadata["target"] != "panda01" {
		t.Errorf("Metadata[target] = %q", bundle.Metadata["target"])
	}
	if bundle.Metadata["device_type"] != "fake" {
		t.Errorf("Metadata[device_type] = %q", bundle.Metadata["device_type"])
	}
	if bundle.Metadata["dispatcher_version"] == "" {
		t.Error("Metadata[dispatcher_version] is empty")
	}
}

func TestRunWritesArtifacts(t *testing.T) {
	p, _, dispatcher := newTestPipeline(t, smokeJob())

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	bundles, err := filepath.Glob(filepath.Join(dispatcher.Paths.Logs, "panda-smoke-*.bundle"))
	if err != nil || len(bundles) != 1 {
		t.Fatalf("bundle files = %v (err %v), want exactly one", bundles, err)
	}
	logs, err := filepath.Glob(filepath.Join(dispatcher.Paths.Logs, "panda-smoke-*.log"))
	if err != nil || len(logs) != 1 {
		t.Fatalf("console log files = %v (err %v), want exactly one", logs, err)
	}

	loaded, err := result.ReadBundleFile(bundles[0])
	if err != nil {
		t.Fatalf("ReadBundleFile: %v", err)
	}
	if loaded.TestID != "panda-smoke" {
		t.Errorf("TestID = %q", loaded.TestID)
	}
	if loaded.JobStatus != result.OutcomePass {
		t.Errorf("JobStatus = %q, want pass", loaded.JobStatus)
	}
	if len(loaded.Attachments) != 1 || loaded.Attachments[0].Name != "console.log" {
		t.Fatalf("Attachments = %+v, want console.log", loaded.Attachments)
	}
	console, err := loaded.Attachments[0].Data()
	if err != nil {
		t.Fatalf("Attachment.Data: %v", err)
	}
	if !strings.Contains(string(console), "uname -a") {
		t.Errorf("console.log does not show the shell command:\n%s", console)
	}
}

func TestNewCollectsValidationIssues(t *testing.T) {
	fake, targets, builds := fakeTargets(t)
	job := &jobdef.Job{
		JobName:    "busted",
		DeviceType: "panda",
		Actions: []jobdef.Step{
			{Command: "warp_core_breach"},
			{Command: "deploy_linaro_image", Parameters: map[string]any{
				"hwpack": "http://images/hwpack.tar.gz",
			}},
		},
	}

	_, err := New(Options{
		Job:        job,
		Device:     fake.Device(),
		Dispatcher: testDispatcher(t),
		Targets:    targets,
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !fault.IsValidation(err) {
		t.Fatalf("error is not a validation error: %v", err)
	}

	var validation *fault.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("errors.As failed on %v", err)
	}
	if validation.Subject != "busted" {
		t.Errorf("Subject = %q, want job name", validation.Subject)
	}
	for _, want := range []string{
		`unknown command "warp_core_breach"`,
		`missing required property "rootfs"`,
		`device_type "panda"`,
	} {
		found := false
		for _, issue := range validation.Issues {
			if strings.Contains(issue, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no issue contains %q in %v", want, validation.Issues)
		}
	}

	if *builds != 0 {
		t.Errorf("device was built %d times for an invalid job", *builds)
	}
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	p, fake, _ := newTestPipeline(t, smokeJob())
	deployErr := errors.New("media died")
	fake.DeployError = deployErr

	bundle, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected the deploy failure to surface")
	}
	if !errors.Is(err, deployErr) {
		t.Errorf("cause lost: %v", err)
	}
	if !fault.IsCritical(err) {
		t.Errorf("deploy failure is not job-fatal: %v", err)
	}
	if !strings.Contains(err.Error(), "deploy_linaro_image") {
		t.Errorf("error does not name the failing command: %v", err)
	}

	calls := fake.Calls()
	if callIndex(calls, "power_on") != -1 {
		t.Errorf("boot ran after the deploy failed: %v", calls)
	}
	if callIndex(calls, "close") == -1 {
		t.Errorf("teardown did not run: %v", calls)
	}

	if bundle.JobStatus != result.OutcomeFail {
		t.Errorf("JobStatus = %q, want fail", bundle.JobStatus)
	}
	if len(bundle.Results) != 0 {
		t.Errorf("Results = %v, want none", bundle.Results)
	}
	if len(bundle.Attachments) != 0 {
		t.Errorf("Attachments = %v, want none before any console traffic", bundle.Attachments)
	}
}

func TestRunHonorsCancelledContext(t *testing.T) {
	p, fake, _ := newTestPipeline(t, smokeJob())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bundle, err := p.Run(ctx)
	if err == nil {
		t.Fatal("expected the cancellation to surface")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancellation lost: %v", err)
	}
	if !strings.Contains(err.Error(), "aborted before deploy_linaro_image") {
		t.Errorf("error does not name the skipped command: %v", err)
	}

	calls := fake.Calls()
	for _, call := range calls {
		if strings.HasPrefix(call, "deploy_linaro") || call == "power_on" {
			t.Errorf("device was driven after cancellation: %v", calls)
		}
	}
	if callIndex(calls, "close") == -1 {
		t.Errorf("teardown did not run: %v", calls)
	}
	if bundle.JobStatus != result.OutcomeFail {
		t.Errorf("JobStatus = %q, want fail", bundle.JobStatus)
	}
}

func TestRunEnforcesJobTimeout(t *testing.T) {
	job := smokeJob()
	job.Timeout = "150ms"
	p, fake, _ := newTestPipeline(t, job)
	fake.Hangs = map[string]bool{"uname -a": true}

	bundle, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected the job timeout to surface")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("deadline lost: %v", err)
	}
	if bundle.JobStatus != result.OutcomeFail {
		t.Errorf("JobStatus = %q, want fail", bundle.JobStatus)
	}
	if callIndex(fake.Calls(), "close") == -1 {
		t.Errorf("teardown did not run: %v", fake.Calls())
	}
}

func TestRunFailsWhenDeviceClaimed(t *testing.T) {
	p, fake, dispatcher := newTestPipeline(t, smokeJob())

	lock, err := device.AcquireLock(dispatcher.Paths.Run, "panda01")
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	_, runErr := p.Run(context.Background())
	if runErr == nil || !strings.Contains(runErr.Error(), "claimed by another dispatcher") {
		t.Fatalf("Run under a foreign claim = %v", runErr)
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("device was driven while claimed elsewhere: %v", calls)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run after release: %v", err)
	}
}

// stubAction is a minimal registrable action for resolution tests.
type stubAction struct {
	name string
}

func (s *stubAction) Name() string { return s.name }

func (s *stubAction) Schema() *schema.Object {
	return &schema.Object{
		Properties: map[string]schema.Property{
			"message": {Type: schema.TypeString},
			"count":   {Type: schema.TypeInteger, Optional: true, Default: 3},
		},
	}
}

func (s *stubAction) Run(ctx context.Context, c *client.Client, params schema.Params) error {
	return nil
}

func TestResolveBindsParameters(t *testing.T) {
	registry := action.NewRegistry()
	registry.Register(&stubAction{name: "stub_action"})

	job := &jobdef.Job{
		Actions: []jobdef.Step{
			{Command: "stub_action", Parameters: map[string]any{"message": "hello"}},
		},
	}
	steps, err := Resolve(job, registry)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(steps))
	}
	if steps[0].Command != "stub_action" {
		t.Errorf("Command = %q", steps[0].Command)
	}
	if got := steps[0].Params.String("message"); got != "hello" {
		t.Errorf("message = %q, want %q", got, "hello")
	}
	if got := steps[0].Params.Int("count"); got != 3 {
		t.Errorf("count = %d, want the schema default 3", got)
	}
}

func TestResolveRejectsUnknownCommand(t *testing.T) {
	job := &jobdef.Job{
		Actions: []jobdef.Step{{Command: "frobnicate"}},
	}

	_, err := Resolve(job, nil)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !fault.IsValidation(err) {
		t.Fatalf("error is not a validation error: %v", err)
	}

	var validation *fault.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("errors.As failed on %v", err)
	}
	if len(validation.Issues) != 1 {
		t.Fatalf("Issues = %v, want one", validation.Issues)
	}
	if !strings.Contains(validation.Issues[0], `unknown command "frobnicate"`) {
		t.Errorf("issue = %q", validation.Issues[0])
	}
	// The built-in registry supplies the known-commands hint.
	if !strings.Contains(validation.Issues[0], "boot_linaro_image") {
		t.Errorf("issue does not list known commands: %q", validation.Issues[0])
	}
}
