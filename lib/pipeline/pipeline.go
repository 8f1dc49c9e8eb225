// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline executes dispatch jobs: an ordered action list run
// against one claimed device, with every console byte captured and a
// result bundle exported no matter how the job ends.
//
// Execution is strictly sequential in a single goroutine. One job owns
// one board and one serial console; there is nothing to parallelize.
// The executor's contract:
//
//   - Every action is resolved and its parameters are schema-checked
//     when the pipeline is built. A job carrying an invalid step never
//     claims the device, let alone touches it.
//   - Actions run in job order. The first failure aborts the rest.
//   - Teardown and bundle export always run, on their own deadline: a
//     cancelled job still powers its board off, and a job that died
//     booting still leaves its console log in the bundle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwenstar/lava/lib/action"
	"github.com/bwenstar/lava/lib/client"
	"github.com/bwenstar/lava/lib/clock"
	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/console"
	"github.com/bwenstar/lava/lib/device"
	"github.com/bwenstar/lava/lib/fault"
	"github.com/bwenstar/lava/lib/jobdef"
	"github.com/bwenstar/lava/lib/result"
	"github.com/bwenstar/lava/lib/schema"
	"github.com/bwenstar/lava/lib/version"
)

// teardownTimeout bounds target teardown independently of the job
// context, so a timed-out job still releases its board.
const teardownTimeout = 2 * time.Minute

// Step is one resolved job action: the command name bound to its
// registered action, with parameters already checked against the
// action's schema.
type Step struct {
	Command string
	Action  action.Action
	Params  schema.Params
}

// Resolve binds every action of a job against the registry (nil uses
// the built-in actions). All problems are collected before any is
// reported: structural issues from jobdef.Validate, unknown commands,
// and parameter schema violations come back together in one
// fault.ValidationError, each line prefixed with its position in the
// action list.
func Resolve(job *jobdef.Job, registry *action.Registry) ([]Step, error) {
	if job == nil {
		return nil, fmt.Errorf("pipeline: job is nil")
	}
	steps, issues := resolve(job, registry)
	if len(issues) > 0 {
		return nil, fault.Validation(subjectName(job), issues)
	}
	return steps, nil
}

func subjectName(job *jobdef.Job) string {
	if job.JobName != "" {
		return job.JobName
	}
	return "job"
}

func resolve(job *jobdef.Job, registry *action.Registry) ([]Step, []string) {
	lookup, names := action.Lookup, action.Names
	if registry != nil {
		lookup, names = registry.Lookup, registry.Names
	}

	issues := jobdef.Validate(job)

	var steps []Step
	for index, stepDef := range job.Actions {
		if stepDef.Command == "" {
			// Already reported by jobdef.Validate.
			continue
		}
		act, ok := lookup(stepDef.Command)
		if !ok {
			issues = append(issues, fmt.Sprintf("actions[%d]: unknown command %q (known commands: %s)",
				index, stepDef.Command, strings.Join(names(), ", ")))
			continue
		}
		prefix := fmt.Sprintf("actions[%d] %s", index, stepDef.Command)
		params, err := act.Schema().Bind(prefix, stepDef.Parameters)
		if err != nil {
			var validation *fault.ValidationError
			if errors.As(err, &validation) {
				for _, issue := range validation.Issues {
					issues = append(issues, fmt.Sprintf("%s: %s", prefix, issue))
				}
			} else {
				issues = append(issues, fmt.Sprintf("%s: %v", prefix, err))
			}
			continue
		}
		steps = append(steps, Step{Command: stepDef.Command, Action: act, Params: params})
	}
	return steps, issues
}

// Options configures a job execution.
type Options struct {
	// Job is the parsed job definition. Required.
	Job *jobdef.Job

	// Device is the board the job runs on. Required.
	Device *config.Device

	// Dispatcher is the host configuration. Required.
	Dispatcher *config.Dispatcher

	// Actions resolves command names. Defaults to the built-in
	// actions.
	Actions *action.Registry

	// Targets builds the device target. Defaults to the built-in
	// variants.
	Targets *device.Registry

	// Bridge is passed through to the job client for Android boots.
	// Defaults to running the adb binary on the dispatcher host.
	Bridge client.ADBBridge

	// ConsoleSink overrides the persistent console copy. Defaults to
	// a per-job log file under the dispatcher's log directory, or
	// stdout when no log directory is configured.
	ConsoleSink io.WriteCloser

	// Log receives structured progress. Defaults to slog.Default.
	Log *slog.Logger

	// Clock stamps the bundle and drives console timeouts. Defaults
	// to the real clock.
	Clock clock.Clock
}

// Pipeline is one ready-to-run job: actions resolved, parameters
// bound, timeout parsed. Run executes it.
type Pipeline struct {
	job        *jobdef.Job
	device     *config.Device
	dispatcher *config.Dispatcher
	targets    *device.Registry
	bridge     client.ADBBridge
	sink       io.WriteCloser
	log        *slog.Logger
	clk        clock.Clock
	steps      []Step
	timeout    time.Duration
}

// New resolves a job for a specific board. On top of Resolve it checks
// that the job's device_type, when set, matches the board; the
// mismatch joins the other validation issues rather than shadowing
// them.
func New(opts Options) (*Pipeline, error) {
	if opts.Job == nil {
		return nil, fmt.Errorf("pipeline: Options.Job is required")
	}
	if opts.Device == nil {
		return nil, fmt.Errorf("pipeline: Options.Device is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("pipeline: Options.Dispatcher is required")
	}

	steps, issues := resolve(opts.Job, opts.Actions)
	if opts.Job.DeviceType != "" && opts.Job.DeviceType != opts.Device.DeviceType {
		issues = append(issues, fmt.Sprintf("job wants device_type %q but %s is %q",
			opts.Job.DeviceType, opts.Device.Hostname, opts.Device.DeviceType))
	}
	if len(issues) > 0 {
		return nil, fault.Validation(subjectName(opts.Job), issues)
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var timeout time.Duration
	if opts.Job.Timeout != "" {
		// Malformed values were already reported by resolve.
		timeout, _ = time.ParseDuration(opts.Job.Timeout)
	}

	return &Pipeline{
		job:        opts.Job,
		device:     opts.Device,
		dispatcher: opts.Dispatcher,
		targets:    opts.Targets,
		bridge:     opts.Bridge,
		sink:       opts.ConsoleSink,
		log:        log.With("job", opts.Job.JobName, "target", opts.Device.Hostname),
		clk:        clk,
		steps:      steps,
		timeout:    timeout,
	}, nil
}

// Run executes the job: claim the device, run every action in order,
// tear the target down, and export the result bundle. The bundle comes
// back whatever the job's outcome; the error reports the first action
// failure or an infrastructure problem. When the dispatcher has a log
// directory configured the bundle is also written there, next to the
// console log.
func (p *Pipeline) Run(ctx context.Context) (*result.Bundle, error) {
	start := p.clk.Now()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	testData := result.New(p.job.JobName)
	testData.SetMetadata("target", p.device.Hostname)
	testData.SetMetadata("device_type", p.device.DeviceType)
	testData.SetMetadata("dispatcher_version", version.Version)

	stem := p.artifactStem(start)
	p.log.Info("job starting", "actions", len(p.steps))
	runErr := p.execute(ctx, testData, stem)
	if runErr != nil {
		testData.MarkFailed()
		p.log.Error("job failed", "error", runErr)
	} else {
		p.log.Info("job complete")
	}

	bundle, err := testData.Bundle(p.clk.Now())
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	if p.dispatcher.Paths.Logs != "" {
		path := filepath.Join(p.dispatcher.Paths.Logs, stem+".bundle")
		if err := bundle.WriteFile(path); err != nil {
			p.log.Error("writing bundle", "path", path, "error", err)
			if runErr == nil {
				runErr = fmt.Errorf("writing bundle: %w", err)
			}
		} else {
			p.log.Info("bundle written", "path", path, "status", bundle.JobStatus)
		}
	}
	return bundle, runErr
}

// execute claims the board, builds the target, and runs the actions.
// The claim and the target are released before it returns.
func (p *Pipeline) execute(ctx context.Context, testData *result.TestData, stem string) error {
	lock, err := device.AcquireLock(p.dispatcher.Paths.Run, p.device.Hostname)
	if err != nil {
		return fmt.Errorf("claiming %s: %w", p.device.Hostname, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			p.log.Warn("releasing device claim", "error", err)
		}
	}()

	transcript := console.NewTranscript(p.openConsoleSink(stem))
	newTarget := device.New
	if p.targets != nil {
		newTarget = p.targets.New
	}
	target, err := newTarget(device.Options{
		Device:     p.device,
		Dispatcher: p.dispatcher,
		Transcript: transcript,
		Log:        p.log,
		Clock:      p.clk,
	})
	if err != nil {
		transcript.Close()
		return err
	}

	runErr := p.runActions(ctx, target, testData)

	// Teardown gets its own deadline: a job that timed out or was
	// cancelled still powers its board off.
	closeCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := target.Close(closeCtx); err != nil {
		p.log.Warn("target teardown", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("tearing down %s: %w", p.device.Hostname, err)
		}
	}
	transcript.Close()

	if captured := target.Transcript().Bytes(); len(captured) > 0 {
		testData.AddAttachment("console.log", captured, "text/plain")
	}
	return runErr
}

func (p *Pipeline) runActions(ctx context.Context, target device.Target, testData *result.TestData) error {
	jobClient, err := client.New(client.Options{
		Target:     target,
		Dispatcher: p.dispatcher,
		TestData:   testData,
		Log:        p.log,
		Clock:      p.clk,
		Bridge:     p.bridge,
	})
	if err != nil {
		return err
	}

	for index, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("job aborted before %s: %w", step.Command, err)
		}
		p.log.Info("action starting", "command", step.Command,
			"position", fmt.Sprintf("%d/%d", index+1, len(p.steps)))
		if err := step.Action.Run(ctx, jobClient, step.Params); err != nil {
			return fmt.Errorf("%s: %w", step.Command, err)
		}
		p.log.Info("action complete", "command", step.Command)
	}
	return nil
}

// openConsoleSink returns the persistent console sink: the configured
// override, a per-job log file under the log directory, or stdout. A
// log file that cannot be opened degrades to stdout rather than
// failing the job; the in-memory capture still reaches the bundle.
func (p *Pipeline) openConsoleSink(stem string) io.WriteCloser {
	if p.sink != nil {
		return p.sink
	}
	logsDirectory := p.dispatcher.Paths.Logs
	if logsDirectory == "" {
		return console.NopWriteCloser(os.Stdout)
	}
	if err := os.MkdirAll(logsDirectory, 0o755); err != nil {
		p.log.Warn("creating log directory", "error", err)
		return console.NopWriteCloser(os.Stdout)
	}
	file, err := os.Create(filepath.Join(logsDirectory, stem+".log"))
	if err != nil {
		p.log.Warn("opening console log", "error", err)
		return console.NopWriteCloser(os.Stdout)
	}
	p.log.Info("console log", "path", file.Name())
	return file
}

// artifactStem names this run's on-disk artifacts. The timestamp keeps
// reruns of the same job apart.
func (p *Pipeline) artifactStem(start time.Time) string {
	name := p.job.JobName
	if name == "" {
		name = "job"
	}
	name = strings.ReplaceAll(name, "/", "_")
	return name + "-" + start.UTC().Format("20060102-150405")
}
