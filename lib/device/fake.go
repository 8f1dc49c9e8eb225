// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/bwenstar/lava/lib/clock"
	"github.com/bwenstar/lava/lib/config"
	"github.com/bwenstar/lava/lib/console"
)

const fakePrompt = "fake-shell# "

// Fake is an in-memory Target for tests above the device layer. Its
// console is an echo shell that prints a prompt after every command,
// deploys and filesystem access touch nothing but the scratch
// directory, and every operation is recorded for assertions. The
// error fields, when set, make the matching operation fail.
type Fake struct {
	*Base

	PowerOnError    error
	BootMasterError error
	DeployError     error
	FileSystemError error

	// Seed is the filesystem content extraction stages.
	Seed map[string]string

	// Responses maps console commands to the output the fake shell
	// prints before its prompt.
	Responses map[string]string

	// Hangs lists console commands the fake shell never answers,
	// for driving prompt-timeout paths.
	Hangs map[string]bool

	// BootBanner, when set, is emitted on the console right after
	// power on, the way a real board prints boot chatter after its
	// prompt appears.
	BootBanner string

	mu     sync.Mutex
	calls  []string
	pushed map[string]string
	shell  *echoSession
}

var _ Target = (*Fake)(nil)

// NewFake builds a fake target named hostname. Scratch space lives
// under the system temp directory and is removed by Close.
func NewFake(hostname string) *Fake {
	deviceConfig := &config.Device{
		Hostname:     hostname,
		DeviceType:   "fake",
		TesterPrompt: regexp.QuoteMeta(fakePrompt),
		MasterPrompt: regexp.QuoteMeta(fakePrompt),
		Timeouts: config.TimeoutConfig{
			Boot:    "5s",
			Command: "5s",
			Deploy:  "5s",
		},
	}
	dispatcher := config.Default()
	dispatcher.Paths.Scratch = os.TempDir()

	base, err := NewBase(Options{
		Device:     deviceConfig,
		Dispatcher: dispatcher,
		Transcript: console.NewTranscript(nil),
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:      clock.Real(),
	})
	if err != nil {
		panic("device: building fake target: " + err.Error())
	}
	return &Fake{Base: base, pushed: map[string]string{}}
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

// Calls returns the operations run so far, in order. Console commands
// appear as "console <command>".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Pushed returns the files written back by FileSystem, keyed by path
// relative to the staged directory.
func (f *Fake) Pushed() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	pushed := make(map[string]string, len(f.pushed))
	for name, content := range f.pushed {
		pushed[name] = content
	}
	return pushed
}

func (f *Fake) startShell(ctx context.Context, prompt *regexp.Regexp) (*console.Connection, error) {
	if err := f.releaseSession(nil); err != nil {
		return nil, err
	}
	session := newEchoSession(func(line string) (string, bool) {
		f.record("console " + line)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.Hangs[line] {
			return "", false
		}
		return f.Responses[line], true
	})
	f.mu.Lock()
	f.shell = session
	f.mu.Unlock()

	connection := console.NewConnection(session, f.transcript, f.clk, f.log)
	if _, err := connection.Expect(ctx, prompt, f.device.Timeouts.BootTimeout()); err != nil {
		connection.Close()
		return nil, err
	}
	f.trackSession(connection, prompt)
	return connection, nil
}

// FeedConsole makes the fake board print text unprompted, the way a
// kernel logs to the serial line.
func (f *Fake) FeedConsole(text string) {
	f.mu.Lock()
	shell := f.shell
	f.mu.Unlock()
	if shell != nil {
		shell.feed(text)
	}
}

func (f *Fake) SetBootOptions(options []string) {
	f.record("set_boot_options " + strings.Join(options, " "))
	f.Base.SetBootOptions(options)
}

func (f *Fake) SetInteractiveBootCommands(commands []string) {
	f.record("set_interactive_boot_cmds " + strings.Join(commands, " "))
	f.Base.SetInteractiveBootCommands(commands)
}

func (f *Fake) PowerOn(ctx context.Context) (*console.Connection, error) {
	f.record("power_on")
	if f.PowerOnError != nil {
		return nil, f.PowerOnError
	}
	connection, err := f.startShell(ctx, f.testerPrompt)
	if err != nil {
		return nil, err
	}
	if f.BootBanner != "" {
		f.FeedConsole(f.BootBanner)
	}
	return connection, nil
}

func (f *Fake) PowerOff(ctx context.Context, connection *console.Connection) error {
	f.record("power_off")
	return f.releaseSession(connection)
}

func (f *Fake) BootMaster(ctx context.Context) (*console.Connection, error) {
	f.record("boot_master")
	if f.BootMasterError != nil {
		return nil, f.BootMasterError
	}
	return f.startShell(ctx, f.masterPrompt)
}

func (f *Fake) DeployLinaro(ctx context.Context, hwpack, rootfs string) error {
	f.record("deploy_linaro " + hwpack + " " + rootfs)
	if f.DeployError != nil {
		return f.DeployError
	}
	f.setDeploymentData(linaroDeploymentData())
	return nil
}

func (f *Fake) DeployAndroid(ctx context.Context, boot, system, userdata string) error {
	f.record("deploy_android " + boot + " " + system + " " + userdata)
	if f.DeployError != nil {
		return f.DeployError
	}
	f.setDeploymentData(androidDeploymentData())
	return nil
}

func (f *Fake) DeployLinaroPrebuilt(ctx context.Context, image string) error {
	f.record("deploy_prebuilt " + image)
	if f.DeployError != nil {
		return f.DeployError
	}
	f.setDeploymentData(linaroDeploymentData())
	return nil
}

func (f *Fake) FileSystem(ctx context.Context, partition int, directory string, fn func(local string) error) error {
	f.record("file_system " + directory)
	if f.FileSystemError != nil {
		return f.FileSystemError
	}

	extract := func(ctx context.Context, staging string) error {
		for name, content := range f.Seed {
			target := filepath.Join(staging, name)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
	push := func(ctx context.Context, staging string) error {
		f.record("file_system push")
		return filepath.WalkDir(staging, func(path string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			relative, err := filepath.Rel(staging, path)
			if err != nil {
				return err
			}
			f.mu.Lock()
			f.pushed[filepath.ToSlash(relative)] = string(data)
			f.mu.Unlock()
			return nil
		})
	}
	observed := func(local string) error {
		if err := fn(local); err != nil {
			f.record("file_system discard")
			return err
		}
		return nil
	}
	return f.fileSystemScope(ctx, extract, push, observed)
}

func (f *Fake) Close(ctx context.Context) error {
	f.record("close")
	return f.closeTarget(ctx, f)
}

// echoSession is the fake's console transport: every line written to
// it comes back echoed, followed by whatever output observe returns
// for it, then the prompt, like a shell with local echo. When observe
// reports false the line gets no reply at all, simulating a command
// that hangs. A single emitter goroutine serializes pipe writes so
// Write never blocks the caller.
type echoSession struct {
	reader  *io.PipeReader
	writer  *io.PipeWriter
	emit    chan string
	observe func(line string) (string, bool)

	mu     sync.Mutex
	closed bool
}

func newEchoSession(observe func(line string) (string, bool)) *echoSession {
	reader, writer := io.Pipe()
	s := &echoSession{
		reader:  reader,
		writer:  writer,
		emit:    make(chan string, 64),
		observe: observe,
	}
	go s.run()
	s.emit <- fakePrompt
	return s
}

// feed queues raw console output, unrelated to any command.
func (s *echoSession) feed(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.emit <- text
	}
}

func (s *echoSession) run() {
	for text := range s.emit {
		if _, err := s.writer.Write([]byte(text)); err != nil {
			return
		}
	}
	s.writer.Close()
}

func (s *echoSession) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *echoSession) Write(p []byte) (int, error) {
	line := strings.TrimSuffix(string(p), "\n")
	response, reply := s.observe(line)
	if !reply {
		return len(p), nil
	}
	if response != "" && !strings.HasSuffix(response, "\n") {
		response += "\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.emit <- line + "\n" + response + fakePrompt
	return len(p), nil
}

func (s *echoSession) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.emit)
	}
	s.mu.Unlock()
	return s.reader.Close()
}
