// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Session is a raw byte link to a device console. Read returns device
// output, Write sends keystrokes, Close severs the link. A net.Conn
// satisfies it directly; process and SSH transports wrap their pipes.
type Session interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// processTerminationGrace is how long a console process gets between
// SIGTERM and SIGKILL when the session closes.
const processTerminationGrace = 3 * time.Second

// ProcessSession runs a console command ("conmux-console panda01",
// "qemu-system-arm ...") as a local child process. Output combines the
// child's stdout and stderr; both land in the transcript, since QEMU
// and console multiplexers write diagnostics to stderr that matter
// when a boot goes wrong.
type ProcessSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *os.File

	closeOnce sync.Once
}

// StartProcess starts command under "sh -c" with its own process
// group, so that closing the session can signal the whole tree: a
// console wrapper script's children die with it.
func StartProcess(command string) (*ProcessSession, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("console stdin: %w", err)
	}

	readSide, writeSide, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("console pipe: %w", err)
	}
	cmd.Stdout = writeSide
	cmd.Stderr = writeSide

	if err := cmd.Start(); err != nil {
		readSide.Close()
		writeSide.Close()
		return nil, fmt.Errorf("starting console %q: %w", command, err)
	}
	// Parent must drop its copy of the write side or reads never see
	// EOF when the child exits.
	writeSide.Close()

	return &ProcessSession{cmd: cmd, stdin: stdin, output: readSide}, nil
}

func (s *ProcessSession) Read(p []byte) (int, error) {
	return s.output.Read(p)
}

func (s *ProcessSession) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close terminates the console process: SIGTERM to the process group,
// escalating to SIGKILL after a grace period if it has not exited.
// The killed process's nonzero exit status is expected and not
// reported as an error.
func (s *ProcessSession) Close() error {
	s.closeOnce.Do(func() {
		processGroupID := -s.cmd.Process.Pid
		if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
			// Process group already gone; reap and finish.
			_ = s.cmd.Wait()
			s.output.Close()
			s.stdin.Close()
			return
		}

		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(processTerminationGrace):
			// ESRCH from an already-dead group is harmless.
			_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			<-done
		}
		s.output.Close()
		s.stdin.Close()
	})
	return nil
}

// Pid returns the console process's PID, for logging.
func (s *ProcessSession) Pid() int {
	return s.cmd.Process.Pid
}

// DialConsole attaches to a TCP console server (ser2net style). The
// returned net.Conn is the Session.
func DialConsole(address string) (Session, error) {
	conn, err := net.DialTimeout("tcp", address, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing console %s: %w", address, err)
	}
	return conn, nil
}
