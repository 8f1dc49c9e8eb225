// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/ssh"
)

// SSHConfig locates an SSH-attached console: a console server or the
// device itself exposing its serial line over SSH.
type SSHConfig struct {
	Host         string
	Port         int
	User         string
	IdentityFile string
}

// SSHSession attaches a console over an SSH shell channel.
type SSHSession struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

// DialSSH opens an SSH connection and starts a shell with a PTY, so
// the remote side behaves like an interactive console. Host keys are
// not verified: lab boards and console servers reimage constantly and
// their keys churn with them.
func DialSSH(cfg SSHConfig) (*SSHSession, error) {
	keyData, err := os.ReadFile(cfg.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("reading ssh identity: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh identity: %w", err)
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	address := fmt.Sprintf("%s:%d", cfg.Host, port)

	client, err := ssh.Dial("tcp", address, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("dialing ssh console %s: %w", address, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening ssh session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh stdout: %w", err)
	}

	// With a PTY the remote side merges stderr into the terminal
	// stream, so only stdout needs pumping.
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty("vt100", 24, 80, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("requesting pty: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("starting shell: %w", err)
	}

	return &SSHSession{client: client, session: session, stdin: stdin, stdout: stdout}, nil
}

func (s *SSHSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *SSHSession) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close tears down the shell channel and the underlying connection.
func (s *SSHSession) Close() error {
	s.session.Close()
	return s.client.Close()
}
