// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the error taxonomy of the dispatcher.
//
// Errors escalate through distinct types so that the pipeline executor
// and the dispatcher entry point can classify failures without string
// matching:
//
//   - [ValidationError]: a job definition or action parameter set
//     violated its schema. Raised before any device contact.
//   - [NotSupportedError]: an action requested a capability the target
//     device type does not implement.
//   - [ADBConnectError]: establishing the Android debug bridge to a
//     freshly booted device failed. Boot actions log this distinctly
//     and propagate it unmodified.
//   - [TimeoutError]: a console command did not return to the shell
//     prompt within its deadline. Recoverable at the caller's
//     discretion; a test shell records a failure and moves on, a boot
//     sequence escalates.
//   - [CriticalError]: a job-fatal condition. The executor aborts the
//     remaining pipeline but still runs device teardown.
//
// All wrapping uses %w semantics: causes remain visible to errors.Is
// and errors.As through any number of layers.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// CriticalError is a job-fatal failure. The pipeline executor stops
// scheduling further actions when one surfaces, runs teardown, and
// reports the job as failed.
type CriticalError struct {
	// Message describes the failure from the job's point of view,
	// for example "Failed to boot test image.".
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (err *CriticalError) Error() string {
	if err.Cause == nil {
		return err.Message
	}
	return fmt.Sprintf("%s: %v", err.Message, err.Cause)
}

func (err *CriticalError) Unwrap() error {
	return err.Cause
}

// Critical returns a job-fatal error with the given message and no
// underlying cause.
func Critical(message string) error {
	return &CriticalError{Message: message}
}

// Criticalf returns a job-fatal error with a formatted message.
func Criticalf(format string, args ...any) error {
	return &CriticalError{Message: fmt.Sprintf(format, args...)}
}

// WrapCritical marks err as job-fatal under the given message. The
// original error stays reachable through errors.Is and errors.As.
func WrapCritical(message string, err error) error {
	return &CriticalError{Message: message, Cause: err}
}

// IsCritical reports whether err is, or wraps, a job-fatal error.
func IsCritical(err error) bool {
	var critical *CriticalError
	return errors.As(err, &critical)
}

// NotSupportedError reports that a device type does not implement a
// requested capability. Target variants return it from the operations
// they leave unimplemented; it reaches jobs that ask an emulated device
// for a master image, or a fastboot device for a Linaro deploy.
type NotSupportedError struct {
	// Device identifies the device, usually "<hostname> (<type>)".
	Device string

	// Capability names the missing operation, for example
	// "deploy_linaro" or "boot master image".
	Capability string
}

func (err *NotSupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", err.Device, err.Capability)
}

// NotSupported returns a capability error for the given device.
func NotSupported(device, capability string) error {
	return &NotSupportedError{Device: device, Capability: capability}
}

// IsNotSupported reports whether err is, or wraps, a missing-capability
// error.
func IsNotSupported(err error) bool {
	var notSupported *NotSupportedError
	return errors.As(err, &notSupported)
}

// ADBConnectError reports a failure to establish the Android debug
// bridge after booting an Android image. It crosses the boot action
// unmodified so the dispatcher can distinguish "the image booted but
// the bridge is unreachable" from a generic boot failure.
type ADBConnectError struct {
	// Address is the device endpoint adb tried to reach, an ip:port
	// pair or a USB serial.
	Address string

	// Cause is the underlying error, if any.
	Cause error
}

func (err *ADBConnectError) Error() string {
	if err.Cause == nil {
		return fmt.Sprintf("adb connect to %s failed", err.Address)
	}
	return fmt.Sprintf("adb connect to %s failed: %v", err.Address, err.Cause)
}

func (err *ADBConnectError) Unwrap() error {
	return err.Cause
}

// ADBConnect returns a bridge-establishment error for the given
// endpoint.
func ADBConnect(address string, cause error) error {
	return &ADBConnectError{Address: address, Cause: cause}
}

// IsADBConnect reports whether err is, or wraps, an Android debug
// bridge connection error.
func IsADBConnect(err error) bool {
	var adb *ADBConnectError
	return errors.As(err, &adb)
}

// TimeoutError reports that a console operation did not complete within
// its deadline: a command did not return to the prompt, or an expected
// boot message never appeared.
type TimeoutError struct {
	// Op describes the operation that timed out, for example
	// `run "sync"` or `expect "login:"`.
	Op string

	// Timeout is the deadline that elapsed.
	Timeout time.Duration
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", err.Op, err.Timeout)
}

// Timeout returns a console deadline error.
func Timeout(op string, timeout time.Duration) error {
	return &TimeoutError{Op: op, Timeout: timeout}
}

// IsTimeout reports whether err is, or wraps, a console timeout.
func IsTimeout(err error) bool {
	var timeout *TimeoutError
	return errors.As(err, &timeout)
}

// ValidationError reports that a job definition or an action's
// parameters violated the schema. Validation runs when the job is
// loaded; a job carrying any validation error never reaches a device.
type ValidationError struct {
	// Subject names what failed validation: an action name, a job
	// field, or a file path.
	Subject string

	// Issues lists every violation found, one human-readable line
	// each. Never empty.
	Issues []string
}

func (err *ValidationError) Error() string {
	if len(err.Issues) == 1 {
		return fmt.Sprintf("%s: %s", err.Subject, err.Issues[0])
	}
	return fmt.Sprintf("%s: %d validation issues, first: %s", err.Subject, len(err.Issues), err.Issues[0])
}

// Validation returns a schema violation error for the given subject.
func Validation(subject string, issues []string) error {
	return &ValidationError{Subject: subject, Issues: issues}
}

// IsValidation reports whether err is, or wraps, a schema violation.
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}
