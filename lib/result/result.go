// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package result collects what a job produced: pass/fail records,
// metadata, and attachments, exported at end of job as a bundle.
//
// A [TestData] lives for exactly one job. Actions append results and
// attachments as they run; the pipeline exports the final [Bundle]
// whether the job passed, failed, or aborted, so a broken boot still
// leaves its console log behind.
package result

import (
	"sync"
)

// Outcome is a recorded verdict.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// Result is one test case verdict.
type Result struct {
	TestCaseID string  `cbor:"test_case_id" json:"test_case_id"`
	Outcome    Outcome `cbor:"result" json:"result"`
	Message    string  `cbor:"message,omitempty" json:"message,omitempty"`
}

// rawAttachment holds attachment bytes as collected; compression
// happens at export.
type rawAttachment struct {
	name     string
	mimeType string
	content  []byte
}

// TestData accumulates results for one job.
type TestData struct {
	mu          sync.Mutex
	testID      string
	jobStatus   Outcome
	metadata    map[string]string
	results     []Result
	attachments []rawAttachment
}

// New returns an empty TestData. An empty testID defaults to "lava".
func New(testID string) *TestData {
	if testID == "" {
		testID = "lava"
	}
	return &TestData{
		testID:    testID,
		jobStatus: OutcomePass,
		metadata:  map[string]string{},
	}
}

// TestID returns the test run identifier.
func (d *TestData) TestID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.testID
}

// AddResult appends a verdict for a test case. Records are
// append-only; nothing rewrites history.
func (d *TestData) AddResult(testCaseID string, outcome Outcome, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, Result{
		TestCaseID: testCaseID,
		Outcome:    outcome,
		Message:    message,
	})
}

// Results returns a copy of the recorded verdicts, in order.
func (d *TestData) Results() []Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Result(nil), d.results...)
}

// AddAttachment stores a file to be carried in the bundle. An empty
// mimeType is recorded as text/plain.
func (d *TestData) AddAttachment(name string, content []byte, mimeType string) {
	if mimeType == "" {
		mimeType = "text/plain"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attachments = append(d.attachments, rawAttachment{
		name:     name,
		mimeType: mimeType,
		content:  append([]byte(nil), content...),
	})
}

// SetMetadata records a key/value pair about the job (board hostname,
// image URL, dispatcher version).
func (d *TestData) SetMetadata(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metadata[key] = value
}

// JobStatus reports the overall job verdict.
func (d *TestData) JobStatus() Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jobStatus
}

// MarkFailed degrades the job verdict to fail. There is no way back
// to pass.
func (d *TestData) MarkFailed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobStatus = OutcomeFail
}
