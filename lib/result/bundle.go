// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package result

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bwenstar/lava/lib/codec"
)

// BundleFormat names the bundle encoding. Decoders reject anything
// else.
const BundleFormat = "lava-dispatcher-bundle-1.0"

// Bundle is the end-of-job export: every verdict, the job metadata,
// and the attachments with their content compressed and digested.
type Bundle struct {
	Format      string            `cbor:"format" json:"format"`
	TestID      string            `cbor:"test_id" json:"test_id"`
	JobStatus   Outcome           `cbor:"job_status" json:"job_status"`
	CreatedAt   time.Time         `cbor:"created_at" json:"created_at"`
	Metadata    map[string]string `cbor:"metadata,omitempty" json:"metadata,omitempty"`
	Results     []Result          `cbor:"test_results" json:"test_results"`
	Attachments []Attachment      `cbor:"attachments,omitempty" json:"attachments,omitempty"`
}

// Attachment is a bundled file. Content holds the compressed bytes;
// Size and Digest describe the original, so corruption is detected
// after decompression no matter which algorithm ran.
type Attachment struct {
	Name        string `cbor:"pathname" json:"pathname"`
	MimeType    string `cbor:"mime_type" json:"mime_type"`
	Compression string `cbor:"compression" json:"compression"`
	Size        int    `cbor:"size" json:"size"`
	Digest      string `cbor:"blake3" json:"blake3"`
	Content     []byte `cbor:"content" json:"content"`
}

// Data returns the attachment's original bytes, decompressed and
// verified against the recorded digest.
func (a *Attachment) Data() ([]byte, error) {
	tag, err := ParseCompressionTag(a.Compression)
	if err != nil {
		return nil, fmt.Errorf("attachment %s: %w", a.Name, err)
	}
	content, err := Decompress(a.Content, tag, a.Size)
	if err != nil {
		return nil, fmt.Errorf("attachment %s: %w", a.Name, err)
	}
	if digest := contentDigest(content); digest != a.Digest {
		return nil, fmt.Errorf("attachment %s: digest mismatch (stored %s, computed %s)",
			a.Name, a.Digest, digest)
	}
	return content, nil
}

func contentDigest(content []byte) string {
	hasher := blake3.New()
	hasher.Write(content)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Bundle snapshots the test data into a bundle stamped with
// createdAt. Attachments are compressed here, at export, so
// collection stays cheap.
func (d *TestData) Bundle(createdAt time.Time) (*Bundle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bundle := &Bundle{
		Format:    BundleFormat,
		TestID:    d.testID,
		JobStatus: d.jobStatus,
		CreatedAt: createdAt.UTC(),
		Metadata:  make(map[string]string, len(d.metadata)),
		Results:   append([]Result(nil), d.results...),
	}
	for key, value := range d.metadata {
		bundle.Metadata[key] = value
	}

	for _, raw := range d.attachments {
		stored, tag, err := CompressAuto(raw.content, raw.mimeType)
		if err != nil {
			return nil, fmt.Errorf("compressing attachment %s: %w", raw.name, err)
		}
		bundle.Attachments = append(bundle.Attachments, Attachment{
			Name:        raw.name,
			MimeType:    raw.mimeType,
			Compression: tag.String(),
			Size:        len(raw.content),
			Digest:      contentDigest(raw.content),
			Content:     stored,
		})
	}
	return bundle, nil
}

// Encode serializes the bundle to deterministic CBOR.
func (b *Bundle) Encode() ([]byte, error) {
	return codec.Marshal(b)
}

// DecodeBundle parses an encoded bundle and checks its format marker.
func DecodeBundle(data []byte) (*Bundle, error) {
	var bundle Bundle
	if err := codec.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	if bundle.Format != BundleFormat {
		return nil, fmt.Errorf("unsupported bundle format %q", bundle.Format)
	}
	return &bundle, nil
}

// WriteFile writes the encoded bundle atomically: a rename from a
// temp file in the same directory, so readers never see a torn
// bundle.
func (b *Bundle) WriteFile(path string) error {
	data, err := b.Encode()
	if err != nil {
		return err
	}

	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating bundle directory: %w", err)
	}
	tmp, err := os.CreateTemp(directory, ".bundle-")
	if err != nil {
		return fmt.Errorf("creating bundle temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publishing bundle: %w", err)
	}
	return nil
}

// ReadBundleFile loads and decodes a bundle from disk.
func ReadBundleFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeBundle(data)
}
