// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package result

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression applied to an attachment
// in a bundle. Tags are bundle format constants; changing a value
// breaks decoding of existing bundles.
type CompressionTag uint8

const (
	// CompressionNone marks uncompressed content: empty attachments
	// and content that did not shrink (a screenshot PNG is already
	// compressed).
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is block LZ4, the default for binary
	// attachments where decode speed matters more than ratio.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level, used for text:
	// console logs compress 10x and better.
	CompressionZstd CompressionTag = 2
)

// String returns the name stored in the bundle.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag is the inverse of [CompressionTag.String].
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag %q", name)
	}
}

// The encoder and decoder are reused across calls; both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("result: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("result: zstd decoder initialization failed: " + err.Error())
	}
}

var errIncompressible = fmt.Errorf("content is incompressible")

// IsIncompressible reports whether a compression attempt produced
// output no smaller than its input. Callers fall back to
// [CompressionNone].
func IsIncompressible(err error) bool {
	return err == errIncompressible
}

// SelectCompression picks the algorithm for an attachment from its
// MIME type: zstd for text-like content, LZ4 for everything else.
func SelectCompression(mimeType string) CompressionTag {
	if strings.HasPrefix(mimeType, "text/") {
		return CompressionZstd
	}
	switch mimeType {
	case "application/json", "application/xml", "application/x-yaml":
		return CompressionZstd
	}
	return CompressionLZ4
}

// Compress compresses content with the given algorithm. Content that
// does not shrink returns [errIncompressible].
func Compress(content []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return content, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(content))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(content, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for content it cannot shrink.
		if written == 0 || written >= len(content) {
			return nil, errIncompressible
		}
		return destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(content, nil)
		if len(compressed) >= len(content) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag %d", tag)
	}
}

// Decompress reverses [Compress]. uncompressedSize must match the
// original length exactly; a mismatch is an error, not a truncation.
func Decompress(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed content: size %d does not match recorded %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil

	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag %d", tag)
	}
}

// CompressAuto compresses content with the algorithm chosen for its
// MIME type, falling back to no compression when the content does not
// shrink. Returns the stored bytes and the tag that describes them.
func CompressAuto(content []byte, mimeType string) ([]byte, CompressionTag, error) {
	if len(content) == 0 {
		return content, CompressionNone, nil
	}
	tag := SelectCompression(mimeType)
	compressed, err := Compress(content, tag)
	if err != nil {
		if IsIncompressible(err) {
			return content, CompressionNone, nil
		}
		return nil, 0, err
	}
	return compressed, tag, nil
}
