// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"
)

// fetchImage stages an image into the scratch directory. The source
// may be an http(s) URL or a local path; a .gz suffix is decompressed
// on the way in. The staged file's BLAKE3 digest is logged so a
// deploy can be matched to the exact bytes it wrote.
func (b *Base) fetchImage(ctx context.Context, source string) (string, error) {
	scratch, err := b.ScratchDir()
	if err != nil {
		return "", err
	}

	reader, name, err := openImageSource(ctx, source)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var content io.Reader = reader
	if strings.HasSuffix(name, ".gz") {
		decompressed, err := gzip.NewReader(reader)
		if err != nil {
			return "", fmt.Errorf("decompressing %s: %w", name, err)
		}
		defer decompressed.Close()
		content = decompressed
		name = strings.TrimSuffix(name, ".gz")
	}

	destination := filepath.Join(scratch, name)
	out, err := os.Create(destination)
	if err != nil {
		return "", fmt.Errorf("staging %s: %w", name, err)
	}
	defer out.Close()

	hasher := blake3.New()
	written, err := io.Copy(io.MultiWriter(out, hasher), content)
	if err != nil {
		os.Remove(destination)
		return "", fmt.Errorf("staging %s from %s: %w", name, source, err)
	}

	b.log.Info("image staged",
		"source", source,
		"path", destination,
		"bytes", written,
		"blake3", hex.EncodeToString(hasher.Sum(nil)))
	return destination, nil
}

// openImageSource returns a reader over the image bytes and the
// file's base name.
func openImageSource(ctx context.Context, source string) (io.ReadCloser, string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		parsed, err := url.Parse(source)
		if err != nil {
			return nil, "", fmt.Errorf("parsing image URL: %w", err)
		}
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, "", err
		}
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			return nil, "", fmt.Errorf("fetching %s: %w", source, err)
		}
		if response.StatusCode != http.StatusOK {
			response.Body.Close()
			return nil, "", fmt.Errorf("fetching %s: %s", source, response.Status)
		}
		return response.Body, path.Base(parsed.Path), nil
	}

	file, err := os.Open(source)
	if err != nil {
		return nil, "", fmt.Errorf("opening image: %w", err)
	}
	return file, filepath.Base(source), nil
}

// scratchURL maps a staged file to the URL a board fetches it from,
// through the HTTP export of the scratch root.
func (b *Base) scratchURL(localPath string) (string, error) {
	base := b.dispatcher.Images.URLBase
	if base == "" {
		return "", fmt.Errorf("images.url_base is not configured; boards cannot fetch staged files")
	}
	relative, err := filepath.Rel(b.dispatcher.Paths.Scratch, localPath)
	if err != nil || strings.HasPrefix(relative, "..") {
		return "", fmt.Errorf("%s is outside the scratch root", localPath)
	}
	return strings.TrimRight(base, "/") + "/" + filepath.ToSlash(relative), nil
}
