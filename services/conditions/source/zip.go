// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
)

// ZipSource serves items from a local zip archive.
//
// The archive handle stays open for the lifetime of the source; each Open
// decompresses the entry into a fresh stream.
type ZipSource struct {
	path    string
	archive *zip.ReadCloser
	entries map[string]*zip.File
}

// NewZipSource opens the archive at path.
//
// # Outputs
//
//   - *ZipSource: The source. Caller must Close it.
//   - error: Kind conderr.ErrNotFound if the file is missing or not a zip.
func NewZipSource(path string) (*ZipSource, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, conderr.New(conderr.ErrNotFound, "source.NewZipSource", path, err)
	}

	entries := make(map[string]*zip.File, len(rc.File))
	for _, f := range rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries[strings.TrimPrefix(f.Name, "/")] = f
	}
	return &ZipSource{path: path, archive: rc, entries: entries}, nil
}

// Path returns the archive path.
func (z *ZipSource) Path() string {
	return z.path
}

// Describe implements Describer.
func (z *ZipSource) Describe() string {
	return "zip:" + z.path
}

// Open implements Source.
func (z *ZipSource) Open(name, typ string) (io.ReadCloser, error) {
	f, ok := z.entries[ItemPath(name, typ)]
	if !ok {
		return nil, notFound(name, typ, fmt.Errorf("no entry in %s", z.path))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s in %s: %w", f.Name, z.path, err)
	}
	return rc, nil
}

// Update implements Source.
func (z *ZipSource) Update(_ context.Context, current, next Identity) (UpdateResult, error) {
	return DefaultUpdate(current, next)
}

// Close implements Source.
func (z *ZipSource) Close() error {
	if z.archive == nil {
		return nil
	}
	err := z.archive.Close()
	z.archive = nil
	return err
}

var (
	_ Source    = (*ZipSource)(nil)
	_ Describer = (*ZipSource)(nil)
)
