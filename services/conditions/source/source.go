// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source provides the storage backends conditions items are read from.
//
// A Source opens named items as byte streams. Items are addressed by a
// slash-delimited base name plus a short type suffix, so the item
// ("ECal/Sampling", "properties") lives at "ECal/Sampling.properties"
// inside the backend.
//
// # Implementations
//
//   - DirectorySource: a materialized directory on local disk
//   - ZipSource: a local zip archive
//   - BundleSource: a subtree of an fs.FS, typically an embed.FS
//   - DummySource: serves nothing, used when running without conditions
//   - RunRangeSource: an override decorator selecting per-run subtrees
//
// # Ownership
//
// A Source owns its OS resources and releases them in Close. Decorators own
// their base Source and close it in turn. Streams returned by Open are owned
// by the caller.
//
// # Thread Safety
//
// Sources are not synchronized. They are used from the single control
// goroutine that owns the conditions manager.
package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
)

// Identity is the (detector, run) pair that scopes all conditions data.
type Identity struct {
	Detector string
	Run      int
}

// IsZero reports whether no detector has been set.
func (i Identity) IsZero() bool {
	return i.Detector == ""
}

// String returns "detector/run".
func (i Identity) String() string {
	return fmt.Sprintf("%s/%d", i.Detector, i.Run)
}

// UpdateResult is a Source's answer when asked to serve a new identity.
type UpdateResult int

const (
	// UpdateRetain keeps the active source. It may have adjusted internal
	// state for the new run.
	UpdateRetain UpdateResult = iota

	// UpdateReplace asks the manager to discard the source and resolve
	// again from scratch, e.g. because its backing files changed.
	UpdateReplace
)

// String returns "retain" or "replace".
func (r UpdateResult) String() string {
	switch r {
	case UpdateRetain:
		return "retain"
	case UpdateReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Source opens conditions items from one backend.
type Source interface {
	// Open returns a fresh stream for the item (name, typ). The caller must
	// close it. A missing item yields an error of kind conderr.ErrNotFound.
	Open(name, typ string) (io.ReadCloser, error)

	// Update is called when the manager moves from current to next while
	// this source is active. Returning an error of kind
	// conderr.ErrIncompatible forces a full re-resolution; any other error
	// is reported to the caller.
	Update(ctx context.Context, current, next Identity) (UpdateResult, error)

	// Close releases all resources held by the source.
	Close() error
}

// Describer is implemented by sources that can name their backend for logs.
type Describer interface {
	Describe() string
}

// Describe returns a human-readable description of src.
func Describe(src Source) string {
	if d, ok := src.(Describer); ok {
		return d.Describe()
	}
	return fmt.Sprintf("%T", src)
}

// DefaultUpdate is the update policy of the plain backends: the same
// detector is always retained regardless of run, anything else is
// incompatible.
func DefaultUpdate(current, next Identity) (UpdateResult, error) {
	if !current.IsZero() && current.Detector == next.Detector {
		return UpdateRetain, nil
	}
	return UpdateRetain, conderr.Newf(conderr.ErrIncompatible, "source.Update", next.Detector,
		"source serves %q", current.Detector)
}

// ItemPath joins an item's base name and type into its storage path.
func ItemPath(name, typ string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if typ == "" {
		return name
	}
	return name + "." + typ
}

// notFound wraps a backend miss.
func notFound(name, typ string, err error) error {
	return conderr.New(conderr.ErrNotFound, "source.Open", ItemPath(name, typ), err)
}
