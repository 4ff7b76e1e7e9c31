// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
)

// BundleSource serves items bundled into the binary (or any fs.FS).
//
// The bundle is expected to hold one top-level directory per detector.
type BundleSource struct {
	name string
	fsys fs.FS
}

// NewBundleSource returns the subtree of bundle named detector.
// Fails with conderr.ErrNotFound when the bundle has no such directory.
func NewBundleSource(bundle fs.FS, detector string) (*BundleSource, error) {
	if bundle == nil {
		return nil, conderr.Newf(conderr.ErrNotFound, "source.NewBundleSource", detector, "no bundle")
	}
	if !fs.ValidPath(detector) {
		return nil, conderr.Newf(conderr.ErrNotFound, "source.NewBundleSource", detector, "invalid bundle path")
	}
	info, err := fs.Stat(bundle, detector)
	if err != nil {
		return nil, conderr.New(conderr.ErrNotFound, "source.NewBundleSource", detector, err)
	}
	if !info.IsDir() {
		return nil, conderr.Newf(conderr.ErrNotFound, "source.NewBundleSource", detector, "not a directory")
	}
	sub, err := fs.Sub(bundle, detector)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", detector, err)
	}
	return &BundleSource{name: detector, fsys: sub}, nil
}

// Describe implements Describer.
func (b *BundleSource) Describe() string {
	return "bundle:" + b.name
}

// Open implements Source.
func (b *BundleSource) Open(name, typ string) (io.ReadCloser, error) {
	f, err := b.fsys.Open(ItemPath(name, typ))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return nil, notFound(name, typ, err)
		}
		return nil, err
	}
	return f, nil
}

// Update implements Source.
func (b *BundleSource) Update(_ context.Context, current, next Identity) (UpdateResult, error) {
	return DefaultUpdate(current, next)
}

// Close implements Source. Bundles hold no OS resources.
func (b *BundleSource) Close() error { return nil }

// DummySource serves no items. It stands in for a real backend when an
// analysis job runs without any detector conditions.
type DummySource struct{}

// Describe implements Describer.
func (DummySource) Describe() string { return "dummy" }

// Open implements Source. Always fails with conderr.ErrNotFound.
func (DummySource) Open(name, typ string) (io.ReadCloser, error) {
	return nil, notFound(name, typ, errors.New("dummy conditions"))
}

// Update implements Source. The dummy source serves every identity.
func (DummySource) Update(context.Context, Identity, Identity) (UpdateResult, error) {
	return UpdateRetain, nil
}

// Close implements Source.
func (DummySource) Close() error { return nil }

var (
	_ Source = (*BundleSource)(nil)
	_ Source = DummySource{}
)
