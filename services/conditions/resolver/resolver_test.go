// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/conditions/services/conditions/alias"
	"github.com/AleutianAI/conditions/services/conditions/conderr"
	"github.com/AleutianAI/conditions/services/conditions/config"
	"github.com/AleutianAI/conditions/services/conditions/fetch"
	"github.com/AleutianAI/conditions/services/conditions/source"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{CacheRoot: t.TempDir(), AliasFile: "alias.properties"}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func read(t *testing.T, src source.Source, name string) string {
	t.Helper()
	rc, err := src.Open(name, "properties")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func resolve(t *testing.T, r *Resolver, detector string) (source.Source, error) {
	t.Helper()
	return r.Resolve(context.Background(), source.Identity{}, source.Identity{Detector: detector, Run: 1})
}

type fakeFetcher struct {
	files map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, validate fetch.Validator) (string, error) {
	f.calls = append(f.calls, url)
	p, ok := f.files[url]
	if !ok {
		return "", conderr.Newf(conderr.ErrNotFound, "fake", url, "404")
	}
	if validate != nil {
		if err := validate(url, p); err != nil {
			return "", conderr.New(conderr.ErrBackendIntegrity, "fake", url, err)
		}
	}
	return p, nil
}

// TestResolve_LocalDirectory verifies the directory strategy.
func TestResolve_LocalDirectory(t *testing.T) {
	cfg := testConfig(t)
	writeTree(t, cfg.DetectorsDir(), map[string]string{"DetX/foo.properties": "bar=42\n"})

	r, err := New(cfg)
	require.NoError(t, err)

	src, err := resolve(t, r, "DetX")
	require.NoError(t, err)
	defer src.Close()
	assert.IsType(t, &source.DirectorySource{}, src)
	assert.Equal(t, "bar=42\n", read(t, src, "foo"))
}

// TestResolve_ZipBeforeDirectory verifies strategy order among local backends.
func TestResolve_ZipBeforeDirectory(t *testing.T) {
	cfg := testConfig(t)
	writeTree(t, cfg.DetectorsDir(), map[string]string{"DetX/foo.properties": "from=dir\n"})
	writeZip(t, filepath.Join(cfg.DetectorsDir(), "DetX.zip"), map[string]string{"foo.properties": "from=zip\n"})

	r, err := New(cfg)
	require.NoError(t, err)

	src, err := resolve(t, r, "DetX")
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "from=zip\n", read(t, src, "foo"))
}

func TestResolve_BundleFirst(t *testing.T) {
	cfg := testConfig(t)
	writeTree(t, cfg.DetectorsDir(), map[string]string{"sample/foo.properties": "from=dir\n"})
	bundle := fstest.MapFS{"sample/foo.properties": {Data: []byte("from=bundle\n")}}

	r, err := New(cfg, WithBundle(bundle))
	require.NoError(t, err)

	src, err := resolve(t, r, "sample")
	require.NoError(t, err)
	assert.Equal(t, "from=bundle\n", read(t, src, "foo"))
}

// TestResolve_AliasToFileURL verifies aliases chain into a file:// URL.
func TestResolve_AliasToFileURL(t *testing.T) {
	cfg := testConfig(t)
	elsewhere := t.TempDir()
	writeTree(t, elsewhere, map[string]string{"foo.properties": "bar=1\n"})
	zipPath := filepath.Join(t.TempDir(), "z.zip")
	writeZip(t, zipPath, map[string]string{"foo.properties": "bar=2\n"})

	r, err := New(cfg, WithAliases(alias.New(map[string]string{
		"short":  "DetDir",
		"DetDir": "file://" + filepath.ToSlash(elsewhere),
		"DetZip": "file://" + filepath.ToSlash(zipPath),
		"gone":   "file://" + filepath.ToSlash(filepath.Join(elsewhere, "missing")),
	})))
	require.NoError(t, err)

	src, err := resolve(t, r, "short")
	require.NoError(t, err)
	assert.Equal(t, "bar=1\n", read(t, src, "foo"))
	src.Close()

	src, err = resolve(t, r, "DetZip")
	require.NoError(t, err)
	assert.Equal(t, "bar=2\n", read(t, src, "foo"))
	src.Close()

	_, err = resolve(t, r, "gone")
	assert.ErrorIs(t, err, conderr.ErrNotFound)
}

func TestResolve_AliasCycle(t *testing.T) {
	cfg := testConfig(t)
	writeTree(t, cfg.CacheRoot, map[string]string{"alias.properties": "a b\nb a\n"})

	r, err := New(cfg)
	require.NoError(t, err)
	_, err = resolve(t, r, "a")
	assert.ErrorIs(t, err, conderr.ErrAliasCycle)
}

// TestResolve_Remote verifies the remote strategy validates and opens the
// downloaded archive, and that a missing archive reads as not found.
func TestResolve_Remote(t *testing.T) {
	cfg := testConfig(t)
	cfg.RemoteBaseURL = "https://example.org/detectors/"
	archive := filepath.Join(t.TempDir(), "DetR.zip")
	writeZip(t, archive, map[string]string{
		"detector.properties": "name=DetR\n",
		"foo.properties":      "bar=7\n",
	})
	broken := filepath.Join(t.TempDir(), "Broken.zip")
	writeZip(t, broken, map[string]string{"foo.properties": "bar=0\n"})

	ff := &fakeFetcher{files: map[string]string{
		"https://example.org/detectors/DetR.zip":   archive,
		"https://example.org/detectors/Broken.zip": broken,
	}}
	r, err := New(cfg, WithFetcher(ff))
	require.NoError(t, err)

	src, err := resolve(t, r, "DetR")
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "bar=7\n", read(t, src, "foo"))

	_, err = resolve(t, r, "Nope")
	require.ErrorIs(t, err, conderr.ErrNotFound)
	assert.Contains(t, err.Error(), "conditions not found for detector Nope")

	_, err = resolve(t, r, "Broken")
	assert.ErrorIs(t, err, conderr.ErrBackendIntegrity)
}

func TestResolve_NotFoundWithoutRemote(t *testing.T) {
	r, err := New(testConfig(t))
	require.NoError(t, err)
	_, err = resolve(t, r, "DetX")
	assert.ErrorIs(t, err, conderr.ErrNotFound)
}

func TestResolve_InvalidName(t *testing.T) {
	r, err := New(testConfig(t))
	require.NoError(t, err)
	for _, name := range []string{"..", "a/b", `a\b`} {
		_, err = resolve(t, r, name)
		assert.ErrorIs(t, err, conderr.ErrInvalidName, name)
	}
}

// TestResolve_Override verifies a detector can ask for the run-range
// decorator and that unknown decorators fail resolution.
func TestResolve_Override(t *testing.T) {
	cfg := testConfig(t)
	writeTree(t, cfg.DetectorsDir(), map[string]string{
		"DetX/detector.properties":   "ConditionsReader=runrange\n",
		"DetX/runs.properties":       "1-10=early\n",
		"DetX/foo.properties":        "bar=42\n",
		"DetX/early/foo.properties":  "bar=1\n",
		"DetY/detector.properties":   "ConditionsReader=teleporter\n",
	})

	r, err := New(cfg)
	require.NoError(t, err)

	src, err := resolve(t, r, "DetX")
	require.NoError(t, err)
	defer src.Close()
	require.IsType(t, &source.RunRangeSource{}, src)
	assert.Equal(t, "bar=1\n", read(t, src, "foo"))

	_, err = resolve(t, r, "DetY")
	require.ErrorIs(t, err, conderr.ErrNotFound)
	assert.True(t, strings.Contains(err.Error(), "teleporter"))
}

func TestDetectorNames(t *testing.T) {
	cfg := testConfig(t)
	cfg.TaglistURL = "https://example.org/detectors/taglist.txt"
	writeTree(t, cfg.DetectorsDir(), map[string]string{"DetDir/foo.properties": "a=1\n"})
	writeZip(t, filepath.Join(cfg.DetectorsDir(), "DetZip.zip"), map[string]string{"foo.properties": "a=1\n"})
	writeTree(t, cfg.CacheRoot, map[string]string{"alias.properties": "sid sidloi3\n"})
	taglist := filepath.Join(t.TempDir(), "taglist.txt")
	require.NoError(t, os.WriteFile(taglist, []byte("# published\nsidloi3 2014\n\ncepc\n"), 0o644))

	ff := &fakeFetcher{files: map[string]string{cfg.TaglistURL: taglist}}
	bundle := fstest.MapFS{"sample/detector.properties": {Data: []byte("")}}
	r, err := New(cfg, WithFetcher(ff), WithBundle(bundle))
	require.NoError(t, err)

	names, err := r.DetectorNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"DetDir", "DetZip", "cepc", "sample", "sid", "sidloi3"}, names)
}
