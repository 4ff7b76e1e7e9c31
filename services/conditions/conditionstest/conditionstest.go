// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conditionstest builds isolated conditions managers for tests.
package conditionstest

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/conditions/services/conditions"
	"github.com/AleutianAI/conditions/services/conditions/config"
	"github.com/AleutianAI/conditions/services/conditions/resolver"
)

// Config returns a configuration rooted in a fresh temporary directory with
// remote fetching disabled.
func Config(t testing.TB) config.Config {
	t.Helper()
	return config.Config{
		CacheRoot: t.TempDir(),
		AliasFile: "alias.properties",
		Log:       config.LogConfig{Level: "error"},
	}
}

// WriteDetectors writes files below <cacheRoot>/detectors. Keys are
// slash-separated paths such as "DetX/foo.properties".
func WriteDetectors(t testing.TB, cfg config.Config, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(cfg.DetectorsDir(), filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewManager returns a manager over a temporary cache holding files. The
// manager is closed when the test ends.
func NewManager(t testing.TB, files map[string]string, opts ...resolver.Option) *conditions.Manager {
	t.Helper()
	cfg := Config(t)
	WriteDetectors(t, cfg, files)

	opts = append([]resolver.Option{resolver.WithLogger(Logger())}, opts...)
	r, err := resolver.New(cfg, opts...)
	require.NoError(t, err)

	m := conditions.NewManager(r, conditions.WithLogger(Logger()))
	t.Cleanup(func() { m.Close() })
	return m
}
