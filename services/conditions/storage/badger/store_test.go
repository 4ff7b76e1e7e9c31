// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	File string    `json:"file"`
	ETag string    `json:"etag"`
	At   time.Time `json:"at"`
}

// TestStore_InMemory verifies put, get, keys and delete.
func TestStore_InMemory(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, "url/a", record{File: "a.zip", ETag: `"1"`, At: at}))
	require.NoError(t, s.Put(ctx, "url/b", record{File: "b.zip"}))
	require.NoError(t, s.Put(ctx, "other", record{}))

	var got record
	require.NoError(t, s.Get(ctx, "url/a", &got))
	assert.Equal(t, record{File: "a.zip", ETag: `"1"`, At: at}, got)

	keys, err := s.Keys(ctx, "url/")
	require.NoError(t, err)
	assert.Equal(t, []string{"url/a", "url/b"}, keys)

	require.NoError(t, s.Delete(ctx, "url/a"))
	assert.ErrorIs(t, s.Get(ctx, "url/a", &got), ErrNoRecord)
	require.NoError(t, s.Delete(ctx, "never"))
}

// TestStore_Persistent verifies records survive reopening.
func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "k", record{File: "x"}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	var got record
	require.NoError(t, s2.Get(context.Background(), "k", &got))
	assert.Equal(t, "x", got.File)
}

func TestStore_Errors(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)

	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Put(ctx, "k", record{}), context.Canceled)
}
