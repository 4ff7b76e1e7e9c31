// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conditions_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/conditions/services/conditions"
	"github.com/AleutianAI/conditions/services/conditions/conditionstest"
	"github.com/AleutianAI/conditions/services/conditions/conderr"
)

const calorimeter = `# ECal sampling
layers = 30
samplingFraction = 0.0175
weights = 1.0, 2.5 ,3
badWeights = 1.0,x,3
emptyList =
enabled = TRUE
name = ECalBarrel
count = twelve
`

func newSetManager(t *testing.T) *conditions.Manager {
	t.Helper()
	m := conditionstest.NewManager(t, map[string]string{
		"DetX/ECal/Sampling.properties": calorimeter,
		"DetX/ECal/Layers/L0.properties": "thickness=3.5\n",
		"DetX/ECal/compact.xml":          "<lcdd/>",
		"DetX/ECal/notes.ini":            "[section]\n",
		"DetX/broken.properties":         "key=\\u12",
	})
	require.NoError(t, m.SetDetector(context.Background(), "DetX", 0))
	return m
}

func TestConditionsSet_Getters(t *testing.T) {
	m := newSetManager(t)
	set, err := m.Conditions(context.Background(), "ECal/Sampling")
	require.NoError(t, err)

	n, err := set.Int("layers")
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	f, err := set.Double("samplingFraction")
	require.NoError(t, err)
	assert.InDelta(t, 0.0175, f, 1e-12)

	b, err := set.Bool("enabled")
	require.NoError(t, err)
	assert.True(t, b)

	s, err := set.String("name")
	require.NoError(t, err)
	assert.Equal(t, "ECalBarrel", s)

	arr, err := set.DoubleArray("weights")
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0, 2.5, 3}, arr)

	arr, err = set.DoubleArray("emptyList")
	require.NoError(t, err)
	assert.Empty(t, arr)

	assert.Equal(t, 8, set.Size())
	assert.True(t, set.Has("layers"))
	assert.Equal(t, "badWeights", set.Keys()[0])
}

// TestConditionsSet_MissingAndDefaults verifies that a default is used only
// for an absent key and that a malformed value always fails.
func TestConditionsSet_MissingAndDefaults(t *testing.T) {
	m := newSetManager(t)
	set, err := m.Conditions(context.Background(), "ECal/Sampling")
	require.NoError(t, err)

	_, err = set.Int("absent")
	assert.ErrorIs(t, err, conderr.ErrNotFound)
	_, err = set.Double("absent")
	assert.ErrorIs(t, err, conderr.ErrNotFound)
	_, err = set.String("absent")
	assert.ErrorIs(t, err, conderr.ErrNotFound)

	n, err := set.IntOr("absent", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	f, err := set.DoubleOr("absent", 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)
	b, err := set.BoolOr("absent", true)
	require.NoError(t, err)
	assert.True(t, b)
	assert.Equal(t, "dflt", set.StringOr("absent", "dflt"))

	_, err = set.IntOr("count", 5)
	assert.ErrorIs(t, err, conderr.ErrMalformed)
	_, err = set.DoubleOr("name", 1.5)
	assert.ErrorIs(t, err, conderr.ErrMalformed)
	_, err = set.BoolOr("name", false)
	assert.ErrorIs(t, err, conderr.ErrMalformed)
	_, err = set.DoubleArray("badWeights")
	assert.ErrorIs(t, err, conderr.ErrMalformed)

	n, err = set.IntOr("layers", 5)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
}

func TestConditionsSet_Type(t *testing.T) {
	m := newSetManager(t)
	set, err := m.Conditions(context.Background(), "ECal/Sampling")
	require.NoError(t, err)

	tests := map[string]conditions.ValueType{
		"layers":           conditions.ValueInt,
		"samplingFraction": conditions.ValueFloat,
		"name":             conditions.ValueString,
		"weights":          conditions.ValueString,
	}
	for key, want := range tests {
		got, err := set.Type(key)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}
	_, err = set.Type("absent")
	assert.ErrorIs(t, err, conderr.ErrNotFound)
	assert.Equal(t, "float", conditions.ValueFloat.String())
}

func TestConditions_ItemErrors(t *testing.T) {
	m := newSetManager(t)
	ctx := context.Background()

	_, err := m.Conditions(ctx, "HCal/Sampling")
	assert.ErrorIs(t, err, conderr.ErrNotFound)

	_, err = m.Conditions(ctx, "broken")
	assert.ErrorIs(t, err, conderr.ErrMalformed)
}

// TestChildScoping verifies child names concatenate with "/" across views.
func TestChildScoping(t *testing.T) {
	m := newSetManager(t)
	ctx := context.Background()

	set, err := m.Conditions(ctx, "ECal/Sampling")
	require.NoError(t, err)
	_, err = set.Child(ctx, "nothing")
	assert.ErrorIs(t, err, conderr.ErrNotFound)

	raw, err := m.RawConditions("ECal")
	require.NoError(t, err)
	layer, err := raw.ChildSet(ctx, "Layers/L0")
	require.NoError(t, err)
	assert.Equal(t, "ECal/Layers/L0", layer.Name())

	child, err := raw.Child("compact.xml")
	require.NoError(t, err)
	assert.Equal(t, "ECal/compact.xml", child.Name())
	assert.Equal(t, "xml", child.Type())
}

func TestRawConditions(t *testing.T) {
	m := newSetManager(t)

	raw, err := m.RawConditions("ECal/compact.xml")
	require.NoError(t, err)
	body, err := raw.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "<lcdd/>", string(body))

	ini, err := m.RawConditions("ECal/notes")
	require.NoError(t, err)
	assert.Equal(t, conditions.DefaultRawType, ini.Type())
	r, closer, err := ini.Reader()
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "[section]\n", line)
	require.NoError(t, closer.Close())

	// Each Open is a fresh stream.
	rc1, err := raw.Open()
	require.NoError(t, err)
	rc2, err := raw.Open()
	require.NoError(t, err)
	b1, _ := io.ReadAll(rc1)
	b2, _ := io.ReadAll(rc2)
	assert.Equal(t, b1, b2)
	rc1.Close()
	rc2.Close()

	missing, err := m.RawConditions("ECal/nothing.xml")
	require.NoError(t, err)
	_, err = missing.Open()
	assert.ErrorIs(t, err, conderr.ErrNotFound)

	_, err = m.RawConditions("  ")
	assert.ErrorIs(t, err, conderr.ErrInvalidName)
}

func TestViews_DelegateListeners(t *testing.T) {
	m := newSetManager(t)
	set, err := m.Conditions(context.Background(), "ECal/Sampling")
	require.NoError(t, err)

	l := conditions.OnChange(func(conditions.ChangeEvent) error { return nil })
	set.AddListener(l)
	assert.Equal(t, 1, m.Listeners())
	set.RemoveListener(l)
	assert.Equal(t, 0, m.Listeners())
}
