// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package props

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	text := `# calorimeter sampling
detectorName = sidloi3
layerMapping=1.0, 2.0,3.5
! alternate comment
timeCut: 100
path=$HOME/cond
`
	got, err := Parse(strings.NewReader(text))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"detectorName": "sidloi3",
		"layerMapping": "1.0, 2.0,3.5",
		"timeCut":      "100",
		"path":         "$HOME/cond",
	}, got)
}

func TestParseBytes_Empty(t *testing.T) {
	got, err := ParseBytes(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
