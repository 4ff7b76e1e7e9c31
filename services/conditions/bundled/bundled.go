// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bundled embeds detectors shipped inside the binary.
//
// Each top-level directory of FS is one detector, laid out exactly like a
// directory under <cacheRoot>/detectors.
package bundled

import (
	"embed"
	"io/fs"
)

//go:embed detectors
var files embed.FS

// Sample is the name of the bundled demonstration detector.
const Sample = "sample"

// FS returns the bundled detectors rooted at their parent directory.
func FS() fs.FS {
	sub, err := fs.Sub(files, "detectors")
	if err != nil {
		panic(err)
	}
	return sub
}
