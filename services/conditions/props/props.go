// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package props parses flat key/value conditions text.
//
// Conditions items, the alias file, and detector.properties all use the
// Java properties format: "key=value" or "key: value" lines, '#' and '!'
// comments, backslash line continuations. Values are returned verbatim;
// ${...} expansion is disabled because detector files routinely contain
// literal dollar signs.
package props

import (
	"fmt"
	"io"

	"github.com/magiconair/properties"
)

// Parse reads r to the end and parses it as properties text.
func Parse(r io.Reader) (map[string]string, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}
	return ParseBytes(buf)
}

// ParseBytes parses buf as properties text.
func ParseBytes(buf []byte) (map[string]string, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("parse properties: %w", err)
	}
	return p.Map(), nil
}
