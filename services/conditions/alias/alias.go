// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alias maps detector names to other detector names or locations.
//
// The alias table is a properties file in the cache root. A value may be
// another detector name (resolved again) or a URL. Resolution repeats until
// the name is no longer an alias, bounded by MaxDepth.
package alias

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
	"github.com/AleutianAI/conditions/services/conditions/props"
)

// MaxDepth bounds alias substitution.
const MaxDepth = 100

// Table is an in-memory alias table. Not safe for concurrent mutation.
type Table struct {
	entries map[string]string
}

// New returns a table holding a copy of entries.
func New(entries map[string]string) *Table {
	t := &Table{entries: make(map[string]string, len(entries))}
	for k, v := range entries {
		t.entries[k] = v
	}
	return t
}

// Load reads the alias file at path. A missing file yields an empty table.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(nil), nil
		}
		return nil, fmt.Errorf("open alias file: %w", err)
	}
	defer f.Close()

	entries, err := props.Parse(f)
	if err != nil {
		return nil, conderr.New(conderr.ErrMalformed, "alias.Load", path, err)
	}
	return &Table{entries: entries}, nil
}

// Resolve substitutes name until it is no longer an alias.
//
// # Outputs
//
//   - string: The final name, which may be a URL.
//   - error: Kind conderr.ErrAliasCycle when more than MaxDepth
//     substitutions were needed.
func (t *Table) Resolve(name string) (string, error) {
	cur := name
	for i := 0; ; i++ {
		next, ok := t.entries[cur]
		if !ok || next == cur {
			return cur, nil
		}
		if i >= MaxDepth {
			return "", conderr.Newf(conderr.ErrAliasCycle, "alias.Resolve", name,
				"Recursive name translation after %d steps", MaxDepth)
		}
		cur = next
	}
}

// Lookup returns the direct target of name, if any.
func (t *Table) Lookup(name string) (string, bool) {
	v, ok := t.entries[name]
	return v, ok
}

// Add binds alias to target in memory.
func (t *Table) Add(alias, target string) error {
	alias, target = strings.TrimSpace(alias), strings.TrimSpace(target)
	if alias == "" || target == "" {
		return conderr.Newf(conderr.ErrInvalidName, "alias.Add", alias, "alias and target must be non-empty")
	}
	t.entries[alias] = target
	return nil
}

// Names returns the alias keys in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for k := range t.entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of aliases.
func (t *Table) Len() int {
	return len(t.entries)
}

// AppendFile appends "alias target" to the alias file at path, creating the
// file and its directory as needed.
func AppendFile(path, alias, target string) error {
	if strings.TrimSpace(alias) == "" || strings.TrimSpace(target) == "" {
		return conderr.Newf(conderr.ErrInvalidName, "alias.AppendFile", alias, "alias and target must be non-empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create alias directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open alias file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s %s\n", escape(alias), escape(target)); err != nil {
		f.Close()
		return fmt.Errorf("write alias file: %w", err)
	}
	return f.Close()
}

// escape protects the separators the properties format treats specially.
func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, " ", `\ `, "=", `\=`, ":", `\:`)
	return r.Replace(s)
}
