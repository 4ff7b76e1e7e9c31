// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"bufio"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// DetectorNames lists every detector the resolver can name: aliases,
// bundled detectors, local zips and directories, and the remote taglist.
// An unreachable taglist is logged and skipped.
func (r *Resolver) DetectorNames(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	add := func(n string) {
		if n = strings.TrimSpace(n); n != "" {
			seen[n] = struct{}{}
		}
	}

	for _, n := range r.aliases.Names() {
		add(n)
	}

	if r.bundle != nil {
		entries, err := fs.ReadDir(r.bundle, ".")
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				add(e.Name())
			}
		}
	}

	if r.detectorsDir != "" {
		entries, err := os.ReadDir(r.detectorsDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		for _, e := range entries {
			switch {
			case e.IsDir():
				add(e.Name())
			case strings.HasSuffix(e.Name(), ".zip"):
				add(strings.TrimSuffix(e.Name(), ".zip"))
			}
		}
	}

	if r.taglistURL != "" && r.fetcher != nil {
		names, err := r.taglist(ctx)
		if err != nil {
			r.logger.Warn("detector taglist unavailable",
				slog.String("url", r.taglistURL),
				slog.String("error", err.Error()),
			)
		}
		for _, n := range names {
			add(n)
		}
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// taglist reads one detector name per line, ignoring blanks and '#' lines.
func (r *Resolver) taglist(ctx context.Context) ([]string, error) {
	path, err := r.fetcher.Fetch(ctx, r.taglistURL, nil)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, strings.Fields(line)[0])
	}
	return names, sc.Err()
}
