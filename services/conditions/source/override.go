// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
	"github.com/AleutianAI/conditions/services/conditions/props"
)

// A detector may ask for its base source to be wrapped by naming a
// decorator under OverrideKey in its (OverrideItem, OverrideType) item.
const (
	OverrideItem = "detector"
	OverrideType = "properties"
	OverrideKey  = "ConditionsReader"
)

// RunRangeName is the override name that selects RunRangeSource.
const RunRangeName = "runrange"

// RunRangeItem is the item listing run ranges, relative to the detector root.
const RunRangeItem = "runs"

// OverrideFactory wraps base for the identity being resolved. The returned
// source owns base.
type OverrideFactory func(base Source, id Identity) (Source, error)

// Overrides maps override names to their factories.
type Overrides map[string]OverrideFactory

// DefaultOverrides returns the built-in override table.
func DefaultOverrides() Overrides {
	return Overrides{
		RunRangeName: func(base Source, id Identity) (Source, error) {
			return NewRunRangeSource(base, id.Run)
		},
	}
}

// ReadOverride returns the override name declared by base, or "" when the
// detector declares none.
func ReadOverride(base Source) (string, error) {
	rc, err := base.Open(OverrideItem, OverrideType)
	if err != nil {
		if errors.Is(err, conderr.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	defer rc.Close()

	values, err := props.Parse(rc)
	if err != nil {
		return "", conderr.New(conderr.ErrMalformed, "source.ReadOverride", OverrideItem, err)
	}
	return strings.TrimSpace(values[OverrideKey]), nil
}

// runRange maps runs [lo, hi] to a subdirectory. hi < 0 means open-ended.
type runRange struct {
	lo, hi int
	prefix string
}

func (r runRange) contains(run int) bool {
	return run >= r.lo && (r.hi < 0 || run <= r.hi)
}

// RunRangeSource decorates a base source with per-run subtrees.
//
// # Description
//
// The base source carries a "runs.properties" item whose keys are run
// ranges ("1-999", "1000-", "42") and whose values are subdirectory
// prefixes. Open looks for "<prefix>/<name>" first and falls back to the
// base item, so a run range only needs to hold the items that differ.
//
// Changing run within the same detector switches prefix in place and the
// source is retained.
type RunRangeSource struct {
	base   Source
	ranges []runRange
	prefix string
}

// NewRunRangeSource reads the run table from base and selects run.
func NewRunRangeSource(base Source, run int) (*RunRangeSource, error) {
	rc, err := base.Open(RunRangeItem, "properties")
	if err != nil {
		return nil, fmt.Errorf("run range table: %w", err)
	}
	defer rc.Close()

	values, err := props.Parse(rc)
	if err != nil {
		return nil, conderr.New(conderr.ErrMalformed, "source.NewRunRangeSource", RunRangeItem, err)
	}

	ranges := make([]runRange, 0, len(values))
	for key, prefix := range values {
		r, err := parseRunRange(key)
		if err != nil {
			return nil, conderr.New(conderr.ErrMalformed, "source.NewRunRangeSource", key, err)
		}
		r.prefix = strings.Trim(strings.TrimSpace(prefix), "/")
		ranges = append(ranges, r)
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].lo < ranges[j].lo })

	s := &RunRangeSource{base: base, ranges: ranges}
	s.selectRun(run)
	return s, nil
}

func parseRunRange(key string) (runRange, error) {
	key = strings.TrimSpace(key)
	lo, hi, ranged := strings.Cut(key, "-")
	l, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return runRange{}, fmt.Errorf("run range %q: %w", key, err)
	}
	if !ranged {
		return runRange{lo: l, hi: l}, nil
	}
	hi = strings.TrimSpace(hi)
	if hi == "" {
		return runRange{lo: l, hi: -1}, nil
	}
	h, err := strconv.Atoi(hi)
	if err != nil {
		return runRange{}, fmt.Errorf("run range %q: %w", key, err)
	}
	if h < l {
		return runRange{}, fmt.Errorf("run range %q is empty", key)
	}
	return runRange{lo: l, hi: h}, nil
}

func (s *RunRangeSource) selectRun(run int) {
	s.prefix = ""
	for _, r := range s.ranges {
		if r.contains(run) {
			s.prefix = r.prefix
			return
		}
	}
}

// Prefix returns the subdirectory selected for the current run, or "".
func (s *RunRangeSource) Prefix() string {
	return s.prefix
}

// Describe implements Describer.
func (s *RunRangeSource) Describe() string {
	return fmt.Sprintf("runrange(%s)[%s]", Describe(s.base), s.prefix)
}

// Open implements Source.
func (s *RunRangeSource) Open(name, typ string) (io.ReadCloser, error) {
	if s.prefix != "" {
		rc, err := s.base.Open(s.prefix+"/"+name, typ)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, conderr.ErrNotFound) {
			return nil, err
		}
	}
	return s.base.Open(name, typ)
}

// Update implements Source.
func (s *RunRangeSource) Update(ctx context.Context, current, next Identity) (UpdateResult, error) {
	res, err := s.base.Update(ctx, current, next)
	if err != nil || res == UpdateReplace {
		return res, err
	}
	s.selectRun(next.Run)
	return UpdateRetain, nil
}

// Close implements Source. Closes the base source.
func (s *RunRangeSource) Close() error {
	return s.base.Close()
}

var (
	_ Source    = (*RunRangeSource)(nil)
	_ Describer = (*RunRangeSource)(nil)
)
