// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conditions serves detector calibration and geometry data scoped
// to a (detector, run) identity.
//
// # Overview
//
// A Manager is told which detector and run are being processed. It asks a
// Resolver for the Source holding that detector's items and exposes them
// through three views:
//
//   - RawConditions: the item as a byte stream
//   - ConditionsSet: a properties item with typed getters
//   - CachedConditions: the item converted to a Go value by a registered
//     Converter and memoized until the identity changes
//
// # Usage
//
//	res, err := resolver.New(cfg, resolver.WithFetcher(fc))
//	if err != nil {
//	    return err
//	}
//	m := conditions.NewManager(res, conditions.WithLogger(logger))
//	defer m.Close()
//
//	if err := m.SetDetector(ctx, "sidloi3", 0); err != nil {
//	    return err
//	}
//	set, err := m.Conditions(ctx, "ECal/Sampling")
//	if err != nil {
//	    return err
//	}
//	frac, err := set.Double("samplingFraction")
//
// # Invalidation
//
// Every committed identity change clears all memoized conversions first and
// then notifies listeners in the order they were added. Values are never
// served across an identity change.
//
// # Thread Safety
//
// Manager and its views are used from one goroutine. Locked provides a
// coarse mutex for servers that share a manager.
package conditions
