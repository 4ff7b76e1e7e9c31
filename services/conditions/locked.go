// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conditions

import (
	"context"
	"sync"
)

// Locked serializes access to a Manager with one mutex.
//
// # Description
//
// The Manager itself is single-goroutine. Locked lets several goroutines
// share one by running each unit of work under the lock. Views obtained
// inside Do must not escape it: they read through the manager and would
// race with the next identity change.
//
// # Thread Safety
//
// Safe for concurrent use. Do is not reentrant.
type Locked struct {
	mu sync.Mutex
	m  *Manager
}

// NewLocked wraps m. m must not be used directly afterwards.
func NewLocked(m *Manager) *Locked {
	return &Locked{m: m}
}

// Do runs fn with exclusive access to the manager.
func (l *Locked) Do(fn func(m *Manager) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(l.m)
}

// With sets (detector, run) and runs fn as one atomic step.
func (l *Locked) With(ctx context.Context, detector string, run int, fn func(m *Manager) error) error {
	return l.Do(func(m *Manager) error {
		if err := m.SetDetector(ctx, detector, run); err != nil {
			return err
		}
		return fn(m)
	})
}

// Close closes the wrapped manager.
func (l *Locked) Close() error {
	return l.Do(func(m *Manager) error { return m.Close() })
}
