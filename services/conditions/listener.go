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
	"reflect"

	"github.com/google/uuid"

	"github.com/AleutianAI/conditions/services/conditions/source"
)

// ChangeEvent describes a committed identity change.
type ChangeEvent struct {
	// ID is unique per broadcast.
	ID uuid.UUID

	// Manager is the manager whose identity changed.
	Manager *Manager

	// Previous is the identity before the change. Zero on the first set.
	Previous source.Identity

	// Current is the identity now in effect.
	Current source.Identity
}

// Listener is notified after every committed identity change.
//
// Listeners are compared with == on removal, so only comparable
// implementations can be removed. Pointer receivers are the usual choice;
// use OnChange for plain funcs.
type Listener interface {
	ConditionsChanged(ev ChangeEvent) error
}

type funcListener struct {
	fn func(ChangeEvent) error
}

func (l *funcListener) ConditionsChanged(ev ChangeEvent) error {
	return l.fn(ev)
}

// OnChange wraps fn as a Listener. Keep the returned value to remove it.
func OnChange(fn func(ChangeEvent) error) Listener {
	return &funcListener{fn: fn}
}

// AddListener appends l to the notification list. Adding the same listener
// twice registers it twice.
func (m *Manager) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// RemoveListener removes the first registration of l. Unknown listeners
// are ignored, as are listeners whose dynamic type is not comparable.
func (m *Manager) RemoveListener(l Listener) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return
	}
	for i, x := range m.listeners {
		if x == nil || !reflect.TypeOf(x).Comparable() {
			continue
		}
		if x == l {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of registered listeners.
func (m *Manager) Listeners() int {
	return len(m.listeners)
}
