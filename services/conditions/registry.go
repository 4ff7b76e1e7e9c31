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
	"reflect"
	"sort"
)

// Converter turns a named conditions item into a typed value.
//
// A converter usually reads one or more ConditionsSet or RawConditions
// through the manager it is given. Its result is memoized by the manager
// until the next identity change.
type Converter interface {
	// Type is the type of the values Convert returns.
	Type() reflect.Type

	// Convert builds the value for item name.
	Convert(ctx context.Context, m *Manager, name string) (any, error)
}

// ConvertFunc is the typed signature accepted by NewConverter.
type ConvertFunc[T any] func(ctx context.Context, m *Manager, name string) (T, error)

type funcConverter[T any] struct {
	fn ConvertFunc[T]
}

func (c funcConverter[T]) Type() reflect.Type {
	return typeOf[T]()
}

func (c funcConverter[T]) Convert(ctx context.Context, m *Manager, name string) (any, error) {
	v, err := c.fn(ctx, m, name)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// NewConverter adapts fn to a Converter for T.
func NewConverter[T any](fn ConvertFunc[T]) Converter {
	return funcConverter[T]{fn: fn}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// ConverterRegistry maps a result type to its converter. At most one
// converter is registered per type; registering again replaces it.
//
// Not synchronized; owned by a Manager.
type ConverterRegistry struct {
	byType map[reflect.Type]Converter
}

// NewConverterRegistry returns an empty registry.
func NewConverterRegistry() *ConverterRegistry {
	return &ConverterRegistry{byType: make(map[reflect.Type]Converter)}
}

// Register adds c, replacing any converter for the same type.
func (r *ConverterRegistry) Register(c Converter) {
	r.byType[c.Type()] = c
}

// Remove drops the converter for t, if any.
func (r *ConverterRegistry) Remove(t reflect.Type) {
	delete(r.byType, t)
}

// Lookup returns the converter for t.
func (r *ConverterRegistry) Lookup(t reflect.Type) (Converter, bool) {
	c, ok := r.byType[t]
	return c, ok
}

// Types lists the registered types by name.
func (r *ConverterRegistry) Types() []reflect.Type {
	out := make([]reflect.Type, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
