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
	"bufio"
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
	"github.com/AleutianAI/conditions/services/conditions/props"
)

// DefaultRawType is the type assumed for raw items named without a suffix.
const DefaultRawType = "ini"

// SetType is the storage type of ConditionsSet items.
const SetType = "properties"

// childName scopes child under parent.
func childName(parent, child string) string {
	return strings.TrimSuffix(parent, "/") + "/" + strings.TrimPrefix(child, "/")
}

// splitType separates "ECal/compact.xml" into ("ECal/compact", "xml"). Only
// a '.' in the last path segment counts.
func splitType(name string) (base, typ string) {
	slash := strings.LastIndex(name, "/")
	dot := strings.LastIndex(name, ".")
	if dot <= slash+1 || dot == len(name)-1 {
		return name, DefaultRawType
	}
	return name[:dot], name[dot+1:]
}

// RawConditions is a handle on an item read as bytes.
//
// The handle is cheap and holds no stream; every Open goes back to the
// manager's active source, so a handle kept across an identity change reads
// the new detector's item.
type RawConditions struct {
	m    *Manager
	name string
	base string
	typ  string
}

// RawConditions returns a handle on item name. A name such as
// "ECal/compact.xml" is read with type "xml"; a name without a suffix in
// its last segment is read as DefaultRawType.
func (m *Manager) RawConditions(name string) (*RawConditions, error) {
	if err := m.checkName("Manager.RawConditions", name); err != nil {
		return nil, err
	}
	base, typ := splitType(name)
	return &RawConditions{m: m, name: name, base: base, typ: typ}, nil
}

// Name returns the item name as requested.
func (r *RawConditions) Name() string { return r.name }

// Type returns the storage type derived from the name.
func (r *RawConditions) Type() string { return r.typ }

// Open returns a fresh stream. The caller must close it.
func (r *RawConditions) Open() (io.ReadCloser, error) {
	if err := r.m.checkSet("RawConditions.Open", r.name); err != nil {
		return nil, err
	}
	return r.m.src.Open(r.base, r.typ)
}

// Reader returns a fresh buffered stream plus its closer.
func (r *RawConditions) Reader() (*bufio.Reader, io.Closer, error) {
	rc, err := r.Open()
	if err != nil {
		return nil, nil, err
	}
	return bufio.NewReader(rc), rc, nil
}

// Bytes reads the whole item.
func (r *RawConditions) Bytes() ([]byte, error) {
	rc, err := r.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Child returns the raw handle for r's name + "/" + name.
func (r *RawConditions) Child(name string) (*RawConditions, error) {
	return r.m.RawConditions(childName(r.name, name))
}

// ChildSet reads the typed set at r's name + "/" + name.
func (r *RawConditions) ChildSet(ctx context.Context, name string) (*ConditionsSet, error) {
	return r.m.Conditions(ctx, childName(r.name, name))
}

// ChildCached returns the cached conditions at r's name + "/" + name.
func (r *RawConditions) ChildCached(t reflect.Type, name string) (*CachedConditions, error) {
	return r.m.CachedConditions(t, childName(r.name, name))
}

// AddListener registers l with the owning manager.
func (r *RawConditions) AddListener(l Listener) { r.m.AddListener(l) }

// RemoveListener unregisters l from the owning manager.
func (r *RawConditions) RemoveListener(l Listener) { r.m.RemoveListener(l) }

// Conditions reads item name as a ConditionsSet.
//
// # Inputs
//
//   - ctx: Used for tracing only; reads are not cancellable.
//   - name: Item name without the ".properties" suffix.
//
// # Outputs
//
//   - *ConditionsSet: Immutable snapshot of the item.
//   - error: Kind conderr.ErrNotSet, conderr.ErrNotFound, or
//     conderr.ErrMalformed if the item is not valid properties text.
func (m *Manager) Conditions(ctx context.Context, name string) (*ConditionsSet, error) {
	const op = "Manager.Conditions"
	if err := m.checkName(op, name); err != nil {
		return nil, err
	}
	if err := m.checkSet(op, name); err != nil {
		return nil, err
	}

	_, span := startSpan(ctx, "Conditions", attribute.String("item", name))
	defer span.End()

	rc, err := m.src.Open(name, SetType)
	if err != nil {
		span.SetStatus(codes.Error, "open failed")
		return nil, err
	}
	defer rc.Close()

	values, err := props.Parse(rc)
	if err != nil {
		span.SetStatus(codes.Error, "parse failed")
		return nil, conderr.New(conderr.ErrMalformed, op, name, err)
	}
	return &ConditionsSet{m: m, name: name, values: values}, nil
}

// CachedConditions is a memoized converted item.
//
// The value is computed by the converter registered for its type on the
// first Data call and returned unchanged until the next identity change or
// until the converter for its type is replaced or removed.
type CachedConditions struct {
	m    *Manager
	name string
	typ  reflect.Type

	valid bool
	value any
}

// CachedConditions returns the memo entry for name, creating it on first
// use. The entry is shared: later calls with the same name return the same
// *CachedConditions.
//
// # Outputs
//
//   - error: Kind conderr.ErrConverterMissing when no converter is
//     registered for t, conderr.ErrTypeMismatch when the entry for name
//     exists with another type.
func (m *Manager) CachedConditions(t reflect.Type, name string) (*CachedConditions, error) {
	const op = "Manager.CachedConditions"
	if err := m.checkName(op, name); err != nil {
		return nil, err
	}
	if _, ok := m.registry.Lookup(t); !ok {
		return nil, conderr.Newf(conderr.ErrConverterMissing, op, name, "%v", t)
	}
	if c, ok := m.memo[name]; ok {
		if c.typ != t {
			return nil, conderr.Newf(conderr.ErrTypeMismatch, op, name,
				"cached as %v, requested %v", c.typ, t)
		}
		return c, nil
	}
	c := &CachedConditions{m: m, name: name, typ: t}
	m.memo[name] = c
	return c, nil
}

// Name returns the item name.
func (c *CachedConditions) Name() string { return c.name }

// Type returns the converted type.
func (c *CachedConditions) Type() reflect.Type { return c.typ }

// Valid reports whether a value is memoized.
func (c *CachedConditions) Valid() bool { return c.valid }

// Data returns the memoized value, converting on a miss with the converter
// currently registered for the entry's type. Conversion errors are returned
// and not memoized; a converter removed since the entry was created is
// conderr.ErrConverterMissing.
func (c *CachedConditions) Data(ctx context.Context) (any, error) {
	if err := c.m.checkSet("CachedConditions.Data", c.name); err != nil {
		return nil, err
	}
	if c.valid {
		recordMemo(true)
		return c.value, nil
	}
	recordMemo(false)

	conv, ok := c.m.registry.Lookup(c.typ)
	if !ok {
		return nil, conderr.Newf(conderr.ErrConverterMissing, "CachedConditions.Data", c.name, "%v", c.typ)
	}
	typeName := c.typ.String()
	ctx, span := startSpan(ctx, "Convert",
		attribute.String("item", c.name),
		attribute.String("type", typeName),
	)
	defer span.End()

	start := time.Now()
	v, err := conv.Convert(ctx, c.m, c.name)
	recordConvert(ctx, typeName, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "convert failed")
		return nil, fmt.Errorf("convert %s to %s: %w", c.name, typeName, err)
	}
	c.value, c.valid = v, true
	return v, nil
}

// ConditionsChanged implements Listener by dropping the memoized value.
func (c *CachedConditions) ConditionsChanged(ChangeEvent) error {
	c.reset()
	return nil
}

func (c *CachedConditions) reset() {
	c.value, c.valid = nil, false
}

// Child returns the cached conditions at c's name + "/" + name.
func (c *CachedConditions) Child(t reflect.Type, name string) (*CachedConditions, error) {
	return c.m.CachedConditions(t, childName(c.name, name))
}

// ChildSet reads the typed set at c's name + "/" + name.
func (c *CachedConditions) ChildSet(ctx context.Context, name string) (*ConditionsSet, error) {
	return c.m.Conditions(ctx, childName(c.name, name))
}

// ChildRaw returns the raw handle at c's name + "/" + name.
func (c *CachedConditions) ChildRaw(name string) (*RawConditions, error) {
	return c.m.RawConditions(childName(c.name, name))
}

// AddListener registers l with the owning manager.
func (c *CachedConditions) AddListener(l Listener) { c.m.AddListener(l) }

// RemoveListener unregisters l from the owning manager.
func (c *CachedConditions) RemoveListener(l Listener) { c.m.RemoveListener(l) }

// TypedCached is a CachedConditions whose value is known to be a T.
type TypedCached[T any] struct {
	*CachedConditions
}

// Cached returns the typed memo entry for name.
func Cached[T any](m *Manager, name string) (*TypedCached[T], error) {
	c, err := m.CachedConditions(typeOf[T](), name)
	if err != nil {
		return nil, err
	}
	return &TypedCached[T]{CachedConditions: c}, nil
}

// Data returns the memoized T.
func (c *TypedCached[T]) Data(ctx context.Context) (T, error) {
	var zero T
	v, err := c.CachedConditions.Data(ctx)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, conderr.Newf(conderr.ErrTypeMismatch, "CachedConditions.Data", c.name,
			"converter returned %T", v)
	}
	return t, nil
}
