// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conditions

import (
	"context"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
)

// ValueType is the advisory type of a ConditionsSet value.
type ValueType int

const (
	ValueString ValueType = iota
	ValueInt
	ValueFloat
)

// String returns "string", "int" or "float".
func (t ValueType) String() string {
	switch t {
	case ValueInt:
		return "int"
	case ValueFloat:
		return "float"
	default:
		return "string"
	}
}

// ConditionsSet is an immutable snapshot of a properties item.
//
// Required getters fail with conderr.ErrNotFound for an absent key. The
// ...Or getters return their default only for an absent key; a present
// value that does not parse fails with conderr.ErrMalformed either way.
type ConditionsSet struct {
	m      *Manager
	name   string
	values map[string]string
}

// Name returns the item name.
func (s *ConditionsSet) Name() string { return s.name }

// Size returns the number of keys.
func (s *ConditionsSet) Size() int { return len(s.values) }

// Has reports whether key is present.
func (s *ConditionsSet) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns the keys in sorted order.
func (s *ConditionsSet) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the key/value pairs.
func (s *ConditionsSet) Map() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *ConditionsSet) lookup(op, key string) (string, error) {
	v, ok := s.values[key]
	if !ok {
		return "", conderr.Newf(conderr.ErrNotFound, op, key, "missing value for %s in %s", key, s.name)
	}
	return v, nil
}

func (s *ConditionsSet) malformed(op, key, v, want string) error {
	return conderr.Newf(conderr.ErrMalformed, op, key, "%q in %s is not %s", v, s.name, want)
}

// String returns the value of key.
func (s *ConditionsSet) String(key string) (string, error) {
	return s.lookup("ConditionsSet.String", key)
}

// StringOr returns the value of key, or def when absent.
func (s *ConditionsSet) StringOr(key, def string) string {
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// Int returns key parsed as a decimal integer.
func (s *ConditionsSet) Int(key string) (int, error) {
	const op = "ConditionsSet.Int"
	v, err := s.lookup(op, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, s.malformed(op, key, v, "an integer")
	}
	return n, nil
}

// IntOr is Int with a default for an absent key.
func (s *ConditionsSet) IntOr(key string, def int) (int, error) {
	if !s.Has(key) {
		return def, nil
	}
	return s.Int(key)
}

// Double returns key parsed as a float.
func (s *ConditionsSet) Double(key string) (float64, error) {
	const op = "ConditionsSet.Double"
	v, err := s.lookup(op, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, s.malformed(op, key, v, "a number")
	}
	return f, nil
}

// DoubleOr is Double with a default for an absent key.
func (s *ConditionsSet) DoubleOr(key string, def float64) (float64, error) {
	if !s.Has(key) {
		return def, nil
	}
	return s.Double(key)
}

// Bool returns key parsed as a boolean ("true", "false", "1", "0", ...).
func (s *ConditionsSet) Bool(key string) (bool, error) {
	const op = "ConditionsSet.Bool"
	v, err := s.lookup(op, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
	if err != nil {
		return false, s.malformed(op, key, v, "a boolean")
	}
	return b, nil
}

// BoolOr is Bool with a default for an absent key.
func (s *ConditionsSet) BoolOr(key string, def bool) (bool, error) {
	if !s.Has(key) {
		return def, nil
	}
	return s.Bool(key)
}

// DoubleArray parses a comma-separated list of numbers. Any malformed
// element fails the whole call. An empty value yields an empty slice.
func (s *ConditionsSet) DoubleArray(key string) ([]float64, error) {
	const op = "ConditionsSet.DoubleArray"
	v, err := s.lookup(op, key)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(v) == "" {
		return []float64{}, nil
	}
	parts := strings.Split(v, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, conderr.Newf(conderr.ErrMalformed, op, key,
				"element %d %q in %s is not a number", i, p, s.name)
		}
		out[i] = f
	}
	return out, nil
}

// Type guesses the type of key: int if it parses as an integer, float if
// it parses as a number, otherwise string.
func (s *ConditionsSet) Type(key string) (ValueType, error) {
	v, err := s.lookup("ConditionsSet.Type", key)
	if err != nil {
		return ValueString, err
	}
	v = strings.TrimSpace(v)
	if _, err := strconv.Atoi(v); err == nil {
		return ValueInt, nil
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return ValueFloat, nil
	}
	return ValueString, nil
}

// Child reads the set at s's name + "/" + name.
func (s *ConditionsSet) Child(ctx context.Context, name string) (*ConditionsSet, error) {
	return s.m.Conditions(ctx, childName(s.name, name))
}

// ChildRaw returns the raw handle at s's name + "/" + name.
func (s *ConditionsSet) ChildRaw(name string) (*RawConditions, error) {
	return s.m.RawConditions(childName(s.name, name))
}

// ChildCached returns the cached conditions at s's name + "/" + name.
func (s *ConditionsSet) ChildCached(t reflect.Type, name string) (*CachedConditions, error) {
	return s.m.CachedConditions(t, childName(s.name, name))
}

// AddListener registers l with the owning manager.
func (s *ConditionsSet) AddListener(l Listener) { s.m.AddListener(l) }

// RemoveListener unregisters l from the owning manager.
func (s *ConditionsSet) RemoveListener(l Listener) { s.m.RemoveListener(l) }
