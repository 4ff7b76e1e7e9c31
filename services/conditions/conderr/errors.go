// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conderr defines the error kinds shared by the conditions packages.
//
// Every failure surfaced by the conditions subsystem carries exactly one kind.
// Callers branch on the kind with errors.Is and extract context with errors.As:
//
//	set, err := mgr.Conditions(ctx, "ECal/Sampling")
//	if errors.Is(err, conderr.ErrNotFound) {
//	    // item does not exist for this detector
//	}
//
//	var cerr *conderr.Error
//	if errors.As(err, &cerr) {
//	    log.Printf("op=%s name=%s", cerr.Op, cerr.Name)
//	}
//
// # Kinds
//
//   - ErrNotFound: a detector or item could not be located by any backend
//   - ErrMalformed: a present value could not be parsed as the requested type
//   - ErrAliasCycle: alias substitution did not reach a fixed point
//   - ErrConverterMissing: no converter registered for the requested type
//   - ErrBackendIntegrity: a fetched archive failed validation
//   - ErrNotSet: data was requested before any detector was set
//   - ErrIncompatible: a source cannot serve the requested identity
//   - ErrInvalidName: an item or detector name was empty
//   - ErrTypeMismatch: a memoized entry was requested under a different type
package conderr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Compare with errors.Is.
var (
	// ErrNotFound is returned when a detector or a named item cannot be found.
	ErrNotFound = errors.New("not found")

	// ErrMalformed is returned when a present value cannot be parsed.
	// A malformed value is never treated as missing.
	ErrMalformed = errors.New("malformed value")

	// ErrAliasCycle is returned when alias resolution exceeds its bound.
	ErrAliasCycle = errors.New("recursive alias")

	// ErrConverterMissing is returned when no converter is registered for a type.
	ErrConverterMissing = errors.New("no converter registered for type")

	// ErrBackendIntegrity is returned when a downloaded archive fails validation.
	ErrBackendIntegrity = errors.New("backend integrity check failed")

	// ErrNotSet is returned when data is requested before a detector is set.
	ErrNotSet = errors.New("detector description has not been set")

	// ErrIncompatible is returned by Source.Update when the source cannot
	// serve the requested detector/run and must be re-resolved.
	ErrIncompatible = errors.New("source not acceptable for detector")

	// ErrInvalidName is returned for empty item or detector names.
	ErrInvalidName = errors.New("invalid name")

	// ErrTypeMismatch is returned when a cached entry is requested with a
	// type other than the one it was created for.
	ErrTypeMismatch = errors.New("cached conditions type mismatch")
)

// Error carries a kind plus the operation and name that produced it.
//
// Thread Safety: Error is immutable after creation.
type Error struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// Op is the operation that failed, e.g. "Manager.SetDetector".
	Op string

	// Name is the detector, item, or key involved. May be empty.
	Name string

	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op
	if e.Name != "" {
		msg += " " + e.Name
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause for errors.Is/As traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

var _ error = (*Error)(nil)

// New creates an Error of the given kind.
func New(kind error, op, name string, err error) *Error {
	return &Error{Kind: kind, Op: op, Name: name, Err: err}
}

// Newf creates an Error of the given kind with a formatted cause.
func Newf(kind error, op, name, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Name: name, Err: fmt.Errorf(format, args...)}
}

var kinds = []error{
	ErrNotFound,
	ErrMalformed,
	ErrAliasCycle,
	ErrConverterMissing,
	ErrBackendIntegrity,
	ErrNotSet,
	ErrIncompatible,
	ErrInvalidName,
	ErrTypeMismatch,
}

// KindOf returns the first kind found in err's chain, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
