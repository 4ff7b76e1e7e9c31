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
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
	"github.com/AleutianAI/conditions/services/conditions/source"
)

// Resolver locates the Source for a detector.
//
// current is the identity the manager holds now (zero if unset), next the
// identity being resolved. The resolver owns nothing after returning; the
// caller closes the Source.
type Resolver interface {
	Resolve(ctx context.Context, current, next source.Identity) (source.Source, error)
}

// DetectorLister is implemented by resolvers that can enumerate detectors.
type DetectorLister interface {
	DetectorNames(ctx context.Context) ([]string, error)
}

// Manager is the entry point to detector conditions.
//
// # Description
//
// A Manager holds the current (detector, run) identity and the Source that
// serves it. It hands out views over named items: RawConditions for byte
// streams, ConditionsSet for typed key/value access and CachedConditions
// for converted values memoized until the next identity change.
//
// # Thread Safety
//
// Manager is not synchronized. All calls, including listener callbacks,
// happen on the goroutine that owns it. Wrap it in Locked to share it.
type Manager struct {
	resolver Resolver
	registry *ConverterRegistry
	logger   *slog.Logger

	id  source.Identity
	src source.Source

	memo      map[string]*CachedConditions
	listeners []Listener
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRegistry shares a converter registry between managers.
func WithRegistry(r *ConverterRegistry) Option {
	return func(m *Manager) { m.registry = r }
}

// NewManager creates an unset manager that resolves detectors with r.
func NewManager(r Resolver, opts ...Option) *Manager {
	m := &Manager{
		resolver: r,
		registry: NewConverterRegistry(),
		logger:   slog.Default(),
		memo:     make(map[string]*CachedConditions),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Identity returns the current identity. Zero if unset.
func (m *Manager) Identity() source.Identity { return m.id }

// Detector returns the current detector name, or "".
func (m *Manager) Detector() string { return m.id.Detector }

// Run returns the current run number.
func (m *Manager) Run() int { return m.id.Run }

// IsSet reports whether a detector has been set.
func (m *Manager) IsSet() bool { return m.src != nil }

// Registry returns the converter registry.
func (m *Manager) Registry() *ConverterRegistry { return m.registry }

// RegisterConverter registers c, replacing any converter for its type.
// Values memoized for that type are dropped so the next Data call uses c.
func (m *Manager) RegisterConverter(c Converter) {
	m.registry.Register(c)
	m.resetType(c.Type())
}

// RemoveConverter unregisters the converter for t and drops values
// memoized for t. Held entries of type t then fail with
// conderr.ErrConverterMissing.
func (m *Manager) RemoveConverter(t reflect.Type) {
	m.registry.Remove(t)
	m.resetType(t)
}

func (m *Manager) resetType(t reflect.Type) {
	for _, c := range m.memo {
		if c.typ == t {
			c.reset()
		}
	}
}

// SetDetector moves the manager to (name, run).
//
// # Description
//
// An unchanged identity is a no-op. Otherwise the active Source, if any, is
// asked whether it can serve the new identity; when it cannot, or asks to
// be replaced, the resolver locates a new one. A failed resolution leaves
// the manager exactly as it was.
//
// Once the new identity is committed every memoized conversion is cleared
// and listeners are notified in registration order. A listener error stops
// notification and is returned; the identity change stays committed.
//
// # Outputs
//
//   - error: Kind conderr.ErrInvalidName for an empty name, or the
//     resolution failure (commonly conderr.ErrNotFound).
func (m *Manager) SetDetector(ctx context.Context, name string, run int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return conderr.Newf(conderr.ErrInvalidName, "Manager.SetDetector", name, "detector name is empty")
	}
	next := source.Identity{Detector: name, Run: run}
	if m.src != nil && next == m.id {
		return nil
	}

	ctx, span := startSpan(ctx, "SetDetector",
		attribute.String("detector", name),
		attribute.Int("run", run),
	)
	defer span.End()

	decision := "resolved"
	var src source.Source
	if m.src != nil {
		res, err := m.src.Update(ctx, m.id, next)
		switch {
		case err == nil && res == source.UpdateRetain:
			src = m.src
			decision = "retained"
		case err == nil && res == source.UpdateReplace:
			decision = "replaced"
		case errors.Is(err, conderr.ErrIncompatible):
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "source update failed")
			return fmt.Errorf("update source for %s: %w", next, err)
		}
	}

	if src == nil {
		var err error
		src, err = m.resolver.Resolve(ctx, m.id, next)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve failed")
			return err
		}
	}

	return m.commit(next, src, decision)
}

// SetRun changes the run while keeping the detector.
func (m *Manager) SetRun(ctx context.Context, run int) error {
	if m.src == nil {
		return conderr.New(conderr.ErrNotSet, "Manager.SetRun", "", nil)
	}
	return m.SetDetector(ctx, m.id.Detector, run)
}

// SetDummy installs a source that serves no items for (name, run). Every
// item lookup then fails with conderr.ErrNotFound. The dummy source keeps
// serving later identities too; Close the manager to leave dummy mode.
func (m *Manager) SetDummy(name string, run int) error {
	if strings.TrimSpace(name) == "" {
		return conderr.Newf(conderr.ErrInvalidName, "Manager.SetDummy", name, "detector name is empty")
	}
	return m.commit(source.Identity{Detector: name, Run: run}, source.DummySource{}, "dummy")
}

// commit installs src for next, clears the memo, and notifies listeners.
func (m *Manager) commit(next source.Identity, src source.Source, decision string) error {
	prev, old := m.id, m.src
	if old != nil && old != src {
		if err := old.Close(); err != nil {
			m.logger.Warn("closing previous conditions source failed",
				slog.String("source", source.Describe(old)),
				slog.String("error", err.Error()),
			)
		}
	}
	m.id, m.src = next, src

	m.logger.Info("conditions identity changed",
		slog.String("detector", next.Detector),
		slog.Int("run", next.Run),
		slog.String("previous", prev.String()),
		slog.String("decision", decision),
		slog.String("source", source.Describe(src)),
	)
	identityChanges.WithLabelValues(decision).Inc()

	ev := ChangeEvent{ID: uuid.New(), Manager: m, Previous: prev, Current: next}
	for _, c := range m.memo {
		_ = c.ConditionsChanged(ev)
	}
	invalidatedEntries.Add(float64(len(m.memo)))

	snapshot := append([]Listener(nil), m.listeners...)
	for i, l := range snapshot {
		if err := l.ConditionsChanged(ev); err != nil {
			return fmt.Errorf("conditions listener %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the active source and returns the manager to unset.
// Listeners and converters are kept.
func (m *Manager) Close() error {
	if m.src == nil {
		return nil
	}
	err := m.src.Close()
	m.src = nil
	m.id = source.Identity{}
	for _, c := range m.memo {
		c.reset()
	}
	return err
}

// DetectorNames lists the detectors the resolver knows about, sorted.
// Resolvers that cannot enumerate yield an empty list.
func (m *Manager) DetectorNames(ctx context.Context) ([]string, error) {
	dl, ok := m.resolver.(DetectorLister)
	if !ok {
		return nil, nil
	}
	names, err := dl.DetectorNames(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Source returns the active source. Nil if unset.
func (m *Manager) Source() source.Source {
	return m.src
}

func (m *Manager) checkName(op, name string) error {
	if strings.Trim(name, "/ ") == "" {
		return conderr.Newf(conderr.ErrInvalidName, op, name, "item name is empty")
	}
	return nil
}

func (m *Manager) checkSet(op, name string) error {
	if m.src == nil {
		return conderr.New(conderr.ErrNotSet, op, name, nil)
	}
	return nil
}
