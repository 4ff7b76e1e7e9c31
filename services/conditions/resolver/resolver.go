// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver locates the Source serving a detector.
//
// # Description
//
// Resolution first substitutes aliases, then tries each strategy in order
// and stops at the first that produces a Source:
//
//  1. A name containing ':' is a URL. file:// URLs name a local directory
//     or zip; http, https and gs URLs are downloaded by the Fetcher.
//  2. A detector bundled into the binary.
//  3. <cacheRoot>/detectors/<name>.zip
//  4. <cacheRoot>/detectors/<name>/
//  5. <remoteBase>/<name>.zip through the Fetcher.
//
// The chosen Source may then be wrapped by an override decorator named in
// the detector's own detector.properties.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/conditions/services/conditions/alias"
	"github.com/AleutianAI/conditions/services/conditions/conderr"
	"github.com/AleutianAI/conditions/services/conditions/config"
	"github.com/AleutianAI/conditions/services/conditions/fetch"
	"github.com/AleutianAI/conditions/services/conditions/source"
)

var resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "conditions",
	Subsystem: "resolver",
	Name:      "resolutions_total",
	Help:      "Detector resolutions by winning strategy.",
}, []string{"strategy"})

// Strategy names, used in logs and metrics.
const (
	StrategyURL    = "url"
	StrategyBundle = "bundle"
	StrategyZip    = "zip"
	StrategyDir    = "dir"
	StrategyRemote = "remote"
)

// Resolver implements the strategy chain.
//
// Not synchronized; owned by one Manager.
type Resolver struct {
	aliases      *alias.Table
	detectorsDir string
	remoteBase   string
	taglistURL   string
	bundle       fs.FS
	fetcher      fetch.Fetcher
	overrides    source.Overrides
	watch        bool
	logger       *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAliases replaces the alias table loaded from the configuration.
func WithAliases(t *alias.Table) Option {
	return func(r *Resolver) { r.aliases = t }
}

// WithBundle enables the bundled-detector strategy.
func WithBundle(b fs.FS) Option {
	return func(r *Resolver) { r.bundle = b }
}

// WithFetcher enables remote URLs and the remote strategy.
func WithFetcher(f fetch.Fetcher) Option {
	return func(r *Resolver) { r.fetcher = f }
}

// WithOverrides replaces the override decorator table.
func WithOverrides(o source.Overrides) Option {
	return func(r *Resolver) { r.overrides = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New builds a resolver from cfg. The alias file is loaded unless
// WithAliases is given.
func New(cfg config.Config, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		detectorsDir: cfg.DetectorsDir(),
		remoteBase:   cfg.RemoteBaseURL,
		taglistURL:   cfg.TaglistURL,
		overrides:    source.DefaultOverrides(),
		watch:        cfg.WatchLocal,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.aliases == nil {
		t, err := alias.Load(cfg.AliasPath())
		if err != nil {
			return nil, err
		}
		r.aliases = t
	}
	return r, nil
}

// Aliases returns the alias table.
func (r *Resolver) Aliases() *alias.Table {
	return r.aliases
}

// Resolve locates the Source for next.Detector.
//
// # Outputs
//
//   - source.Source: The Source, possibly wrapped by an override. The
//     caller owns it.
//   - error: conderr.ErrAliasCycle, conderr.ErrInvalidName,
//     conderr.ErrNotFound when no strategy applies, or the failure of the
//     first strategy that found the detector but could not open it.
func (r *Resolver) Resolve(ctx context.Context, current, next source.Identity) (source.Source, error) {
	target, err := r.aliases.Resolve(next.Detector)
	if err != nil {
		return nil, err
	}
	if target != next.Detector {
		r.logger.Debug("detector alias resolved",
			slog.String("alias", next.Detector),
			slog.String("target", target),
		)
	}

	base, strategy, err := r.locate(ctx, target)
	if err != nil {
		return nil, err
	}

	src, err := r.applyOverride(ctx, base, next)
	if err != nil {
		return nil, err
	}
	resolutions.WithLabelValues(strategy).Inc()
	r.logger.Info("conditions source resolved",
		slog.String("detector", next.Detector),
		slog.String("strategy", strategy),
		slog.String("source", source.Describe(src)),
	)
	return src, nil
}

func (r *Resolver) locate(ctx context.Context, target string) (source.Source, string, error) {
	if strings.Contains(target, ":") {
		src, err := r.openURL(ctx, target)
		return src, StrategyURL, err
	}
	if !validName(target) {
		return nil, "", conderr.Newf(conderr.ErrInvalidName, "Resolver.Resolve", target,
			"detector names may not contain path separators")
	}

	if r.bundle != nil {
		src, err := source.NewBundleSource(r.bundle, target)
		if err == nil {
			return src, StrategyBundle, nil
		}
		if !errors.Is(err, conderr.ErrNotFound) {
			return nil, "", err
		}
	}

	if r.detectorsDir != "" {
		zipPath := filepath.Join(r.detectorsDir, target+".zip")
		if info, err := os.Stat(zipPath); err == nil && !info.IsDir() {
			src, err := source.NewZipSource(zipPath)
			return src, StrategyZip, err
		}

		dirPath := filepath.Join(r.detectorsDir, target)
		if info, err := os.Stat(dirPath); err == nil && info.IsDir() {
			src, err := source.NewDirectorySource(dirPath, r.dirOptions()...)
			return src, StrategyDir, err
		}
	}

	if r.remoteBase != "" && r.fetcher != nil {
		path, err := r.fetcher.Fetch(ctx, r.remoteBase+target+".zip", fetch.ManifestValidator(fetch.DetectorManifest))
		if err != nil {
			if errors.Is(err, conderr.ErrNotFound) {
				return nil, "", conderr.New(conderr.ErrNotFound, "Resolver.Resolve", target,
					fmt.Errorf("conditions not found for detector %s: %w", target, err))
			}
			return nil, "", err
		}
		src, err := source.NewZipSource(path)
		return src, StrategyRemote, err
	}

	return nil, "", conderr.Newf(conderr.ErrNotFound, "Resolver.Resolve", target,
		"conditions not found for detector %s", target)
}

func (r *Resolver) openURL(ctx context.Context, target string) (source.Source, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, conderr.New(conderr.ErrInvalidName, "Resolver.Resolve", target, err)
	}
	switch u.Scheme {
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return nil, conderr.Newf(conderr.ErrNotFound, "Resolver.Resolve", target, "remote file host %q", u.Host)
		}
		p := filepath.FromSlash(u.Path)
		info, err := os.Stat(p)
		if err != nil {
			return nil, conderr.New(conderr.ErrNotFound, "Resolver.Resolve", target, err)
		}
		if info.IsDir() {
			return source.NewDirectorySource(p, r.dirOptions()...)
		}
		return source.NewZipSource(p)
	case "http", "https", "gs":
		if r.fetcher == nil {
			return nil, conderr.Newf(conderr.ErrNotFound, "Resolver.Resolve", target, "remote fetching is disabled")
		}
		path, err := r.fetcher.Fetch(ctx, target, fetch.ManifestValidator(fetch.DetectorManifest))
		if err != nil {
			return nil, err
		}
		return source.NewZipSource(path)
	default:
		return nil, conderr.Newf(conderr.ErrNotFound, "Resolver.Resolve", target, "unsupported scheme %q", u.Scheme)
	}
}

func (r *Resolver) dirOptions() []source.DirectoryOption {
	if !r.watch {
		return nil
	}
	return []source.DirectoryOption{source.WithWatch(r.logger)}
}

// applyOverride wraps base with the decorator its detector.properties
// names. Any failure closes base.
func (r *Resolver) applyOverride(ctx context.Context, base source.Source, next source.Identity) (source.Source, error) {
	name, err := source.ReadOverride(base)
	if err != nil {
		r.logger.Warn("detector.properties unreadable, using base source",
			slog.String("detector", next.Detector),
			slog.String("error", err.Error()),
		)
		return base, nil
	}
	if name == "" {
		return base, nil
	}

	factory, ok := r.overrides[name]
	if !ok {
		base.Close()
		return nil, conderr.Newf(conderr.ErrNotFound, "Resolver.Resolve", next.Detector,
			"unknown %s %q", source.OverrideKey, name)
	}
	dec, err := factory(base, next)
	if err != nil {
		base.Close()
		return nil, fmt.Errorf("override %q for %s: %w", name, next.Detector, err)
	}
	if _, err := dec.Update(ctx, next, next); err != nil {
		dec.Close()
		return nil, fmt.Errorf("override %q for %s: %w", name, next.Detector, err)
	}
	return dec, nil
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
