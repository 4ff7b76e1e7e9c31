// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/AleutianAI/conditions/pkg/logging"
	"github.com/AleutianAI/conditions/services/conditions"
	"github.com/AleutianAI/conditions/services/conditions/bundled"
	"github.com/AleutianAI/conditions/services/conditions/calorimeter"
	"github.com/AleutianAI/conditions/services/conditions/config"
	"github.com/AleutianAI/conditions/services/conditions/fetch"
	"github.com/AleutianAI/conditions/services/conditions/resolver"
	"github.com/AleutianAI/conditions/services/conditions/storage/badger"
)

// app owns every long-lived resource a command needs.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	index    *badger.Store
	gcs      *fetch.GCSStore
	resolver *resolver.Resolver
	manager  *conditions.Manager
}

// newApp wires config, logging, the download index, the fetcher, the
// resolver and the manager, in that order. On error everything opened so
// far is closed.
func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (_ *app, err error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	jsonOut := cfg.Log.JSON
	if logOut == nil {
		logOut = os.Stderr
		jsonOut = jsonOut || !logging.IsTerminal(os.Stderr)
	}

	a := &app{cfg: cfg}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "conditions",
		JSON:    jsonOut,
		Output:  logOut,
	})
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	log := a.logger.Slog()

	a.index, err = badger.Open(badger.Config{
		Dir:            cfg.IndexDir(),
		SyncWrites:     true,
		GCInterval:     badger.DefaultConfig("").GCInterval,
		GCDiscardRatio: badger.DefaultConfig("").GCDiscardRatio,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("open download index: %w", err)
	}

	fetchOpts := []fetch.Option{
		fetch.WithLogger(log),
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.Fetch.Timeout}),
	}
	if cfg.Fetch.RatePerSecond > 0 {
		fetchOpts = append(fetchOpts, fetch.WithRateLimit(cfg.Fetch.RatePerSecond, cfg.Fetch.Burst))
	}
	if cfg.Fetch.GCSCredentials != "" {
		a.gcs, err = fetch.NewGCSStore(ctx, cfg.Fetch.GCSCredentials)
		if err != nil {
			return nil, err
		}
		fetchOpts = append(fetchOpts, fetch.WithObjectStore(a.gcs))
	}
	cache, err := fetch.NewFileCache(cfg.FetchCacheDir(), a.index, fetchOpts...)
	if err != nil {
		return nil, err
	}

	a.resolver, err = resolver.New(cfg,
		resolver.WithFetcher(cache),
		resolver.WithBundle(bundled.FS()),
		resolver.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	a.manager = conditions.NewManager(a.resolver, conditions.WithLogger(log))
	a.manager.RegisterConverter(calorimeter.Converter())
	log.Debug("conditions manager ready",
		slog.String("cache_root", cfg.CacheRoot),
		slog.String("remote", cfg.RemoteBaseURL),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	if a.gcs != nil {
		errs = append(errs, a.gcs.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}
