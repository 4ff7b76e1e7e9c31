// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetch downloads remote detector archives into a local cache.
//
// # Description
//
// FileCache keeps one file per URL under its cache directory and remembers
// the validator tokens (ETag, Last-Modified, GCS generation) of each
// download in a badger index. A repeat fetch sends a conditional request
// and reuses the cached file when the server answers 304 or the object
// generation is unchanged.
//
// Every download lands in a temporary file first. The caller's Validator
// runs on that file; only a valid artifact is renamed into place and
// recorded in the index. A failed validation removes the temporary file
// and returns conderr.ErrBackendIntegrity.
//
// Fetches are not retried.
//
// # Thread Safety
//
// FileCache is safe for concurrent use. Concurrent fetches of the same URL
// share one download.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
	"github.com/AleutianAI/conditions/services/conditions/storage/badger"
)

// Validator checks a downloaded file before it is admitted to the cache.
// url is the origin of the file, path its temporary location.
type Validator func(url, path string) error

// Fetcher resolves a URL to a local file path.
type Fetcher interface {
	// Fetch returns the path of a validated local copy of url.
	Fetch(ctx context.Context, url string, validate Validator) (string, error)
}

// entry is the index record for one URL.
type entry struct {
	URL          string    `json:"url"`
	File         string    `json:"file"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Generation   string    `json:"generation,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

const indexPrefix = "url/"

// FileCache is the disk-backed Fetcher.
type FileCache struct {
	dir     string
	index   *badger.Store
	client  *http.Client
	objects ObjectStore
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a FileCache.
type Option func(*FileCache)

// WithHTTPClient sets the client used for http and https URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(f *FileCache) { f.client = c }
}

// WithObjectStore enables gs:// URLs.
func WithObjectStore(s ObjectStore) Option {
	return func(f *FileCache) { f.objects = s }
}

// WithRateLimit paces outbound requests. A zero limit disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(f *FileCache) {
		if perSecond <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *FileCache) { f.logger = l }
}

// NewFileCache creates a cache storing files in dir and its index in index.
//
// # Inputs
//
//   - dir: Cache directory. Created if missing.
//   - index: Open badger store for the URL index. Not closed by FileCache.
//   - opts: Optional settings.
//
// # Outputs
//
//   - *FileCache: Ready to use.
//   - error: Non-nil if dir cannot be created.
func NewFileCache(dir string, index *badger.Store, opts ...Option) (*FileCache, error) {
	if index == nil {
		return nil, errors.New("fetch: index store is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	f := &FileCache{
		dir:    dir,
		index:  index,
		client: &http.Client{Timeout: 5 * time.Minute},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Dir returns the cache directory.
func (f *FileCache) Dir() string {
	return f.dir
}

// Fetch implements Fetcher.
//
// # Outputs
//
//   - string: Path of the validated cached file.
//   - error: Kind conderr.ErrNotFound when the remote reports the object
//     missing, conderr.ErrBackendIntegrity when validation fails.
func (f *FileCache) Fetch(ctx context.Context, rawURL string, validate Validator) (string, error) {
	v, err, shared := f.group.Do(rawURL, func() (any, error) {
		return f.fetch(ctx, rawURL, validate)
	})
	if shared {
		f.logger.Debug("joined in-flight fetch", slog.String("url", rawURL))
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *FileCache) fetch(ctx context.Context, rawURL string, validate Validator) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", conderr.New(conderr.ErrInvalidName, "fetch.Fetch", rawURL, err)
	}

	var prev *entry
	var rec entry
	switch err := f.index.Get(ctx, indexPrefix+rawURL, &rec); {
	case err == nil:
		if _, statErr := os.Stat(rec.File); statErr == nil {
			prev = &rec
		}
	case !errors.Is(err, badger.ErrNoRecord):
		f.logger.Warn("fetch index read failed", slog.String("url", rawURL), slog.String("error", err.Error()))
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	var next *entry
	switch u.Scheme {
	case "http", "https":
		next, err = f.fetchHTTP(ctx, u, prev, validate)
	case "gs":
		next, err = f.fetchObject(ctx, u, prev, validate)
	default:
		return "", conderr.Newf(conderr.ErrNotFound, "fetch.Fetch", rawURL, "unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return "", err
	}
	if next == prev {
		fetchTotal.WithLabelValues(u.Scheme, "cached").Inc()
		return prev.File, nil
	}

	if err := f.index.Put(ctx, indexPrefix+rawURL, next); err != nil {
		f.logger.Warn("fetch index write failed", slog.String("url", rawURL), slog.String("error", err.Error()))
	}
	fetchTotal.WithLabelValues(u.Scheme, "downloaded").Inc()
	f.logger.Info("downloaded conditions archive",
		slog.String("url", rawURL),
		slog.String("file", next.File),
	)
	return next.File, nil
}

func (f *FileCache) fetchHTTP(ctx context.Context, u *url.URL, prev *entry, validate Validator) (*entry, error) {
	rawURL := u.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if prev != nil {
		if prev.ETag != "" {
			req.Header.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			req.Header.Set("If-Modified-Since", prev.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if prev != nil && ctx.Err() == nil {
			f.logger.Warn("remote unreachable, using cached copy",
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
			return prev, nil
		}
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && prev != nil:
		return prev, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, conderr.Newf(conderr.ErrNotFound, "fetch.Fetch", rawURL, "remote returned %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	file, err := f.store(rawURL, u.Path, resp.Body, validate)
	if err != nil {
		return nil, err
	}
	return &entry{
		URL:          rawURL,
		File:         file,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FetchedAt:    f.now().UTC(),
	}, nil
}

func (f *FileCache) fetchObject(ctx context.Context, u *url.URL, prev *entry, validate Validator) (*entry, error) {
	rawURL := u.String()
	if f.objects == nil {
		return nil, conderr.Newf(conderr.ErrNotFound, "fetch.Fetch", rawURL, "no object store configured")
	}
	bucket, object := u.Host, strings.TrimPrefix(u.Path, "/")

	gen, err := f.objects.Generation(ctx, bucket, object)
	if err != nil {
		if prev != nil && !errors.Is(err, conderr.ErrNotFound) && ctx.Err() == nil {
			f.logger.Warn("object store unreachable, using cached copy",
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
			return prev, nil
		}
		return nil, err
	}
	if prev != nil && prev.Generation == gen {
		return prev, nil
	}

	rc, err := f.objects.Read(ctx, bucket, object)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	file, err := f.store(rawURL, object, rc, validate)
	if err != nil {
		return nil, err
	}
	return &entry{URL: rawURL, File: file, Generation: gen, FetchedAt: f.now().UTC()}, nil
}

// store copies body to a temporary file, validates it, and renames it to
// the URL's stable cache name.
func (f *FileCache) store(rawURL, remotePath string, body io.Reader, validate Validator) (string, error) {
	tmp := filepath.Join(f.dir, ".tmp-"+uuid.NewString())
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	_, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		return "", conderr.Newf(conderr.ErrBackendIntegrity, "fetch.Fetch", rawURL,
			"incomplete download: %v", errors.Join(copyErr, closeErr))
	}

	if validate != nil {
		if err := validate(rawURL, tmp); err != nil {
			os.Remove(tmp)
			fetchTotal.WithLabelValues(schemeOf(rawURL), "invalid").Inc()
			return "", conderr.New(conderr.ErrBackendIntegrity, "fetch.Fetch", rawURL, err)
		}
	}

	final := filepath.Join(f.dir, cacheName(rawURL, remotePath))
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("install download: %w", err)
	}
	return final, nil
}

// cacheName is stable per URL and keeps the remote extension.
func cacheName(rawURL, remotePath string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL)).String()
	base := path.Base(remotePath)
	if base == "." || base == "/" || base == "" {
		return id
	}
	return id + "-" + base
}

func schemeOf(rawURL string) string {
	scheme, _, ok := strings.Cut(rawURL, "://")
	if !ok {
		return "unknown"
	}
	return scheme
}

var _ Fetcher = (*FileCache)(nil)
