// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/conditions/services/conditions/conderr"
)

// ObjectStore reads objects addressed by bucket and object name.
type ObjectStore interface {
	// Generation returns a token that changes whenever the object does.
	Generation(ctx context.Context, bucket, object string) (string, error)

	// Read streams the object. The caller closes the reader.
	Read(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// GCSStore is an ObjectStore backed by Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a GCS client. With an empty credentialsFile the
// client uses application default credentials.
func NewGCSStore(ctx context.Context, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Generation implements ObjectStore.
func (g *GCSStore) Generation(ctx context.Context, bucket, object string) (string, error) {
	attrs, err := g.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return "", conderr.New(conderr.ErrNotFound, "fetch.GCSStore", "gs://"+bucket+"/"+object, err)
		}
		return "", fmt.Errorf("stat gs://%s/%s: %w", bucket, object, err)
	}
	return strconv.FormatInt(attrs.Generation, 10), nil
}

// Read implements ObjectStore.
func (g *GCSStore) Read(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, conderr.New(conderr.ErrNotFound, "fetch.GCSStore", "gs://"+bucket+"/"+object, err)
		}
		return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, object, err)
	}
	return r, nil
}

// Close releases the GCS client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

var _ ObjectStore = (*GCSStore)(nil)
