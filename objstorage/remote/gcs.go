// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// NewGCS returns a remote.Storage backed by a Google Cloud Storage bucket.
// Object names are used verbatim as GCS object names.
func NewGCS(ctx context.Context, bucket string, opts ...option.ClientOption) (Storage, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS client")
	}
	return &gcsStore{client: client, bucket: client.Bucket(bucket)}, nil
}

type gcsStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

var _ Storage = (*gcsStore)(nil)
var _ FatalClassifier = (*gcsStore)(nil)

func (s *gcsStore) Close() error {
	return s.client.Close()
}

func (s *gcsStore) ReadObject(ctx context.Context, objName string) ([]byte, error) {
	r, err := s.bucket.Object(objName).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *gcsStore) CreateObject(ctx context.Context, objName string) (io.WriteCloser, error) {
	w := s.bucket.Object(objName).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return w, nil
}

func (s *gcsStore) List(ctx context.Context, prefix, delimiter string) ([]string, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: delimiter})
	var res []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		name := attrs.Name
		if attrs.Prefix != "" {
			name = strings.TrimSuffix(attrs.Prefix, delimiter)
		}
		res = append(res, strings.TrimPrefix(name, prefix))
	}
	sort.Strings(res)
	return res, nil
}

func (s *gcsStore) Delete(ctx context.Context, objName string) error {
	return s.bucket.Object(objName).Delete(ctx)
}

func (s *gcsStore) Size(ctx context.Context, objName string) (int64, error) {
	attrs, err := s.bucket.Object(objName).Attrs(ctx)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (s *gcsStore) IsNotExistError(err error) bool {
	return errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist)
}

// IsFatalError reports authentication and authorization failures and
// malformed requests.
func (s *gcsStore) IsFatalError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}
