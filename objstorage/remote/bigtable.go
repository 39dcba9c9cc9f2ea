// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"bytes"
	"context"
	"io"
	"os"
	"slices"

	"cloud.google.com/go/bigtable"
	"github.com/cockroachdb/errors"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	bigtableFamily = "b"
	bigtableColumn = "data"
)

// NewBigtable returns a remote.Storage keeping one object per row of a
// Bigtable table. The table and its column family are created if missing.
func NewBigtable(
	ctx context.Context, project, instance, table string, opts ...option.ClientOption,
) (Storage, error) {
	admin, err := bigtable.NewAdminClient(ctx, project, instance, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating bigtable admin client")
	}
	client, err := bigtable.NewClient(ctx, project, instance, opts...)
	if err != nil {
		_ = admin.Close()
		return nil, errors.Wrap(err, "creating bigtable client")
	}
	s, err := NewBigtableWithClient(ctx, client, admin, table)
	if err != nil {
		_ = client.Close()
		_ = admin.Close()
		return nil, err
	}
	return s, nil
}

// NewBigtableWithClient is like NewBigtable but uses existing clients, which
// the returned Storage takes ownership of.
func NewBigtableWithClient(
	ctx context.Context, client *bigtable.Client, admin *bigtable.AdminClient, table string,
) (Storage, error) {
	if err := ensureBigtable(ctx, admin, table); err != nil {
		return nil, err
	}
	return &bigtableStore{client: client, admin: admin, tbl: client.Open(table)}, nil
}

func ensureBigtable(ctx context.Context, admin *bigtable.AdminClient, table string) error {
	tables, err := admin.Tables(ctx)
	if err != nil {
		return errors.Wrap(err, "listing bigtable tables")
	}
	if !slices.Contains(tables, table) {
		if err := admin.CreateTable(ctx, table); err != nil {
			return errors.Wrapf(err, "creating bigtable table %s", table)
		}
	}
	info, err := admin.TableInfo(ctx, table)
	if err != nil {
		return errors.Wrapf(err, "reading info for bigtable table %s", table)
	}
	if !slices.Contains(info.Families, bigtableFamily) {
		if err := admin.CreateColumnFamily(ctx, table, bigtableFamily); err != nil {
			return errors.Wrapf(err, "creating column family in %s", table)
		}
	}
	return nil
}

type bigtableStore struct {
	client *bigtable.Client
	admin  *bigtable.AdminClient
	tbl    *bigtable.Table
}

var _ Storage = (*bigtableStore)(nil)
var _ FatalClassifier = (*bigtableStore)(nil)

func (s *bigtableStore) Close() error {
	return errors.CombineErrors(s.client.Close(), s.admin.Close())
}

func (s *bigtableStore) ReadObject(ctx context.Context, objName string) ([]byte, error) {
	row, err := s.tbl.ReadRow(ctx, objName, bigtable.RowFilter(bigtable.LatestNFilter(1)))
	if err != nil {
		return nil, err
	}
	items := row[bigtableFamily]
	if len(items) == 0 {
		return nil, errors.Wrapf(os.ErrNotExist, "object %q", objName)
	}
	return items[0].Value, nil
}

func (s *bigtableStore) CreateObject(ctx context.Context, objName string) (io.WriteCloser, error) {
	return &bigtableWriter{ctx: ctx, s: s, name: objName}, nil
}

// bigtableWriter buffers the object and applies a single mutation on Close.
type bigtableWriter struct {
	ctx  context.Context
	s    *bigtableStore
	name string
	buf  bytes.Buffer
}

func (w *bigtableWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *bigtableWriter) Close() error {
	if w.s == nil {
		return nil
	}
	mut := bigtable.NewMutation()
	mut.Set(bigtableFamily, bigtableColumn, bigtable.Timestamp(0), w.buf.Bytes())
	err := w.s.tbl.Apply(w.ctx, w.name, mut)
	w.s = nil
	return err
}

func (s *bigtableStore) List(ctx context.Context, prefix, delimiter string) ([]string, error) {
	var names []string
	err := s.tbl.ReadRows(ctx, bigtable.PrefixRange(prefix), func(row bigtable.Row) bool {
		names = append(names, row.Key())
		return true
	}, bigtable.RowFilter(bigtable.StripValueFilter()))
	if err != nil {
		return nil, err
	}
	return groupNames(names, prefix, delimiter), nil
}

func (s *bigtableStore) Delete(ctx context.Context, objName string) error {
	mut := bigtable.NewMutation()
	mut.DeleteRow()
	return s.tbl.Apply(ctx, objName, mut)
}

func (s *bigtableStore) Size(ctx context.Context, objName string) (int64, error) {
	data, err := s.ReadObject(ctx, objName)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (s *bigtableStore) IsNotExistError(err error) bool {
	return errors.Is(err, os.ErrNotExist) || status.Code(err) == codes.NotFound
}

func (s *bigtableStore) IsFatalError(err error) bool {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument:
		return true
	}
	return false
}
