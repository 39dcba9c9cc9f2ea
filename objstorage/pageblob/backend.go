// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package pageblob implements objstorage.Backend on top of a blob storage
// driver. Every table is a container of blobs named <prefix><table>/<blob>:
// one ".metadata" blob holding the attributes and one blob per partition
// named after the base64 encoding of its key. Blob contents are framed in
// 512-byte pages.
package pageblob

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore/dbtable"
	"github.com/tablestore/tablestore/internal/base"
	"github.com/tablestore/tablestore/objstorage"
	"github.com/tablestore/tablestore/objstorage/remote"
	"golang.org/x/sync/semaphore"
)

// Options configure a Backend.
type Options struct {
	// Prefix is prepended to every blob name. It is either empty or ends
	// with '/'.
	Prefix string
	// MaxConcurrentOpsPerTable bounds the storage operations in flight for
	// one table. Defaults to 8.
	MaxConcurrentOpsPerTable int64
	// OpTimeout is the deadline of each storage operation. Defaults to 30s.
	OpTimeout time.Duration
	// Logger receives messages about anomalies found in storage.
	Logger base.Logger
}

// EnsureDefaults fills in unset options.
func (o *Options) EnsureDefaults() {
	if o.Prefix != "" && !strings.HasSuffix(o.Prefix, "/") {
		o.Prefix += "/"
	}
	if o.MaxConcurrentOpsPerTable <= 0 {
		o.MaxConcurrentOpsPerTable = 8
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = base.NewLogger("pageblob")
	}
}

// Backend is the page-blob implementation of objstorage.Backend.
type Backend struct {
	storage remote.Storage
	opts    Options

	mu struct {
		sync.Mutex
		sems map[string]*semaphore.Weighted
	}
}

var _ objstorage.Backend = (*Backend)(nil)

// New returns a Backend storing tables in s.
func New(s remote.Storage, opts Options) *Backend {
	opts.EnsureDefaults()
	b := &Backend{storage: s, opts: opts}
	b.mu.sems = make(map[string]*semaphore.Weighted)
	return b
}

// Storage returns the underlying driver.
func (b *Backend) Storage() remote.Storage { return b.storage }

// Prefix returns the blob name prefix of the backend.
func (b *Backend) Prefix() string { return b.opts.Prefix }

func (b *Backend) tablePrefix(table string) string {
	return b.opts.Prefix + table + "/"
}

func (b *Backend) metadataName(table string) string {
	return b.tablePrefix(table) + MetadataBlob
}

func (b *Backend) partitionName(table, pk string) string {
	return b.tablePrefix(table) + PartitionBlobName(pk)
}

func (b *Backend) sem(table string) *semaphore.Weighted {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.mu.sems[table]
	if !ok {
		s = semaphore.NewWeighted(b.opts.MaxConcurrentOpsPerTable)
		b.mu.sems[table] = s
	}
	return s
}

// do runs one storage operation for table under the per-table concurrency
// bound and the operation deadline, and classifies its error.
func (b *Backend) do(ctx context.Context, table string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.OpTimeout)
	defer cancel()
	sem := b.sem(table)
	if err := sem.Acquire(ctx, 1); err != nil {
		return objstorage.MarkTransient(err)
	}
	defer sem.Release(1)
	return b.classify(fn(ctx))
}

func (b *Backend) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case b.storage.IsNotExistError(err):
		return objstorage.MarkNotFound(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return objstorage.MarkTransient(err)
	}
	if fc, ok := b.storage.(remote.FatalClassifier); ok && fc.IsFatalError(err) {
		return objstorage.MarkFatal(err)
	}
	if objstorage.Classify(err) != objstorage.ClassTransient {
		return err
	}
	return objstorage.MarkTransient(err)
}

func (b *Backend) write(ctx context.Context, table, name string, payload []byte) error {
	return b.do(ctx, table, func(ctx context.Context) error {
		return remote.WriteObject(ctx, b.storage, name, EncodePages(payload))
	})
}

func (b *Backend) read(ctx context.Context, table, name string) ([]byte, error) {
	var data []byte
	err := b.do(ctx, table, func(ctx context.Context) error {
		var err error
		data, err = b.storage.ReadObject(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	payload, err := DecodePages(data)
	if err != nil {
		return nil, objstorage.MarkFatal(errors.Wrapf(err, "reading %s", name))
	}
	return payload, nil
}

func (b *Backend) remove(ctx context.Context, table, name string) error {
	err := b.do(ctx, table, func(ctx context.Context) error {
		return b.storage.Delete(ctx, name)
	})
	if objstorage.IsNotFound(err) {
		return nil
	}
	return err
}

// CreateTableIfNotExists implements objstorage.Backend.
func (b *Backend) CreateTableIfNotExists(
	ctx context.Context, table string, attrs dbtable.Attributes,
) error {
	cur, err := b.LoadAttributes(ctx, table)
	switch {
	case err == nil:
		if cur.SameSettings(attrs) {
			return nil
		}
		return errors.Mark(
			errors.Newf("table %s exists with different attributes", table), objstorage.ErrAlreadyExists)
	case !objstorage.IsNotFound(err):
		return err
	}
	return b.SaveTableAttributes(ctx, table, attrs)
}

// DeleteTable implements objstorage.Backend. Partition blobs are removed
// before the metadata blob, so an interrupted deletion leaves a table that is
// still listed and can be deleted again.
func (b *Backend) DeleteTable(ctx context.Context, table string) error {
	var names []string
	err := b.do(ctx, table, func(ctx context.Context) error {
		var err error
		names, err = b.storage.List(ctx, b.tablePrefix(table), "")
		return err
	})
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == MetadataBlob {
			continue
		}
		if err := b.remove(ctx, table, b.tablePrefix(table)+name); err != nil {
			return err
		}
	}
	return b.remove(ctx, table, b.metadataName(table))
}

// SaveTableAttributes implements objstorage.Backend.
func (b *Backend) SaveTableAttributes(
	ctx context.Context, table string, attrs dbtable.Attributes,
) error {
	return b.write(ctx, table, b.metadataName(table), dbtable.EncodeAttributes(attrs))
}

// SavePartition implements objstorage.Backend.
func (b *Backend) SavePartition(ctx context.Context, table, pk string, payload []byte) error {
	return b.write(ctx, table, b.partitionName(table, pk), payload)
}

// DeletePartition implements objstorage.Backend.
func (b *Backend) DeletePartition(ctx context.Context, table, pk string) error {
	return b.remove(ctx, table, b.partitionName(table, pk))
}

// ListTables implements objstorage.Backend. Containers whose name is not a
// valid table name are skipped.
func (b *Backend) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	err := b.do(ctx, "", func(ctx context.Context) error {
		var err error
		names, err = b.storage.List(ctx, b.opts.Prefix, "/")
		return err
	})
	if err != nil {
		return nil, err
	}
	res := names[:0]
	for _, name := range names {
		if err := dbtable.ValidateTableName(name); err != nil {
			b.opts.Logger.Infof("skipping container %q: %v", name, err)
			continue
		}
		res = append(res, name)
	}
	sort.Strings(res)
	return res, nil
}

// ListPartitions implements objstorage.Backend.
func (b *Backend) ListPartitions(ctx context.Context, table string) ([]string, error) {
	var names []string
	err := b.do(ctx, table, func(ctx context.Context) error {
		var err error
		names, err = b.storage.List(ctx, b.tablePrefix(table), "")
		return err
	})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(names))
	for _, name := range names {
		if name == MetadataBlob {
			continue
		}
		pk, err := PartitionKeyFromBlobName(name)
		if err != nil {
			b.opts.Logger.Errorf("table %s: skipping blob: %v", table, err)
			continue
		}
		keys = append(keys, pk)
	}
	sort.Strings(keys)
	return keys, nil
}

// LoadPartition implements objstorage.Backend.
func (b *Backend) LoadPartition(ctx context.Context, table, pk string) ([]byte, error) {
	return b.read(ctx, table, b.partitionName(table, pk))
}

// LoadAttributes implements objstorage.Backend.
func (b *Backend) LoadAttributes(ctx context.Context, table string) (dbtable.Attributes, error) {
	data, err := b.read(ctx, table, b.metadataName(table))
	if err != nil {
		return dbtable.Attributes{}, err
	}
	attrs, err := dbtable.DecodeAttributes(data)
	if err != nil {
		return dbtable.Attributes{}, objstorage.MarkFatal(errors.Wrapf(err, "table %s", table))
	}
	return attrs, nil
}
