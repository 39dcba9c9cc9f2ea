// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package pageblob

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/tablestore/tablestore/dbtable"
	"github.com/tablestore/tablestore/internal/base"
	"github.com/tablestore/tablestore/internal/errorfs"
	"github.com/tablestore/tablestore/objstorage"
	"github.com/tablestore/tablestore/objstorage/remote"
)

func TestPages(t *testing.T) {
	for _, tc := range []struct {
		payload int
		blob    int
	}{
		{0, 512},
		{1, 512},
		{508, 512},
		{509, 1024},
		{1020, 1024},
		{5000, 5120},
	} {
		payload := bytes.Repeat([]byte{'x'}, tc.payload)
		blob := EncodePages(payload)
		require.Len(t, blob, tc.blob)
		require.Equal(t, uint32(tc.payload), binary.LittleEndian.Uint32(blob))
		got, err := DecodePages(blob)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}
}

func TestPagesCorrupt(t *testing.T) {
	for _, blob := range [][]byte{
		nil,
		{1, 0},
		make([]byte, 100),
		func() []byte {
			b := make([]byte, 512)
			binary.LittleEndian.PutUint32(b, 600)
			return b
		}(),
	} {
		_, err := DecodePages(blob)
		require.True(t, errors.Is(err, ErrCorruptBlob))
	}
}

func TestBlobNames(t *testing.T) {
	require.Equal(t, "Qg==", PartitionBlobName("B"))
	require.Equal(t, "0YDQu9C4", PartitionBlobName("рли"))
	for _, pk := range []string{"B", "рли", "a/b+c", "with space", strings.Repeat("k", 100)} {
		got, err := PartitionKeyFromBlobName(PartitionBlobName(pk))
		require.NoError(t, err)
		require.Equal(t, pk, got)
	}
	got, err := PartitionKeyFromBlobName("Qg")
	require.NoError(t, err)
	require.Equal(t, "B", got)

	_, err = PartitionKeyFromBlobName("!!!")
	require.Error(t, err)
}

func newTestBackend(s remote.Storage) *Backend {
	return New(s, Options{Logger: base.NoopLogger{}})
}

func TestBackend(t *testing.T) {
	ctx := context.Background()
	store := remote.NewInMem()
	b := newTestBackend(store)

	attrs := dbtable.Attributes{Persist: true, MaxPartitionsAmount: 2, Created: 5}
	require.NoError(t, b.CreateTableIfNotExists(ctx, "orders", attrs))
	require.NoError(t, b.CreateTableIfNotExists(ctx, "orders", attrs))
	err := b.CreateTableIfNotExists(ctx, "orders", dbtable.Attributes{Persist: false})
	require.True(t, errors.Is(err, objstorage.ErrAlreadyExists))

	require.NoError(t, b.SavePartition(ctx, "orders", "B", []byte(`[]`)))
	require.NoError(t, b.SavePartition(ctx, "orders", "C", []byte(`[{"rk":"1"}]`)))

	names, err := store.List(ctx, "orders/", "")
	require.NoError(t, err)
	require.Equal(t, []string{".metadata", "Qg==", "Qw=="}, names)

	tables, err := b.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"orders"}, tables)

	pks, err := b.ListPartitions(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, []string{"B", "C"}, pks)

	data, err := b.LoadPartition(ctx, "orders", "C")
	require.NoError(t, err)
	require.Equal(t, `[{"rk":"1"}]`, string(data))

	got, err := b.LoadAttributes(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, attrs, got)

	_, err = b.LoadPartition(ctx, "orders", "missing")
	require.Equal(t, objstorage.ClassNotFound, objstorage.Classify(err))
	_, err = b.LoadAttributes(ctx, "nope")
	require.Equal(t, objstorage.ClassNotFound, objstorage.Classify(err))

	require.NoError(t, b.DeletePartition(ctx, "orders", "B"))
	require.NoError(t, b.DeletePartition(ctx, "orders", "B"))
	pks, err = b.ListPartitions(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, []string{"C"}, pks)

	require.NoError(t, b.DeleteTable(ctx, "orders"))
	require.NoError(t, b.DeleteTable(ctx, "orders"))
	tables, err = b.ListTables(ctx)
	require.NoError(t, err)
	require.Empty(t, tables)
}

func TestBackendLocalFSRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	open := func() *Backend {
		store, err := remote.NewLocalFS(dir)
		require.NoError(t, err)
		return newTestBackend(store)
	}

	// "ab?" encodes to "YWI/" and "???a" to "Pz8/YQ==".
	require.Equal(t, "YWI/", PartitionBlobName("ab?"))
	require.Equal(t, "Pz8/YQ==", PartitionBlobName("???a"))
	keys := []string{"???a", "ab?", "x"}

	b := open()
	require.NoError(t, b.CreateTableIfNotExists(ctx, "orders", dbtable.Attributes{Persist: true}))
	for _, pk := range keys {
		require.NoError(t, b.SavePartition(ctx, "orders", pk, []byte(`[{"rk":"`+pk+`"}]`)))
	}

	b = open()
	pks, err := b.ListPartitions(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, keys, pks)
	for _, pk := range keys {
		data, err := b.LoadPartition(ctx, "orders", pk)
		require.NoError(t, err)
		require.Equal(t, `[{"rk":"`+pk+`"}]`, string(data))
	}

	require.NoError(t, b.DeletePartition(ctx, "orders", "ab?"))
	pks, err = open().ListPartitions(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, []string{"???a", "x"}, pks)
}

func TestBackendPrefix(t *testing.T) {
	ctx := context.Background()
	store := remote.NewInMem()
	b := New(store, Options{Prefix: "backup/2024-01-01T00:00:00Z", Logger: base.NoopLogger{}})
	require.NoError(t, b.SaveTableAttributes(ctx, "t", dbtable.Attributes{}))
	require.NoError(t, remote.WriteObject(ctx, store, "backup/2024-01-01T00:00:00Z/Not A Table/x", nil))

	names, err := store.List(ctx, "", "")
	require.NoError(t, err)
	require.Equal(t, []string{"backup/2024-01-01T00:00:00Z/Not A Table/x", "backup/2024-01-01T00:00:00Z/t/.metadata"}, names)

	tables, err := b.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"t"}, tables)
}

func TestBackendErrorClasses(t *testing.T) {
	ctx := context.Background()
	toggle := &errorfs.Toggle{}
	b := newTestBackend(errorfs.Wrap(remote.NewInMem(), toggle))

	toggle.Enable()
	err := b.SavePartition(ctx, "t", "A", nil)
	require.Equal(t, objstorage.ClassTransient, objstorage.Classify(err))

	toggle.Err = func(op errorfs.Op, name string) error {
		return objstorage.MarkFatal(errors.Newf("%s %s: permission denied", op, name))
	}
	err = b.SavePartition(ctx, "t", "A", nil)
	require.Equal(t, objstorage.ClassFatal, objstorage.Classify(err))

	toggle.Disable()
	require.NoError(t, b.SavePartition(ctx, "t", "A", nil))
}

// blockingStorage blocks reads until their context is done.
type blockingStorage struct {
	remote.Storage
}

func (s blockingStorage) ReadObject(ctx context.Context, name string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBackendDeadline(t *testing.T) {
	b := New(blockingStorage{remote.NewInMem()}, Options{OpTimeout: 10 * time.Millisecond, Logger: base.NoopLogger{}})
	_, err := b.LoadPartition(context.Background(), "t", "A")
	require.Error(t, err)
	require.Equal(t, objstorage.ClassTransient, objstorage.Classify(err))
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

// gatedStorage holds every write open until release is closed.
type gatedStorage struct {
	remote.Storage
	release  chan struct{}
	inflight atomic.Int32
	peak     atomic.Int32
}

func (s *gatedStorage) CreateObject(ctx context.Context, name string) (io.WriteCloser, error) {
	w, err := s.Storage.CreateObject(ctx, name)
	if err != nil {
		return nil, err
	}
	return &gatedWriter{WriteCloser: w, s: s}, nil
}

type gatedWriter struct {
	io.WriteCloser
	s *gatedStorage
}

func (w *gatedWriter) Close() error {
	n := w.s.inflight.Add(1)
	for {
		p := w.s.peak.Load()
		if n <= p || w.s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-w.s.release
	w.s.inflight.Add(-1)
	return w.WriteCloser.Close()
}

func TestBackendConcurrencyBound(t *testing.T) {
	gs := &gatedStorage{Storage: remote.NewInMem(), release: make(chan struct{})}
	b := newTestBackend(gs)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, b.SavePartition(ctx, "t", string(rune('a'+i)), nil))
		}(i)
	}
	require.Eventually(t, func() bool { return gs.inflight.Load() == 8 }, 5*time.Second, time.Millisecond)
	// Writes to another table are not held back by the first table's bound.
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, b.SavePartition(ctx, "u", "a", nil))
	}()
	require.Eventually(t, func() bool { return gs.inflight.Load() == 9 }, 5*time.Second, time.Millisecond)
	close(gs.release)
	wg.Wait()
	require.Equal(t, int32(9), gs.peak.Load())
}
