// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"context"
	"fmt"
	"io"
)

// WithLogging wraps the given Storage implementation and emits logs for
// various operations.
func WithLogging(wrapped Storage, logf func(fmt string, args ...interface{})) Storage {
	return &loggingStore{
		logf:    logf,
		wrapped: wrapped,
	}
}

// loggingStore wraps a remote.Storage implementation and emits logs of the
// operations.
type loggingStore struct {
	logf    func(fmt string, args ...interface{})
	wrapped Storage
}

var _ Storage = (*loggingStore)(nil)

func (l *loggingStore) Close() error {
	l.logf("close")
	return l.wrapped.Close()
}

func (l *loggingStore) ReadObject(ctx context.Context, objName string) ([]byte, error) {
	data, err := l.wrapped.ReadObject(ctx, objName)
	l.logf("read object %q: %s", objName, errOrPrintf(err, "%d bytes", len(data)))
	return data, err
}

func (l *loggingStore) CreateObject(ctx context.Context, objName string) (io.WriteCloser, error) {
	l.logf("create object %q", objName)
	writer, err := l.wrapped.CreateObject(ctx, objName)
	if err != nil {
		return nil, err
	}
	return &loggingWriter{
		l:           l,
		name:        objName,
		WriteCloser: writer,
	}, nil
}

type loggingWriter struct {
	l            *loggingStore
	name         string
	bytesWritten int64
	io.WriteCloser
}

func (l *loggingWriter) Write(p []byte) (n int, err error) {
	n, err = l.WriteCloser.Write(p)
	l.bytesWritten += int64(n)
	return n, err
}

func (l *loggingWriter) Close() error {
	err := l.WriteCloser.Close()
	l.l.logf("close writer for %q after %d bytes: %s", l.name, l.bytesWritten, errOrPrintf(err, "ok"))
	return err
}

func (l *loggingStore) List(ctx context.Context, prefix, delimiter string) ([]string, error) {
	res, err := l.wrapped.List(ctx, prefix, delimiter)
	l.logf("list (prefix=%q, delimiter=%q): %s", prefix, delimiter, errOrPrintf(err, "%d entries", len(res)))
	return res, err
}

func (l *loggingStore) Delete(ctx context.Context, objName string) error {
	err := l.wrapped.Delete(ctx, objName)
	l.logf("delete object %q: %s", objName, errOrPrintf(err, "ok"))
	return err
}

func (l *loggingStore) Size(ctx context.Context, objName string) (int64, error) {
	size, err := l.wrapped.Size(ctx, objName)
	l.logf("size of object %q: %s", objName, errOrPrintf(err, "%d", size))
	return size, err
}

func errOrPrintf(err error, format string, args ...interface{}) string {
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return fmt.Sprintf(format, args...)
}

func (l *loggingStore) IsNotExistError(err error) bool {
	return l.wrapped.IsNotExistError(err)
}
