// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
)

// NewInMem returns an in-memory implementation of the remote.Storage
// interface.
func NewInMem() Storage {
	store := &inMemStore{}
	store.mu.objects = make(map[string]*inMemObj)
	return store
}

// inMemStore is an in-memory implementation of the remote.Storage interface.
type inMemStore struct {
	mu struct {
		sync.Mutex
		objects map[string]*inMemObj
	}
}

var _ Storage = (*inMemStore)(nil)

type inMemObj struct {
	name string
	data []byte
}

func (s *inMemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.objects = make(map[string]*inMemObj)
	return nil
}

func (s *inMemStore) ReadObject(ctx context.Context, objName string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj, err := s.getObj(objName)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(obj.data), nil
}

func (s *inMemStore) CreateObject(ctx context.Context, objName string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &inMemWriter{
		store: s,
		name:  objName,
	}, nil
}

type inMemWriter struct {
	store *inMemStore
	name  string
	buf   bytes.Buffer
}

var _ io.WriteCloser = (*inMemWriter)(nil)

func (o *inMemWriter) Write(p []byte) (n int, err error) {
	if o.store == nil {
		panic("Write after Close")
	}
	return o.buf.Write(p)
}

func (o *inMemWriter) Close() error {
	if o.store != nil {
		o.store.addObj(&inMemObj{
			name: o.name,
			data: o.buf.Bytes(),
		})
		o.store = nil
	}
	return nil
}

func (s *inMemStore) List(ctx context.Context, prefix, delimiter string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	names := make([]string, 0, len(s.mu.objects))
	for name := range s.mu.objects {
		names = append(names, name)
	}
	s.mu.Unlock()
	return groupNames(names, prefix, delimiter), nil
}

func (s *inMemStore) Delete(ctx context.Context, objName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mu.objects[objName]; !ok {
		return errors.Wrapf(os.ErrNotExist, "delete %q", objName)
	}
	delete(s.mu.objects, objName)
	return nil
}

// Size returns the length of the named object in bytes.
func (s *inMemStore) Size(ctx context.Context, objName string) (int64, error) {
	obj, err := s.getObj(objName)
	if err != nil {
		return 0, err
	}
	return int64(len(obj.data)), nil
}

func (s *inMemStore) IsNotExistError(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func (s *inMemStore) getObj(name string) (*inMemObj, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.mu.objects[name]
	if !ok {
		return nil, errors.Wrapf(os.ErrNotExist, "object %q", name)
	}
	return obj, nil
}

func (s *inMemStore) addObj(o *inMemObj) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.objects[o.name] = o
}
