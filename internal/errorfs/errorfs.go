// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package errorfs wraps a blob storage driver to count operations and inject
// errors into them. It is used by tests.
package errorfs

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore/objstorage/remote"
)

// Op identifies a storage operation.
type Op int

const (
	OpRead Op = iota
	OpCreate
	OpList
	OpDelete
	OpSize
	numOps
)

var opNames = [numOps]string{"read", "create", "list", "delete", "size"}

// String implements fmt.Stringer.
func (o Op) String() string { return opNames[o] }

// ErrInjected is the error returned by injectors in this package.
var ErrInjected = errors.New("injected error")

// Injector injects errors into storage operations.
type Injector interface {
	MaybeError(op Op, objName string) error
}

// OnIndex constructs an injector that returns an error on
// the (n+1)-th invocation of its MaybeError function.
func OnIndex(index int32) *InjectIndex {
	ii := &InjectIndex{}
	ii.index.Store(index)
	return ii
}

// InjectIndex implements Injector, injecting an error at a specific index.
type InjectIndex struct {
	index atomic.Int32
}

// Index returns the index at which the error will be injected.
func (ii *InjectIndex) Index() int32 { return ii.index.Load() }

// SetIndex sets the index at which the error will be injected.
func (ii *InjectIndex) SetIndex(v int32) { ii.index.Store(v) }

// MaybeError implements the Injector interface.
func (ii *InjectIndex) MaybeError(Op, string) error {
	if ii.index.Add(-1) == -1 {
		return ErrInjected
	}
	return nil
}

// Toggle injects an error produced by Err into every operation matching Ops
// and Prefix while it is enabled.
type Toggle struct {
	// Ops restricts injection to the listed operations; empty means all.
	Ops []Op
	// Prefix restricts injection to objects with this name prefix.
	Prefix string
	// Err builds the injected error. Nil means ErrInjected.
	Err func(op Op, objName string) error

	on atomic.Bool
}

// Enable starts injecting errors.
func (t *Toggle) Enable() { t.on.Store(true) }

// Disable stops injecting errors.
func (t *Toggle) Disable() { t.on.Store(false) }

// MaybeError implements the Injector interface.
func (t *Toggle) MaybeError(op Op, objName string) error {
	if !t.on.Load() || !strings.HasPrefix(objName, t.Prefix) {
		return nil
	}
	if len(t.Ops) > 0 {
		match := false
		for _, o := range t.Ops {
			match = match || o == op
		}
		if !match {
			return nil
		}
	}
	if t.Err != nil {
		return t.Err(op, objName)
	}
	return errors.Wrapf(ErrInjected, "%s %q", op, objName)
}

// Storage implements remote.Storage, counting and injecting errors into its
// operations.
type Storage struct {
	wrapped remote.Storage
	inj     Injector

	mu struct {
		sync.Mutex
		counts [numOps]int
		byName map[string]int
	}
}

var _ remote.Storage = (*Storage)(nil)

// Wrap wraps an existing remote.Storage implementation, returning a new
// implementation that shadows operations to the provided one. If inj is
// non-nil and injects an error, Storage returns the error instead of
// shadowing the operation.
func Wrap(s remote.Storage, inj Injector) *Storage {
	w := &Storage{wrapped: s, inj: inj}
	w.mu.byName = make(map[string]int)
	return w
}

// Count returns the number of successful operations of the given kind.
func (s *Storage) Count(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.counts[op]
}

// Writes returns the number of successful writes of the named object.
func (s *Storage) Writes(objName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.byName[objName]
}

// ResetCounts zeroes all counters.
func (s *Storage) ResetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.counts = [numOps]int{}
	s.mu.byName = make(map[string]int)
}

func (s *Storage) maybeError(op Op, objName string) error {
	if s.inj == nil {
		return nil
	}
	return s.inj.MaybeError(op, objName)
}

func (s *Storage) count(op Op, objName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.counts[op]++
	if op == OpCreate {
		s.mu.byName[objName]++
	}
}

// Close implements remote.Storage.
func (s *Storage) Close() error { return s.wrapped.Close() }

// ReadObject implements remote.Storage.
func (s *Storage) ReadObject(ctx context.Context, objName string) ([]byte, error) {
	if err := s.maybeError(OpRead, objName); err != nil {
		return nil, err
	}
	data, err := s.wrapped.ReadObject(ctx, objName)
	if err == nil {
		s.count(OpRead, objName)
	}
	return data, err
}

// CreateObject implements remote.Storage. The injector is consulted when the
// writer is closed.
func (s *Storage) CreateObject(ctx context.Context, objName string) (io.WriteCloser, error) {
	w, err := s.wrapped.CreateObject(ctx, objName)
	if err != nil {
		return nil, err
	}
	return &errorWriter{WriteCloser: w, s: s, name: objName}, nil
}

type errorWriter struct {
	io.WriteCloser
	s    *Storage
	name string
}

func (w *errorWriter) Close() error {
	if err := w.s.maybeError(OpCreate, w.name); err != nil {
		// The wrapped writer is abandoned, the object is left unchanged.
		return err
	}
	if err := w.WriteCloser.Close(); err != nil {
		return err
	}
	w.s.count(OpCreate, w.name)
	return nil
}

// List implements remote.Storage.
func (s *Storage) List(ctx context.Context, prefix, delimiter string) ([]string, error) {
	if err := s.maybeError(OpList, prefix); err != nil {
		return nil, err
	}
	res, err := s.wrapped.List(ctx, prefix, delimiter)
	if err == nil {
		s.count(OpList, prefix)
	}
	return res, err
}

// Delete implements remote.Storage.
func (s *Storage) Delete(ctx context.Context, objName string) error {
	if err := s.maybeError(OpDelete, objName); err != nil {
		return err
	}
	err := s.wrapped.Delete(ctx, objName)
	if err == nil {
		s.count(OpDelete, objName)
	}
	return err
}

// Size implements remote.Storage.
func (s *Storage) Size(ctx context.Context, objName string) (int64, error) {
	if err := s.maybeError(OpSize, objName); err != nil {
		return 0, err
	}
	n, err := s.wrapped.Size(ctx, objName)
	if err == nil {
		s.count(OpSize, objName)
	}
	return n, err
}

// IsNotExistError implements remote.Storage.
func (s *Storage) IsNotExistError(err error) bool {
	return s.wrapped.IsNotExistError(err)
}
