// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package objstorage defines the contract between the table store and its
// persistent storage, and the classification of storage errors.
package objstorage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/tablestore/tablestore/dbtable"
)

// Backend persists tables. A table is a set of partition payloads plus an
// attributes record. Implementations must be safe for concurrent use.
//
// Errors returned by a Backend are classified with Classify.
type Backend interface {
	// CreateTableIfNotExists creates an empty table with the given
	// attributes. If the table exists with the same settings it succeeds;
	// otherwise it returns an error marked ErrAlreadyExists.
	CreateTableIfNotExists(ctx context.Context, table string, attrs dbtable.Attributes) error
	// DeleteTable removes a table and all its partitions. Deleting a table
	// that does not exist succeeds.
	DeleteTable(ctx context.Context, table string) error
	// SaveTableAttributes overwrites the attributes record of a table.
	SaveTableAttributes(ctx context.Context, table string, attrs dbtable.Attributes) error
	// SavePartition overwrites the payload of a partition.
	SavePartition(ctx context.Context, table, partition string, payload []byte) error
	// DeletePartition removes a partition. Deleting a missing partition
	// succeeds.
	DeletePartition(ctx context.Context, table, partition string) error
	// ListTables returns the names of all tables, sorted.
	ListTables(ctx context.Context) ([]string, error)
	// ListPartitions returns the partition keys of a table, sorted.
	ListPartitions(ctx context.Context, table string) ([]string, error)
	// LoadPartition returns the payload of a partition, or an error marked
	// ErrNotFound.
	LoadPartition(ctx context.Context, table, partition string) ([]byte, error)
	// LoadAttributes returns the attributes of a table, or an error marked
	// ErrNotFound.
	LoadAttributes(ctx context.Context, table string) (dbtable.Attributes, error)
}

// Error classes. Backends mark the errors they return with one of these;
// unmarked errors are treated as transient.
var (
	ErrNotFound      = errors.New("object not found")
	ErrAlreadyExists = errors.New("object already exists")
	ErrTransient     = errors.New("transient storage error")
	ErrFatal         = errors.New("fatal storage error")
)

// Class is the disposition of a storage error.
type Class int8

const (
	// ClassNone is the class of a nil error.
	ClassNone Class = iota
	// ClassNotFound errors mean the object is absent.
	ClassNotFound
	// ClassAlreadyExists errors mean a create found an existing object.
	ClassAlreadyExists
	// ClassTransient errors are retried with backoff.
	ClassTransient
	// ClassFatal errors need operator action; persistence of the affected
	// table is suspended.
	ClassFatal
)

// String implements fmt.Stringer.
func (c Class) String() string {
	return redact.StringWithoutMarkers(c)
}

// SafeFormat implements redact.SafeFormatter.
func (c Class) SafeFormat(w redact.SafePrinter, _ rune) {
	switch c {
	case ClassNone:
		w.SafeString("none")
	case ClassNotFound:
		w.SafeString("not-found")
	case ClassAlreadyExists:
		w.SafeString("already-exists")
	case ClassTransient:
		w.SafeString("transient")
	case ClassFatal:
		w.SafeString("fatal")
	default:
		w.Printf("class(%d)", int8(c))
	}
}

// Classify returns the class of err. Context cancellation and deadline
// expiry are transient.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrFatal):
		return ClassFatal
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrAlreadyExists):
		return ClassAlreadyExists
	default:
		return ClassTransient
	}
}

// MarkNotFound marks err as ErrNotFound.
func MarkNotFound(err error) error { return errors.Mark(err, ErrNotFound) }

// MarkTransient marks err as ErrTransient.
func MarkTransient(err error) error { return errors.Mark(err, ErrTransient) }

// MarkFatal marks err as ErrFatal.
func MarkFatal(err error) error { return errors.Mark(err, ErrFatal) }

// IsNotFound reports whether err is marked ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
