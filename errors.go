// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore/dbtable"
	"github.com/tablestore/tablestore/txn"
)

// Error kinds surfaced to callers. Use errors.Is to test for them.
var (
	ErrValidation                = dbtable.ErrValidation
	ErrRecordNotFound            = dbtable.ErrRecordNotFound
	ErrRecordAlreadyExists       = dbtable.ErrRecordAlreadyExists
	ErrRecordChangedConcurrently = dbtable.ErrRecordChangedConcurrently
	ErrTransactionNotFound       = txn.ErrTransactionNotFound
	ErrTransactionExpired        = txn.ErrTransactionExpired

	// ErrTableNotFound is returned by operations on a table that does not
	// exist.
	ErrTableNotFound = errors.New("table not found")
	// ErrConflict is returned when creating a table that already exists with
	// different attributes.
	ErrConflict = errors.New("conflict")
	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("tablestore: closed")
	// ErrNoBackups is returned by backup operations when no backup storage
	// is configured.
	ErrNoBackups = errors.New("backups are not configured")
)

func tableNotFound(name string) error {
	return errors.Wrapf(ErrTableNotFound, "table %s", name)
}
