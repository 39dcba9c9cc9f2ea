// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package dbtable

import "github.com/cockroachdb/errors"

// Errors returned by table operations. Callers test them with errors.Is.
var (
	ErrValidation                = errors.New("validation failed")
	ErrRecordNotFound            = errors.New("record not found")
	ErrRecordAlreadyExists       = errors.New("record already exists")
	ErrRecordChangedConcurrently = errors.New("record changed concurrently")
	ErrUpdateAborted             = errors.New("table update aborted")
)

// MaxTableNameLength bounds table names.
const MaxTableNameLength = 64

// Attributes are the mutable per-table settings. A zero limit means
// unlimited.
type Attributes struct {
	Persist                   bool      `json:"persist"`
	MaxPartitionsAmount       uint32    `json:"maxPartitionsAmount,omitempty"`
	MaxRowsPerPartitionAmount uint32    `json:"maxRowsPerPartitionAmount,omitempty"`
	Created                   Timestamp `json:"created"`
}

// SameSettings reports whether a and b configure the table identically,
// ignoring the creation time.
func (a Attributes) SameSettings(b Attributes) bool {
	return a.Persist == b.Persist &&
		a.MaxPartitionsAmount == b.MaxPartitionsAmount &&
		a.MaxRowsPerPartitionAmount == b.MaxRowsPerPartitionAmount
}

// ValidateTableName checks that name is 1..64 characters drawn from ASCII
// lower-case letters, digits, '-' and '_'.
func ValidateTableName(name string) error {
	if name == "" {
		return validationErrorf("table name must not be empty")
	}
	if len(name) > MaxTableNameLength {
		return validationErrorf("table name %q is longer than %d characters", name, MaxTableNameLength)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return validationErrorf("table name %q contains invalid character %q", name, c)
		}
	}
	return nil
}
