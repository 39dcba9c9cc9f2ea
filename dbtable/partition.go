// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package dbtable

import (
	"slices"
	"strings"
	"sync/atomic"

	"github.com/tablestore/tablestore/internal/invariants"
)

// Partition holds the rows sharing a partition key, ordered by row key.
//
// Partitions are owned by a Table and are only accessed with the table lock
// held: read lock for lookups, write lock for mutation. lastRead is atomic
// because readers update it under the read lock.
type Partition struct {
	key       string
	rows      []*Row
	lastWrite Timestamp
	lastRead  atomic.Int64
	// expiring counts rows with a non-zero Expires.
	expiring int
}

func newPartition(key string) *Partition {
	return &Partition{key: key}
}

// Key returns the partition key.
func (p *Partition) Key() string { return p.key }

// Len returns the number of rows.
func (p *Partition) Len() int { return len(p.rows) }

// LastWrite returns the time of the last write to the partition.
func (p *Partition) LastWrite() Timestamp { return p.lastWrite }

// LastRead returns the time of the last read of the partition.
func (p *Partition) LastRead() Timestamp { return Timestamp(p.lastRead.Load()) }

func (p *Partition) markRead(now Timestamp) {
	if int64(now) > p.lastRead.Load() {
		p.lastRead.Store(int64(now))
	}
}

func (p *Partition) search(rowKey string) (int, bool) {
	return slices.BinarySearchFunc(p.rows, rowKey, func(r *Row, k string) int {
		return strings.Compare(r.RowKey, k)
	})
}

func (p *Partition) get(rowKey string) *Row {
	if i, ok := p.search(rowKey); ok {
		return p.rows[i]
	}
	return nil
}

// upsert installs row and returns the row it replaced, if any.
func (p *Partition) upsert(row *Row) (old *Row) {
	i, ok := p.search(row.RowKey)
	if ok {
		old = p.rows[i]
		p.rows[i] = row
		if old.Expires != 0 {
			p.expiring--
		}
	} else {
		p.rows = slices.Insert(p.rows, i, row)
	}
	if row.Expires != 0 {
		p.expiring++
	}
	return old
}

func (p *Partition) remove(rowKey string) *Row {
	i, ok := p.search(rowKey)
	if !ok {
		return nil
	}
	old := p.rows[i]
	p.rows = slices.Delete(p.rows, i, i+1)
	if old.Expires != 0 {
		p.expiring--
	}
	return old
}

// snapshot clones the row handles; payloads are shared.
func (p *Partition) snapshot() *PartitionSnapshot {
	s := &PartitionSnapshot{
		Key:       p.key,
		Rows:      slices.Clone(p.rows),
		LastWrite: p.lastWrite,
	}
	if invariants.Enabled {
		keys := make([]string, len(s.Rows))
		for i, r := range s.Rows {
			keys[i] = r.RowKey
		}
		invariants.CheckSortedStrings(keys)
	}
	return s
}

// partitionUndo captures the state of a partition before an update first
// touched it.
type partitionUndo struct {
	existed   bool
	p         *Partition
	rows      []*Row
	lastWrite Timestamp
	expiring  int
}

func capturePartition(p *Partition) partitionUndo {
	return partitionUndo{
		existed:   true,
		p:         p,
		rows:      slices.Clone(p.rows),
		lastWrite: p.lastWrite,
		expiring:  p.expiring,
	}
}

// had reports whether the partition held rowKey before the update.
func (u partitionUndo) had(rowKey string) bool {
	if !u.existed {
		return false
	}
	_, ok := slices.BinarySearchFunc(u.rows, rowKey, func(r *Row, k string) int {
		return strings.Compare(r.RowKey, k)
	})
	return ok
}

func (u partitionUndo) restore() {
	u.p.rows = u.rows
	u.p.lastWrite = u.lastWrite
	u.p.expiring = u.expiring
}
