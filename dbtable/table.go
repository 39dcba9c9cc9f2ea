// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package dbtable implements the in-memory table store: rows grouped into
// partitions, per-table attributes with size-bounded eviction, expiration,
// and cheap point-in-time snapshots.
//
// A Table is guarded by a reader-writer lock. Every operation is synchronous
// and holds the lock only for the in-memory work; callers take snapshots
// under the lock and do I/O after it is released.
package dbtable

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
)

// Table is a named collection of partitions plus attributes.
type Table struct {
	name string

	mu struct {
		// onCommit observes the side effects of every mutation that changed
		// something, in lock order.
		onCommit     func(SideEffects)
		sync.RWMutex
		partitions   *swiss.Map[string, *Partition]
		attrs        Attributes
		attrsVersion uint64
		rows         int
		// expiring counts rows with a non-zero Expires across partitions.
		expiring int
	}
}

// New creates an empty table. The name must have been validated with
// ValidateTableName.
func New(name string, attrs Attributes) *Table {
	t := &Table{name: name}
	t.mu.partitions = swiss.New[string, *Partition](0)
	t.mu.attrs = attrs
	t.mu.attrsVersion = 1
	return t
}

// NewFromSnapshot builds a table holding the content of s. Used when loading
// a table from persistence or a backup.
func NewFromSnapshot(s *TableSnapshot) *Table {
	t := New(s.Name, s.Attributes)
	if s.AttributesVersion != 0 {
		t.mu.attrsVersion = s.AttributesVersion
	}
	for _, ps := range s.Partitions {
		t.installPartitionLocked(ps)
	}
	return t
}

func (t *Table) installPartitionLocked(ps *PartitionSnapshot) {
	if len(ps.Rows) == 0 {
		return
	}
	p := newPartition(ps.Key)
	p.rows = append([]*Row(nil), ps.Rows...)
	p.lastWrite = ps.LastWrite
	for _, r := range p.rows {
		if r.Expires != 0 {
			p.expiring++
		}
	}
	t.mu.partitions.Put(ps.Key, p)
	t.mu.rows += len(p.rows)
	t.mu.expiring += p.expiring
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Attributes returns the current attributes and their version.
func (t *Table) Attributes() (Attributes, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mu.attrs, t.mu.attrsVersion
}

// Stats returns the partition and row counts.
func (t *Table) Stats() (partitions, rows int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mu.partitions.Len(), t.mu.rows
}

// HasExpiringRows reports whether any row carries an expiration.
func (t *Table) HasExpiringRows() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mu.expiring > 0
}

// GetRow returns the row stored under (pk, rk).
func (t *Table) GetRow(pk, rk string, now Timestamp) (*Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.mu.partitions.Get(pk)
	if !ok {
		return nil, false
	}
	p.markRead(now)
	r := p.get(rk)
	return r, r != nil
}

// PartitionSnapshot returns a snapshot of one partition, or false if the
// partition does not exist.
func (t *Table) PartitionSnapshot(pk string, now Timestamp) (*PartitionSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.mu.partitions.Get(pk)
	if !ok {
		return nil, false
	}
	p.markRead(now)
	return p.snapshot(), true
}

// PartitionSnapshots returns snapshots of the listed partitions taken at one
// point in time. Partitions that do not exist are absent from the result.
func (t *Table) PartitionSnapshots(keys []string) map[string]*PartitionSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res := make(map[string]*PartitionSnapshot, len(keys))
	for _, k := range keys {
		if p, ok := t.mu.partitions.Get(k); ok {
			res[k] = p.snapshot()
		}
	}
	return res
}

// Snapshot returns a snapshot of the whole table.
func (t *Table) Snapshot(now Timestamp) *TableSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked(now)
}

func (t *Table) snapshotLocked(now Timestamp) *TableSnapshot {
	s := &TableSnapshot{
		Name:              t.name,
		Attributes:        t.mu.attrs,
		AttributesVersion: t.mu.attrsVersion,
		Created:           now,
		Partitions:        make(map[string]*PartitionSnapshot, t.mu.partitions.Len()),
	}
	t.mu.partitions.All(func(k string, p *Partition) bool {
		s.Partitions[k] = p.snapshot()
		return true
	})
	return s
}

// SetCommitHook installs fn to be called with the side effects of every
// effective mutation while the write lock is still held. Hooks observe
// mutations in the order they were applied; fn must not block or call back
// into the table.
func (t *Table) SetCommitHook(fn func(SideEffects)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mu.onCommit = fn
}

// View runs fn with a snapshot of the table while holding the read lock, so
// that no mutation (and no commit hook) interleaves with fn. fn must not
// block.
func (t *Table) View(now Timestamp, fn func(s *TableSnapshot)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn(t.snapshotLocked(now))
}

// Update runs fn with the table write lock held and applies everything it
// does atomically: if fn returns an error or panics, the table is restored to
// its state at lock entry and no side effects are returned. Size limits are
// enforced once, after fn returns.
func (t *Table) Update(now Timestamp, fn func(w *Writer) error) (effects SideEffects, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.newWriter(now)
	defer func() {
		if r := recover(); r != nil {
			w.rollback()
			effects = SideEffects{}
			err = errors.Mark(errors.Newf("update of table %s aborted: %v", t.name, r), ErrUpdateAborted)
		}
	}()
	if err := fn(w); err != nil {
		w.rollback()
		return SideEffects{}, err
	}
	w.enforceLimits()
	effects = w.finish()
	if t.mu.onCommit != nil && !effects.IsEmpty() {
		t.mu.onCommit(effects)
	}
	return effects, nil
}

// InsertOrReplace writes rows atomically. Existing rows under the same keys
// are replaced and reported in SideEffects.ReplacedRows.
func (t *Table) InsertOrReplace(rows []*Row, now Timestamp) SideEffects {
	effects, _ := t.Update(now, func(w *Writer) error {
		w.InsertOrReplace(rows)
		return nil
	})
	return effects
}

// Insert writes a row that must not exist yet.
func (t *Table) Insert(row *Row, now Timestamp) (SideEffects, error) {
	return t.Update(now, func(w *Writer) error {
		return w.Insert(row)
	})
}

// Replace overwrites an existing row whose TimeStamp equals expected.
func (t *Table) Replace(row *Row, expected Timestamp, now Timestamp) (SideEffects, error) {
	return t.Update(now, func(w *Writer) error {
		return w.Replace(row, expected)
	})
}

// DeleteRows removes rows by partition key and row keys. Missing rows are
// ignored.
func (t *Table) DeleteRows(byPartition map[string][]string, now Timestamp) SideEffects {
	effects, _ := t.Update(now, func(w *Writer) error {
		w.DeleteRows(byPartition)
		return nil
	})
	return effects
}

// CleanPartitions removes whole partitions. The removed keys are reported in
// SideEffects.DeletedPartitions.
func (t *Table) CleanPartitions(keys []string, now Timestamp) SideEffects {
	effects, _ := t.Update(now, func(w *Writer) error {
		w.CleanPartitions(keys)
		return nil
	})
	return effects
}

// Clean removes every partition. The result is marked Rebuilt.
func (t *Table) Clean(now Timestamp) SideEffects {
	effects, _ := t.Update(now, func(w *Writer) error {
		w.CleanTable()
		return nil
	})
	return effects
}

// UpdateAttributes installs new attributes, bumps the attributes version and
// enforces the new limits immediately.
func (t *Table) UpdateAttributes(attrs Attributes, now Timestamp) SideEffects {
	effects, _ := t.Update(now, func(w *Writer) error {
		w.SetAttributes(attrs)
		return nil
	})
	return effects
}

// GCExpired removes rows whose expiration is at or before now.
func (t *Table) GCExpired(now Timestamp) SideEffects {
	if !t.HasExpiringRows() {
		return SideEffects{Table: t.name}
	}
	effects, _ := t.Update(now, func(w *Writer) error {
		w.RemoveExpired()
		return nil
	})
	return effects
}

// ReplaceContents swaps the table content for s and returns Rebuilt side
// effects. The attributes of s are installed as a new version.
func (t *Table) ReplaceContents(s *TableSnapshot, now Timestamp) SideEffects {
	effects, _ := t.Update(now, func(w *Writer) error {
		w.CleanTable()
		w.SetAttributes(s.Attributes)
		for _, ps := range s.Partitions {
			w.restorePartition(ps)
		}
		return nil
	})
	return effects
}
