// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package dbtable

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore/internal/invariants"
)

// Writer mutates a table on behalf of Table.Update. It is only valid inside
// the Update callback, with the table write lock held.
type Writer struct {
	t       *Table
	now     Timestamp
	effects SideEffects

	// undo holds the pre-update state of every partition touched so far.
	undo map[string]partitionUndo
	// Table-level state at lock entry.
	attrs        Attributes
	attrsVersion uint64
	rows         int
	expiring     int

	attrsChanged bool
}

func (t *Table) newWriter(now Timestamp) *Writer {
	return &Writer{
		t:            t,
		now:          now,
		effects:      SideEffects{Table: t.name},
		undo:         make(map[string]partitionUndo),
		attrs:        t.mu.attrs,
		attrsVersion: t.mu.attrsVersion,
		rows:         t.mu.rows,
		expiring:     t.mu.expiring,
	}
}

// Now returns the timestamp the update runs at.
func (w *Writer) Now() Timestamp { return w.now }

// Get returns the current row under (pk, rk), including changes made earlier
// in this update.
func (w *Writer) Get(pk, rk string) *Row {
	if p, ok := w.t.mu.partitions.Get(pk); ok {
		return p.get(rk)
	}
	return nil
}

// InsertOrReplace writes rows in order; a later row under the same key wins.
func (w *Writer) InsertOrReplace(rows []*Row) {
	for _, r := range rows {
		w.put(r)
	}
}

// Insert writes row, failing if a row already exists under its key.
func (w *Writer) Insert(row *Row) error {
	if w.Get(row.PartitionKey, row.RowKey) != nil {
		return errors.Wrapf(ErrRecordAlreadyExists, "%s/%s", row.PartitionKey, row.RowKey)
	}
	w.put(row)
	return nil
}

// Replace overwrites an existing row. If expected is non-zero it must match
// the stored row's TimeStamp.
func (w *Writer) Replace(row *Row, expected Timestamp) error {
	cur := w.Get(row.PartitionKey, row.RowKey)
	if cur == nil {
		return errors.Wrapf(ErrRecordNotFound, "%s/%s", row.PartitionKey, row.RowKey)
	}
	if expected != 0 && cur.TimeStamp != expected {
		return errors.Wrapf(ErrRecordChangedConcurrently,
			"%s/%s has time stamp %s, expected %s", row.PartitionKey, row.RowKey, cur.TimeStamp, expected)
	}
	w.put(row)
	return nil
}

// DeleteRows removes rows by partition key and row keys.
func (w *Writer) DeleteRows(byPartition map[string][]string) {
	// Sorted for deterministic side effects.
	pks := make([]string, 0, len(byPartition))
	for pk := range byPartition {
		pks = append(pks, pk)
	}
	sort.Strings(pks)
	for _, pk := range pks {
		for _, rk := range byPartition[pk] {
			w.DeleteRow(pk, rk)
		}
	}
}

// DeleteRow removes a single row. The partition is dropped when it becomes
// empty.
func (w *Writer) DeleteRow(pk, rk string) *Row {
	p, ok := w.t.mu.partitions.Get(pk)
	if !ok || p.get(rk) == nil {
		return nil
	}
	w.capture(pk, p)
	old := p.remove(rk)
	w.t.mu.rows--
	if old.Expires != 0 {
		w.t.mu.expiring--
	}
	p.lastWrite = w.now
	w.rowDeleted(old)
	if p.Len() == 0 {
		w.dropPartition(pk, p)
	} else {
		w.effects.partitionUpdated(pk)
	}
	return old
}

// CleanPartitions removes whole partitions.
func (w *Writer) CleanPartitions(keys []string) {
	for _, pk := range keys {
		if p, ok := w.t.mu.partitions.Get(pk); ok {
			w.capture(pk, p)
			w.removePartition(pk, p)
		}
	}
}

// CleanTable removes every partition and marks the update as a rebuild.
func (w *Writer) CleanTable() {
	var all []*Partition
	w.t.mu.partitions.All(func(_ string, p *Partition) bool {
		all = append(all, p)
		return true
	})
	for _, p := range all {
		w.capture(p.key, p)
		w.removePartition(p.key, p)
	}
	w.effects.Rebuilt = true
}

// SetAttributes installs attrs as a new attributes version. The creation
// time of the table is preserved.
func (w *Writer) SetAttributes(attrs Attributes) {
	attrs.Created = w.t.mu.attrs.Created
	w.t.mu.attrs = attrs
	w.t.mu.attrsVersion++
	w.effects.AttributesVersion = w.t.mu.attrsVersion
	w.attrsChanged = true
}

// RemoveExpired drops every row whose expiration is at or before the update
// time.
func (w *Writer) RemoveExpired() {
	if w.t.mu.expiring == 0 {
		return
	}
	type expired struct {
		pk, rk string
	}
	var victims []expired
	w.t.mu.partitions.All(func(pk string, p *Partition) bool {
		if p.expiring == 0 {
			return true
		}
		for _, r := range p.rows {
			if r.IsExpired(w.now) {
				victims = append(victims, expired{pk, r.RowKey})
			}
		}
		return true
	})
	for _, v := range victims {
		w.DeleteRow(v.pk, v.rk)
	}
}

func (w *Writer) put(row *Row) {
	row = row.stamped(w.now)
	pk := row.PartitionKey
	p, ok := w.t.mu.partitions.Get(pk)
	if !ok {
		p = newPartition(pk)
		w.t.mu.partitions.Put(pk, p)
		if _, seen := w.undo[pk]; !seen {
			w.undo[pk] = partitionUndo{existed: false, p: p}
		}
	} else {
		w.capture(pk, p)
	}
	old := p.upsert(row)
	if old == nil {
		w.t.mu.rows++
	} else if old.Expires != 0 {
		w.t.mu.expiring--
	}
	if row.Expires != 0 {
		w.t.mu.expiring++
	}
	p.lastWrite = w.now
	w.effects.rowUpdated(row, old)
}

// restorePartition installs a partition snapshot verbatim, keeping the row
// time stamps. Used by ReplaceContents.
func (w *Writer) restorePartition(ps *PartitionSnapshot) {
	if len(ps.Rows) == 0 {
		return
	}
	p, ok := w.t.mu.partitions.Get(ps.Key)
	if !ok {
		p = newPartition(ps.Key)
		w.t.mu.partitions.Put(ps.Key, p)
		if _, seen := w.undo[ps.Key]; !seen {
			w.undo[ps.Key] = partitionUndo{existed: false, p: p}
		}
	} else {
		w.capture(ps.Key, p)
	}
	for _, r := range ps.Rows {
		old := p.upsert(r)
		if old == nil {
			w.t.mu.rows++
		} else if old.Expires != 0 {
			w.t.mu.expiring--
		}
		if r.Expires != 0 {
			w.t.mu.expiring++
		}
		w.effects.rowUpdated(r, old)
	}
	if ps.LastWrite > p.lastWrite {
		p.lastWrite = ps.LastWrite
	}
}

// capture records the pre-update state of a partition the first time the
// update touches it.
func (w *Writer) capture(pk string, p *Partition) {
	if _, ok := w.undo[pk]; ok {
		return
	}
	w.undo[pk] = capturePartition(p)
}

func (w *Writer) removePartition(pk string, p *Partition) {
	for _, r := range p.rows {
		w.rowDeleted(r)
		if r.Expires != 0 {
			w.t.mu.expiring--
		}
	}
	w.t.mu.rows -= len(p.rows)
	p.rows = nil
	p.expiring = 0
	w.dropPartition(pk, p)
}

// rowDeleted records the removal of a row. A row inserted earlier in the same
// update never became visible, so its removal only cancels the insert.
func (w *Writer) rowDeleted(r *Row) {
	if u, ok := w.undo[r.PartitionKey]; ok && !u.had(r.RowKey) {
		w.effects.insertCancelled(r)
		return
	}
	w.effects.rowDeleted(r)
}

func (w *Writer) dropPartition(pk string, p *Partition) {
	if invariants.Enabled && p.Len() != 0 {
		panic(errors.AssertionFailedf("dropping non-empty partition %q", pk))
	}
	w.t.mu.partitions.Delete(pk)
	w.effects.partitionDeleted(pk)
}

func (w *Writer) rollback() {
	for pk, u := range w.undo {
		if !u.existed {
			w.t.mu.partitions.Delete(pk)
			continue
		}
		u.restore()
		w.t.mu.partitions.Put(pk, u.p)
	}
	w.t.mu.attrs = w.attrs
	w.t.mu.attrsVersion = w.attrsVersion
	w.t.mu.rows = w.rows
	w.t.mu.expiring = w.expiring
}

func (w *Writer) finish() SideEffects {
	e := w.effects
	if invariants.Enabled {
		invariants.CheckDisjoint(e.UpdatedPartitions, e.DeletedPartitions)
	}
	return e
}
