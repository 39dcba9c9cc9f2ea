// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package dbtable

import (
	"sort"

	"github.com/cockroachdb/redact"
)

// SideEffects summarizes what a mutation did to a table. It is forwarded to
// the persistence queue and to change-event subscribers.
//
// Row-level entries obey later-wins: a row key appears in at most one of
// UpdatedRows and DeletedRows. Likewise a partition key appears in at most
// one of UpdatedPartitions and DeletedPartitions.
type SideEffects struct {
	Table string
	// UpdatedRows maps partition key to the rows inserted or replaced, by row
	// key.
	UpdatedRows map[string]map[string]*Row
	// ReplacedRows are the previous versions of rows that were replaced.
	ReplacedRows []*Row
	// DeletedRows maps partition key to the rows removed, by row key. Rows
	// removed by eviction, expiry and cleaning are included.
	DeletedRows map[string]map[string]*Row
	// UpdatedPartitions are partitions that exist after the mutation and whose
	// content changed.
	UpdatedPartitions map[string]struct{}
	// DeletedPartitions are partitions that no longer exist.
	DeletedPartitions map[string]struct{}
	// EvictedPartitions lists partitions dropped by the max-partitions limit,
	// in eviction order. They are also in DeletedPartitions.
	EvictedPartitions []string
	// AttributesVersion is non-zero when the attributes changed.
	AttributesVersion uint64
	// Rebuilt is set when the whole table content was replaced.
	Rebuilt bool
}

// IsEmpty reports whether the mutation changed nothing.
func (e *SideEffects) IsEmpty() bool {
	return len(e.UpdatedPartitions) == 0 && len(e.DeletedPartitions) == 0 &&
		e.AttributesVersion == 0 && !e.Rebuilt
}

// RowsUpdated counts the rows inserted or replaced.
func (e *SideEffects) RowsUpdated() int {
	n := 0
	for _, rows := range e.UpdatedRows {
		n += len(rows)
	}
	return n
}

// RowsDeleted counts the rows removed.
func (e *SideEffects) RowsDeleted() int {
	n := 0
	for _, rows := range e.DeletedRows {
		n += len(rows)
	}
	return n
}

// SortedUpdatedPartitions returns UpdatedPartitions in ascending order.
func (e *SideEffects) SortedUpdatedPartitions() []string {
	return sortedKeys(e.UpdatedPartitions)
}

// SortedDeletedPartitions returns DeletedPartitions in ascending order.
func (e *SideEffects) SortedDeletedPartitions() []string {
	return sortedKeys(e.DeletedPartitions)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String implements fmt.Stringer.
func (e *SideEffects) String() string {
	return redact.StringWithoutMarkers(e)
}

// SafeFormat implements redact.SafeFormatter.
func (e *SideEffects) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("table=%s updated=%d deleted=%d partitions(+%d -%d)",
		redact.SafeString(e.Table), e.RowsUpdated(), e.RowsDeleted(),
		len(e.UpdatedPartitions), len(e.DeletedPartitions))
	if len(e.EvictedPartitions) > 0 {
		w.Printf(" evicted=%d", len(e.EvictedPartitions))
	}
	if e.AttributesVersion != 0 {
		w.Printf(" attrs=v%d", e.AttributesVersion)
	}
	if e.Rebuilt {
		w.SafeString(" rebuilt")
	}
}

func (e *SideEffects) rowUpdated(row, old *Row) {
	pk := row.PartitionKey
	if d := e.DeletedRows[pk]; d != nil {
		delete(d, row.RowKey)
		if len(d) == 0 {
			delete(e.DeletedRows, pk)
		}
	}
	if e.UpdatedRows == nil {
		e.UpdatedRows = make(map[string]map[string]*Row)
	}
	m := e.UpdatedRows[pk]
	if m == nil {
		m = make(map[string]*Row)
		e.UpdatedRows[pk] = m
	}
	m[row.RowKey] = row
	if old != nil {
		e.ReplacedRows = append(e.ReplacedRows, old)
	}
	e.partitionUpdated(pk)
}

func (e *SideEffects) insertCancelled(row *Row) {
	pk := row.PartitionKey
	if u := e.UpdatedRows[pk]; u != nil {
		delete(u, row.RowKey)
		if len(u) == 0 {
			delete(e.UpdatedRows, pk)
		}
	}
}

func (e *SideEffects) rowDeleted(row *Row) {
	e.insertCancelled(row)
	pk := row.PartitionKey
	if e.DeletedRows == nil {
		e.DeletedRows = make(map[string]map[string]*Row)
	}
	m := e.DeletedRows[pk]
	if m == nil {
		m = make(map[string]*Row)
		e.DeletedRows[pk] = m
	}
	m[row.RowKey] = row
}

func (e *SideEffects) partitionUpdated(pk string) {
	delete(e.DeletedPartitions, pk)
	if e.UpdatedPartitions == nil {
		e.UpdatedPartitions = make(map[string]struct{})
	}
	e.UpdatedPartitions[pk] = struct{}{}
}

func (e *SideEffects) partitionDeleted(pk string) {
	delete(e.UpdatedPartitions, pk)
	if e.DeletedPartitions == nil {
		e.DeletedPartitions = make(map[string]struct{})
	}
	e.DeletedPartitions[pk] = struct{}{}
}
