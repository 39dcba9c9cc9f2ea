// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package dbtable

import "sort"

// PartitionSnapshot is an immutable point-in-time view of a partition. Rows
// are ordered by row key and shared with the live table.
type PartitionSnapshot struct {
	Key       string
	Rows      []*Row
	LastWrite Timestamp
}

// Get returns the row with the given key, or nil.
func (s *PartitionSnapshot) Get(rowKey string) *Row {
	i := sort.Search(len(s.Rows), func(i int) bool { return s.Rows[i].RowKey >= rowKey })
	if i < len(s.Rows) && s.Rows[i].RowKey == rowKey {
		return s.Rows[i]
	}
	return nil
}

// TableSnapshot is an immutable point-in-time view of a whole table.
type TableSnapshot struct {
	Name              string
	Attributes        Attributes
	AttributesVersion uint64
	// Created is the time the snapshot was taken.
	Created    Timestamp
	Partitions map[string]*PartitionSnapshot
}

// PartitionKeys returns the partition keys in ascending order.
func (s *TableSnapshot) PartitionKeys() []string {
	keys := make([]string, 0, len(s.Partitions))
	for k := range s.Partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RowCount returns the number of rows across all partitions.
func (s *TableSnapshot) RowCount() int {
	n := 0
	for _, p := range s.Partitions {
		n += len(p.Rows)
	}
	return n
}

// Rows returns every row ordered by partition key then row key.
func (s *TableSnapshot) Rows() []*Row {
	rows := make([]*Row, 0, s.RowCount())
	for _, k := range s.PartitionKeys() {
		rows = append(rows, s.Partitions[k].Rows...)
	}
	return rows
}
