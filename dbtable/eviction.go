// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package dbtable

import (
	"cmp"
	"slices"
)

// evictionCandidate orders partitions (or rows) for eviction: partitions not
// touched by the current update go first, then the oldest write, then the
// smallest key.
type evictionCandidate struct {
	key     string
	touched bool
	written Timestamp
}

func compareCandidates(a, b evictionCandidate) int {
	if a.touched != b.touched {
		if !a.touched {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(a.written, b.written); c != 0 {
		return c
	}
	return cmp.Compare(a.key, b.key)
}

// enforceLimits applies the max-partitions and max-rows-per-partition limits
// after the update callback has run. When the attributes changed every
// partition is checked for the row limit, otherwise only the touched ones.
func (w *Writer) enforceLimits() {
	attrs := w.t.mu.attrs
	if n := attrs.MaxRowsPerPartitionAmount; n > 0 {
		if w.attrsChanged {
			var over []*Partition
			w.t.mu.partitions.All(func(_ string, p *Partition) bool {
				if p.Len() > int(n) {
					over = append(over, p)
				}
				return true
			})
			for _, p := range over {
				w.evictRows(p, int(n))
			}
		} else {
			for pk := range w.undo {
				if p, ok := w.t.mu.partitions.Get(pk); ok && p.Len() > int(n) {
					w.evictRows(p, int(n))
				}
			}
		}
	}
	if n := attrs.MaxPartitionsAmount; n > 0 && w.t.mu.partitions.Len() > int(n) {
		w.evictPartitions(int(n))
	}
}

func (w *Writer) evictPartitions(limit int) {
	cands := make([]evictionCandidate, 0, w.t.mu.partitions.Len())
	w.t.mu.partitions.All(func(pk string, p *Partition) bool {
		_, touched := w.undo[pk]
		cands = append(cands, evictionCandidate{key: pk, touched: touched, written: p.lastWrite})
		return true
	})
	slices.SortFunc(cands, compareCandidates)
	for _, c := range cands[:len(cands)-limit] {
		p, _ := w.t.mu.partitions.Get(c.key)
		w.capture(c.key, p)
		w.removePartition(c.key, p)
		w.effects.EvictedPartitions = append(w.effects.EvictedPartitions, c.key)
	}
}

// evictRows trims p to limit rows. Rows written by this update are evicted
// last.
func (w *Writer) evictRows(p *Partition, limit int) {
	cands := make([]evictionCandidate, len(p.rows))
	for i, r := range p.rows {
		cands[i] = evictionCandidate{
			key:     r.RowKey,
			touched: r.TimeStamp == w.now,
			written: r.TimeStamp,
		}
	}
	slices.SortFunc(cands, compareCandidates)
	for _, c := range cands[:len(cands)-limit] {
		w.DeleteRow(p.key, c.key)
	}
}
