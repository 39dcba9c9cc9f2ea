// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package persist

import (
	"sort"
	"sync"

	"github.com/tablestore/tablestore/dbtable"
)

// Work is pending state taken out of the queue by Drain. The flusher records
// what it durably achieved in Written and Removed before handing the work back
// with ReportResult.
type Work struct {
	Table string
	State State

	// Written maps each partition whose payload was durably written to the
	// hash of that payload.
	Written map[string]Hash
	// Removed lists partitions durably deleted.
	Removed []string
}

// RecordWrite notes that a partition payload with hash h is durable.
func (w *Work) RecordWrite(partition string, h Hash) {
	if w.Written == nil {
		w.Written = make(map[string]Hash)
	}
	w.Written[partition] = h
}

// RecordRemove notes that a partition was durably deleted.
func (w *Work) RecordRemove(partition string) {
	w.Removed = append(w.Removed, partition)
}

// Queue holds the pending persistence state of every table. Each table has a
// notification channel that is signalled when work is enqueued.
type Queue struct {
	cache *ContentCache

	mu struct {
		sync.Mutex
		tables map[string]*tableQueue
	}
}

type tableQueue struct {
	pending  State
	notify   chan struct{}
	inflight bool
}

// NewQueue creates a queue that reconciles successful work into cache.
func NewQueue(cache *ContentCache) *Queue {
	q := &Queue{cache: cache}
	q.mu.tables = make(map[string]*tableQueue)
	return q
}

// Cache returns the content cache the queue reconciles into.
func (q *Queue) Cache() *ContentCache { return q.cache }

func (q *Queue) tableLocked(table string) *tableQueue {
	tq, ok := q.mu.tables[table]
	if !ok {
		tq = &tableQueue{notify: make(chan struct{}, 1)}
		q.mu.tables[table] = tq
	}
	return tq
}

// Notify returns the channel signalled when work for table is enqueued. The
// channel has a buffer of one; a signal may stand for many enqueues.
func (q *Queue) Notify(table string) <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tableLocked(table).notify
}

// Enqueue merges the side effects of a mutation into the pending state of
// their table. It reports whether anything was enqueued.
func (q *Queue) Enqueue(e dbtable.SideEffects) bool {
	return q.EnqueueState(e.Table, FromEffects(e))
}

// EnqueueState merges s into the pending state of table.
func (q *Queue) EnqueueState(table string, s State) bool {
	if s.IsEmpty() {
		return false
	}
	q.mu.Lock()
	tq := q.tableLocked(table)
	tq.pending = tq.pending.Join(s)
	q.mu.Unlock()
	select {
	case tq.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain atomically takes the pending state of table. It returns false if
// nothing is pending or if a previous Work has not been reported yet.
func (q *Queue) Drain(table string) (*Work, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq, ok := q.mu.tables[table]
	if !ok || tq.inflight || tq.pending.IsEmpty() {
		return nil, false
	}
	w := &Work{Table: table, State: tq.pending}
	tq.pending = State{}
	tq.inflight = true
	return w, true
}

// ReportResult hands back drained work. Whatever the work recorded as durable
// is reconciled into the content cache. If err is non-nil the work's state is
// folded back under anything enqueued since it was drained, so newer changes
// keep precedence and nothing is lost.
func (q *Queue) ReportResult(w *Work, err error) {
	if q.cache != nil {
		for pk, h := range w.Written {
			q.cache.Put(w.Table, pk, h)
		}
		for _, pk := range w.Removed {
			q.cache.Delete(w.Table, pk)
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	tq := q.tableLocked(w.Table)
	tq.inflight = false
	if err != nil {
		tq.pending = w.State.Join(tq.pending)
	}
}

// Pending returns a copy of the pending state of table.
func (q *Queue) Pending(table string) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if tq, ok := q.mu.tables[table]; ok {
		return tq.pending.clone()
	}
	return State{}
}

// PendingTables returns the tables with pending work, sorted.
func (q *Queue) PendingTables() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var res []string
	for name, tq := range q.mu.tables {
		if !tq.pending.IsEmpty() {
			res = append(res, name)
		}
	}
	sort.Strings(res)
	return res
}

// Discard clears the pending state of table. Work in flight is unaffected and
// may still fold back when reported.
func (q *Queue) Discard(table string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if tq, ok := q.mu.tables[table]; ok {
		tq.pending = State{}
	}
}

// Forget drops all state for table, including pending work.
func (q *Queue) Forget(table string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.mu.tables, table)
}
