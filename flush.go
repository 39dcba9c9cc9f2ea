// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"context"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore/dbtable"
	"github.com/tablestore/tablestore/internal/base"
	"github.com/tablestore/tablestore/objstorage"
	"github.com/tablestore/tablestore/persist"
	"golang.org/x/sync/errgroup"
	backoff "gopkg.in/cenkalti/backoff.v1"
)

// FlushState is the state of a table's flush loop.
type FlushState uint8

const (
	// FlushIdle waits for work.
	FlushIdle FlushState = iota
	// FlushDraining is taking work and snapshots.
	FlushDraining
	// FlushWriting has backend operations in flight.
	FlushWriting
	// FlushBackoff waits before retrying failed work.
	FlushBackoff
	// FlushSuspended stopped after a fatal backend error.
	FlushSuspended
)

func (s FlushState) String() string {
	switch s {
	case FlushIdle:
		return "idle"
	case FlushDraining:
		return "draining"
	case FlushWriting:
		return "writing"
	case FlushBackoff:
		return "backoff"
	case FlushSuspended:
		return "suspended"
	}
	return "unknown"
}

// ErrPersistenceSuspended is returned by Flush for a table whose persistence
// was suspended by a fatal backend error.
var ErrPersistenceSuspended = errors.New("persistence suspended")

// flusher runs the flush loop of one table. The loop outlives the table
// when it is deleted, until the backend copy is gone.
type flusher struct {
	d      *DB
	name   string
	logger base.Logger
	notify <-chan struct{}
	// wake interrupts the wait when persistence is resumed or the table is
	// deleted.
	wake    chan struct{}
	backoff *backoff.ExponentialBackOff

	// flushMu is held for a whole flush cycle so that at most one cycle per
	// table is in flight.
	flushMu sync.Mutex

	// finalErr is the result of the flush run at shutdown.
	finalErr error

	mu struct {
		sync.Mutex
		state         FlushState
		attempt       int
		retryAt       time.Time
		suspended     error
		deletePending bool
		lastErr       error
	}
}

func newFlusher(d *DB, name string) *flusher {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.FlushBackoffInitial
	b.MaxInterval = d.opts.FlushBackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Clock = d.clock
	b.Reset()
	return &flusher{
		d:       d,
		name:    name,
		logger:  base.ForTable(d.opts.Logger, name),
		notify:  d.queue.Notify(name),
		wake:    make(chan struct{}, 1),
		backoff: b,
	}
}

func (f *flusher) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *flusher) requestDelete() {
	f.mu.Lock()
	f.mu.deletePending = true
	f.mu.Unlock()
	f.signal()
}

func (f *flusher) setState(s FlushState) {
	f.mu.Lock()
	f.mu.state = s
	f.mu.Unlock()
}

// run is the flush loop. It returns when ctx is done, after one last flush,
// or once a deleted table is gone from the backend.
func (f *flusher) run(ctx context.Context) {
	defer f.d.flushWG.Done()
	pprof.Do(ctx, pprof.Labels("tablestore", "flush", "table", f.name), func(context.Context) {
		ticker := f.d.clock.Ticker(f.d.opts.PersistInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				f.finalErr = f.flushFinal()
				return
			case <-f.notify:
			case <-f.wake:
			case <-ticker.C:
			}
			// Errors are reported through the event listener.
			_ = f.cycle(ctx, false)
			if f.maybeRetire() {
				return
			}
		}
	})
}

// flushFinal runs one last cycle at shutdown with a fresh deadline.
func (f *flusher) flushFinal() error {
	f.mu.Lock()
	suspended := f.mu.suspended != nil
	f.mu.Unlock()
	if suspended {
		return nil
	}
	err := f.flushNow(context.Background())
	if errors.Is(err, ErrPersistenceSuspended) {
		return nil
	}
	return err
}

// flushNow runs a forced cycle. If that cycle only removed a deleted table
// from the backend, the work of a table recreated under the same name is
// flushed by a second cycle.
func (f *flusher) flushNow(ctx context.Context) error {
	f.mu.Lock()
	deletePending := f.mu.deletePending
	f.mu.Unlock()
	err := f.cycle(ctx, true)
	if err == nil && deletePending && !f.d.queue.Pending(f.name).IsEmpty() {
		err = f.cycle(ctx, true)
	}
	return err
}

// maybeRetire removes the flusher of a deleted table once the deletion is
// durable and no table of the same name was created since.
func (f *flusher) maybeRetire() bool {
	f.mu.Lock()
	deletePending := f.mu.deletePending
	f.mu.Unlock()
	if deletePending {
		return false
	}
	d := f.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mu.tables[f.name] != nil || !d.queue.Pending(f.name).IsEmpty() || d.mu.flushers[f.name] != f {
		return false
	}
	delete(d.mu.flushers, f.name)
	d.queue.Forget(f.name)
	return true
}

// cycle runs one flush cycle. Unless force is set, a cycle during backoff
// does nothing.
func (f *flusher) cycle(ctx context.Context, force bool) error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	now := f.d.clock.Now()
	f.mu.Lock()
	if f.mu.suspended != nil {
		err := f.mu.suspended
		f.mu.Unlock()
		return errors.Mark(errors.Wrapf(err, "table %s", f.name), ErrPersistenceSuspended)
	}
	if !force && now.Before(f.mu.retryAt) {
		f.mu.Unlock()
		return nil
	}
	deletePending := f.mu.deletePending
	f.mu.state = FlushDraining
	f.mu.Unlock()

	if deletePending {
		return f.deleteTable(ctx)
	}
	w, ok := f.d.queue.Drain(f.name)
	if !ok {
		f.setState(FlushIdle)
		return nil
	}
	info := FlushInfo{Table: f.name, State: w.State, Attempt: f.attempt() + 1}
	f.d.opts.EventListener.FlushBegin(info)
	start := crtime.NowMono()
	err := f.flushWork(ctx, w, &info)
	f.d.queue.ReportResult(w, err)
	info.Duration = start.Elapsed()
	return f.finish(info, err)
}

func (f *flusher) attempt() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.attempt
}

// finish records the outcome of a cycle and moves to the next state.
func (f *flusher) finish(info FlushInfo, err error) error {
	info.Done = true
	info.Err = err
	f.d.metrics.recordFlush(f.name, info)
	f.d.opts.EventListener.FlushEnd(info)

	f.mu.Lock()
	if err == nil {
		f.mu.state = FlushIdle
		f.mu.attempt = 0
		f.mu.retryAt = time.Time{}
		f.mu.lastErr = nil
		f.backoff.Reset()
		f.mu.Unlock()
		return nil
	}
	f.mu.lastErr = err
	if objstorage.Classify(err) == objstorage.ClassFatal {
		f.mu.state = FlushSuspended
		f.mu.suspended = err
		f.mu.Unlock()
		f.d.metrics.setSuspended(f.name, true)
		f.d.opts.EventListener.PersistenceSuspended(PersistenceInfo{Table: f.name, Err: err})
		return err
	}
	f.mu.state = FlushBackoff
	f.mu.attempt++
	f.mu.retryAt = f.d.clock.Now().Add(f.backoff.NextBackOff())
	f.mu.Unlock()
	return err
}

// resume clears a suspension. It reports whether the table was suspended.
func (f *flusher) resume() bool {
	f.mu.Lock()
	if f.mu.suspended == nil {
		f.mu.Unlock()
		return false
	}
	f.mu.suspended = nil
	f.mu.state = FlushIdle
	f.mu.attempt = 0
	f.mu.retryAt = time.Time{}
	f.backoff.Reset()
	f.mu.Unlock()
	f.d.metrics.setSuspended(f.name, false)
	f.signal()
	return true
}

func (f *flusher) deleteTable(ctx context.Context) error {
	info := FlushInfo{Table: f.name, Attempt: f.attempt() + 1, TableDeleted: true}
	f.d.opts.EventListener.FlushBegin(info)
	start := crtime.NowMono()
	f.setState(FlushWriting)
	err := f.d.backend.DeleteTable(ctx, f.name)
	info.Duration = start.Elapsed()
	if err == nil {
		f.d.cache.DeleteTable(f.name)
		f.mu.Lock()
		f.mu.deletePending = false
		f.mu.Unlock()
		f.signal()
	}
	return f.finish(info, err)
}

// flushWork brings the backend copy of the table in line with the work.
// Partitions named by the work are reconciled against a snapshot taken
// before any write: a partition present in the snapshot is written, an
// absent one is deleted. Reconciling is idempotent, so stale work only costs
// redundant operations.
func (f *flusher) flushWork(ctx context.Context, w *persist.Work, info *FlushInfo) error {
	// The table is looked up directly: the final flush runs after Close.
	f.d.mu.RLock()
	t := f.d.mu.tables[f.name]
	f.d.mu.RUnlock()
	if t == nil {
		// Deleted since the work was queued.
		return nil
	}
	attrs, _ := t.Attributes()

	var snapshots map[string]*dbtable.PartitionSnapshot
	var keys []string
	switch w.State.Kind {
	case persist.KindRebuilt:
		s := t.Snapshot(f.d.now())
		attrs = s.Attributes
		snapshots = s.Partitions
		if attrs.Persist {
			// Stale partitions are found by listing the backend.
			listed, err := f.d.backend.ListPartitions(ctx, f.name)
			if err != nil && !objstorage.IsNotFound(err) {
				return err
			}
			keys = mergeKeys(s.PartitionKeys(), listed)
		}
	case persist.KindPartitions:
		if attrs.Persist {
			keys = mergeKeys(w.State.SortedDirty(), w.State.SortedDeleted())
			snapshots = t.PartitionSnapshots(keys)
		}
	}

	f.setState(FlushWriting)
	if w.State.AttrsVersion != 0 || w.State.Kind == persist.KindRebuilt {
		if err := f.d.backend.SaveTableAttributes(ctx, f.name, attrs); err != nil {
			return err
		}
		info.AttributesSaved = true
	}
	if len(keys) == 0 {
		return nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.d.opts.FlushConcurrency)
	for _, pk := range keys {
		ps := snapshots[pk]
		g.Go(func() error {
			if ps == nil || len(ps.Rows) == 0 {
				if err := f.d.backend.DeletePartition(ctx, f.name, pk); err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				w.RecordRemove(pk)
				info.Removed++
				return nil
			}
			payload := dbtable.EncodePartition(ps)
			h := persist.HashOf(payload)
			if f.d.cache.Matches(f.name, pk, h) {
				mu.Lock()
				defer mu.Unlock()
				info.Skipped++
				return nil
			}
			if err := f.d.backend.SavePartition(ctx, f.name, pk, payload); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			w.RecordWrite(pk, h)
			info.Written++
			return nil
		})
	}
	return g.Wait()
}

// mergeKeys returns the sorted union of two sorted key lists.
func mergeKeys(a, b []string) []string {
	res := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i] < b[j]):
			res = append(res, a[i])
			i++
		case i == len(a) || b[j] < a[i]:
			res = append(res, b[j])
			j++
		default:
			res = append(res, a[i])
			i++
			j++
		}
	}
	return res
}

// Flush runs a flush cycle for every table, ignoring backoff delays, and
// returns the combined errors. Tables with suspended persistence report
// ErrPersistenceSuspended.
func (d *DB) Flush(ctx context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	flushers := d.flushers()

	var err error
	for _, f := range flushers {
		err = errors.CombineErrors(err, f.flushNow(ctx))
		f.maybeRetire()
	}
	return err
}

// ResumePersistence resumes the flush loop of a table suspended by a fatal
// backend error. Pending work is kept and flushed on the next cycle.
func (d *DB) ResumePersistence(name string) error {
	d.mu.RLock()
	f := d.mu.flushers[name]
	d.mu.RUnlock()
	if f == nil {
		return tableNotFound(name)
	}
	if f.resume() {
		d.opts.EventListener.PersistenceResumed(PersistenceInfo{Table: name})
	}
	return nil
}

// PersistenceStatus describes the flush loop of a table.
type PersistenceStatus struct {
	Table   string
	State   FlushState
	Pending persist.State
	// Attempt counts consecutive failed attempts.
	Attempt   int
	RetryAt   time.Time
	LastError error
	// Deleting is set while the backend copy of a deleted table is removed.
	Deleting bool
}

// Persistence returns the status of every flush loop ordered by table.
func (d *DB) Persistence() []PersistenceStatus {
	flushers := d.flushers()

	res := make([]PersistenceStatus, len(flushers))
	for i, f := range flushers {
		f.mu.Lock()
		res[i] = PersistenceStatus{
			Table:     f.name,
			State:     f.mu.state,
			Attempt:   f.mu.attempt,
			RetryAt:   f.mu.retryAt,
			LastError: f.mu.lastErr,
			Deleting:  f.mu.deletePending,
		}
		f.mu.Unlock()
		res[i].Pending = d.queue.Pending(f.name)
	}
	return res
}
