// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package tablestore provides an in-memory partitioned table store with
// durable persistence to a page-blob backend.
//
// Tables hold rows grouped into partitions. Every mutation is applied
// atomically under the table's write lock and yields side effects that are
// forwarded, in lock order, to the persistence queue and to change-event
// subscribers. A per-table flush loop drains the queue, snapshots the
// affected partitions and writes them to the backend, skipping partitions
// whose content the backend already holds.
package tablestore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore/changefeed"
	"github.com/tablestore/tablestore/dbtable"
	"github.com/tablestore/tablestore/objstorage"
	"github.com/tablestore/tablestore/persist"
	"github.com/tablestore/tablestore/txn"
)

// Row exports the dbtable.Row type.
type Row = dbtable.Row

// Attributes exports the dbtable.Attributes type.
type Attributes = dbtable.Attributes

// SideEffects exports the dbtable.SideEffects type.
type SideEffects = dbtable.SideEffects

// Timestamp exports the dbtable.Timestamp type.
type Timestamp = dbtable.Timestamp

// DB is the table store. It is safe for concurrent use.
type DB struct {
	opts    *Options
	clock   clock.Clock
	backend objstorage.Backend
	cache   *persist.ContentCache
	queue   *persist.Queue
	bus     *changefeed.Bus
	txns    *txn.Registry
	metrics *metrics
	started time.Time

	closed   atomic.Bool
	bgCtx    context.Context
	bgCancel context.CancelFunc
	// bgWG tracks the periodic loops; flushWG tracks the flush loops, which
	// must outlive the periodic loops so that their effects get flushed.
	bgWG    sync.WaitGroup
	flushWG sync.WaitGroup

	// backupMu serializes backups, rotations and restores.
	backupMu sync.Mutex

	mu struct {
		sync.RWMutex
		tables   map[string]*dbtable.Table
		flushers map[string]*flusher
	}
}

// now returns the current time as a row timestamp.
func (d *DB) now() Timestamp {
	return dbtable.TimestampOf(d.clock.Now())
}

// Now returns the current time of the store's clock.
func (d *DB) Now() Timestamp { return d.now() }

func (d *DB) table(name string) (*dbtable.Table, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	d.mu.RLock()
	t := d.mu.tables[name]
	d.mu.RUnlock()
	if t == nil {
		return nil, tableNotFound(name)
	}
	return t, nil
}

// installTableLocked registers t and makes sure it has a flush loop. d.mu
// must be held for writing.
func (d *DB) installTableLocked(t *dbtable.Table) {
	name := t.Name()
	t.SetCommitHook(func(e dbtable.SideEffects) {
		d.queue.Enqueue(e)
		d.bus.Publish(e)
		d.metrics.recordEffects(&e)
		if len(e.EvictedPartitions) > 0 {
			d.opts.EventListener.PartitionsEvicted(EvictionInfo{
				Table: name, Partitions: e.EvictedPartitions,
			})
		}
	})
	d.mu.tables[name] = t
	if _, ok := d.mu.flushers[name]; !ok {
		f := newFlusher(d, name)
		d.mu.flushers[name] = f
		if !d.opts.private.disableBackgroundLoops {
			d.flushWG.Add(1)
			go f.run(d.bgCtx)
		}
	}
}

// Close flushes pending work one last time and stops every background loop.
// Tables with suspended persistence are not flushed. Close returns the
// errors of the final flushes.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	d.bgCancel()
	d.bgWG.Wait()
	d.flushWG.Wait()
	if d.opts.private.disableBackgroundLoops {
		for _, f := range d.flushers() {
			f.finalErr = f.flushFinal()
		}
	}
	d.bus.CloseAll(ErrClosed)
	d.metrics.unregister()

	var err error
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, name := range sortedNames(d.mu.flushers) {
		err = errors.CombineErrors(err, d.mu.flushers[name].finalErr)
	}
	return err
}

// flushers returns the flush loops ordered by table name.
func (d *DB) flushers() []*flusher {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res := make([]*flusher, 0, len(d.mu.flushers))
	for _, name := range sortedNames(d.mu.flushers) {
		res = append(res, d.mu.flushers[name])
	}
	return res
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TableSummary describes a table.
type TableSummary struct {
	Name       string
	Attributes Attributes
	Partitions int
	Rows       int
}

// ListTables returns the tables ordered by name.
func (d *DB) ListTables() []TableSummary {
	d.mu.RLock()
	tables := make([]*dbtable.Table, 0, len(d.mu.tables))
	for _, name := range sortedNames(d.mu.tables) {
		tables = append(tables, d.mu.tables[name])
	}
	d.mu.RUnlock()

	res := make([]TableSummary, len(tables))
	for i, t := range tables {
		attrs, _ := t.Attributes()
		partitions, rows := t.Stats()
		res[i] = TableSummary{Name: t.Name(), Attributes: attrs, Partitions: partitions, Rows: rows}
	}
	return res
}

// CreateTable creates an empty table. It fails with ErrConflict if the table
// exists.
func (d *DB) CreateTable(name string, attrs Attributes) error {
	_, err := d.createTable(name, attrs, false)
	return err
}

// CreateTableIfNotExists creates a table unless it exists with the same
// settings. It fails with ErrConflict if the existing table is configured
// differently. It reports whether the table was created.
func (d *DB) CreateTableIfNotExists(name string, attrs Attributes) (created bool, err error) {
	return d.createTable(name, attrs, true)
}

func (d *DB) createTable(name string, attrs Attributes, ifNotExists bool) (bool, error) {
	if d.closed.Load() {
		return false, ErrClosed
	}
	if err := dbtable.ValidateTableName(name); err != nil {
		return false, err
	}
	d.mu.Lock()
	if existing := d.mu.tables[name]; existing != nil {
		d.mu.Unlock()
		cur, _ := existing.Attributes()
		if ifNotExists && cur.SameSettings(attrs) {
			return false, nil
		}
		return false, errors.Wrapf(ErrConflict, "table %s already exists", name)
	}
	if attrs.Created == 0 {
		attrs.Created = d.now()
	}
	t := dbtable.New(name, attrs)
	d.installTableLocked(t)
	_, version := t.Attributes()
	d.queue.EnqueueState(name, persist.Rebuilt(version))
	d.mu.Unlock()

	d.opts.EventListener.TableCreated(TableInfo{Table: name, Attributes: attrs})
	return true, nil
}

// DeleteTable removes a table from memory. Its backend copy is deleted by
// the table's flush loop.
func (d *DB) DeleteTable(name string) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.mu.Lock()
	t := d.mu.tables[name]
	if t == nil {
		d.mu.Unlock()
		return tableNotFound(name)
	}
	delete(d.mu.tables, name)
	t.SetCommitHook(nil)
	d.queue.Discard(name)
	d.mu.flushers[name].requestDelete()
	d.mu.Unlock()

	attrs, _ := t.Attributes()
	d.metrics.forgetTable(name)
	d.opts.EventListener.TableDeleted(TableInfo{Table: name, Attributes: attrs})
	return nil
}

// UpdateAttributes installs new attributes. New limits are enforced
// immediately and may evict partitions or rows. The creation time of the
// table is preserved.
func (d *DB) UpdateAttributes(name string, attrs Attributes) (SideEffects, error) {
	t, err := d.table(name)
	if err != nil {
		return SideEffects{}, err
	}
	cur, _ := t.Attributes()
	effects := t.UpdateAttributes(attrs, d.now())
	if attrs.Persist && !cur.Persist {
		// Partitions were not persisted so far; write them all.
		d.queue.EnqueueState(name, persist.Rebuilt(effects.AttributesVersion))
	}
	return effects, nil
}

// UpdatePersist switches persistence of a table on or off, keeping its
// limits.
func (d *DB) UpdatePersist(name string, persistOn bool) (SideEffects, error) {
	t, err := d.table(name)
	if err != nil {
		return SideEffects{}, err
	}
	attrs, _ := t.Attributes()
	attrs.Persist = persistOn
	return d.UpdateAttributes(name, attrs)
}

// Attributes returns the attributes of a table.
func (d *DB) Attributes(name string) (Attributes, error) {
	t, err := d.table(name)
	if err != nil {
		return Attributes{}, err
	}
	attrs, _ := t.Attributes()
	return attrs, nil
}

// CleanTable removes every row of a table.
func (d *DB) CleanTable(name string) (SideEffects, error) {
	t, err := d.table(name)
	if err != nil {
		return SideEffects{}, err
	}
	return t.Clean(d.now()), nil
}

// GetRow returns one row. It fails with ErrRecordNotFound if the row does not
// exist.
func (d *DB) GetRow(table, pk, rk string) (*Row, error) {
	t, err := d.table(table)
	if err != nil {
		return nil, err
	}
	r, ok := t.GetRow(pk, rk, d.now())
	if !ok {
		return nil, errors.Wrapf(ErrRecordNotFound, "row %s/%s in table %s", pk, rk, table)
	}
	return r, nil
}

// GetPartitionRows returns the rows of a partition ordered by row key,
// skipping the first skip rows and returning at most limit rows when limit is
// positive. A missing partition yields no rows.
func (d *DB) GetPartitionRows(table, pk string, skip, limit int) ([]*Row, error) {
	t, err := d.table(table)
	if err != nil {
		return nil, err
	}
	ps, ok := t.PartitionSnapshot(pk, d.now())
	if !ok {
		return nil, nil
	}
	return window(ps.Rows, skip, limit), nil
}

// GetRows returns the listed rows of a partition that exist, ordered by row
// key.
func (d *DB) GetRows(table, pk string, rowKeys []string) ([]*Row, error) {
	t, err := d.table(table)
	if err != nil {
		return nil, err
	}
	ps, ok := t.PartitionSnapshot(pk, d.now())
	if !ok {
		return nil, nil
	}
	keys := append([]string(nil), rowKeys...)
	sort.Strings(keys)
	var rows []*Row
	for i, rk := range keys {
		if i > 0 && keys[i-1] == rk {
			continue
		}
		if r := ps.Get(rk); r != nil {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

// GetTableRows returns every row of a table ordered by partition key then
// row key, windowed like GetPartitionRows.
func (d *DB) GetTableRows(table string, skip, limit int) ([]*Row, error) {
	s, err := d.Snapshot(table)
	if err != nil {
		return nil, err
	}
	return window(s.Rows(), skip, limit), nil
}

func window(rows []*Row, skip, limit int) []*Row {
	if skip > 0 {
		if skip >= len(rows) {
			return nil
		}
		rows = rows[skip:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// Snapshot returns a point-in-time view of a table.
func (d *DB) Snapshot(table string) (*dbtable.TableSnapshot, error) {
	t, err := d.table(table)
	if err != nil {
		return nil, err
	}
	return t.Snapshot(d.now()), nil
}

// PartitionSnapshot returns a point-in-time view of one partition, or nil if
// it does not exist.
func (d *DB) PartitionSnapshot(table, pk string) (*dbtable.PartitionSnapshot, error) {
	t, err := d.table(table)
	if err != nil {
		return nil, err
	}
	ps, _ := t.PartitionSnapshot(pk, d.now())
	return ps, nil
}

// InsertOrReplace writes rows atomically, replacing rows with the same keys.
func (d *DB) InsertOrReplace(table string, rows []*Row) (SideEffects, error) {
	t, err := d.table(table)
	if err != nil {
		return SideEffects{}, err
	}
	return t.InsertOrReplace(rows, d.now()), nil
}

// Insert writes a row that must not exist yet. It fails with
// ErrRecordAlreadyExists otherwise.
func (d *DB) Insert(table string, row *Row) (SideEffects, error) {
	t, err := d.table(table)
	if err != nil {
		return SideEffects{}, err
	}
	return t.Insert(row, d.now())
}

// Replace overwrites an existing row whose TimeStamp equals expected. It
// fails with ErrRecordNotFound or ErrRecordChangedConcurrently.
func (d *DB) Replace(table string, row *Row, expected Timestamp) (SideEffects, error) {
	t, err := d.table(table)
	if err != nil {
		return SideEffects{}, err
	}
	return t.Replace(row, expected, d.now())
}

// DeleteRow removes one row and returns it, or nil if it did not exist.
func (d *DB) DeleteRow(table, pk, rk string) (*Row, error) {
	t, err := d.table(table)
	if err != nil {
		return nil, err
	}
	var deleted *Row
	_, err = t.Update(d.now(), func(w *dbtable.Writer) error {
		deleted = w.DeleteRow(pk, rk)
		return nil
	})
	return deleted, err
}

// DeleteRows removes rows by partition key and row keys. Missing rows are
// ignored.
func (d *DB) DeleteRows(table string, byPartition map[string][]string) (SideEffects, error) {
	t, err := d.table(table)
	if err != nil {
		return SideEffects{}, err
	}
	return t.DeleteRows(byPartition, d.now()), nil
}

// CleanPartitions removes whole partitions.
func (d *DB) CleanPartitions(table string, keys []string) (SideEffects, error) {
	t, err := d.table(table)
	if err != nil {
		return SideEffects{}, err
	}
	return t.CleanPartitions(keys, d.now()), nil
}

// CleanAndBulkInsert atomically replaces the content of a table, or of one
// partition when partition is not empty, with rows. Rows must then all
// belong to that partition.
func (d *DB) CleanAndBulkInsert(table, partition string, rows []*Row) (SideEffects, error) {
	t, err := d.table(table)
	if err != nil {
		return SideEffects{}, err
	}
	if partition != "" {
		for _, r := range rows {
			if r.PartitionKey != partition {
				return SideEffects{}, errors.Mark(errors.Newf(
					"row %s/%s does not belong to partition %s", r.PartitionKey, r.RowKey, partition),
					ErrValidation)
			}
		}
	}
	return t.Update(d.now(), func(w *dbtable.Writer) error {
		if partition == "" {
			w.CleanTable()
		} else {
			w.CleanPartitions([]string{partition})
		}
		w.InsertOrReplace(rows)
		return nil
	})
}
