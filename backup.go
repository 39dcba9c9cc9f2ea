// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore/dbtable"
	"github.com/tablestore/tablestore/objstorage"
	"github.com/tablestore/tablestore/objstorage/pageblob"
	"github.com/tablestore/tablestore/persist"
	"golang.org/x/sync/errgroup"
)

const backupRoot = "backup/"

// backupIDLayout sorts lexicographically in time order.
const backupIDLayout = "2006-01-02T15:04:05.000Z"

func backupPrefix(id string) string { return backupRoot + id + "/" }

// backupBackend returns the page-blob view of one backup container.
func (d *DB) backupBackend(id string) *pageblob.Backend {
	return pageblob.New(d.opts.BackupStorage, pageblob.Options{
		Prefix:    backupPrefix(id),
		OpTimeout: d.opts.OpTimeout,
		Logger:    d.opts.Logger,
	})
}

// Backup writes a point-in-time copy of every table to the backup storage
// and then deletes the oldest backups beyond BackupsToKeep. It returns the
// backup id. Tables are copied one snapshot at a time, so the backup is
// consistent per table only.
func (d *DB) Backup(ctx context.Context) (string, error) {
	if d.opts.BackupStorage == nil {
		return "", ErrNoBackups
	}
	if d.closed.Load() {
		return "", ErrClosed
	}
	d.backupMu.Lock()
	defer d.backupMu.Unlock()

	id := d.clock.Now().UTC().Format(backupIDLayout)
	start := crtime.NowMono()
	tables, objects, err := d.writeBackup(ctx, id)
	info := BackupInfo{ID: id, Tables: tables, Objects: objects, Duration: start.Elapsed(), Err: err}
	d.opts.EventListener.BackupCreated(info)
	if err != nil {
		d.metrics.backupFailures.Inc()
		return "", err
	}
	d.metrics.backups.Inc()
	if err := d.rotateBackups(ctx); err != nil {
		d.opts.EventListener.BackgroundError(err)
	}
	return id, nil
}

func (d *DB) writeBackup(ctx context.Context, id string) (tables, objects int, _ error) {
	b := d.backupBackend(id)
	d.mu.RLock()
	names := sortedNames(d.mu.tables)
	d.mu.RUnlock()

	now := d.now()
	for _, name := range names {
		t, err := d.table(name)
		if errors.Is(err, ErrTableNotFound) {
			continue
		} else if err != nil {
			return tables, objects, err
		}
		s := t.Snapshot(now)
		if err := b.SaveTableAttributes(ctx, name, s.Attributes); err != nil {
			return tables, objects, err
		}
		objects++

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.opts.FlushConcurrency)
		for _, pk := range s.PartitionKeys() {
			ps := s.Partitions[pk]
			g.Go(func() error {
				return b.SavePartition(gctx, name, pk, dbtable.EncodePartition(ps))
			})
		}
		if err := g.Wait(); err != nil {
			return tables, objects, errors.Wrapf(err, "backing up table %s", name)
		}
		objects += len(s.Partitions)
		tables++
	}
	return tables, objects, nil
}

// ListBackups returns the ids of the backups in the backup storage, oldest
// first.
func (d *DB) ListBackups(ctx context.Context) ([]string, error) {
	if d.opts.BackupStorage == nil {
		return nil, ErrNoBackups
	}
	names, err := d.opts.BackupStorage.List(ctx, backupRoot, "/")
	if err != nil {
		return nil, err
	}
	ids := names[:0]
	for _, name := range names {
		if _, err := time.Parse(backupIDLayout, name); err == nil {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// rotateBackups deletes the oldest backups so that at most BackupsToKeep
// remain. d.backupMu must be held.
func (d *DB) rotateBackups(ctx context.Context) error {
	ids, err := d.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(ids) <= d.opts.BackupsToKeep {
		return nil
	}
	c := newBackupCleaner(d.opts, d.opts.BackupStorage)
	for _, id := range ids[:len(ids)-d.opts.BackupsToKeep] {
		if _, err := c.deleteBackup(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RestoreTable replaces a table with its copy in a backup. The table is
// created if it does not exist. The restored content is persisted as a full
// rebuild and subscribers receive a fresh InitTable.
func (d *DB) RestoreTable(ctx context.Context, backupID, name string) error {
	if d.opts.BackupStorage == nil {
		return ErrNoBackups
	}
	if d.closed.Load() {
		return ErrClosed
	}
	d.backupMu.Lock()
	defer d.backupMu.Unlock()

	s, err := d.readBackupTable(ctx, backupID, name)
	if err != nil {
		return err
	}

	d.mu.Lock()
	t := d.mu.tables[name]
	if t == nil {
		t = dbtable.NewFromSnapshot(s)
		d.installTableLocked(t)
		_, version := t.Attributes()
		d.queue.EnqueueState(name, persist.Rebuilt(version))
		d.mu.Unlock()
	} else {
		d.mu.Unlock()
		// The commit hook enqueues the rebuild.
		t.ReplaceContents(s, d.now())
	}
	// Publishing under the read lock orders the InitTable event with
	// concurrent mutations.
	t.View(d.now(), d.bus.PublishInitTable)
	d.opts.EventListener.TableRestored(TableInfo{Table: name, Attributes: s.Attributes, Backup: backupID})
	return nil
}

func (d *DB) readBackupTable(
	ctx context.Context, backupID, name string,
) (*dbtable.TableSnapshot, error) {
	b := d.backupBackend(backupID)
	attrs, err := b.LoadAttributes(ctx, name)
	if objstorage.IsNotFound(err) {
		return nil, errors.Wrapf(ErrTableNotFound, "table %s in backup %s", name, backupID)
	} else if err != nil {
		return nil, err
	}
	keys, err := b.ListPartitions(ctx, name)
	if err != nil {
		return nil, err
	}
	s := &dbtable.TableSnapshot{
		Name:       name,
		Attributes: attrs,
		Created:    d.now(),
		Partitions: make(map[string]*dbtable.PartitionSnapshot, len(keys)),
	}
	for _, pk := range keys {
		payload, err := b.LoadPartition(ctx, name, pk)
		if err != nil {
			return nil, err
		}
		ps, err := dbtable.DecodePartition(pk, payload)
		if err != nil {
			return nil, errors.Wrapf(err, "backup %s", backupID)
		}
		s.Partitions[pk] = ps
	}
	return s, nil
}
