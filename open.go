// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"context"
	"sync"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore/changefeed"
	"github.com/tablestore/tablestore/dbtable"
	"github.com/tablestore/tablestore/objstorage"
	"github.com/tablestore/tablestore/persist"
	"github.com/tablestore/tablestore/txn"
	"golang.org/x/sync/errgroup"
)

// Open loads every table from the backend and starts the background loops.
// Partitions that fail to decode are skipped and reported through the
// BackgroundError event; any backend failure aborts the open.
func Open(ctx context.Context, opts *Options) (*DB, error) {
	// Make a copy of the options so that we don't mutate the passed in options.
	o := *opts
	opts = &o
	opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cache := persist.NewContentCache(opts.ContentCacheShards)
	d := &DB{
		opts:    opts,
		clock:   opts.Clock,
		backend: opts.Backend,
		cache:   cache,
		queue:   persist.NewQueue(cache),
		bus:     changefeed.NewBus(opts.SubscriberBuffer),
		txns:    txn.NewRegistry(opts.Clock, opts.TransactionTTL),
	}
	d.mu.tables = make(map[string]*dbtable.Table)
	d.mu.flushers = make(map[string]*flusher)

	m, err := newMetrics(d)
	if err != nil {
		return nil, err
	}
	d.metrics = m

	start := crtime.NowMono()
	tables, err := d.loadTables(ctx)
	if err != nil {
		m.unregister()
		return nil, err
	}

	d.bgCtx, d.bgCancel = context.WithCancel(context.Background())
	d.started = d.clock.Now()
	d.mu.Lock()
	for _, t := range tables {
		d.installTableLocked(t)
	}
	d.mu.Unlock()
	opts.Logger.Infof("loaded %d tables in %.1fs", len(tables), start.Elapsed().Seconds())

	if !opts.private.disableBackgroundLoops {
		d.startBackgroundLoops()
	}
	return d, nil
}

func (d *DB) loadTables(ctx context.Context) ([]*dbtable.Table, error) {
	names, err := d.backend.ListTables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing tables")
	}
	tables := make([]*dbtable.Table, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.FlushConcurrency)
	for i, name := range names {
		g.Go(func() error {
			t, err := d.loadTable(ctx, name)
			if err != nil {
				return errors.Wrapf(err, "loading table %s", name)
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res := tables[:0]
	for _, t := range tables {
		if t != nil {
			res = append(res, t)
		}
	}
	return res, nil
}

// loadTable reads one table from the backend. It returns nil if the table
// has no attributes record.
func (d *DB) loadTable(ctx context.Context, name string) (*dbtable.Table, error) {
	if err := dbtable.ValidateTableName(name); err != nil {
		d.opts.EventListener.BackgroundError(errors.Wrap(err, "skipping backend table"))
		return nil, nil
	}
	attrs, err := d.backend.LoadAttributes(ctx, name)
	if objstorage.IsNotFound(err) {
		d.opts.EventListener.BackgroundError(errors.Newf("table %s has no attributes; skipped", name))
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	s := &dbtable.TableSnapshot{
		Name:       name,
		Attributes: attrs,
		Created:    d.now(),
		Partitions: make(map[string]*dbtable.PartitionSnapshot),
	}
	if !attrs.Persist {
		return dbtable.NewFromSnapshot(s), nil
	}
	keys, err := d.backend.ListPartitions(ctx, name)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.FlushConcurrency)
	for _, pk := range keys {
		g.Go(func() error {
			payload, err := d.backend.LoadPartition(ctx, name, pk)
			if objstorage.IsNotFound(err) {
				return nil
			} else if err != nil {
				return err
			}
			ps, err := dbtable.DecodePartition(pk, payload)
			if err != nil {
				d.opts.EventListener.BackgroundError(errors.Wrapf(err, "table %s", name))
				return nil
			}
			d.cache.Put(name, pk, persist.HashOf(payload))
			mu.Lock()
			defer mu.Unlock()
			s.Partitions[pk] = ps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dbtable.NewFromSnapshot(s), nil
}

// startBackgroundLoops starts the periodic loops. The flush loops are started
// per table by installTableLocked.
func (d *DB) startBackgroundLoops() {
	d.startLoop("expiry", d.opts.ExpiryGCInterval, func(context.Context) {
		d.CollectExpired()
	})
	d.startLoop("txn-gc", d.opts.TxnGCInterval, func(context.Context) {
		d.SweepTransactions()
	})
	d.startLoop("metrics", d.opts.MetricsInterval, func(context.Context) {
		d.metrics.refresh()
	})
	if d.opts.BackupInterval > 0 && d.opts.BackupStorage != nil {
		d.startLoop("backup", d.opts.BackupInterval, func(ctx context.Context) {
			// Failures are reported through the BackupCreated event.
			_, _ = d.Backup(ctx)
		})
	}
}
