// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"context"
	"runtime/pprof"
	"time"

	"github.com/tablestore/tablestore/dbtable"
)

// startLoop runs fn every interval on the store's clock until Close.
func (d *DB) startLoop(name string, interval time.Duration, fn func(ctx context.Context)) {
	d.bgWG.Add(1)
	go func() {
		defer d.bgWG.Done()
		pprof.Do(d.bgCtx, pprof.Labels("tablestore", name), func(ctx context.Context) {
			ticker := d.clock.Ticker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fn(ctx)
				}
			}
		})
	}()
}

// CollectExpired removes expired rows from every table and returns the number
// of rows removed. The removals flow to persistence and subscribers like any
// other deletion.
func (d *DB) CollectExpired() int {
	if d.closed.Load() {
		return 0
	}
	d.mu.RLock()
	tables := make([]*dbtable.Table, 0, len(d.mu.tables))
	for _, name := range sortedNames(d.mu.tables) {
		tables = append(tables, d.mu.tables[name])
	}
	d.mu.RUnlock()

	now := d.now()
	total := 0
	for _, t := range tables {
		e := t.GCExpired(now)
		if n := e.RowsDeleted(); n > 0 {
			total += n
			d.opts.EventListener.RowsExpired(ExpiryInfo{
				Table: t.Name(), Rows: n, Partitions: len(e.DeletedRows),
			})
		}
	}
	return total
}

// SweepTransactions expires transactions idle for longer than the TTL and
// returns how many expired.
func (d *DB) SweepTransactions() int {
	expired := d.txns.Sweep()
	for _, tx := range expired {
		d.opts.EventListener.TransactionExpired(TransactionInfo{
			ID: tx.ID, Table: tx.Table, Steps: len(tx.Steps),
		})
	}
	d.metrics.transactionsExpired.Add(float64(len(expired)))
	return len(expired)
}
