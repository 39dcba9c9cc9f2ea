// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"github.com/tablestore/tablestore/changefeed"
	"github.com/tablestore/tablestore/dbtable"
)

// Subscribe registers a change-event subscription to tables. The first event
// delivered for each existing table is an InitTable event with its full
// content; later events follow in mutation order. Unknown tables are covered
// too and start streaming once created.
//
// On a closed DB the returned subscription is already done.
func (d *DB) Subscribe(tables []string) *changefeed.Subscription {
	if d.closed.Load() {
		s := d.bus.Subscribe(nil)
		d.bus.Unsubscribe(s)
		return s
	}
	names := append([]string(nil), tables...)
	d.mu.RLock()
	var existing []*dbtable.Table
	for _, name := range sortedNames(setOf(names)) {
		if t := d.mu.tables[name]; t != nil {
			existing = append(existing, t)
		}
	}
	d.mu.RUnlock()

	// Hold the read lock of every table while registering, so that no
	// mutation is published between the snapshots and the subscription.
	// Locks are taken in name order.
	now := d.now()
	snapshots := make([]*dbtable.TableSnapshot, 0, len(existing))
	var sub *changefeed.Subscription
	var view func(i int)
	view = func(i int) {
		if i == len(existing) {
			sub = d.bus.Subscribe(names)
			for _, s := range snapshots {
				d.bus.Deliver(sub, changefeed.Event{Kind: changefeed.EventInitTable, Table: s.Name, Snapshot: s})
			}
			return
		}
		existing[i].View(now, func(s *dbtable.TableSnapshot) {
			snapshots = append(snapshots, s)
			view(i + 1)
		})
	}
	view(0)
	return sub
}

// Unsubscribe ends a subscription.
func (d *DB) Unsubscribe(s *changefeed.Subscription) {
	d.bus.Unsubscribe(s)
}

// Subscribers returns the number of live subscriptions.
func (d *DB) Subscribers() int {
	return d.bus.Len()
}

func setOf(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}
