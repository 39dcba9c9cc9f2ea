// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package changefeed fans table changes out to subscribers.
//
// Publishing never blocks: each subscription has a bounded buffer and a
// subscriber that falls behind is disconnected. A disconnected subscriber is
// expected to subscribe again and start over from a fresh InitTable.
package changefeed

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore/dbtable"
)

// EventKind is the kind of a change event.
type EventKind uint8

const (
	// EventInitTable carries the full content of a table.
	EventInitTable EventKind = iota
	// EventInitPartition carries the full content of one partition.
	EventInitPartition
	// EventUpdateRows carries rows inserted or replaced in one partition.
	EventUpdateRows
	// EventDeleteRows carries rows removed from one partition.
	EventDeleteRows
)

func (k EventKind) String() string {
	switch k {
	case EventInitTable:
		return "InitTable"
	case EventInitPartition:
		return "InitPartition"
	case EventUpdateRows:
		return "UpdateRows"
	case EventDeleteRows:
		return "DeleteRows"
	}
	return "Unknown"
}

// Event is a change to one table.
type Event struct {
	Kind  EventKind
	Table string
	// Partition is set for all kinds except EventInitTable.
	Partition string
	// Rows are ordered by row key.
	Rows []*dbtable.Row
	// Snapshot is set for EventInitTable.
	Snapshot *dbtable.TableSnapshot
}

// ErrSlowSubscriber is reported by a subscription that was disconnected
// because its buffer filled up.
var ErrSlowSubscriber = errors.New("subscriber fell behind")

// ErrUnsubscribed is reported by a subscription after Unsubscribe.
var ErrUnsubscribed = errors.New("unsubscribed")

// Subscription receives the events of a set of tables.
type Subscription struct {
	id     uint64
	tables map[string]struct{}
	ch     chan Event
	done   chan struct{}
	closed atomic.Bool
	err    error
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the subscription ended, once Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wants reports whether the subscription covers table.
func (s *Subscription) Wants(table string) bool {
	_, ok := s.tables[table]
	return ok
}

func (s *Subscription) end(err error) bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	s.err = err
	close(s.done)
	return true
}

// send delivers e without blocking. It ends the subscription and returns
// false if the buffer is full.
func (s *Subscription) send(e Event) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		s.end(ErrSlowSubscriber)
		return false
	}
}

// Bus routes events to subscriptions.
type Bus struct {
	bufferSize int
	nextID     atomic.Uint64
	published  atomic.Int64
	dropped    atomic.Int64

	mu struct {
		sync.RWMutex
		subs map[uint64]*Subscription
	}
}

// NewBus creates a bus whose subscriptions buffer up to bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	b := &Bus{bufferSize: bufferSize}
	b.mu.subs = make(map[uint64]*Subscription)
	return b
}

// Subscribe registers a subscription to tables.
func (b *Bus) Subscribe(tables []string) *Subscription {
	s := &Subscription{
		id:     b.nextID.Add(1),
		tables: make(map[string]struct{}, len(tables)),
		ch:     make(chan Event, b.bufferSize),
		done:   make(chan struct{}),
	}
	for _, t := range tables {
		s.tables[t] = struct{}{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mu.subs[s.id] = s
	return s
}

// Unsubscribe ends a subscription.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.mu.subs, s.id)
	b.mu.Unlock()
	s.end(ErrUnsubscribed)
}

// CloseAll ends every subscription with err.
func (b *Bus) CloseAll(err error) {
	b.mu.Lock()
	subs := b.mu.subs
	b.mu.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()
	for _, s := range subs {
		s.end(err)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.mu.subs)
}

// Stats returns the number of events published and of subscriptions
// disconnected for falling behind.
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

// Deliver sends one event to a single subscription, typically the initial
// content of a table right after subscribing.
func (b *Bus) Deliver(s *Subscription, e Event) bool {
	if !s.send(e) {
		b.drop(s)
		return false
	}
	b.published.Add(1)
	return true
}

// Publish converts the side effects of a mutation into events and delivers
// them to every subscription covering the table. Deletions are delivered
// before updates; a row appears in at most one of them.
func (b *Bus) Publish(e dbtable.SideEffects) {
	events := EventsOf(e)
	if len(events) == 0 {
		return
	}
	b.broadcast(e.Table, events)
}

// PublishInitTable delivers the full content of a table, for instance after
// it was restored from a backup.
func (b *Bus) PublishInitTable(s *dbtable.TableSnapshot) {
	b.broadcast(s.Name, []Event{{Kind: EventInitTable, Table: s.Name, Snapshot: s}})
}

func (b *Bus) broadcast(table string, events []Event) {
	b.mu.RLock()
	var targets []*Subscription
	for _, s := range b.mu.subs {
		if s.Wants(table) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		for _, ev := range events {
			if !s.send(ev) {
				b.drop(s)
				break
			}
			b.published.Add(1)
		}
	}
}

func (b *Bus) drop(s *Subscription) {
	b.mu.Lock()
	_, ok := b.mu.subs[s.id]
	delete(b.mu.subs, s.id)
	b.mu.Unlock()
	if ok {
		b.dropped.Add(1)
	}
}

// EventsOf converts side effects into per-partition events.
func EventsOf(e dbtable.SideEffects) []Event {
	var events []Event
	for _, pk := range sortedPartitions(e.DeletedRows) {
		events = append(events, Event{
			Kind: EventDeleteRows, Table: e.Table, Partition: pk, Rows: sortedRows(e.DeletedRows[pk]),
		})
	}
	for _, pk := range sortedPartitions(e.UpdatedRows) {
		events = append(events, Event{
			Kind: EventUpdateRows, Table: e.Table, Partition: pk, Rows: sortedRows(e.UpdatedRows[pk]),
		})
	}
	return events
}

func sortedPartitions(m map[string]map[string]*dbtable.Row) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedRows(m map[string]*dbtable.Row) []*dbtable.Row {
	rows := make([]*dbtable.Row, 0, len(m))
	for _, r := range m {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowKey < rows[j].RowKey })
	return rows
}
