// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package logring keeps the most recent log entries in memory so that they
// can be served over HTTP.
package logring

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of entries retained by New(0).
const DefaultCapacity = 1000

// Entry is a retained log entry.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Module  string    `json:"module,omitempty"`
	Table   string    `json:"table,omitempty"`
	Message string    `json:"message"`
}

// Ring is a logrus.Hook retaining the last entries logged through the logger
// it is attached to.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	// next is the slot the next entry is written to once the ring is full.
	next int
	cap  int
}

var _ logrus.Hook = (*Ring)(nil)

// New returns a ring holding up to capacity entries.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{cap: capacity, entries: make([]Entry, 0, capacity)}
}

// Levels implements logrus.Hook.
func (r *Ring) Levels() []logrus.Level { return logrus.AllLevels }

// Fire implements logrus.Hook.
func (r *Ring) Fire(e *logrus.Entry) error {
	entry := Entry{Time: e.Time, Level: e.Level.String(), Message: e.Message}
	if v, ok := e.Data["module"].(string); ok {
		entry.Module = v
	}
	if v, ok := e.Data["table"].(string); ok {
		entry.Table = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) < r.cap {
		r.entries = append(r.entries, entry)
		return nil
	}
	r.entries[r.next] = entry
	r.next = (r.next + 1) % r.cap
	return nil
}

// Entries returns the retained entries, newest first.
func (r *Ring) Entries() []Entry {
	return r.filter(func(Entry) bool { return true })
}

// TableEntries returns the retained entries tagged with table, newest first.
func (r *Ring) TableEntries(table string) []Entry {
	return r.filter(func(e Entry) bool { return e.Table == table })
}

func (r *Ring) filter(keep func(Entry) bool) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]Entry, 0, len(r.entries))
	n := len(r.entries)
	for i := 0; i < n; i++ {
		// Walk backwards from the most recently written slot.
		e := r.entries[(r.next-1-i+2*n)%n]
		if keep(e) {
			res = append(res, e)
		}
	}
	return res
}
