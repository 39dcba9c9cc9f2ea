// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/redact"
)

// TableStatus is the status of one table.
type TableStatus struct {
	Name       string `json:"name"`
	Persist    bool   `json:"persist"`
	Partitions int    `json:"partitions"`
	Rows       int    `json:"rows"`
	// Pending describes the persistence work not yet flushed, empty when
	// clean.
	Pending   string `json:"pending,omitempty"`
	Suspended bool   `json:"suspended,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// Status is a point-in-time summary of the store.
type Status struct {
	Tables             []TableStatus `json:"tables"`
	PendingTables      int           `json:"pendingTables"`
	SuspendedTables    []string      `json:"suspendedTables"`
	ActiveTransactions int           `json:"activeTransactions"`
	Subscribers        int           `json:"subscribers"`
	CachedPartitions   int64         `json:"cachedPartitions"`
	Uptime             time.Duration `json:"uptime"`
}

// Status returns a summary of the store.
func (d *DB) Status() Status {
	persistence := make(map[string]PersistenceStatus)
	for _, p := range d.Persistence() {
		persistence[p.Table] = p
	}
	s := Status{
		SuspendedTables:    []string{},
		ActiveTransactions: d.txns.Len(),
		Subscribers:        d.bus.Len(),
		CachedPartitions:   d.cache.Metrics().Count,
		Uptime:             d.clock.Since(d.started),
	}
	for _, t := range d.ListTables() {
		ts := TableStatus{
			Name:       t.Name,
			Persist:    t.Attributes.Persist,
			Partitions: t.Partitions,
			Rows:       t.Rows,
		}
		if p, ok := persistence[t.Name]; ok {
			if !p.Pending.IsEmpty() {
				ts.Pending = p.Pending.String()
				s.PendingTables++
			}
			ts.Suspended = p.State == FlushSuspended
			if p.LastError != nil {
				ts.LastError = p.LastError.Error()
			}
		}
		if ts.Suspended {
			s.SuspendedTables = append(s.SuspendedTables, t.Name)
		}
		s.Tables = append(s.Tables, ts)
	}
	return s
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return redact.StringWithoutMarkers(s)
}

// SafeFormat implements redact.SafeFormatter.
func (s Status) SafeFormat(w redact.SafePrinter, _ rune) {
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %7s %10s %10s  %s\n", "table", "persist", "partitions", "rows", "pending")
	for _, t := range s.Tables {
		pending := t.Pending
		if t.Suspended {
			pending += " (suspended)"
		}
		fmt.Fprintf(&b, "%-24s %7t %10d %10d  %s\n", t.Name, t.Persist, t.Partitions, t.Rows, pending)
	}
	fmt.Fprintf(&b, "transactions: %d  subscribers: %d  cached partitions: %d  uptime: %s",
		s.ActiveTransactions, s.Subscribers, s.CachedPartitions, s.Uptime.Truncate(time.Second))
	w.Print(redact.Safe(b.String()))
}
