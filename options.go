// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tablestore/tablestore/internal/base"
	"github.com/tablestore/tablestore/objstorage"
	"github.com/tablestore/tablestore/objstorage/remote"
)

// Logger defines an interface for writing log messages.
type Logger = base.Logger

// DefaultLogger logs to the logrus standard logger.
type DefaultLogger = base.DefaultLogger

// Options holds the optional parameters for configuring the store. These
// options apply to the DB at large; per-table settings are Attributes.
type Options struct {
	// Backend persists tables. Required.
	Backend objstorage.Backend

	// BackupStorage receives periodic backups under "backup/<timestamp>/". Nil
	// disables backups and restores.
	BackupStorage remote.Storage

	// BackupInterval is the cadence of backups. Zero disables the periodic
	// backup loop; DB.Backup can still be called.
	BackupInterval time.Duration

	// BackupsToKeep is the number of most recent backups retained.
	BackupsToKeep int

	// BackupDeleteRate paces the deletion of rotated backup objects, in objects
	// per second. Zero deletes without pacing.
	BackupDeleteRate float64

	// Clock is the source of time for row timestamps, expiry and TTLs.
	Clock clock.Clock

	// EventListener provides hooks to listening to significant engine events.
	// Events are also logged through Logger unless the listener is set.
	EventListener *EventListener

	// ExpiryGCInterval is the cadence of the expired-row collector.
	ExpiryGCInterval time.Duration

	// FlushConcurrency bounds the partition writes one flush issues in
	// parallel.
	FlushConcurrency int

	// FlushBackoffInitial and FlushBackoffMax bound the exponential delay
	// between retries of a failed flush.
	FlushBackoffInitial time.Duration
	FlushBackoffMax     time.Duration

	// Logger used to write log messages.
	Logger Logger

	// MetricsInterval is the cadence of the metrics text snapshot.
	MetricsInterval time.Duration

	// MetricsRegistry receives the store's collectors. A private registry is
	// created when nil.
	MetricsRegistry *prometheus.Registry

	// OpTimeout is the deadline of each storage operation of backups and
	// restores. The Backend applies its own deadline to persistence.
	OpTimeout time.Duration

	// PersistInterval is the cadence at which each table's flush loop polls
	// its queue when not notified.
	PersistInterval time.Duration

	// ContentCacheShards is the number of shards of the blob-content cache.
	ContentCacheShards int

	// SubscriberBuffer is the number of change events buffered per
	// subscription before the subscriber is disconnected.
	SubscriberBuffer int

	// TransactionTTL is how long a transaction may stay idle before it
	// expires.
	TransactionTTL time.Duration

	// TxnGCInterval is the cadence of the transaction sweeper.
	TxnGCInterval time.Duration

	private struct {
		// disableBackgroundLoops keeps the flush, GC, metrics and backup loops
		// from starting. Tests drive them explicitly; Close still runs the
		// final flush.
		disableBackgroundLoops bool
	}
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified.
func (o *Options) EnsureDefaults() {
	if o.BackupsToKeep <= 0 {
		o.BackupsToKeep = 24
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.ExpiryGCInterval <= 0 {
		o.ExpiryGCInterval = time.Second
	}
	if o.FlushConcurrency <= 0 {
		o.FlushConcurrency = 8
	}
	if o.FlushBackoffInitial <= 0 {
		o.FlushBackoffInitial = time.Second
	}
	if o.FlushBackoffMax <= 0 {
		o.FlushBackoffMax = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = base.NewLogger("tablestore")
	}
	if o.EventListener == nil {
		o.EventListener = &EventListener{}
		*o.EventListener = MakeLoggingEventListener(o.Logger)
	}
	o.EventListener.EnsureDefaults(o.Logger)
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = time.Second
	}
	if o.MetricsRegistry == nil {
		o.MetricsRegistry = prometheus.NewRegistry()
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 30 * time.Second
	}
	if o.PersistInterval <= 0 {
		o.PersistInterval = time.Second
	}
	if o.ContentCacheShards <= 0 {
		o.ContentCacheShards = 16
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 1024
	}
	if o.TransactionTTL <= 0 {
		o.TransactionTTL = 30 * time.Second
	}
	if o.TxnGCInterval <= 0 {
		o.TxnGCInterval = time.Second
	}
}

// AddEventListener adds the provided event listener to the Options, in addition
// to any existing event listener.
func (o *Options) AddEventListener(l EventListener) {
	if o.EventListener != nil {
		l = TeeEventListener(l, *o.EventListener)
	}
	o.EventListener = &l
}

// Validate verifies that the options are mutually consistent. For example,
// FlushBackoffMax must not be smaller than FlushBackoffInitial.
func (o *Options) Validate() error {
	// Note that we can presume Options.EnsureDefaults has been called, so there
	// is no need to check for zero values.

	var buf strings.Builder
	if o.Backend == nil {
		fmt.Fprintf(&buf, "Backend must be set\n")
	}
	if o.FlushBackoffMax < o.FlushBackoffInitial {
		fmt.Fprintf(&buf, "FlushBackoffMax (%s) must be >= FlushBackoffInitial (%s)\n",
			o.FlushBackoffMax, o.FlushBackoffInitial)
	}
	if o.BackupInterval < 0 {
		fmt.Fprintf(&buf, "BackupInterval (%s) must be >= 0\n", o.BackupInterval)
	}
	if o.BackupInterval > 0 && o.BackupStorage == nil {
		fmt.Fprintf(&buf, "BackupInterval is set but BackupStorage is not\n")
	}
	if o.BackupDeleteRate < 0 {
		fmt.Fprintf(&buf, "BackupDeleteRate (%f) must be >= 0\n", o.BackupDeleteRate)
	}
	if buf.Len() == 0 {
		return nil
	}
	return errors.New(buf.String())
}
