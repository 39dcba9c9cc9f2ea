// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"time"

	"github.com/cockroachdb/redact"
	"github.com/tablestore/tablestore/dbtable"
	"github.com/tablestore/tablestore/objstorage"
	"github.com/tablestore/tablestore/persist"
)

// FlushInfo contains the info for a flush event: one attempt to bring the
// backend copy of a table up to date.
type FlushInfo struct {
	Table string
	// State is the pending work the flush handles.
	State persist.State
	// Attempt counts consecutive attempts for the same work, starting at 1.
	Attempt int
	// Written is the number of partition blobs written. Skipped counts
	// partitions whose content matched the backend already.
	Written int
	Skipped int
	Removed int
	// AttributesSaved is set when the metadata blob was rewritten.
	AttributesSaved bool
	// TableDeleted is set when the flush removed the table from the backend.
	TableDeleted bool
	Duration     time.Duration
	Done         bool
	Err          error
}

func (i FlushInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i FlushInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[%s] flush error (attempt %d, %s): %s",
			redact.SafeString(i.Table), i.Attempt, objstorage.Classify(i.Err), i.Err)
		return
	}
	if !i.Done {
		w.Printf("[%s] flushing %s", redact.SafeString(i.Table), i.State)
		return
	}
	if i.TableDeleted {
		w.Printf("[%s] deleted from backend in %.1fs", redact.SafeString(i.Table),
			redact.Safe(i.Duration.Seconds()))
		return
	}
	w.Printf("[%s] flushed %s: %d written, %d unchanged, %d removed",
		redact.SafeString(i.Table), i.State, i.Written, i.Skipped, i.Removed)
	if i.AttributesSaved {
		w.SafeString(", attributes saved")
	}
	w.Printf(", in %.1fs", redact.Safe(i.Duration.Seconds()))
}

// PersistenceInfo contains the info for persistence suspension and
// resumption events.
type PersistenceInfo struct {
	Table string
	// Err is the fatal backend error that suspended the table.
	Err error
}

func (i PersistenceInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i PersistenceInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[%s] persistence suspended: %s", redact.SafeString(i.Table), i.Err)
		return
	}
	w.Printf("[%s] persistence resumed", redact.SafeString(i.Table))
}

// ExpiryInfo contains the info for an expired-rows collection.
type ExpiryInfo struct {
	Table      string
	Rows       int
	Partitions int
}

func (i ExpiryInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i ExpiryInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[%s] expired %d rows in %d partitions", redact.SafeString(i.Table), i.Rows, i.Partitions)
}

// EvictionInfo contains the info for partitions dropped by the
// max-partitions limit.
type EvictionInfo struct {
	Table      string
	Partitions []string
}

func (i EvictionInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i EvictionInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[%s] evicted %d partitions", redact.SafeString(i.Table), len(i.Partitions))
}

// TransactionInfo contains the info for transaction events.
type TransactionInfo struct {
	ID    string
	Table string
	Steps int
	// Effects are set for committed transactions.
	Effects dbtable.SideEffects
}

func (i TransactionInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i TransactionInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("transaction %s on %s: %d steps", redact.SafeString(i.ID), redact.SafeString(i.Table), i.Steps)
	if i.Effects.Table != "" {
		w.Printf(" (%s)", &i.Effects)
	}
}

// BackupInfo contains the info for backup creation and deletion events.
type BackupInfo struct {
	ID      string
	Tables  int
	Objects int
	// Duration is set for created backups.
	Duration time.Duration
	Err      error
}

func (i BackupInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i BackupInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("backup %s error: %s", redact.SafeString(i.ID), i.Err)
		return
	}
	if i.Duration > 0 {
		w.Printf("backup %s created: %d tables, %d objects, in %.1fs",
			redact.SafeString(i.ID), i.Tables, i.Objects, redact.Safe(i.Duration.Seconds()))
		return
	}
	w.Printf("backup %s deleted: %d objects", redact.SafeString(i.ID), i.Objects)
}

// TableInfo contains the info for table lifecycle events.
type TableInfo struct {
	Table      string
	Attributes dbtable.Attributes
	// Backup is set for tables restored from a backup.
	Backup string
}

func (i TableInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i TableInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[%s] persist=%t maxPartitions=%d maxRowsPerPartition=%d",
		redact.SafeString(i.Table), i.Attributes.Persist,
		i.Attributes.MaxPartitionsAmount, i.Attributes.MaxRowsPerPartitionAmount)
	if i.Backup != "" {
		w.Printf(" from backup %s", redact.SafeString(i.Backup))
	}
}

// EventListener contains a set of functions that will be invoked when various
// significant events occur. Note that the functions should not run for an
// excessive amount of time as they are invoked synchronously by the store and
// may block continued operation. Some of the callbacks run while a table
// lock is held.
type EventListener struct {
	// BackgroundError is invoked whenever an error occurs in a background loop
	// outside of a flush.
	BackgroundError func(error)

	// BackupCreated is invoked after a backup completed or failed.
	BackupCreated func(BackupInfo)

	// BackupDeleted is invoked after a rotated backup was deleted.
	BackupDeleted func(BackupInfo)

	// FlushBegin is invoked before a table flush begins.
	FlushBegin func(FlushInfo)

	// FlushEnd is invoked after a table flush completed or failed.
	FlushEnd func(FlushInfo)

	// PartitionsEvicted is invoked when a write pushed a table over its
	// partition limit.
	PartitionsEvicted func(EvictionInfo)

	// PersistenceResumed is invoked when a suspended table resumes flushing.
	PersistenceResumed func(PersistenceInfo)

	// PersistenceSuspended is invoked when a fatal backend error suspends the
	// flush loop of a table.
	PersistenceSuspended func(PersistenceInfo)

	// RowsExpired is invoked after the expiry collector removed rows.
	RowsExpired func(ExpiryInfo)

	// TableCreated is invoked after a table was created.
	TableCreated func(TableInfo)

	// TableDeleted is invoked after a table was deleted from memory. Its
	// backend copy is removed by the next flush.
	TableDeleted func(TableInfo)

	// TableRestored is invoked after a table was replaced from a backup.
	TableRestored func(TableInfo)

	// TransactionCommitted is invoked after a transaction was applied.
	TransactionCommitted func(TransactionInfo)

	// TransactionExpired is invoked when an idle transaction is dropped.
	TransactionExpired func(TransactionInfo)
}

// EnsureDefaults ensures that background error events are logged to the
// specified logger if a handler for those events hasn't been otherwise
// specified. Ensure all handlers are non-nil so that we don't have to check
// for nil-ness before invoking.
func (l *EventListener) EnsureDefaults(logger Logger) {
	if l.BackgroundError == nil {
		if logger != nil {
			l.BackgroundError = func(err error) {
				logger.Errorf("background error: %s", err)
			}
		} else {
			l.BackgroundError = func(error) {}
		}
	}
	if l.BackupCreated == nil {
		l.BackupCreated = func(info BackupInfo) {}
	}
	if l.BackupDeleted == nil {
		l.BackupDeleted = func(info BackupInfo) {}
	}
	if l.FlushBegin == nil {
		l.FlushBegin = func(info FlushInfo) {}
	}
	if l.FlushEnd == nil {
		l.FlushEnd = func(info FlushInfo) {}
	}
	if l.PartitionsEvicted == nil {
		l.PartitionsEvicted = func(info EvictionInfo) {}
	}
	if l.PersistenceResumed == nil {
		l.PersistenceResumed = func(info PersistenceInfo) {}
	}
	if l.PersistenceSuspended == nil {
		l.PersistenceSuspended = func(info PersistenceInfo) {}
	}
	if l.RowsExpired == nil {
		l.RowsExpired = func(info ExpiryInfo) {}
	}
	if l.TableCreated == nil {
		l.TableCreated = func(info TableInfo) {}
	}
	if l.TableDeleted == nil {
		l.TableDeleted = func(info TableInfo) {}
	}
	if l.TableRestored == nil {
		l.TableRestored = func(info TableInfo) {}
	}
	if l.TransactionCommitted == nil {
		l.TransactionCommitted = func(info TransactionInfo) {}
	}
	if l.TransactionExpired == nil {
		l.TransactionExpired = func(info TransactionInfo) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to the
// specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = DefaultLogger{}
	}

	return EventListener{
		BackgroundError: func(err error) {
			logger.Errorf("background error: %s", err)
		},
		BackupCreated: func(info BackupInfo) {
			logger.Infof("%s", info)
		},
		BackupDeleted: func(info BackupInfo) {
			logger.Infof("%s", info)
		},
		FlushBegin: func(info FlushInfo) {
			logger.Infof("%s", info)
		},
		FlushEnd: func(info FlushInfo) {
			if info.Err != nil {
				logger.Errorf("%s", info)
				return
			}
			logger.Infof("%s", info)
		},
		PartitionsEvicted: func(info EvictionInfo) {
			logger.Infof("%s", info)
		},
		PersistenceResumed: func(info PersistenceInfo) {
			logger.Infof("%s", info)
		},
		PersistenceSuspended: func(info PersistenceInfo) {
			logger.Errorf("%s", info)
		},
		RowsExpired: func(info ExpiryInfo) {
			logger.Infof("%s", info)
		},
		TableCreated: func(info TableInfo) {
			logger.Infof("table created: %s", info)
		},
		TableDeleted: func(info TableInfo) {
			logger.Infof("table deleted: %s", info)
		},
		TableRestored: func(info TableInfo) {
			logger.Infof("table restored: %s", info)
		},
		TransactionCommitted: func(info TransactionInfo) {
			logger.Infof("%s committed", info)
		},
		TransactionExpired: func(info TransactionInfo) {
			logger.Infof("%s expired", info)
		},
	}
}

// TeeEventListener wraps two EventListeners, forwarding all events to both.
func TeeEventListener(a, b EventListener) EventListener {
	a.EnsureDefaults(nil)
	b.EnsureDefaults(nil)
	return EventListener{
		BackgroundError: func(err error) {
			a.BackgroundError(err)
			b.BackgroundError(err)
		},
		BackupCreated: func(info BackupInfo) {
			a.BackupCreated(info)
			b.BackupCreated(info)
		},
		BackupDeleted: func(info BackupInfo) {
			a.BackupDeleted(info)
			b.BackupDeleted(info)
		},
		FlushBegin: func(info FlushInfo) {
			a.FlushBegin(info)
			b.FlushBegin(info)
		},
		FlushEnd: func(info FlushInfo) {
			a.FlushEnd(info)
			b.FlushEnd(info)
		},
		PartitionsEvicted: func(info EvictionInfo) {
			a.PartitionsEvicted(info)
			b.PartitionsEvicted(info)
		},
		PersistenceResumed: func(info PersistenceInfo) {
			a.PersistenceResumed(info)
			b.PersistenceResumed(info)
		},
		PersistenceSuspended: func(info PersistenceInfo) {
			a.PersistenceSuspended(info)
			b.PersistenceSuspended(info)
		},
		RowsExpired: func(info ExpiryInfo) {
			a.RowsExpired(info)
			b.RowsExpired(info)
		},
		TableCreated: func(info TableInfo) {
			a.TableCreated(info)
			b.TableCreated(info)
		},
		TableDeleted: func(info TableInfo) {
			a.TableDeleted(info)
			b.TableDeleted(info)
		},
		TableRestored: func(info TableInfo) {
			a.TableRestored(info)
			b.TableRestored(info)
		},
		TransactionCommitted: func(info TransactionInfo) {
			a.TransactionCommitted(info)
			b.TransactionCommitted(info)
		},
		TransactionExpired: func(info TransactionInfo) {
			a.TransactionExpired(info)
			b.TransactionExpired(info)
		},
	}
}
