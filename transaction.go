// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"github.com/tablestore/tablestore/dbtable"
	"github.com/tablestore/tablestore/txn"
)

// Step exports the txn.Step type.
type Step = txn.Step

// BeginTransaction starts a transaction and returns its id.
func (d *DB) BeginTransaction() (string, error) {
	if d.closed.Load() {
		return "", ErrClosed
	}
	return d.txns.Begin(), nil
}

// AppendTransaction validates steps and buffers them in a transaction. Every
// step must target the same existing table. Nothing is applied until commit.
func (d *DB) AppendTransaction(id string, steps []Step) error {
	for i := range steps {
		if _, err := d.table(steps[i].Table); err != nil {
			return err
		}
	}
	return d.txns.Append(id, steps)
}

// CommitTransaction applies the buffered steps, in the order they were
// appended, as a single atomic mutation of their table. If any step fails
// nothing is applied. The transaction ends either way.
func (d *DB) CommitTransaction(id string) (SideEffects, error) {
	if d.closed.Load() {
		return SideEffects{}, ErrClosed
	}
	tx, err := d.txns.Take(id)
	if err != nil {
		return SideEffects{}, err
	}
	if len(tx.Steps) == 0 {
		return SideEffects{}, nil
	}
	t, err := d.table(tx.Table)
	if err != nil {
		return SideEffects{}, err
	}
	effects, err := t.Update(d.now(), func(w *dbtable.Writer) error {
		for i := range tx.Steps {
			tx.Steps[i].Apply(w)
		}
		return nil
	})
	if err != nil {
		return SideEffects{}, err
	}
	d.metrics.transactionsCommitted.Inc()
	d.opts.EventListener.TransactionCommitted(TransactionInfo{
		ID: tx.ID, Table: tx.Table, Steps: len(tx.Steps), Effects: effects,
	})
	return effects, nil
}

// CancelTransaction discards a transaction.
func (d *DB) CancelTransaction(id string) error {
	return d.txns.Cancel(id)
}

// ActiveTransactions returns the number of open transactions.
func (d *DB) ActiveTransactions() int {
	return d.txns.Len()
}
