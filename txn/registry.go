// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package txn buffers multi-step transactions until they are committed.
//
// A transaction is created by Begin, grows with Append and leaves the
// registry through Take (commit), Cancel, or expiry after an idle TTL.
// Buffering never touches the tables; the caller applies the steps of a taken
// transaction under a single table write lock.
package txn

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tablestore/tablestore/dbtable"
)

// Errors returned by the registry.
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionExpired  = errors.New("transaction expired")
)

// finishedCapacity bounds how many ended transactions are remembered to tell
// an expired id from an unknown one.
const finishedCapacity = 4096

type outcome uint8

const (
	outcomeCommitted outcome = iota
	outcomeCancelled
	outcomeExpired
)

// Transaction is a buffered list of steps bound to one table.
type Transaction struct {
	ID string
	// Table is set by the first appended step.
	Table       string
	Created     time.Time
	LastTouched time.Time
	Steps       []Step
}

// Registry holds the active transactions.
type Registry struct {
	clock clock.Clock
	ttl   time.Duration

	mu struct {
		sync.Mutex
		active   map[string]*Transaction
		finished *lru.Cache
	}
}

// NewRegistry creates a registry expiring transactions idle for longer than
// ttl.
func NewRegistry(clk clock.Clock, ttl time.Duration) *Registry {
	finished, err := lru.New(finishedCapacity)
	if err != nil {
		panic(err)
	}
	r := &Registry{clock: clk, ttl: ttl}
	r.mu.active = make(map[string]*Transaction)
	r.mu.finished = finished
	return r
}

// Begin starts a transaction and returns its id.
func (r *Registry) Begin() string {
	now := r.clock.Now()
	tx := &Transaction{ID: uuid.NewString(), Created: now, LastTouched: now}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.active[tx.ID] = tx
	return tx.ID
}

// lookupLocked returns the active transaction, expiring it first if its TTL
// elapsed.
func (r *Registry) lookupLocked(id string, now time.Time) (*Transaction, error) {
	tx, ok := r.mu.active[id]
	if !ok {
		if v, ok := r.mu.finished.Get(id); ok && v.(outcome) == outcomeExpired {
			return nil, errors.Wrapf(ErrTransactionExpired, "transaction %s", id)
		}
		return nil, errors.Wrapf(ErrTransactionNotFound, "transaction %s", id)
	}
	if r.idle(tx, now) {
		r.finishLocked(tx, outcomeExpired)
		return nil, errors.Wrapf(ErrTransactionExpired, "transaction %s", id)
	}
	return tx, nil
}

func (r *Registry) idle(tx *Transaction, now time.Time) bool {
	return r.ttl > 0 && now.Sub(tx.LastTouched) > r.ttl
}

func (r *Registry) finishLocked(tx *Transaction, o outcome) {
	delete(r.mu.active, tx.ID)
	r.mu.finished.Add(tx.ID, o)
}

// Append validates steps and adds them to the transaction. On error the
// transaction is left unchanged and stays active.
func (r *Registry) Append(id string, steps []Step) error {
	for i := range steps {
		if err := steps[i].Validate(); err != nil {
			return err
		}
	}
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.lookupLocked(id, now)
	if err != nil {
		return err
	}
	table := tx.Table
	for i := range steps {
		if table == "" {
			table = steps[i].Table
		}
		if steps[i].Table != table {
			return errors.Mark(errors.Newf(
				"transaction %s is bound to table %s; step %d targets %s", id, table, i, steps[i].Table),
				dbtable.ErrValidation)
		}
	}
	tx.Table = table
	tx.Steps = append(tx.Steps, steps...)
	tx.LastTouched = now
	return nil
}

// Take removes the transaction for commit. The caller owns the returned
// transaction.
func (r *Registry) Take(id string) (*Transaction, error) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.lookupLocked(id, now)
	if err != nil {
		return nil, err
	}
	r.finishLocked(tx, outcomeCommitted)
	return tx, nil
}

// Cancel discards a transaction.
func (r *Registry) Cancel(id string) error {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.lookupLocked(id, now)
	if err != nil {
		return err
	}
	r.finishLocked(tx, outcomeCancelled)
	return nil
}

// Sweep expires every transaction idle for longer than the TTL and returns
// them ordered by id.
func (r *Registry) Sweep() []*Transaction {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*Transaction
	for _, tx := range r.mu.active {
		if r.idle(tx, now) {
			expired = append(expired, tx)
		}
	}
	for _, tx := range expired {
		r.finishLocked(tx, outcomeExpired)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired
}

// Len returns the number of active transactions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mu.active)
}
