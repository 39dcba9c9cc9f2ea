// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/tablestore/tablestore/changefeed"
	"github.com/tablestore/tablestore/dbtable"
	"github.com/tablestore/tablestore/internal/base"
	"github.com/tablestore/tablestore/internal/errorfs"
	"github.com/tablestore/tablestore/objstorage/pageblob"
	"github.com/tablestore/tablestore/objstorage/remote"
	"github.com/tablestore/tablestore/txn"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testEvents records the events the tests assert on.
type testEvents struct {
	mu  sync.Mutex
	log []string
}

func (e *testEvents) add(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

func (e *testEvents) take() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := e.log
	e.log = nil
	return res
}

func (e *testEvents) listener() EventListener {
	return EventListener{
		BackupCreated: func(info BackupInfo) { e.add("backup-created %s tables=%d", info.ID, info.Tables) },
		BackupDeleted: func(info BackupInfo) { e.add("backup-deleted %s", info.ID) },
		PartitionsEvicted: func(info EvictionInfo) {
			e.add("evicted %s %v", info.Table, info.Partitions)
		},
		PersistenceSuspended: func(info PersistenceInfo) { e.add("suspended %s", info.Table) },
		PersistenceResumed:   func(info PersistenceInfo) { e.add("resumed %s", info.Table) },
		RowsExpired:          func(info ExpiryInfo) { e.add("expired %s rows=%d", info.Table, info.Rows) },
		TableRestored:        func(info TableInfo) { e.add("restored %s from %s", info.Table, info.Backup) },
		TransactionExpired:   func(info TransactionInfo) { e.add("txn-expired steps=%d", info.Steps) },
	}
}

// testEnv is a store over an in-memory page-blob backend with fault
// injection and a mock clock. Background loops are disabled; tests call Flush,
// CollectExpired and SweepTransactions themselves.
type testEnv struct {
	t       *testing.T
	clock   *clock.Mock
	storage *errorfs.Storage
	toggle  *errorfs.Toggle
	backup  remote.Storage
	events  *testEvents
}

func newTestEnv(t *testing.T) *testEnv {
	e := &testEnv{
		t:      t,
		clock:  clock.NewMock(),
		toggle: &errorfs.Toggle{},
		backup: remote.NewInMem(),
		events: &testEvents{},
	}
	e.clock.Set(testEpoch)
	e.storage = errorfs.Wrap(remote.NewInMem(), e.toggle)
	return e
}

func (e *testEnv) options() *Options {
	l := e.events.listener()
	opts := &Options{
		Backend:       pageblob.New(e.storage, pageblob.Options{Logger: base.NoopLogger{}}),
		BackupStorage: e.backup,
		Clock:         e.clock,
		Logger:        base.NoopLogger{},
		EventListener: &l,
	}
	opts.private.disableBackgroundLoops = true
	return opts
}

func (e *testEnv) openWith(opts *Options) *DB {
	d, err := Open(context.Background(), opts)
	require.NoError(e.t, err)
	return d
}

func (e *testEnv) open() *DB { return e.openWith(e.options()) }

func testRow(t *testing.T, pk, rk string, fields string) *Row {
	payload := fmt.Sprintf(`{"PartitionKey":%q,"RowKey":%q`, pk, rk)
	if fields != "" {
		payload += "," + fields
	}
	r, err := dbtable.ParseRow([]byte(payload + "}"))
	require.NoError(t, err)
	return r
}

func rowKeys(rows []*Row) []string {
	var keys []string
	for _, r := range rows {
		keys = append(keys, r.PartitionKey+"/"+r.RowKey)
	}
	return keys
}

func TestReadYourWrites(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()

	require.NoError(t, d.CreateTable("orders", Attributes{}))
	rows := []*Row{testRow(t, "A", "1", `"x":1`), testRow(t, "A", "2", ""), testRow(t, "B", "1", "")}
	effects, err := d.InsertOrReplace("orders", rows)
	require.NoError(t, err)
	require.Equal(t, 3, effects.RowsUpdated())

	all, err := d.GetTableRows("orders", 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"A/1", "A/2", "B/1"}, rowKeys(all))

	r, err := d.GetRow("orders", "A", "1")
	require.NoError(t, err)
	require.Equal(t, dbtable.TimestampOf(testEpoch), r.TimeStamp)
	require.JSONEq(t, `{"TimeStamp":"2024-03-01T12:00:00.000000Z","PartitionKey":"A","RowKey":"1","x":1}`,
		string(r.AppendEntity(nil)))

	_, err = d.GetRow("orders", "A", "3")
	require.True(t, errors.Is(err, ErrRecordNotFound))
	_, err = d.GetRow("missing", "A", "1")
	require.True(t, errors.Is(err, ErrTableNotFound))

	page, err := d.GetPartitionRows("orders", "A", 1, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"A/2"}, rowKeys(page))

	some, err := d.GetRows("orders", "A", []string{"2", "9", "1", "2"})
	require.NoError(t, err)
	require.Equal(t, []string{"A/1", "A/2"}, rowKeys(some))
}

func TestInsertAndReplace(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.CreateTable("orders", Attributes{}))

	_, err := d.Insert("orders", testRow(t, "A", "1", `"v":1`))
	require.NoError(t, err)
	_, err = d.Insert("orders", testRow(t, "A", "1", `"v":2`))
	require.True(t, errors.Is(err, ErrRecordAlreadyExists))

	written := dbtable.TimestampOf(testEpoch)
	e.clock.Add(time.Second)
	_, err = d.Replace("orders", testRow(t, "A", "1", `"v":3`), written-1)
	require.True(t, errors.Is(err, ErrRecordChangedConcurrently))
	_, err = d.Replace("orders", testRow(t, "A", "2", `"v":3`), written)
	require.True(t, errors.Is(err, ErrRecordNotFound))
	effects, err := d.Replace("orders", testRow(t, "A", "1", `"v":3`), written)
	require.NoError(t, err)
	require.Len(t, effects.ReplacedRows, 1)

	deleted, err := d.DeleteRow("orders", "A", "1")
	require.NoError(t, err)
	require.Contains(t, string(deleted.Payload), `"v":3`)
	deleted, err = d.DeleteRow("orders", "A", "1")
	require.NoError(t, err)
	require.Nil(t, deleted)
}

func TestBulkIsAtomic(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.CreateTable("orders", Attributes{}))
	_, err := d.InsertOrReplace("orders", []*Row{testRow(t, "A", "old", "")})
	require.NoError(t, err)

	// A row outside the partition rejects the whole batch.
	_, err = d.CleanAndBulkInsert("orders", "A", []*Row{testRow(t, "A", "1", ""), testRow(t, "B", "1", "")})
	require.True(t, errors.Is(err, ErrValidation))
	all, err := d.GetTableRows("orders", 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"A/old"}, rowKeys(all))

	_, err = d.CleanAndBulkInsert("orders", "A", []*Row{testRow(t, "A", "1", ""), testRow(t, "A", "2", "")})
	require.NoError(t, err)
	all, err = d.GetTableRows("orders", 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"A/1", "A/2"}, rowKeys(all))

	_, err = d.CleanAndBulkInsert("orders", "", []*Row{testRow(t, "C", "1", "")})
	require.NoError(t, err)
	all, err = d.GetTableRows("orders", 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"C/1"}, rowKeys(all))
}

func TestEvictionKeepsLatestPartitions(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.CreateTable("orders", Attributes{MaxPartitionsAmount: 3}))

	// P4 is written first, so it is the oldest despite its key.
	for _, pk := range []string{"P4", "P1", "P2", "P3", "P5"} {
		e.clock.Add(time.Millisecond)
		_, err := d.InsertOrReplace("orders", []*Row{testRow(t, pk, "1", "")})
		require.NoError(t, err)
	}
	s, err := d.Snapshot("orders")
	require.NoError(t, err)
	require.Equal(t, []string{"P2", "P3", "P5"}, s.PartitionKeys())
	require.Equal(t, []string{"evicted orders [P4]", "evicted orders [P1]"}, e.events.take())

	// Lowering the limit evicts immediately.
	effects, err := d.UpdateAttributes("orders", Attributes{MaxPartitionsAmount: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"P2", "P3"}, effects.EvictedPartitions)
	s, err = d.Snapshot("orders")
	require.NoError(t, err)
	require.Equal(t, []string{"P5"}, s.PartitionKeys())
}

func TestCollectExpired(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.CreateTable("orders", Attributes{Persist: true}))

	r := testRow(t, "A", "1", "")
	r.Expires = dbtable.TimestampOf(testEpoch.Add(100 * time.Millisecond))
	_, err := d.InsertOrReplace("orders", []*Row{r, testRow(t, "B", "1", "")})
	require.NoError(t, err)
	require.NoError(t, d.Flush(context.Background()))
	require.Equal(t, 1, e.storage.Writes("orders/"+pageblob.PartitionBlobName("A")))

	require.Equal(t, 0, d.CollectExpired())
	e.clock.Add(500 * time.Millisecond)
	require.Equal(t, 1, d.CollectExpired())
	require.Equal(t, []string{"expired orders rows=1"}, e.events.take())

	all, err := d.GetTableRows("orders", 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"B/1"}, rowKeys(all))

	// The removal reaches the backend like any deletion.
	require.NoError(t, d.Flush(context.Background()))
	keys, err := d.backend.ListPartitions(context.Background(), "orders")
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, keys)
}

func TestTableLifecycle(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()

	require.True(t, errors.Is(d.CreateTable("Bad Name", Attributes{}), ErrValidation))
	require.NoError(t, d.CreateTable("orders", Attributes{Persist: true, MaxPartitionsAmount: 5}))
	require.True(t, errors.Is(d.CreateTable("orders", Attributes{Persist: true}), ErrConflict))

	created, err := d.CreateTableIfNotExists("orders", Attributes{Persist: true, MaxPartitionsAmount: 5})
	require.NoError(t, err)
	require.False(t, created)
	_, err = d.CreateTableIfNotExists("orders", Attributes{Persist: false})
	require.True(t, errors.Is(err, ErrConflict))
	created, err = d.CreateTableIfNotExists("audit", Attributes{})
	require.NoError(t, err)
	require.True(t, created)

	_, err = d.UpdatePersist("audit", true)
	require.NoError(t, err)
	attrs, err := d.Attributes("audit")
	require.NoError(t, err)
	require.True(t, attrs.Persist)
	require.Equal(t, dbtable.TimestampOf(testEpoch), attrs.Created)

	var names []string
	for _, s := range d.ListTables() {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{"audit", "orders"}, names)

	_, err = d.InsertOrReplace("orders", []*Row{testRow(t, "A", "1", "")})
	require.NoError(t, err)
	effects, err := d.CleanTable("orders")
	require.NoError(t, err)
	require.True(t, effects.Rebuilt)

	require.NoError(t, d.DeleteTable("audit"))
	require.True(t, errors.Is(d.DeleteTable("audit"), ErrTableNotFound))
	_, err = d.InsertOrReplace("audit", nil)
	require.True(t, errors.Is(err, ErrTableNotFound))
}

func TestOrdersScenario(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.CreateTable("orders", Attributes{Persist: true, MaxPartitionsAmount: 2}))

	for _, pk := range []string{"A", "B", "C"} {
		e.clock.Add(time.Millisecond)
		_, err := d.InsertOrReplace("orders", []*Row{testRow(t, pk, "1", "")})
		require.NoError(t, err)
	}
	s, err := d.Snapshot("orders")
	require.NoError(t, err)
	require.Equal(t, []string{"B", "C"}, s.PartitionKeys())

	require.NoError(t, d.Flush(context.Background()))
	names, err := e.storage.List(context.Background(), "orders/", "")
	require.NoError(t, err)
	expected := []string{pageblob.MetadataBlob, pageblob.PartitionBlobName("B"), pageblob.PartitionBlobName("C")}
	sort.Strings(expected)
	require.Equal(t, expected, names)
}

func TestTransactionCommit(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.CreateTable("orders", Attributes{Persist: true}))
	_, err := d.InsertOrReplace("orders", []*Row{testRow(t, "B", "1", "")})
	require.NoError(t, err)
	require.NoError(t, d.Flush(context.Background()))

	id, err := d.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, d.AppendTransaction(id, []Step{{
		Kind: txn.StepInsertOrReplace, Table: "orders", Rows: []*Row{testRow(t, "D", "1", `"x":1`)},
	}}))
	require.NoError(t, d.AppendTransaction(id, []Step{{
		Kind: txn.StepDeleteRows, Table: "orders", RowKeys: map[string][]string{"D": {"1"}},
	}}))

	// A failed append leaves the transaction usable.
	err = d.AppendTransaction(id, []Step{{Kind: txn.StepCleanTable, Table: "missing"}})
	require.True(t, errors.Is(err, ErrTableNotFound))

	// Nothing is applied before commit.
	_, err = d.GetRow("orders", "D", "1")
	require.True(t, errors.Is(err, ErrRecordNotFound))

	effects, err := d.CommitTransaction(id)
	require.NoError(t, err)
	require.Contains(t, effects.DeletedPartitions, "D")
	require.NotContains(t, effects.UpdatedPartitions, "D")
	// D/1 never became visible, so subscribers are not told it was deleted.
	require.Empty(t, effects.DeletedRows)
	require.Empty(t, effects.UpdatedRows)
	_, err = d.GetRow("orders", "D", "1")
	require.True(t, errors.Is(err, ErrRecordNotFound))

	pending := d.queue.Pending("orders")
	require.Equal(t, []string{"D"}, pending.SortedDeleted())
	require.Empty(t, pending.SortedDirty())

	_, err = d.CommitTransaction(id)
	require.True(t, errors.Is(err, ErrTransactionNotFound))
	_, err = d.CommitTransaction("unknown")
	require.True(t, errors.Is(err, ErrTransactionNotFound))
}

func TestTransactionCancelAndTTL(t *testing.T) {
	e := newTestEnv(t)
	opts := e.options()
	opts.TransactionTTL = 10 * time.Second
	d := e.openWith(opts)
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.CreateTable("orders", Attributes{}))

	step := Step{Kind: txn.StepInsertOrReplace, Table: "orders", Rows: []*Row{testRow(t, "A", "1", "")}}

	id, err := d.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, d.CancelTransaction(id))
	require.True(t, errors.Is(d.AppendTransaction(id, []Step{step}), ErrTransactionNotFound))

	id, err = d.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, d.AppendTransaction(id, []Step{step}))
	e.clock.Add(11 * time.Second)
	_, err = d.CommitTransaction(id)
	require.True(t, errors.Is(err, ErrTransactionExpired))
	_, err = d.GetRow("orders", "A", "1")
	require.True(t, errors.Is(err, ErrRecordNotFound))

	id, err = d.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, d.AppendTransaction(id, []Step{step, step}))
	require.Equal(t, 1, d.ActiveTransactions())
	e.clock.Add(11 * time.Second)
	require.Equal(t, 1, d.SweepTransactions())
	require.Equal(t, []string{"txn-expired steps=2"}, e.events.take())
	require.Equal(t, 0, d.ActiveTransactions())
	_, err = d.CommitTransaction(id)
	require.True(t, errors.Is(err, ErrTransactionExpired))
}

func TestTransactionAtomicity(t *testing.T) {
	defer leaktest.AfterTest(t)()
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.CreateTable("orders", Attributes{}))

	const n = 50
	const commits = 20
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			s, err := d.Snapshot("orders")
			if err != nil {
				t.Error(err)
				return
			}
			if c := s.RowCount(); c%n != 0 {
				t.Errorf("observed %d rows, a partial transaction", c)
				return
			}
		}
	}()

	for i := 0; i < commits; i++ {
		id, err := d.BeginTransaction()
		require.NoError(t, err)
		rows := make([]*Row, n)
		for j := range rows {
			rows[j] = testRow(t, fmt.Sprintf("p%d", j%5), fmt.Sprintf("%d-%d", i, j), "")
		}
		require.NoError(t, d.AppendTransaction(id, []Step{{Kind: txn.StepInsertOrReplace, Table: "orders", Rows: rows[:n/2]}}))
		require.NoError(t, d.AppendTransaction(id, []Step{{Kind: txn.StepInsertOrReplace, Table: "orders", Rows: rows[n/2:]}}))
		_, err = d.CommitTransaction(id)
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	s, err := d.Snapshot("orders")
	require.NoError(t, err)
	require.Equal(t, n*commits, s.RowCount())
}

func TestConcurrentWriters(t *testing.T) {
	defer leaktest.AfterTest(t)()
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.CreateTable("orders", Attributes{Persist: true}))

	const perWriter = 1000
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				r := testRow(t, fmt.Sprintf("w%d-%d", w, i%10), fmt.Sprintf("%d", i), "")
				if _, err := d.InsertOrReplace("orders", []*Row{r}); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	s, err := d.Snapshot("orders")
	require.NoError(t, err)
	require.Equal(t, 2*perWriter, s.RowCount())

	require.NoError(t, d.Flush(context.Background()))
	keys, err := d.backend.ListPartitions(context.Background(), "orders")
	require.NoError(t, err)
	require.Equal(t, s.PartitionKeys(), keys)
	for _, pk := range keys {
		payload, err := d.backend.LoadPartition(context.Background(), "orders", pk)
		require.NoError(t, err)
		require.Equal(t, dbtable.EncodePartition(s.Partitions[pk]), payload)
	}
}

func TestSubscribe(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	require.NoError(t, d.CreateTable("orders", Attributes{}))
	_, err := d.InsertOrReplace("orders", []*Row{testRow(t, "A", "1", "")})
	require.NoError(t, err)

	sub := d.Subscribe([]string{"orders", "later"})
	require.Equal(t, 1, d.Subscribers())
	ev := <-sub.Events()
	require.Equal(t, changefeed.EventInitTable, ev.Kind)
	require.Equal(t, []string{"A/1"}, rowKeys(ev.Snapshot.Rows()))

	_, err = d.InsertOrReplace("orders", []*Row{testRow(t, "B", "1", "")})
	require.NoError(t, err)
	_, err = d.DeleteRow("orders", "A", "1")
	require.NoError(t, err)
	require.NoError(t, d.CreateTable("later", Attributes{}))
	_, err = d.InsertOrReplace("later", []*Row{testRow(t, "X", "1", "")})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 3; i++ {
		ev := <-sub.Events()
		got = append(got, fmt.Sprintf("%s %s %s %v", ev.Kind, ev.Table, ev.Partition, rowKeys(ev.Rows)))
	}
	require.Equal(t, []string{
		"UpdateRows orders B [B/1]",
		"DeleteRows orders A [A/1]",
		"UpdateRows later X [X/1]",
	}, got)

	require.NoError(t, d.Close())
	<-sub.Done()
	require.True(t, errors.Is(sub.Err(), ErrClosed))
}

func TestClosed(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	require.NoError(t, d.CreateTable("orders", Attributes{}))
	require.NoError(t, d.Close())
	require.True(t, errors.Is(d.Close(), ErrClosed))
	_, err := d.InsertOrReplace("orders", nil)
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(d.CreateTable("other", Attributes{}), ErrClosed))
	_, err = d.BeginTransaction()
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(d.Flush(context.Background()), ErrClosed))
}
