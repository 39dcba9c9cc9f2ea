// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestMetricsText(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()

	require.NoError(t, d.CreateTable("orders", Attributes{Persist: true, MaxPartitionsAmount: 1}))
	_, err := d.InsertOrReplace("orders", []*Row{testRow(t, "A", "1", ""), testRow(t, "A", "2", "")})
	require.NoError(t, err)
	_, err = d.InsertOrReplace("orders", []*Row{testRow(t, "B", "1", "")})
	require.NoError(t, err)
	require.NoError(t, d.Flush(context.Background()))
	e.clock.Add(90 * time.Second)

	// Nothing is rendered until the first refresh.
	require.Empty(t, d.MetricsText(false))
	text := string(d.MetricsText(true))
	for _, line := range []string{
		`tablestore_tables 1`,
		`tablestore_partitions{table="orders"} 1`,
		`tablestore_rows{table="orders"} 1`,
		`tablestore_rows_written_total{table="orders"} 3`,
		`tablestore_rows_deleted_total{table="orders"} 2`,
		`tablestore_partitions_evicted_total{table="orders"} 1`,
		`tablestore_flushes_total{result="ok",table="orders"} 1`,
		`tablestore_partitions_written_total{table="orders"} 1`,
		`tablestore_uptime_seconds 90`,
	} {
		require.Contains(t, text, line+"\n")
	}
	require.Equal(t, text, string(d.MetricsText(false)))

	// Per-table series go away with the table.
	require.NoError(t, d.DeleteTable("orders"))
	text = string(d.MetricsText(true))
	require.NotContains(t, text, `table="orders"`)
	require.Contains(t, text, "tablestore_tables 0\n")
}

func TestMetricsRegistry(t *testing.T) {
	e := newTestEnv(t)
	reg := prometheus.NewRegistry()
	opts := e.options()
	opts.MetricsRegistry = reg
	d := e.openWith(opts)
	require.Same(t, reg, d.MetricsRegistry())

	// A second store cannot register the same collectors.
	opts2 := e.options()
	opts2.MetricsRegistry = reg
	_, err := Open(context.Background(), opts2)
	require.Error(t, err)

	// Close releases the collectors.
	require.NoError(t, d.Close())
	d = e.openWith(opts2)
	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	require.Contains(t, strings.Join(names, " "), "tablestore_tables")
	require.NoError(t, d.Close())
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t)
	d := e.open()
	defer func() { require.NoError(t, d.Close()) }()

	require.NoError(t, d.CreateTable("orders", Attributes{Persist: true}))
	require.NoError(t, d.CreateTable("scratch", Attributes{}))
	_, err := d.InsertOrReplace("orders", []*Row{testRow(t, "A", "1", ""), testRow(t, "B", "1", "")})
	require.NoError(t, err)
	_, err = d.BeginTransaction()
	require.NoError(t, err)
	sub := d.Subscribe(nil)
	defer d.Unsubscribe(sub)

	s := d.Status()
	require.Len(t, s.Tables, 2)
	require.Equal(t, TableStatus{
		Name: "orders", Persist: true, Partitions: 2, Rows: 2, Pending: s.Tables[0].Pending,
	}, s.Tables[0])
	require.NotEmpty(t, s.Tables[0].Pending)
	require.Equal(t, 2, s.PendingTables)
	require.Equal(t, 1, s.ActiveTransactions)
	require.Equal(t, 1, s.Subscribers)
	require.Empty(t, s.SuspendedTables)

	require.NoError(t, d.Flush(context.Background()))
	s = d.Status()
	require.Equal(t, 0, s.PendingTables)
	require.Empty(t, s.Tables[0].Pending)
	require.Equal(t, int64(2), s.CachedPartitions)

	out := s.String()
	require.True(t, strings.HasPrefix(out, "table "), out)
	require.Contains(t, out, "orders")
	require.Contains(t, out, "transactions: 1  subscribers: 1  cached partitions: 2")
}
