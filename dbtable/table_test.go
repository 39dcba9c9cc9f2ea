// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package dbtable

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func testRow(t testing.TB, pk, rk string, extra string) *Row {
	payload := fmt.Sprintf(`{"PartitionKey":%q,"RowKey":%q%s}`, pk, rk, extra)
	r, err := ParseRow([]byte(payload))
	require.NoError(t, err)
	return r
}

func formatEffects(e SideEffects) string {
	if e.IsEmpty() && e.RowsDeleted() == 0 {
		return "(no effects)"
	}
	var b strings.Builder
	rowList := func(m map[string]map[string]*Row) string {
		var keys []string
		for pk, rows := range m {
			for rk := range rows {
				keys = append(keys, pk+"/"+rk)
			}
		}
		sort.Strings(keys)
		return strings.Join(keys, " ")
	}
	if len(e.UpdatedRows) > 0 {
		fmt.Fprintf(&b, "updated: %s\n", rowList(e.UpdatedRows))
	}
	if len(e.DeletedRows) > 0 {
		fmt.Fprintf(&b, "deleted: %s\n", rowList(e.DeletedRows))
	}
	if len(e.UpdatedPartitions)+len(e.DeletedPartitions) > 0 {
		var parts []string
		for _, pk := range e.SortedUpdatedPartitions() {
			parts = append(parts, "+"+pk)
		}
		for _, pk := range e.SortedDeletedPartitions() {
			parts = append(parts, "-"+pk)
		}
		fmt.Fprintf(&b, "partitions: %s\n", strings.Join(parts, " "))
	}
	if len(e.EvictedPartitions) > 0 {
		fmt.Fprintf(&b, "evicted: %s\n", strings.Join(e.EvictedPartitions, " "))
	}
	if e.AttributesVersion != 0 {
		fmt.Fprintf(&b, "attrs: v%d\n", e.AttributesVersion)
	}
	if e.Rebuilt {
		b.WriteString("rebuilt\n")
	}
	return b.String()
}

func formatTable(tbl *Table) string {
	s := tbl.Snapshot(0)
	if len(s.Partitions) == 0 {
		return "(empty)\n"
	}
	var b strings.Builder
	for _, pk := range s.PartitionKeys() {
		fmt.Fprintf(&b, "%s:", pk)
		for _, r := range s.Partitions[pk].Rows {
			fmt.Fprintf(&b, " %s@%d", r.RowKey, r.TimeStamp)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func scanAttributes(t *testing.T, td *datadriven.TestData, attrs Attributes) Attributes {
	var n int
	if td.MaybeScanArgs(t, "max-partitions", &n); n > 0 {
		attrs.MaxPartitionsAmount = uint32(n)
	}
	n = 0
	if td.MaybeScanArgs(t, "max-rows", &n); n > 0 {
		attrs.MaxRowsPerPartitionAmount = uint32(n)
	}
	return attrs
}

func TestTableDataDriven(t *testing.T) {
	var tbl *Table
	datadriven.RunTest(t, "testdata/table", func(t *testing.T, td *datadriven.TestData) string {
		var now int64
		td.MaybeScanArgs(t, "t", &now)
		switch td.Cmd {
		case "new":
			tbl = New("test", scanAttributes(t, td, Attributes{}))
			return ""

		case "insert":
			var rows []*Row
			for _, line := range strings.Split(td.Input, "\n") {
				fields := strings.Fields(line)
				var extra string
				for _, f := range fields[2:] {
					if v, ok := strings.CutPrefix(f, "exp="); ok {
						extra = `,"Expires":` + v
					}
				}
				rows = append(rows, testRow(t, fields[0], fields[1], extra))
			}
			return formatEffects(tbl.InsertOrReplace(rows, Timestamp(now)))

		case "delete":
			byPartition := make(map[string][]string)
			for _, line := range strings.Split(td.Input, "\n") {
				fields := strings.Fields(line)
				byPartition[fields[0]] = append(byPartition[fields[0]], fields[1])
			}
			return formatEffects(tbl.DeleteRows(byPartition, Timestamp(now)))

		case "update":
			// Each line is "put <pk> <rk>" or "delete <pk> <rk>", applied in
			// order within one update.
			effects, err := tbl.Update(Timestamp(now), func(w *Writer) error {
				for _, line := range strings.Split(td.Input, "\n") {
					fields := strings.Fields(line)
					switch fields[0] {
					case "put":
						w.InsertOrReplace([]*Row{testRow(t, fields[1], fields[2], "")})
					case "delete":
						w.DeleteRow(fields[1], fields[2])
					default:
						return errors.Newf("unknown op %q", fields[0])
					}
				}
				return nil
			})
			if err != nil {
				return err.Error()
			}
			return formatEffects(effects)

		case "attrs":
			cur, _ := tbl.Attributes()
			return formatEffects(tbl.UpdateAttributes(scanAttributes(t, td, cur), Timestamp(now)))

		case "gc":
			return formatEffects(tbl.GCExpired(Timestamp(now)))

		case "clean":
			return formatEffects(tbl.Clean(Timestamp(now)))

		case "show":
			return formatTable(tbl)

		default:
			return fmt.Sprintf("unknown command: %s", td.Cmd)
		}
	})
}

func TestInsertAndReplace(t *testing.T) {
	tbl := New("t", Attributes{})
	_, err := tbl.Insert(testRow(t, "A", "1", `,"v":1`), 10)
	require.NoError(t, err)

	_, err = tbl.Insert(testRow(t, "A", "1", `,"v":2`), 11)
	require.True(t, errors.Is(err, ErrRecordAlreadyExists))

	_, err = tbl.Replace(testRow(t, "A", "2", ""), 0, 12)
	require.True(t, errors.Is(err, ErrRecordNotFound))

	_, err = tbl.Replace(testRow(t, "A", "1", `,"v":3`), 9, 13)
	require.True(t, errors.Is(err, ErrRecordChangedConcurrently))

	e, err := tbl.Replace(testRow(t, "A", "1", `,"v":4`), 10, 14)
	require.NoError(t, err)
	require.Len(t, e.ReplacedRows, 1)
	require.Equal(t, Timestamp(10), e.ReplacedRows[0].TimeStamp)

	r, ok := tbl.GetRow("A", "1", 15)
	require.True(t, ok)
	require.Equal(t, Timestamp(14), r.TimeStamp)
	require.JSONEq(t, `{"PartitionKey":"A","RowKey":"1","v":4}`, string(r.Payload))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	tbl := New("t", Attributes{})
	tbl.InsertOrReplace([]*Row{testRow(t, "A", "1", ""), testRow(t, "B", "1", "")}, 1)
	before := formatTable(tbl)

	_, err := tbl.Update(2, func(w *Writer) error {
		w.InsertOrReplace([]*Row{testRow(t, "C", "1", ""), testRow(t, "A", "2", "")})
		w.DeleteRow("B", "1")
		w.SetAttributes(Attributes{Persist: true, MaxPartitionsAmount: 1})
		return w.Insert(testRow(t, "A", "1", ""))
	})
	require.True(t, errors.Is(err, ErrRecordAlreadyExists))
	require.Equal(t, before, formatTable(tbl))
	parts, rows := tbl.Stats()
	require.Equal(t, 2, parts)
	require.Equal(t, 2, rows)
	attrs, version := tbl.Attributes()
	require.Equal(t, Attributes{}, attrs)
	require.Equal(t, uint64(1), version)
}

func TestUpdateRollsBackOnPanic(t *testing.T) {
	tbl := New("t", Attributes{})
	tbl.InsertOrReplace([]*Row{testRow(t, "A", "1", `,"Expires":100`)}, 1)

	e, err := tbl.Update(2, func(w *Writer) error {
		w.CleanTable()
		w.InsertOrReplace([]*Row{testRow(t, "Z", "1", "")})
		panic("boom")
	})
	require.True(t, errors.Is(err, ErrUpdateAborted))
	require.True(t, e.IsEmpty())
	require.Equal(t, "A: 1@1\n", formatTable(tbl))
	require.True(t, tbl.HasExpiringRows())
}

func TestSnapshotIsolation(t *testing.T) {
	tbl := New("t", Attributes{})
	tbl.InsertOrReplace([]*Row{testRow(t, "A", "1", ""), testRow(t, "A", "2", "")}, 1)
	s := tbl.Snapshot(1)

	tbl.InsertOrReplace([]*Row{testRow(t, "A", "1", `,"v":1`), testRow(t, "A", "3", "")}, 2)
	tbl.DeleteRows(map[string][]string{"A": {"2"}}, 3)

	ps := s.Partitions["A"]
	require.Len(t, ps.Rows, 2)
	require.Equal(t, Timestamp(1), ps.Get("1").TimeStamp)
	require.NotNil(t, ps.Get("2"))
	require.Nil(t, ps.Get("3"))
}

func TestReplaceContents(t *testing.T) {
	src := New("t", Attributes{Persist: true})
	src.InsertOrReplace([]*Row{testRow(t, "X", "1", ""), testRow(t, "Y", "1", "")}, 5)
	snap := src.Snapshot(6)

	dst := New("t", Attributes{})
	dst.InsertOrReplace([]*Row{testRow(t, "A", "1", "")}, 1)
	e := dst.ReplaceContents(snap, 7)
	require.True(t, e.Rebuilt)
	require.Equal(t, "X: 1@5\nY: 1@5\n", formatTable(dst))
	attrs, version := dst.Attributes()
	require.True(t, attrs.Persist)
	require.Equal(t, uint64(2), version)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	tbl := New("t", Attributes{MaxPartitionsAmount: 8})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				pk := fmt.Sprintf("p%d", (w*200+i)%16)
				tbl.InsertOrReplace([]*Row{testRow(t, pk, fmt.Sprint(i), "")}, Timestamp(i+1))
				if s := tbl.Snapshot(0); len(s.Partitions) > 8 {
					t.Errorf("%d partitions exceed the limit", len(s.Partitions))
				}
			}
		}(w)
	}
	wg.Wait()
	parts, _ := tbl.Stats()
	require.LessOrEqual(t, parts, 8)
}

func TestValidateTableName(t *testing.T) {
	for _, ok := range []string{"orders", "a", "a-b_c9", strings.Repeat("x", 64)} {
		require.NoError(t, ValidateTableName(ok), ok)
	}
	for _, bad := range []string{"", "Orders", "a b", "a.b", strings.Repeat("x", 65)} {
		require.True(t, errors.Is(ValidateTableName(bad), ErrValidation), bad)
	}
}
