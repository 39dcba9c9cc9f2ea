// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package persist

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/tablestore/tablestore/dbtable"
)

func parseState(t *testing.T, line string) State {
	fields := strings.Fields(line)
	var s State
	switch fields[0] {
	case "none":
		return s
	case "attrs":
		s.Kind = KindAttrsOnly
	case "partitions":
		s.Kind = KindPartitions
	case "rebuilt":
		s.Kind = KindRebuilt
	default:
		t.Fatalf("unknown kind %q", fields[0])
	}
	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, "v"):
			v, err := strconv.ParseUint(f[1:], 10, 64)
			require.NoError(t, err)
			s.AttrsVersion = v
		case strings.HasPrefix(f, "dirty="):
			s.Dirty = parseSet(strings.TrimPrefix(f, "dirty="))
		case strings.HasPrefix(f, "deleted="):
			s.Deleted = parseSet(strings.TrimPrefix(f, "deleted="))
		default:
			t.Fatalf("unknown field %q", f)
		}
	}
	return s
}

func parseSet(list string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, k := range strings.Split(list, ",") {
		m[k] = struct{}{}
	}
	return m
}

func TestJoinDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/join", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "join":
			var acc State
			for _, line := range strings.Split(td.Input, "\n") {
				acc = acc.Join(parseState(t, line))
			}
			return acc.String()
		default:
			return fmt.Sprintf("unknown command: %s", td.Cmd)
		}
	})
}

func randomState(rng *rand.Rand) State {
	keys := []string{"a", "b", "c", "d", "e"}
	s := State{Kind: Kind(rng.IntN(4))}
	switch s.Kind {
	case KindNone:
		return s
	case KindPartitions:
		for _, k := range keys {
			switch rng.IntN(3) {
			case 1:
				if s.Dirty == nil {
					s.Dirty = make(map[string]struct{})
				}
				s.Dirty[k] = struct{}{}
			case 2:
				if s.Deleted == nil {
					s.Deleted = make(map[string]struct{})
				}
				s.Deleted[k] = struct{}{}
			}
		}
	}
	s.AttrsVersion = uint64(rng.IntN(4))
	return s
}

func TestJoinAssociative(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 10000; i++ {
		a, b, c := randomState(rng), randomState(rng), randomState(rng)
		left := a.Join(b).Join(c)
		right := a.Join(b.Join(c))
		require.True(t, left.Equal(right), "(%s ⋈ %s) ⋈ %s = %s, but %s ⋈ (%s ⋈ %s) = %s",
			a, b, c, left, a, b, c, right)

		require.True(t, a.Join(State{}).Equal(a))
		require.True(t, State{}.Join(a).Equal(a))

		for k := range left.Dirty {
			_, ok := left.Deleted[k]
			require.False(t, ok, "%s both dirty and deleted in %s", k, left)
		}
	}
}

func TestJoinDoesNotAlias(t *testing.T) {
	a := State{Kind: KindPartitions, Dirty: parseSet("x")}
	b := a.Join(State{})
	b.Dirty["y"] = struct{}{}
	require.Len(t, a.Dirty, 1)
}

func TestFromEffects(t *testing.T) {
	tbl := dbtable.New("t", dbtable.Attributes{})
	row, err := dbtable.ParseRow([]byte(`{"PartitionKey":"A","RowKey":"1"}`))
	require.NoError(t, err)

	s := FromEffects(tbl.InsertOrReplace([]*dbtable.Row{row}, 1))
	require.Equal(t, "partitions(v0 dirty=[A] deleted=[])", s.String())

	s = FromEffects(tbl.UpdateAttributes(dbtable.Attributes{Persist: true}, 2))
	require.Equal(t, "attrs(v2)", s.String())

	s = FromEffects(tbl.Clean(3))
	require.Equal(t, "rebuilt(v0)", s.String())

	require.True(t, FromEffects(tbl.GCExpired(4)).IsEmpty())
}

func TestQueueDrainAndReport(t *testing.T) {
	cache := NewContentCache(4)
	q := NewQueue(cache)
	notify := q.Notify("t")

	require.True(t, q.EnqueueState("t", parseState(t, "partitions v0 dirty=A,B")))
	<-notify
	require.False(t, q.EnqueueState("t", State{}))

	w, ok := q.Drain("t")
	require.True(t, ok)
	require.Equal(t, []string{"A", "B"}, w.State.SortedDirty())

	// A second drain while the first is in flight sees nothing.
	q.EnqueueState("t", parseState(t, "partitions v0 deleted=A"))
	_, ok = q.Drain("t")
	require.False(t, ok)

	// The write of B succeeded before the failure.
	w.RecordWrite("B", HashOf([]byte("b")))
	q.ReportResult(w, errors.New("throttled"))
	h, ok := cache.Get("t", "B")
	require.True(t, ok)
	require.Equal(t, HashOf([]byte("b")), h)

	// The newer delete of A wins over the failed write of A.
	require.Equal(t, "partitions(v0 dirty=[B] deleted=[A])", q.Pending("t").String())
	require.Equal(t, []string{"t"}, q.PendingTables())

	w, ok = q.Drain("t")
	require.True(t, ok)
	w.RecordRemove("A")
	q.ReportResult(w, nil)
	require.True(t, q.Pending("t").IsEmpty())
	require.Empty(t, q.PendingTables())
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	q := NewQueue(NewContentCache(0))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.EnqueueState("t", State{Kind: KindPartitions, Dirty: parseSet(fmt.Sprintf("p%d-%d", i, j))})
			}
		}(i)
	}
	wg.Wait()
	w, ok := q.Drain("t")
	require.True(t, ok)
	require.Len(t, w.State.Dirty, 800)
}

func TestContentCache(t *testing.T) {
	c := NewContentCache(8)
	h1, h2 := HashOf([]byte("one")), HashOf([]byte("two"))
	require.NotEqual(t, h1, h2)
	require.Equal(t, h1, HashOf([]byte("one")))

	require.False(t, c.Matches("t", "a", h1))
	c.Put("t", "a", h1)
	c.Put("t", "b", h2)
	c.Put("u", "a", h2)
	require.True(t, c.Matches("t", "a", h1))
	require.False(t, c.Matches("t", "a", h2))

	require.ElementsMatch(t, []string{"a", "b"}, c.Partitions("t"))
	c.Delete("t", "b")
	require.Equal(t, 1, c.DeleteTable("t"))
	_, ok := c.Get("u", "a")
	require.True(t, ok)

	m := c.Metrics()
	require.Equal(t, CacheMetrics{Count: 1, Hits: 1, Misses: 2}, m)
}
