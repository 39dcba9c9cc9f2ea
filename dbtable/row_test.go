// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package dbtable

import (
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestParseRow(t *testing.T) {
	r, err := ParseRow([]byte(` {"PartitionKey":"A","RowKey":"1","TimeStamp":"2020-01-01T00:00:00","v":[1]} `))
	require.NoError(t, err)
	require.Equal(t, "A", r.PartitionKey)
	require.Equal(t, "1", r.RowKey)
	require.Zero(t, r.TimeStamp)
	require.JSONEq(t, `{"PartitionKey":"A","RowKey":"1","v":[1]}`, string(r.Payload))

	_, expected, err := ParseRowForReplace([]byte(`{"PartitionKey":"A","RowKey":"1","TimeStamp":"2020-01-01T00:00:00.000001Z"}`))
	require.NoError(t, err)
	require.Equal(t, TimestampOf(time.Date(2020, 1, 1, 0, 0, 0, 1000, time.UTC)), expected)
}

func TestParseRowErrors(t *testing.T) {
	for _, payload := range []string{
		`{"RowKey":"1"}`,
		`{"PartitionKey":"A"}`,
		`{"PartitionKey":"","RowKey":"1"}`,
		`{"PartitionKey":"A","RowKey":"a\u0001b"}`,
		`{"PartitionKey":"` + strings.Repeat("k", MaxKeyLength+1) + `","RowKey":"1"}`,
		`not json`,
		`[]`,
	} {
		_, err := ParseRow([]byte(payload))
		require.True(t, errors.Is(err, ErrValidation), "%s: %v", payload, err)
	}
}

func TestAppendEntity(t *testing.T) {
	r := &Row{PartitionKey: "A", RowKey: "1", Payload: []byte(`{"PartitionKey":"A","RowKey":"1"}`)}
	r.TimeStamp = TimestampOf(time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC))
	require.Equal(t,
		`{"TimeStamp":"2024-05-06T07:08:09.123456Z","PartitionKey":"A","RowKey":"1"}`,
		string(r.AppendEntity(nil)))

	empty := &Row{Payload: []byte(`{ }`), TimeStamp: r.TimeStamp}
	require.Equal(t, `{"TimeStamp":"2024-05-06T07:08:09.123456Z"}`, string(empty.AppendEntity(nil)))
}

func TestPartitionCodec(t *testing.T) {
	tbl := New("t", Attributes{})
	tbl.InsertOrReplace([]*Row{
		testRow(t, "P", "b", `,"x":"y"`),
		testRow(t, "P", "a", `,"Expires":99,"n":{"m":[1,2]}`),
	}, 42)
	ps, ok := tbl.PartitionSnapshot("P", 0)
	require.True(t, ok)

	data := EncodePartition(ps)
	require.Equal(t, data, EncodePartition(ps))

	got, err := DecodePartition("P", data)
	require.NoError(t, err)
	require.Equal(t, ps.LastWrite, got.LastWrite)
	require.Len(t, got.Rows, 2)
	for i := range ps.Rows {
		require.Equal(t, *ps.Rows[i], *got.Rows[i])
	}

	empty, err := DecodePartition("P", EncodePartition(&PartitionSnapshot{Key: "P"}))
	require.NoError(t, err)
	require.Empty(t, empty.Rows)
}

func TestDecodePartitionCorrupt(t *testing.T) {
	for _, data := range []string{
		`[{"rk":"a","ts":1}`,
		`[{"rk":"","ts":1,"e":{}}]`,
		`[{"rk":"b","ts":1,"e":{}},{"rk":"a","ts":1,"e":{}}]`,
	} {
		_, err := DecodePartition("P", []byte(data))
		require.True(t, errors.Is(err, ErrCorruptPartition), data)
	}
}

func TestAttributesCodec(t *testing.T) {
	a := Attributes{Persist: true, MaxPartitionsAmount: 3, Created: 7}
	data := EncodeAttributes(a)
	require.Equal(t, `{"persist":true,"maxPartitionsAmount":3,"created":7}`, string(data))
	got, err := DecodeAttributes(data)
	require.NoError(t, err)
	require.Equal(t, a, got)
}
