// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package datareader

import (
	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/tablestore/tablestore/changefeed"
	"github.com/tablestore/tablestore/dbtable"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Greeting is the first frame a reader sends.
type Greeting struct {
	NodeID string   `json:"nodeId"`
	Tables []string `json:"tables"`
}

// PartitionRows is the content of one partition. Rows are entity JSON objects
// carrying their server TimeStamp.
type PartitionRows struct {
	PartitionKey string                `json:"partitionKey"`
	Rows         []jsoniter.RawMessage `json:"rows"`
}

// InitTable carries the full content of a table.
type InitTable struct {
	TableName  string          `json:"tableName"`
	Partitions []PartitionRows `json:"partitions"`
}

// RowsMessage is the payload of InitPartition and UpdateRows frames.
type RowsMessage struct {
	TableName string `json:"tableName"`
	PartitionRows
}

// DeleteRows lists rows removed from a partition.
type DeleteRows struct {
	TableName    string   `json:"tableName"`
	PartitionKey string   `json:"partitionKey"`
	RowKeys      []string `json:"rowKeys"`
}

func encodeRows(rows []*dbtable.Row) []jsoniter.RawMessage {
	out := make([]jsoniter.RawMessage, len(rows))
	for i, r := range rows {
		out[i] = r.AppendEntity(nil)
	}
	return out
}

// EncodeEvent converts a change event into a frame.
func EncodeEvent(ev changefeed.Event) (Frame, error) {
	var typ FrameType
	var msg interface{}
	switch ev.Kind {
	case changefeed.EventInitTable:
		typ = FrameInitTable
		m := InitTable{TableName: ev.Table, Partitions: []PartitionRows{}}
		for _, pk := range ev.Snapshot.PartitionKeys() {
			m.Partitions = append(m.Partitions, PartitionRows{
				PartitionKey: pk,
				Rows:         encodeRows(ev.Snapshot.Partitions[pk].Rows),
			})
		}
		msg = &m
	case changefeed.EventInitPartition, changefeed.EventUpdateRows:
		typ = FrameUpdateRows
		if ev.Kind == changefeed.EventInitPartition {
			typ = FrameInitPartition
		}
		msg = &RowsMessage{
			TableName:     ev.Table,
			PartitionRows: PartitionRows{PartitionKey: ev.Partition, Rows: encodeRows(ev.Rows)},
		}
	case changefeed.EventDeleteRows:
		typ = FrameDeleteRows
		m := DeleteRows{TableName: ev.Table, PartitionKey: ev.Partition, RowKeys: make([]string, len(ev.Rows))}
		for i, r := range ev.Rows {
			m.RowKeys[i] = r.RowKey
		}
		msg = &m
	default:
		return Frame{}, errors.AssertionFailedf("unknown event kind %d", ev.Kind)
	}
	payload, err := api.Marshal(msg)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "encoding %s", typ)
	}
	return Frame{Type: typ, Payload: payload}, nil
}

// Decode unmarshals the payload of f into v.
func (f Frame) Decode(v interface{}) error {
	if err := api.Unmarshal(f.Payload, v); err != nil {
		return errors.Wrapf(err, "decoding %s", f.Type)
	}
	return nil
}

// EncodeGreeting builds a greeting frame.
func EncodeGreeting(g Greeting) Frame {
	payload, _ := api.Marshal(&g)
	return Frame{Type: FrameGreeting, Payload: payload}
}
