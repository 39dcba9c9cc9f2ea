// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package dbtable

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

// ErrCorruptPartition is returned when a persisted partition cannot be
// decoded.
var ErrCorruptPartition = errors.New("corrupt partition payload")

var codecAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodePartition renders the rows of a partition snapshot as the durable
// partition payload: a JSON array ordered by row key where each element
// carries the row key, time stamp, expiration and entity.
//
//	[{"rk":"1","ts":1700000000000000,"exp":0,"e":{...}}, ...]
//
// The encoding is deterministic, so equal snapshots encode to equal bytes.
func EncodePartition(ps *PartitionSnapshot) []byte {
	var buf bytes.Buffer
	s := jsoniter.NewStream(codecAPI, &buf, 512)
	s.WriteArrayStart()
	for i, r := range ps.Rows {
		if i > 0 {
			s.WriteMore()
		}
		s.WriteObjectStart()
		s.WriteObjectField("rk")
		s.WriteString(r.RowKey)
		s.WriteMore()
		s.WriteObjectField("ts")
		s.WriteInt64(int64(r.TimeStamp))
		s.WriteMore()
		s.WriteObjectField("exp")
		s.WriteInt64(int64(r.Expires))
		s.WriteMore()
		s.WriteObjectField("e")
		s.WriteRaw(string(r.Payload))
		s.WriteObjectEnd()
	}
	s.WriteArrayEnd()
	_ = s.Flush()
	return buf.Bytes()
}

// DecodePartition parses a payload produced by EncodePartition.
func DecodePartition(pk string, data []byte) (*PartitionSnapshot, error) {
	if !json.Valid(data) {
		return nil, errors.Wrapf(ErrCorruptPartition, "partition %q: invalid JSON", pk)
	}
	it := jsoniter.ParseBytes(codecAPI, data)
	ps := &PartitionSnapshot{Key: pk}
	var decodeErr error
	it.ReadArrayCB(func(it *jsoniter.Iterator) bool {
		r := &Row{PartitionKey: pk}
		it.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
			switch field {
			case "rk":
				r.RowKey = it.ReadString()
			case "ts":
				r.TimeStamp = Timestamp(it.ReadInt64())
			case "exp":
				r.Expires = Timestamp(it.ReadInt64())
			case "e":
				r.Payload = append([]byte(nil), it.SkipAndReturnBytes()...)
			default:
				it.Skip()
			}
			return true
		})
		if r.RowKey == "" || len(r.Payload) == 0 {
			decodeErr = errors.Wrapf(ErrCorruptPartition, "partition %q: row without key or entity", pk)
			return false
		}
		if n := len(ps.Rows); n > 0 && ps.Rows[n-1].RowKey >= r.RowKey {
			decodeErr = errors.Wrapf(ErrCorruptPartition, "partition %q: rows out of order at %q", pk, r.RowKey)
			return false
		}
		if r.TimeStamp > ps.LastWrite {
			ps.LastWrite = r.TimeStamp
		}
		ps.Rows = append(ps.Rows, r)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	if it.Error != nil && it.Error != io.EOF {
		return nil, errors.Wrapf(ErrCorruptPartition, "partition %q: %v", pk, it.Error)
	}
	return ps, nil
}

// EncodeAttributes renders attributes as canonical JSON.
func EncodeAttributes(a Attributes) []byte {
	b, _ := codecAPI.Marshal(a)
	return b
}

// DecodeAttributes parses attributes written by EncodeAttributes.
func DecodeAttributes(data []byte) (Attributes, error) {
	var a Attributes
	if err := codecAPI.Unmarshal(data, &a); err != nil {
		return Attributes{}, errors.Wrap(err, "decoding table attributes")
	}
	return a, nil
}
