// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package jsonprobe extracts the handful of top-level fields the table store
// needs from an entity without decoding the whole document.
package jsonprobe

import (
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

// Field names recognized at the top level of an entity.
const (
	PartitionKeyField = "PartitionKey"
	RowKeyField       = "RowKey"
	ExpiresField      = "Expires"
	TimeStampField    = "TimeStamp"
)

// ErrNotObject is returned when the payload is valid JSON but not an object.
var ErrNotObject = errors.New("entity is not a JSON object")

// ErrMalformed is returned when the payload is not valid JSON.
var ErrMalformed = errors.New("entity is not valid JSON")

// Fields holds the probed values. Expires and TimeStamp are in microseconds
// since the Unix epoch; zero Expires means the entity carries no expiration.
type Fields struct {
	PartitionKey    string
	RowKey          string
	Expires         int64
	TimeStamp       int64
	HasPartitionKey bool
	HasRowKey       bool
	HasTimeStamp    bool
}

var expiresLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Probe scans the top-level fields of data. Nested values are skipped
// without being materialized.
func Probe(data []byte) (Fields, error) {
	var f Fields
	// The iterator below is lenient about malformed input it skips over, so
	// validity is checked separately.
	if !json.Valid(data) {
		return f, ErrMalformed
	}
	iter := jsoniter.ConfigFastest.BorrowIterator(data)
	defer jsoniter.ConfigFastest.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return f, ErrNotObject
	}
	var fieldErr error
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		switch field {
		case PartitionKeyField:
			f.PartitionKey, f.HasPartitionKey, fieldErr = readKey(it, field)
		case RowKeyField:
			f.RowKey, f.HasRowKey, fieldErr = readKey(it, field)
		case ExpiresField:
			f.Expires, fieldErr = readTime(it, field)
		case TimeStampField:
			f.TimeStamp, fieldErr = readTime(it, field)
			f.HasTimeStamp = fieldErr == nil && f.TimeStamp != 0
		default:
			it.Skip()
		}
		return fieldErr == nil
	})
	if fieldErr != nil {
		return Fields{}, fieldErr
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return Fields{}, errors.Wrap(ErrMalformed, iter.Error.Error())
	}
	return f, nil
}

func readKey(it *jsoniter.Iterator, field string) (string, bool, error) {
	if it.WhatIsNext() != jsoniter.StringValue {
		it.Skip()
		return "", false, errors.Newf("field %s must be a string", field)
	}
	return it.ReadString(), true, nil
}

func readTime(it *jsoniter.Iterator, field string) (int64, error) {
	switch it.WhatIsNext() {
	case jsoniter.NilValue:
		it.ReadNil()
		return 0, nil
	case jsoniter.NumberValue:
		n := it.ReadNumber()
		v, err := strconv.ParseInt(string(n), 10, 64)
		if err != nil || v < 0 {
			return 0, errors.Newf("field %s: %q is not a microsecond timestamp", field, string(n))
		}
		return v, nil
	case jsoniter.StringValue:
		s := it.ReadString()
		if s == "" {
			return 0, nil
		}
		t, err := ParseTime(s)
		if err != nil {
			return 0, errors.Wrapf(err, "field %s", field)
		}
		return t.UnixMicro(), nil
	default:
		it.Skip()
		return 0, errors.Newf("field %s must be a string, a number or null", field)
	}
}

// ParseTime parses the date formats accepted in the Expires and TimeStamp
// fields. Values without a zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range expiresLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf("cannot parse %q as a date", s)
}

// StripField returns a copy of the object in data without the named
// top-level field. The remaining fields keep their order and raw encoding.
func StripField(data []byte, name string) ([]byte, error) {
	iter := jsoniter.ConfigFastest.BorrowIterator(data)
	defer jsoniter.ConfigFastest.ReturnIterator(iter)
	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, ErrNotObject
	}
	stream := jsoniter.ConfigFastest.BorrowStream(nil)
	defer jsoniter.ConfigFastest.ReturnStream(stream)

	stream.WriteObjectStart()
	first := true
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		raw := it.SkipAndReturnBytes()
		if field == name {
			return true
		}
		if !first {
			stream.WriteMore()
		}
		first = false
		stream.WriteObjectField(field)
		_, _ = stream.Write(raw)
		return true
	})
	stream.WriteObjectEnd()
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, errors.Wrap(ErrMalformed, iter.Error.Error())
	}
	return append([]byte(nil), stream.Buffer()...), nil
}
