// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package dbtable

import (
	"bytes"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore/internal/jsonprobe"
)

// Timestamp is a point in time in microseconds since the Unix epoch.
type Timestamp int64

// TimestampOf converts t to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// Time converts the timestamp back to a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(int64(ts)).UTC()
}

// String renders the timestamp the way it is exposed in entities.
func (ts Timestamp) String() string {
	return ts.Time().Format("2006-01-02T15:04:05.000000Z")
}

// MaxKeyLength bounds partition and row keys, in bytes.
const MaxKeyLength = 1024

// Row is an immutable entity. Once a Row is inserted into a table it is shared
// by the live partition and every snapshot that observed it; it must not be
// modified. Replacement installs a new Row under the same key.
type Row struct {
	PartitionKey string
	RowKey       string
	// Payload is the entity JSON object, without a top-level TimeStamp field.
	Payload []byte
	// TimeStamp is the server time of the write that installed the row.
	TimeStamp Timestamp
	// Expires is zero when the row never expires.
	Expires Timestamp
}

// ParseRow validates an entity and extracts its keys and expiration. The
// returned row has no TimeStamp; it is stamped when it is written.
func ParseRow(payload []byte) (*Row, error) {
	row, _, err := parseRow(payload)
	return row, err
}

// ParseRowForReplace is like ParseRow but also returns the TimeStamp the
// client last observed, used for optimistic concurrency on Replace.
func ParseRowForReplace(payload []byte) (*Row, Timestamp, error) {
	return parseRow(payload)
}

func parseRow(payload []byte) (*Row, Timestamp, error) {
	f, err := jsonprobe.Probe(payload)
	if err != nil {
		return nil, 0, markValidation(err)
	}
	if !f.HasPartitionKey {
		return nil, 0, validationErrorf("entity has no %s", jsonprobe.PartitionKeyField)
	}
	if !f.HasRowKey {
		return nil, 0, validationErrorf("entity has no %s", jsonprobe.RowKeyField)
	}
	if err := ValidateKey("partition key", f.PartitionKey); err != nil {
		return nil, 0, err
	}
	if err := ValidateKey("row key", f.RowKey); err != nil {
		return nil, 0, err
	}
	body := bytes.TrimSpace(payload)
	if f.HasTimeStamp || bytes.Contains(body, []byte(`"`+jsonprobe.TimeStampField+`"`)) {
		// The server owns TimeStamp; drop whatever the client sent.
		if body, err = jsonprobe.StripField(body, jsonprobe.TimeStampField); err != nil {
			return nil, 0, markValidation(err)
		}
	} else {
		body = append([]byte(nil), body...)
	}
	return &Row{
		PartitionKey: f.PartitionKey,
		RowKey:       f.RowKey,
		Payload:      body,
		Expires:      Timestamp(f.Expires),
	}, Timestamp(f.TimeStamp), nil
}

// ValidateKey checks a partition or row key.
func ValidateKey(kind, key string) error {
	if key == "" {
		return validationErrorf("%s must not be empty", kind)
	}
	if len(key) > MaxKeyLength {
		return validationErrorf("%s is %d bytes long, the limit is %d", kind, len(key), MaxKeyLength)
	}
	if !utf8.ValidString(key) {
		return validationErrorf("%s is not valid UTF-8", kind)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return validationErrorf("%s contains a control character", kind)
		}
	}
	return nil
}

// stamped returns a copy of r carrying the write time.
func (r *Row) stamped(now Timestamp) *Row {
	c := *r
	c.TimeStamp = now
	return &c
}

// IsExpired reports whether the row has an expiration at or before now.
func (r *Row) IsExpired(now Timestamp) bool {
	return r.Expires != 0 && r.Expires <= now
}

// AppendEntity appends the entity JSON with the server TimeStamp injected as
// the first field.
func (r *Row) AppendEntity(dst []byte) []byte {
	body := r.Payload
	i := bytes.IndexByte(body, '{')
	if i < 0 {
		return append(dst, body...)
	}
	rest := bytes.TrimLeft(body[i+1:], " \t\r\n")
	dst = append(dst, `{"`+jsonprobe.TimeStampField+`":"`...)
	dst = append(dst, r.TimeStamp.String()...)
	dst = append(dst, '"')
	if len(rest) > 0 && rest[0] != '}' {
		dst = append(dst, ',')
	}
	return append(dst, rest...)
}

func markValidation(err error) error {
	return errors.Mark(err, ErrValidation)
}

func validationErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}
