// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package httpapi

import (
	"net/http"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/tablestore/tablestore"
	"github.com/tablestore/tablestore/dbtable"
)

// EffectsSummary is the response of a mutation.
type EffectsSummary struct {
	RowsUpdated       int      `json:"rowsUpdated"`
	RowsDeleted       int      `json:"rowsDeleted"`
	EvictedPartitions []string `json:"evictedPartitions,omitempty"`
}

func summarize(e tablestore.SideEffects) EffectsSummary {
	return EffectsSummary{
		RowsUpdated:       e.RowsUpdated(),
		RowsDeleted:       e.RowsDeleted(),
		EvictedPartitions: e.EvictedPartitions,
	}
}

func (s *server) writeEffects(w http.ResponseWriter, e tablestore.SideEffects, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, summarize(e))
}

func writeRows(w http.ResponseWriter, rows []*tablestore.Row) {
	buf := []byte{'['}
	for i, r := range rows {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = r.AppendEntity(buf)
	}
	writeRawJSON(w, append(buf, ']'))
}

// parseRows decodes a JSON array of entities. Nothing is returned unless
// every entity is valid.
func parseRows(data []byte) ([]*tablestore.Row, error) {
	var raw []jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding entities"), tablestore.ErrValidation)
	}
	rows := make([]*tablestore.Row, 0, len(raw))
	for i, e := range raw {
		r, err := dbtable.ParseRow(e)
		if err != nil {
			return nil, errors.Wrapf(err, "entity %d", i)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// getRow serves a single row when rowKey is given, a partition when only
// partitionKey is given and the whole table otherwise.
func (s *server) getRow(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err != nil {
		s.writeError(w, err)
		return
	}
	pk, rk := r.URL.Query().Get("partitionKey"), r.URL.Query().Get("rowKey")
	if pk != "" && rk != "" {
		row, err := s.db.GetRow(table, pk, rk)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeRawJSON(w, row.AppendEntity(nil))
		return
	}
	skip, err := queryInt(r, "skip")
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var rows []*tablestore.Row
	if pk != "" {
		rows, err = s.db.GetPartitionRows(table, pk, skip, limit)
	} else {
		rows, err = s.db.GetTableRows(table, skip, limit)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeRows(w, rows)
}

// getRows serves the rows of one partition named by repeated rowKey
// parameters.
func (s *server) getRows(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err != nil {
		s.writeError(w, err)
		return
	}
	pk, err := query(r, "partitionKey")
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows, err := s.db.GetRows(table, pk, r.URL.Query()["rowKey"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeRows(w, rows)
}

func (s *server) insertRow(w http.ResponseWriter, r *http.Request) {
	s.writeOne(w, r, func(table string, row *tablestore.Row) (tablestore.SideEffects, error) {
		return s.db.Insert(table, row)
	})
}

func (s *server) insertOrReplaceRow(w http.ResponseWriter, r *http.Request) {
	s.writeOne(w, r, func(table string, row *tablestore.Row) (tablestore.SideEffects, error) {
		return s.db.InsertOrReplace(table, []*tablestore.Row{row})
	})
}

func (s *server) writeOne(
	w http.ResponseWriter,
	r *http.Request,
	fn func(table string, row *tablestore.Row) (tablestore.SideEffects, error),
) {
	table, err := query(r, "tableName")
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	row, err := dbtable.ParseRow(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := fn(table, row)
	s.writeEffects(w, e, err)
}

// replaceRow overwrites a row if its TimeStamp still matches the one in the
// body.
func (s *server) replaceRow(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	row, expected, err := dbtable.ParseRowForReplace(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.db.Replace(table, row, expected)
	s.writeEffects(w, e, err)
}

func (s *server) deleteRow(w http.ResponseWriter, r *http.Request) {
	var args [3]string
	for i, name := range []string{"tableName", "partitionKey", "rowKey"} {
		v, err := query(r, name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		args[i] = v
	}
	row, err := s.db.DeleteRow(args[0], args[1], args[2])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if row == nil {
		s.writeError(w, errors.Wrapf(tablestore.ErrRecordNotFound, "row %s/%s", args[1], args[2]))
		return
	}
	writeRawJSON(w, row.AppendEntity(nil))
}

// deletePartitions removes the partitions listed in the body.
func (s *server) deletePartitions(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var keys []string
	if err := json.Unmarshal(body, &keys); err != nil {
		s.writeError(w, errors.Mark(errors.Wrap(err, "decoding partition keys"), tablestore.ErrValidation))
		return
	}
	e, err := s.db.CleanPartitions(table, keys)
	s.writeEffects(w, e, err)
}

func (s *server) bulkInsertOrReplace(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows, err := parseRows(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.db.InsertOrReplace(table, rows)
	s.writeEffects(w, e, err)
}

// cleanAndBulkInsert replaces the table, or the partition named by
// partitionKey, with the entities in the body.
func (s *server) cleanAndBulkInsert(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows, err := parseRows(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.db.CleanAndBulkInsert(table, r.URL.Query().Get("partitionKey"), rows)
	s.writeEffects(w, e, err)
}

// bulkDelete removes rows given as {"partitionKey": ["rowKey", ...]}.
func (s *server) bulkDelete(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var keys map[string][]string
	if err := json.Unmarshal(body, &keys); err != nil {
		s.writeError(w, errors.Mark(errors.Wrap(err, "decoding row keys"), tablestore.ErrValidation))
		return
	}
	e, err := s.db.DeleteRows(table, keys)
	s.writeEffects(w, e, err)
}
