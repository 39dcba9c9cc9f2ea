// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package httpapi

import (
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore"
)

// TableJSON describes a table in /Tables.
type TableJSON struct {
	Name                      string `json:"name"`
	Persist                   bool   `json:"persist"`
	MaxPartitionsAmount       uint32 `json:"maxPartitionsAmount,omitempty"`
	MaxRowsPerPartitionAmount uint32 `json:"maxRowsPerPartitionAmount,omitempty"`
	Partitions                int    `json:"partitionsCount"`
	Rows                      int    `json:"recordsAmount"`
}

func (s *server) listTables(w http.ResponseWriter, r *http.Request) {
	tables := s.db.ListTables()
	res := make([]TableJSON, len(tables))
	for i, t := range tables {
		res[i] = TableJSON{
			Name:                      t.Name,
			Persist:                   t.Attributes.Persist,
			MaxPartitionsAmount:       t.Attributes.MaxPartitionsAmount,
			MaxRowsPerPartitionAmount: t.Attributes.MaxRowsPerPartitionAmount,
			Partitions:                t.Partitions,
			Rows:                      t.Rows,
		}
	}
	s.writeJSON(w, res)
}

func queryUint32(r *http.Request, name string) (uint32, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errors.Mark(errors.Newf("invalid %s %q", name, v), tablestore.ErrValidation)
	}
	return uint32(n), nil
}

// attributes reads table attributes from the query string. Persistence is
// on unless persist=false.
func attributes(r *http.Request) (tablestore.Attributes, error) {
	attrs := tablestore.Attributes{Persist: true}
	if r.URL.Query().Get("persist") != "" {
		p, err := queryBool(r, "persist")
		if err != nil {
			return attrs, err
		}
		attrs.Persist = p
	}
	var err error
	if attrs.MaxPartitionsAmount, err = queryUint32(r, "maxPartitionsAmount"); err != nil {
		return attrs, err
	}
	if attrs.MaxRowsPerPartitionAmount, err = queryUint32(r, "maxRowsPerPartitionAmount"); err != nil {
		return attrs, err
	}
	return attrs, nil
}

func (s *server) tableAndAttributes(r *http.Request) (string, tablestore.Attributes, error) {
	table, err := query(r, "tableName")
	if err != nil {
		return "", tablestore.Attributes{}, err
	}
	attrs, err := attributes(r)
	return table, attrs, err
}

func (s *server) createTable(w http.ResponseWriter, r *http.Request) {
	table, attrs, err := s.tableAndAttributes(r)
	if err == nil {
		err = s.db.CreateTable(table, attrs)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]bool{"created": true})
}

func (s *server) createTableIfNotExists(w http.ResponseWriter, r *http.Request) {
	table, attrs, err := s.tableAndAttributes(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.db.CreateTableIfNotExists(table, attrs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]bool{"created": created})
}

func (s *server) updatePersist(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := query(r, "persist"); err != nil {
		s.writeError(w, err)
		return
	}
	persist, err := queryBool(r, "persist")
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.db.UpdatePersist(table, persist)
	s.writeEffects(w, e, err)
}

func (s *server) updateAttributes(w http.ResponseWriter, r *http.Request) {
	table, attrs, err := s.tableAndAttributes(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.db.UpdateAttributes(table, attrs)
	s.writeEffects(w, e, err)
}

func (s *server) cleanTable(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.db.CleanTable(table)
	s.writeEffects(w, e, err)
}

func (s *server) deleteTable(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err == nil {
		err = s.db.DeleteTable(table)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]bool{"deleted": true})
}
