// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tablestore/tablestore"
	"github.com/tablestore/tablestore/datareader"
	"github.com/tablestore/tablestore/internal/logring"
)

func (s *server) logs(w http.ResponseWriter, r *http.Request) {
	entries := []logring.Entry{}
	if s.opts.Logs != nil {
		entries = s.opts.Logs.Entries()
	}
	s.writeJSON(w, entries)
}

func (s *server) tableLogs(w http.ResponseWriter, r *http.Request) {
	entries := []logring.Entry{}
	if s.opts.Logs != nil {
		entries = s.opts.Logs.TableEntries(mux.Vars(r)["table"])
	}
	s.writeJSON(w, entries)
}

// StatusJSON is the body of /Status.
type StatusJSON struct {
	tablestore.Status
	Readers []datareader.Session `json:"readers"`
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	res := StatusJSON{Status: s.db.Status(), Readers: []datareader.Session{}}
	if s.opts.Sessions != nil {
		res.Readers = s.opts.Sessions()
	}
	s.writeJSON(w, res)
}

// PersistenceJSON describes the flush loop of a table in /Persistence.
type PersistenceJSON struct {
	Table     string    `json:"table"`
	State     string    `json:"state"`
	Pending   string    `json:"pending"`
	Attempt   int       `json:"attempt,omitempty"`
	RetryAt   time.Time `json:"retryAt,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Deleting  bool      `json:"deleting,omitempty"`
}

func (s *server) persistence(w http.ResponseWriter, r *http.Request) {
	statuses := s.db.Persistence()
	res := make([]PersistenceJSON, len(statuses))
	for i, p := range statuses {
		res[i] = PersistenceJSON{
			Table:    p.Table,
			State:    p.State.String(),
			Pending:  p.Pending.String(),
			Attempt:  p.Attempt,
			RetryAt:  p.RetryAt,
			Deleting: p.Deleting,
		}
		if p.LastError != nil {
			res[i].LastError = p.LastError.Error()
		}
	}
	s.writeJSON(w, res)
}

func (s *server) resumePersistence(w http.ResponseWriter, r *http.Request) {
	table, err := query(r, "tableName")
	if err == nil {
		err = s.db.ResumePersistence(table)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]bool{"resumed": true})
}

type backupJSON struct {
	BackupID string `json:"backupId"`
}

func (s *server) listBackups(w http.ResponseWriter, r *http.Request) {
	ids, err := s.db.ListBackups(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, ids)
}

func (s *server) backup(w http.ResponseWriter, r *http.Request) {
	id, err := s.db.Backup(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, backupJSON{BackupID: id})
}

// restore replaces the table named by tableName with its copy in the backup
// named by backupId.
func (s *server) restore(w http.ResponseWriter, r *http.Request) {
	id, err := query(r, "backupId")
	if err != nil {
		s.writeError(w, err)
		return
	}
	table, err := query(r, "tableName")
	if err == nil {
		err = s.db.RestoreTable(r.Context(), id, table)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, backupJSON{BackupID: id})
}
