// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package httpapi

import (
	"net/http"

	"github.com/tablestore/tablestore/txn"
)

type transactionJSON struct {
	TransactionID string `json:"transactionId"`
}

func (s *server) startTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := s.db.BeginTransaction()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, transactionJSON{TransactionID: id})
}

// appendTransaction buffers the JSON array of steps in the body.
func (s *server) appendTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := query(r, "transactionId")
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	steps, err := txn.DecodeSteps(body)
	if err == nil {
		err = s.db.AppendTransaction(id, steps)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, transactionJSON{TransactionID: id})
}

func (s *server) commitTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := query(r, "transactionId")
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.db.CommitTransaction(id)
	s.writeEffects(w, e, err)
}

func (s *server) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := query(r, "transactionId")
	if err == nil {
		err = s.db.CancelTransaction(id)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, transactionJSON{TransactionID: id})
}
