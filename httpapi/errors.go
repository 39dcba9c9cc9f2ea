// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package httpapi

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/tablestore/tablestore"
)

// Reason classifies a failed request in the error body.
type Reason string

const (
	ReasonTableNotFound             Reason = "TableNotFound"
	ReasonRecordNotFound            Reason = "RecordNotFound"
	ReasonRecordAlreadyExists       Reason = "RecordAlreadyExists"
	ReasonRecordChangedConcurrently Reason = "RecordChangedConcurrently"
	ReasonTransactionNotFound       Reason = "TransactionNotFound"
	ReasonOther                     Reason = "Other"
)

// ErrorBody is the JSON body of a failed request.
type ErrorBody struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// classify maps an error to its HTTP status and body.
func classify(err error) (int, ErrorBody) {
	body := ErrorBody{Reason: ReasonOther, Message: err.Error()}
	switch {
	case errors.Is(err, tablestore.ErrTableNotFound):
		body.Reason = ReasonTableNotFound
	case errors.Is(err, tablestore.ErrRecordNotFound):
		body.Reason = ReasonRecordNotFound
	case errors.Is(err, tablestore.ErrRecordAlreadyExists):
		body.Reason = ReasonRecordAlreadyExists
	case errors.Is(err, tablestore.ErrRecordChangedConcurrently):
		body.Reason = ReasonRecordChangedConcurrently
	case errors.Is(err, tablestore.ErrTransactionExpired):
		// Clients only know about missing transactions.
		body.Reason = ReasonTransactionNotFound
	case errors.Is(err, tablestore.ErrTransactionNotFound):
		body.Reason = ReasonTransactionNotFound
	case errors.Is(err, tablestore.ErrValidation),
		errors.Is(err, tablestore.ErrConflict),
		errors.Is(err, tablestore.ErrNoBackups),
		errors.Is(err, tablestore.ErrPersistenceSuspended):
	case errors.Is(err, tablestore.ErrClosed):
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusInternalServerError, body
	}
	return http.StatusBadRequest, body
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.opts.Logger.Errorf("request failed: %v", err)
	}
	data, merr := json.Marshal(body)
	if merr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
