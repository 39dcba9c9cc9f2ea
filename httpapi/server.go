// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package httpapi serves a tablestore.DB over HTTP.
//
// Reads use GET and are open. Every other method requires the configured API
// key in the "apikey" header. Business errors are answered with status 400
// and a JSON body {"reason": ..., "message": ...}.
package httpapi

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tablestore/tablestore"
	"github.com/tablestore/tablestore/datareader"
	"github.com/tablestore/tablestore/internal/base"
	"github.com/tablestore/tablestore/internal/logring"
	"github.com/urfave/negroni"
)

// APIKeyHeader carries the API key of state-changing requests.
const APIKeyHeader = "apikey"

// maxBodySize bounds request bodies.
const maxBodySize = 64 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configure the HTTP surface.
type Options struct {
	// APIKey is required on every non-GET request. An empty key disables
	// the check.
	APIKey string
	// Logs backs the /Logs endpoints. Nil serves empty lists.
	Logs *logring.Ring
	// Sessions lists the connected data readers for /Status.
	Sessions func() []datareader.Session
	Logger   base.Logger
}

type server struct {
	db   *tablestore.DB
	opts Options
}

// New returns the handler serving db.
func New(db *tablestore.DB, opts Options) (http.Handler, error) {
	if opts.Logger == nil {
		opts.Logger = base.NewLogger("http")
	}
	s := &server{db: db, opts: opts}
	m, err := newHTTPMetrics(db.MetricsRegistry())
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Use(m.middleware)
	router.Use(s.authorize)

	router.HandleFunc("/Row", s.getRow).Methods("GET")
	router.HandleFunc("/Row", s.deleteRow).Methods("DELETE")
	router.HandleFunc("/Row/Insert", s.insertRow).Methods("POST")
	router.HandleFunc("/Row/InsertOrReplace", s.insertOrReplaceRow).Methods("POST")
	router.HandleFunc("/Row/Replace", s.replaceRow).Methods("PUT")
	router.HandleFunc("/Rows", s.getRows).Methods("GET")
	router.HandleFunc("/Rows/DeletePartitions", s.deletePartitions).Methods("POST")

	router.HandleFunc("/Bulk/InsertOrReplace", s.bulkInsertOrReplace).Methods("POST")
	router.HandleFunc("/Bulk/CleanAndBulkInsert", s.cleanAndBulkInsert).Methods("POST")
	router.HandleFunc("/Bulk/Delete", s.bulkDelete).Methods("POST")

	router.HandleFunc("/Tables", s.listTables).Methods("GET")
	router.HandleFunc("/Tables", s.deleteTable).Methods("DELETE")
	router.HandleFunc("/Tables/Create", s.createTable).Methods("POST")
	router.HandleFunc("/Tables/CreateIfNotExists", s.createTableIfNotExists).Methods("POST")
	router.HandleFunc("/Tables/UpdatePersist", s.updatePersist).Methods("POST")
	router.HandleFunc("/Tables/UpdateAttributes", s.updateAttributes).Methods("POST")
	router.HandleFunc("/Tables/Clean", s.cleanTable).Methods("PUT")

	router.HandleFunc("/Transaction/Start", s.startTransaction).Methods("POST")
	router.HandleFunc("/Transaction/Append", s.appendTransaction).Methods("POST")
	router.HandleFunc("/Transaction/Commit", s.commitTransaction).Methods("POST")
	router.HandleFunc("/Transaction/Cancel", s.cancelTransaction).Methods("POST")

	router.HandleFunc("/Logs", s.logs).Methods("GET")
	router.HandleFunc("/Logs/Table/{table}", s.tableLogs).Methods("GET")
	router.Handle("/Metrics", promhttp.HandlerFor(db.MetricsRegistry(), promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/Status", s.status).Methods("GET")
	router.HandleFunc("/Persistence", s.persistence).Methods("GET")
	router.HandleFunc("/Persistence/Resume", s.resumePersistence).Methods("POST")
	router.HandleFunc("/Backups", s.listBackups).Methods("GET")
	router.HandleFunc("/Backup", s.backup).Methods("POST")
	router.HandleFunc("/Restore", s.restore).Methods("POST")

	n := negroni.New(negroni.NewRecovery())
	n.UseHandler(router)
	return n, nil
}

func (s *server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && s.opts.APIKey != "" {
			key := r.Header.Get(APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, errors.Wrap(err, "encoding response"))
		return
	}
	writeRawJSON(w, data)
}

func writeRawJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, errors.Wrap(err, "reading request body")
	}
	if len(data) > maxBodySize {
		return nil, errors.Mark(errors.Newf("request body exceeds %d bytes", maxBodySize), tablestore.ErrValidation)
	}
	return data, nil
}

// query returns a required query parameter.
func query(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", errors.Mark(errors.Newf("missing query parameter %s", name), tablestore.ErrValidation)
	}
	return v, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Mark(errors.Newf("invalid %s %q", name, v), tablestore.ErrValidation)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Mark(errors.Newf("invalid %s %q", name, v), tablestore.ErrValidation)
	}
	return b, nil
}
