// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tablestore/tablestore"
	"github.com/tablestore/tablestore/datareader"
	"github.com/tablestore/tablestore/httpapi"
	"github.com/tablestore/tablestore/internal/base"
	"github.com/tablestore/tablestore/internal/logring"
	"github.com/tablestore/tablestore/objstorage/pageblob"
	"github.com/tablestore/tablestore/objstorage/remote"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := readConfig(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg)
}

// newLogger returns a logger for a module, tagged with the node name.
func newLogger(cfg config, module string) base.DefaultLogger {
	l := base.NewLogger(module)
	if cfg.NodeName != "" {
		l = l.WithField("node", cfg.NodeName)
	}
	return l
}

func openStorage(ctx context.Context, cfg config, dest string) (remote.Storage, string, error) {
	d, err := parseDestination(dest)
	if err != nil {
		return nil, "", err
	}
	s, err := d.open(ctx)
	if err != nil {
		return nil, "", err
	}
	if cfg.LogStorage {
		l := newLogger(cfg, "storage")
		s = remote.WithLogging(s, l.Infof)
	}
	return s, d.prefix(), nil
}

// serve runs the store until ctx is cancelled, then flushes and closes it.
func serve(ctx context.Context, cfg config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "LOG_LEVEL")
	}
	logrus.SetLevel(level)
	ring := logring.New(cfg.LogBufferSize)
	logrus.AddHook(ring)
	logger := newLogger(cfg, "tablestore")

	storage, prefix, err := openStorage(ctx, cfg, cfg.PersistenceDest)
	if err != nil {
		return err
	}
	defer storage.Close()
	opts := &tablestore.Options{
		Backend: pageblob.New(storage, pageblob.Options{
			Prefix:    prefix,
			OpTimeout: cfg.OpTimeout,
			Logger:    newLogger(cfg, "pageblob"),
		}),
		BackupInterval:  cfg.BackupInterval,
		BackupsToKeep:   cfg.MaxBackupsToKeep,
		Logger:          logger,
		OpTimeout:       cfg.OpTimeout,
		PersistInterval: cfg.PersistPeriod,
		TransactionTTL:  cfg.MaxTransactionTTL,
	}
	if cfg.BackupDest != "" {
		backups, backupPrefix, err := openStorage(ctx, cfg, cfg.BackupDest)
		if err != nil {
			return err
		}
		defer backups.Close()
		if backupPrefix != "" {
			return errors.Newf("BACKUP_DEST %q must not have a path", cfg.BackupDest)
		}
		opts.BackupStorage = backups
	}

	db, err := tablestore.Open(ctx, opts)
	if err != nil {
		return err
	}
	readers := datareader.NewServer(db, datareader.Options{Logger: newLogger(cfg, "datareader")})
	handler, err := httpapi.New(db, httpapi.Options{
		APIKey:   cfg.APIKey,
		Logs:     ring,
		Sessions: readers.Sessions,
		Logger:   newLogger(cfg, "http"),
	})
	if err != nil {
		return errors.CombineErrors(err, db.Close())
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.TCPPort))
	if err != nil {
		return errors.CombineErrors(errors.Wrap(err, "listening for readers"), db.Close())
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readers.Serve(gctx, ln)
	})
	g.Go(func() error {
		logger.Infof("http server listening on %s, readers on %s", srv.Addr, ln.Addr())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serving http")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()
	logger.Infof("shutting down")
	// Close flushes pending persistence work.
	return errors.CombineErrors(err, db.Close())
}
