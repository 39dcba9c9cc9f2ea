// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"context"
	"runtime/pprof"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tokenbucket"
	"github.com/tablestore/tablestore/objstorage/remote"
)

var cleanerLabels = pprof.Labels("tablestore", "backup-cleaner")

// backupCleaner deletes the objects of rotated backups. Deletions are paced
// by a token bucket so that a rotation does not saturate the storage.
type backupCleaner struct {
	opts    *Options
	storage remote.Storage

	useLimiter bool
	limiter    tokenbucket.TokenBucket
}

func newBackupCleaner(opts *Options, storage remote.Storage) *backupCleaner {
	c := &backupCleaner{opts: opts, storage: storage}
	if r := opts.BackupDeleteRate; r > 0 {
		c.useLimiter = true
		burst := r
		if burst < 1 {
			burst = 1
		}
		c.limiter.Init(tokenbucket.TokensPerSecond(r), tokenbucket.Tokens(burst))
	}
	return c
}

// deleteBackup removes every object of a backup. Objects that are already
// gone are ignored. It returns the number of objects deleted.
func (c *backupCleaner) deleteBackup(ctx context.Context, id string) (int, error) {
	var deleted int
	var err error
	pprof.Do(ctx, cleanerLabels, func(ctx context.Context) {
		prefix := backupPrefix(id)
		var names []string
		names, err = c.storage.List(ctx, prefix, "")
		if err != nil {
			err = errors.Wrapf(err, "listing backup %s", id)
			return
		}
		for _, name := range names {
			if err = c.maybePace(ctx); err != nil {
				return
			}
			if derr := c.storage.Delete(ctx, prefix+name); derr != nil && !c.storage.IsNotExistError(derr) {
				err = errors.Wrapf(derr, "deleting %s", prefix+name)
				return
			}
			deleted++
		}
	})
	c.opts.EventListener.BackupDeleted(BackupInfo{ID: id, Objects: deleted, Err: err})
	return deleted, err
}

// maybePace waits for a deletion token if pacing is enabled.
func (c *backupCleaner) maybePace(ctx context.Context) error {
	if !c.useLimiter {
		return nil
	}
	return c.limiter.WaitCtx(ctx, 1)
}
