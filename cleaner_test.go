// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tablestore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tablestore/tablestore/objstorage/remote"
)

func TestBackupCleaner(t *testing.T) {
	ctx := context.Background()
	storage := remote.NewInMem()
	for _, name := range []string{
		backupPrefix("b1") + "orders/a",
		backupPrefix("b1") + "orders/b",
		backupPrefix("b1") + "users/a",
		backupPrefix("b2") + "orders/a",
	} {
		require.NoError(t, remote.WriteObject(ctx, storage, name, []byte(name)))
	}

	e := newTestEnv(t)
	opts := e.options()
	opts.BackupDeleteRate = 100
	opts.EnsureDefaults()
	c := newBackupCleaner(opts, storage)
	require.True(t, c.useLimiter)

	n, err := c.deleteBackup(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"backup-deleted b1"}, e.events.take())

	names, err := storage.List(ctx, backupRoot, "")
	require.NoError(t, err)
	require.Equal(t, []string{"b2/orders/a"}, names)

	// Deleting a backup that is already gone is a no-op.
	n, err = c.deleteBackup(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestBackupCleanerPacing(t *testing.T) {
	ctx := context.Background()
	storage := remote.NewInMem()
	for i := 0; i < 3; i++ {
		require.NoError(t, remote.WriteObject(ctx, storage, fmt.Sprintf("%sorders/%d", backupPrefix("b1"), i), nil))
	}

	e := newTestEnv(t)
	opts := e.options()
	// One object per thousand seconds: the second deletion has to wait.
	opts.BackupDeleteRate = 0.001
	opts.EnsureDefaults()
	c := newBackupCleaner(opts, storage)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	n, err := c.deleteBackup(cctx, "b1")
	require.Error(t, err)
	require.LessOrEqual(t, n, 1)

	// Without pacing everything goes at once.
	opts.BackupDeleteRate = 0
	c = newBackupCleaner(opts, storage)
	require.False(t, c.useLimiter)
	_, err = c.deleteBackup(ctx, "b1")
	require.NoError(t, err)
	names, err := storage.List(ctx, backupRoot, "")
	require.NoError(t, err)
	require.Empty(t, names)
}
