// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	cfg, err := readConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "tablestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
persistenceDest: file:///var/lib/tablestore
apiKey: from-file
httpPort: 8080
persistPeriod: 5s
maxBackupsToKeep: 3
`), 0644))
	t.Setenv("API_KEY", "from-env")
	t.Setenv("MAX_TRANSACTION_TTL", "1m")
	cfg, err = readConfig(path)
	require.NoError(t, err)
	require.Equal(t, "file:///var/lib/tablestore", cfg.PersistenceDest)
	require.Equal(t, "from-env", cfg.APIKey)
	require.Equal(t, 8080, cfg.HTTPPort)
	require.Equal(t, 5125, cfg.TCPPort)
	require.Equal(t, 5*time.Second, cfg.PersistPeriod)
	require.Equal(t, time.Minute, cfg.MaxTransactionTTL)
	require.Equal(t, 3, cfg.MaxBackupsToKeep)

	t.Setenv("TCP_PORT", "8080")
	t.Setenv("BACKUP_INTERVAL", "1h")
	_, err = readConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP_PORT and TCP_PORT must differ")
	require.Contains(t, err.Error(), "BACKUP_DEST is not")

	_, err = readConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseDestination(t *testing.T) {
	testCases := []struct {
		dest     string
		expected destination
		prefix   string
		err      string
	}{
		{dest: "mem://", expected: destination{scheme: "mem"}},
		{dest: "file:///tmp/ts", expected: destination{scheme: "file", path: "/tmp/ts"}},
		{dest: "gs://bucket/a/b/", expected: destination{scheme: "gs", host: "bucket", path: "a/b"}, prefix: "a/b/"},
		{dest: "gs://bucket", expected: destination{scheme: "gs", host: "bucket"}},
		{dest: "bigtable://proj/inst/tbl", expected: destination{scheme: "bigtable", host: "proj", path: "inst/tbl"}},
		{dest: "bigtable://proj/inst", err: "must be bigtable://"},
		{dest: "file://", err: "no directory"},
		{dest: "gs:///x", err: "no bucket"},
		{dest: "s3://bucket", err: "unsupported scheme"},
	}
	for _, c := range testCases {
		t.Run(c.dest, func(t *testing.T) {
			d, err := parseDestination(c.dest)
			if c.err != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), c.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.expected, d)
			require.Equal(t, c.prefix, d.prefix())
		})
	}
}
