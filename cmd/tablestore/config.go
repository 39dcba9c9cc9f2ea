// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"github.com/tablestore/tablestore/objstorage/remote"
	"gopkg.in/yaml.v3"
)

// config is read from an optional yaml file and then from the environment,
// which takes precedence.
type config struct {
	// PersistenceDest is the backend location: mem://, file:///dir,
	// gs://bucket/prefix or bigtable://project/instance/table.
	PersistenceDest string `yaml:"persistenceDest" envconfig:"PERSISTENCE_DEST"`
	// BackupDest receives backups. Empty disables them.
	BackupDest        string        `yaml:"backupDest" envconfig:"BACKUP_DEST"`
	APIKey            string        `yaml:"apiKey" envconfig:"API_KEY"`
	HTTPPort          int           `yaml:"httpPort" envconfig:"HTTP_PORT"`
	TCPPort           int           `yaml:"tcpPort" envconfig:"TCP_PORT"`
	PersistPeriod     time.Duration `yaml:"persistPeriod" envconfig:"PERSIST_PERIOD"`
	BackupInterval    time.Duration `yaml:"backupInterval" envconfig:"BACKUP_INTERVAL"`
	MaxBackupsToKeep  int           `yaml:"maxBackupsToKeep" envconfig:"MAX_BACKUPS_TO_KEEP"`
	MaxTransactionTTL time.Duration `yaml:"maxTransactionTTL" envconfig:"MAX_TRANSACTION_TTL"`
	OpTimeout         time.Duration `yaml:"opTimeout" envconfig:"OP_TIMEOUT"`
	LogLevel          string        `yaml:"logLevel" envconfig:"LOG_LEVEL"`
	LogBufferSize     int           `yaml:"logBufferSize" envconfig:"LOG_BUFFER_SIZE"`
	// LogStorage logs every backend operation.
	LogStorage bool   `yaml:"logStorage" envconfig:"LOG_STORAGE"`
	NodeName   string `yaml:"nodeName" envconfig:"NODE_NAME"`
}

func defaultConfig() config {
	return config{
		PersistenceDest: "mem://",
		HTTPPort:        5123,
		TCPPort:         5125,
		LogLevel:        "info",
	}
}

// readConfig applies the yaml file at path, if any, and then the environment
// to the defaults.
func readConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "opening config file %s", path)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, errors.Wrapf(err, "decoding config file %s", path)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "reading environment")
	}
	return cfg, cfg.validate()
}

func (c *config) validate() error {
	var buf strings.Builder
	for _, p := range []struct {
		name string
		port int
	}{{"HTTP_PORT", c.HTTPPort}, {"TCP_PORT", c.TCPPort}} {
		if p.port <= 0 || p.port > 65535 {
			fmt.Fprintf(&buf, "%s (%d) must be in [1, 65535]\n", p.name, p.port)
		}
	}
	if c.HTTPPort == c.TCPPort {
		fmt.Fprintf(&buf, "HTTP_PORT and TCP_PORT must differ\n")
	}
	if c.PersistenceDest == "" {
		fmt.Fprintf(&buf, "PERSISTENCE_DEST must be set\n")
	}
	if c.BackupInterval > 0 && c.BackupDest == "" {
		fmt.Fprintf(&buf, "BACKUP_INTERVAL is set but BACKUP_DEST is not\n")
	}
	if buf.Len() == 0 {
		return nil
	}
	return errors.New(buf.String())
}

// destination is a parsed storage location.
type destination struct {
	scheme string
	// host is the bucket or the bigtable project.
	host string
	// path is the directory, the object prefix or "instance/table".
	path string
}

func parseDestination(s string) (destination, error) {
	u, err := url.Parse(s)
	if err != nil {
		return destination{}, errors.Wrapf(err, "parsing destination %q", s)
	}
	d := destination{scheme: u.Scheme, host: u.Host, path: u.Path}
	switch d.scheme {
	case "mem":
	case "file":
		if d.path == "" {
			return d, errors.Newf("destination %q has no directory", s)
		}
	case "gs":
		if d.host == "" {
			return d, errors.Newf("destination %q has no bucket", s)
		}
		d.path = strings.Trim(d.path, "/")
	case "bigtable":
		d.path = strings.Trim(d.path, "/")
		if d.host == "" || strings.Count(d.path, "/") != 1 {
			return d, errors.Newf("destination %q must be bigtable://project/instance/table", s)
		}
	default:
		return d, errors.Newf("destination %q has unsupported scheme %q", s, d.scheme)
	}
	return d, nil
}

// prefix is the object-name prefix within the storage, empty or ending in
// '/'.
func (d destination) prefix() string {
	if d.scheme != "gs" || d.path == "" {
		return ""
	}
	return d.path + "/"
}

func (d destination) open(ctx context.Context) (remote.Storage, error) {
	switch d.scheme {
	case "mem":
		return remote.NewInMem(), nil
	case "file":
		if err := os.MkdirAll(d.path, 0755); err != nil {
			return nil, errors.Wrapf(err, "creating %s", d.path)
		}
		return remote.NewLocalFS(d.path)
	case "gs":
		return remote.NewGCS(ctx, d.host)
	case "bigtable":
		instance, table, _ := strings.Cut(d.path, "/")
		return remote.NewBigtable(ctx, d.host, instance, table)
	}
	return nil, errors.AssertionFailedf("unsupported scheme %q", d.scheme)
}
