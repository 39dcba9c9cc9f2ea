// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type bufLogger struct{ bytes.Buffer }

func (b *bufLogger) Infof(format string, args ...interface{}) {
	fmt.Fprintf(&b.Buffer, "info: "+format+"\n", args...)
}

func (b *bufLogger) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(&b.Buffer, "error: "+format+"\n", args...)
}

func (b *bufLogger) Fatalf(format string, args ...interface{}) {
	fmt.Fprintf(&b.Buffer, "fatal: "+format+"\n", args...)
}

func TestForTablePrefix(t *testing.T) {
	var buf bufLogger
	l := ForTable(&buf, "orders")
	l.Infof("flushed %d partitions", 3)
	l.Errorf("boom")
	require.Equal(t, "info: [orders] flushed 3 partitions\nerror: [orders] boom\n", buf.String())
}

func TestForTableStructured(t *testing.T) {
	var out bytes.Buffer
	lg := logrus.New()
	lg.SetOutput(&out)
	lg.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	l := ForTable(DefaultLogger{Entry: logrus.NewEntry(lg).WithField("module", "flush")}, "orders")
	l.Infof("hello")
	require.Contains(t, out.String(), "table=orders")
	require.Contains(t, out.String(), "module=flush")
	require.Contains(t, out.String(), "msg=hello")
}

func TestNoopLoggerFatalPanics(t *testing.T) {
	require.Panics(t, func() { NoopLogger{}.Fatalf("x") })
}
