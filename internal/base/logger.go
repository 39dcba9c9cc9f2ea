// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Logger defines an interface for writing log messages.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger logs through logrus. The zero value logs to the logrus
// standard logger without extra fields.
type DefaultLogger struct {
	Entry *logrus.Entry
}

var _ Logger = DefaultLogger{}

// NewLogger returns a DefaultLogger writing to the logrus standard logger and
// tagging every entry with the given module.
func NewLogger(module string) DefaultLogger {
	return DefaultLogger{Entry: logrus.StandardLogger().WithField("module", module)}
}

func (l DefaultLogger) entry() *logrus.Entry {
	if l.Entry == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return l.Entry
}

// Infof implements the Logger.Infof interface.
func (l DefaultLogger) Infof(format string, args ...interface{}) {
	l.entry().Infof(format, args...)
}

// Errorf implements the Logger.Errorf interface.
func (l DefaultLogger) Errorf(format string, args ...interface{}) {
	l.entry().Errorf(format, args...)
}

// Fatalf implements the Logger.Fatalf interface.
func (l DefaultLogger) Fatalf(format string, args ...interface{}) {
	l.entry().Fatalf(format, args...)
}

// WithField returns a copy of the logger carrying an extra structured field.
func (l DefaultLogger) WithField(key string, value interface{}) DefaultLogger {
	return DefaultLogger{Entry: l.entry().WithField(key, value)}
}

// ForTable scopes a logger to a table. DefaultLogger gets a structured
// "table" field; other implementations get a message prefix.
func ForTable(l Logger, table string) Logger {
	switch t := l.(type) {
	case DefaultLogger:
		return t.WithField("table", table)
	case NoopLogger:
		return t
	default:
		return prefixLogger{prefix: fmt.Sprintf("[%s] ", table), wrapped: l}
	}
}

type prefixLogger struct {
	prefix  string
	wrapped Logger
}

func (p prefixLogger) Infof(format string, args ...interface{}) {
	p.wrapped.Infof(p.prefix+format, args...)
}

func (p prefixLogger) Errorf(format string, args ...interface{}) {
	p.wrapped.Errorf(p.prefix+format, args...)
}

func (p prefixLogger) Fatalf(format string, args ...interface{}) {
	p.wrapped.Fatalf(p.prefix+format, args...)
}

// NoopLogger discards everything except Fatalf, which panics.
type NoopLogger struct{}

// Infof implements the Logger.Infof interface.
func (NoopLogger) Infof(format string, args ...interface{}) {}

// Errorf implements the Logger.Errorf interface.
func (NoopLogger) Errorf(format string, args ...interface{}) {}

// Fatalf implements the Logger.Fatalf interface.
func (NoopLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}
