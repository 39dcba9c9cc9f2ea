// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"context"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// objSuffix ends the file name of every object. Escaped name components
// never contain '.', so an object file cannot collide with a directory, and
// files being written (which carry a further suffix) are never listed.
const objSuffix = ".obj"

// NewLocalFS returns an implementation of the remote.Storage interface that
// keeps every object as a file under dirname. A '/' in an object name maps
// to a subdirectory; each name component is escaped so that empty
// components and a trailing '/' survive the round trip.
func NewLocalFS(dirname string) (Storage, error) {
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return nil, err
	}
	return &localFSStore{dirname: dirname}, nil
}

// localFSStore is a directory-backed implementation of the remote.Storage
// interface.
type localFSStore struct {
	dirname string
}

var _ Storage = (*localFSStore)(nil)
var _ FatalClassifier = (*localFSStore)(nil)

// Close is part of the remote.Storage interface.
func (s *localFSStore) Close() error {
	return nil
}

func (s *localFSStore) path(objName string) string {
	parts := strings.Split(objName, "/")
	elems := make([]string, 0, len(parts)+1)
	elems = append(elems, s.dirname)
	for i, part := range parts {
		elem := escapeComponent(part)
		if i == len(parts)-1 {
			elem += objSuffix
		}
		elems = append(elems, elem)
	}
	return filepath.Join(elems...)
}

// escapeComponent escapes everything but letters, digits and "-_~+=". The
// empty component becomes a lone '%', which no escaped component produces.
func escapeComponent(c string) string {
	if c == "" {
		return "%"
	}
	var b strings.Builder
	for i := 0; i < len(c); i++ {
		ch := c[i]
		switch {
		case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9',
			strings.IndexByte("-_~+=", ch) >= 0:
			b.WriteByte(ch)
		default:
			b.WriteByte('%')
			b.WriteByte("0123456789ABCDEF"[ch>>4])
			b.WriteByte("0123456789ABCDEF"[ch&15])
		}
	}
	return b.String()
}

func unescapeComponent(c string) (string, error) {
	if c == "%" {
		return "", nil
	}
	return url.PathUnescape(c)
}

// objectName reverses path for a file relative to the storage directory. It
// returns false for files that are not objects.
func objectName(rel string) (string, bool) {
	if !strings.HasSuffix(rel, objSuffix) {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(strings.TrimSuffix(rel, objSuffix)), "/")
	for i, part := range parts {
		name, err := unescapeComponent(part)
		if err != nil {
			return "", false
		}
		parts[i] = name
	}
	return strings.Join(parts, "/"), true
}

// ReadObject is part of the remote.Storage interface.
func (s *localFSStore) ReadObject(ctx context.Context, objName string) ([]byte, error) {
	return os.ReadFile(s.path(objName))
}

type objWriter struct {
	*os.File
	final string
}

// Close syncs the temporary file and renames it into place so readers never
// see a partial object.
func (w *objWriter) Close() error {
	if w.File == nil {
		return nil
	}
	tmp := w.File.Name()
	err := w.File.Sync()
	err = errors.CombineErrors(err, w.File.Close())
	if err == nil {
		err = os.Rename(tmp, w.final)
	}
	if err != nil {
		_ = os.Remove(tmp)
	}
	*w = objWriter{}
	return err
}

// CreateObject is part of the remote.Storage interface.
func (s *localFSStore) CreateObject(ctx context.Context, objName string) (io.WriteCloser, error) {
	p := s.path(objName)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".*.tmp")
	if err != nil {
		return nil, err
	}
	return &objWriter{File: f, final: p}, nil
}

// List is part of the remote.Storage interface.
func (s *localFSStore) List(ctx context.Context, prefix, delimiter string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.dirname, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.dirname, p)
		if err != nil {
			return err
		}
		if name, ok := objectName(rel); ok {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groupNames(names, prefix, delimiter), nil
}

// Delete is part of the remote.Storage interface.
func (s *localFSStore) Delete(ctx context.Context, objName string) error {
	return os.Remove(s.path(objName))
}

// Size is part of the remote.Storage interface.
func (s *localFSStore) Size(ctx context.Context, objName string) (int64, error) {
	stat, err := os.Stat(s.path(objName))
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// IsNotExistError is part of the remote.Storage interface.
func (s *localFSStore) IsNotExistError(err error) bool {
	return oserror.IsNotExist(err)
}

// IsFatalError reports permission failures.
func (s *localFSStore) IsFatalError(err error) bool {
	return oserror.IsPermission(err)
}
