// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package remote contains blob storage drivers: flat namespaces of named
// byte objects. Higher layers build table persistence on top of them.
package remote

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Storage is an interface for a blob storage driver. Object names may
// contain '/' which drivers treat as an ordinary character, except for
// grouping in List.
type Storage interface {
	io.Closer

	// ReadObject returns the full content of the named object.
	ReadObject(ctx context.Context, objName string) ([]byte, error)

	// CreateObject returns a writer for the object at the requested name. A
	// new empty object is created if CreateObject is called on an existing
	// object. The object becomes visible when the writer is closed; a
	// non-nil error from Close means the write did not happen.
	CreateObject(ctx context.Context, objName string) (io.WriteCloser, error)

	// List enumerates objects within the supplied prefix, returning a list
	// of objects within that prefix. If delimiter is non-empty, names which
	// have the same prefix, prior to the delimiter but after the prefix, are
	// grouped into a single result which is that prefix. The prefix is
	// trimmed from the result list, which is sorted.
	//
	// An example would be, if the storage contains objects a, b/4, b/5 and
	// b/6, these would be the return values:
	//   List("", "") -> ["a", "b/4", "b/5", "b/6"]
	//   List("", "/") -> ["a", "b"]
	//   List("b/", "/") -> ["4", "5", "6"]
	//   List("b", "") -> ["/4", "/5", "/6"]
	List(ctx context.Context, prefix, delimiter string) ([]string, error)

	// Delete removes the named object from the store.
	Delete(ctx context.Context, objName string) error

	// Size returns the length of the named object in bytes.
	Size(ctx context.Context, objName string) (int64, error)

	// IsNotExistError indicates whether the error is known to report that
	// an object does not exist.
	IsNotExistError(err error) bool
}

// FatalClassifier is implemented by drivers that can recognize errors which
// retrying will not fix, such as rejected credentials.
type FatalClassifier interface {
	IsFatalError(err error) bool
}

// WriteObject creates the named object with the given content.
func WriteObject(ctx context.Context, s Storage, objName string, data []byte) error {
	w, err := s.CreateObject(ctx, objName)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return errors.CombineErrors(err, w.Close())
	}
	return w.Close()
}

// groupNames applies the prefix and delimiter rules of Storage.List to a set
// of full object names.
func groupNames(names []string, prefix, delimiter string) []string {
	seen := make(map[string]struct{})
	res := make([]string, 0, len(names))
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		name = name[len(prefix):]
		if delimiter != "" {
			if i := strings.Index(name, delimiter); i >= 0 {
				name = name[:i]
			}
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}
