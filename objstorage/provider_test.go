// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package objstorage

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	base := errors.New("boom")
	testCases := []struct {
		err      error
		expected Class
		str      string
	}{
		{nil, ClassNone, "none"},
		{base, ClassTransient, "transient"},
		{context.Canceled, ClassTransient, "transient"},
		{errors.Wrap(context.DeadlineExceeded, "saving"), ClassTransient, "transient"},
		{MarkNotFound(base), ClassNotFound, "not-found"},
		{errors.Wrap(MarkNotFound(base), "loading"), ClassNotFound, "not-found"},
		{errors.Mark(base, ErrAlreadyExists), ClassAlreadyExists, "already-exists"},
		{MarkTransient(base), ClassTransient, "transient"},
		{MarkFatal(base), ClassFatal, "fatal"},
		// Fatal wins over any other mark.
		{MarkFatal(MarkNotFound(base)), ClassFatal, "fatal"},
	}
	for _, c := range testCases {
		require.Equal(t, c.expected, Classify(c.err), "%v", c.err)
		require.Equal(t, c.str, Classify(c.err).String())
	}
	require.Equal(t, "class(9)", Class(9).String())
}

func TestMarksKeepMessage(t *testing.T) {
	err := MarkFatal(errors.New("permission denied"))
	require.EqualError(t, err, "permission denied")
	require.True(t, IsNotFound(MarkNotFound(errors.New("x"))))
	require.False(t, IsNotFound(MarkTransient(errors.New("x"))))
	require.False(t, IsNotFound(nil))
}
