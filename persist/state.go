// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package persist tracks what of a table still has to reach persistent
// storage. Pending work for a table is a State; successive mutations are
// merged with Join so that a single flush writes the latest content of every
// dirty partition once.
package persist

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/redact"
	"github.com/tablestore/tablestore/dbtable"
)

// Kind is the shape of pending work.
type Kind uint8

const (
	// KindNone means nothing is pending.
	KindNone Kind = iota
	// KindAttrsOnly means only the table attributes must be written.
	KindAttrsOnly
	// KindPartitions means some partitions must be written or deleted, and
	// possibly the attributes.
	KindPartitions
	// KindRebuilt means the whole table must be rewritten from a fresh
	// snapshot. Partitions absent from that snapshot are deleted.
	KindRebuilt
)

var kindNames = [...]string{
	KindNone:       "none",
	KindAttrsOnly:  "attrs",
	KindPartitions: "partitions",
	KindRebuilt:    "rebuilt",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// SafeFormat implements redact.SafeFormatter.
func (k Kind) SafeFormat(w redact.SafePrinter, _ rune) {
	w.SafeString(redact.SafeString(k.String()))
}

// State is the pending persistence work of one table. The zero value is
// KindNone.
//
// AttrsVersion is the highest attributes version awaiting a write, zero if
// the attributes are clean. Dirty and Deleted are only meaningful for
// KindPartitions and are disjoint.
type State struct {
	Kind         Kind
	AttrsVersion uint64
	Dirty        map[string]struct{}
	Deleted      map[string]struct{}
}

// FromEffects converts the side effects of a mutation into pending work.
func FromEffects(e dbtable.SideEffects) State {
	switch {
	case e.Rebuilt:
		return State{Kind: KindRebuilt, AttrsVersion: e.AttributesVersion}
	case len(e.UpdatedPartitions) > 0 || len(e.DeletedPartitions) > 0:
		s := State{Kind: KindPartitions, AttrsVersion: e.AttributesVersion}
		s.Dirty = copySet(e.UpdatedPartitions)
		s.Deleted = copySet(e.DeletedPartitions)
		return s
	case e.AttributesVersion != 0:
		return State{Kind: KindAttrsOnly, AttrsVersion: e.AttributesVersion}
	default:
		return State{}
	}
}

// Rebuilt returns a rebuild state carrying the given attributes version.
func Rebuilt(attrsVersion uint64) State {
	return State{Kind: KindRebuilt, AttrsVersion: attrsVersion}
}

// IsEmpty reports whether nothing is pending.
func (s State) IsEmpty() bool { return s.Kind == KindNone }

// Join merges b, which happened after s, into s. The result does not alias
// the sets of either operand. Join is associative with the zero State as its
// identity; a partition mentioned by both sides takes the disposition of b.
func (s State) Join(b State) State {
	switch {
	case b.Kind == KindNone:
		return s.clone()
	case s.Kind == KindNone:
		return b.clone()
	case s.Kind == KindRebuilt || b.Kind == KindRebuilt:
		return Rebuilt(max(s.AttrsVersion, b.AttrsVersion))
	case s.Kind == KindAttrsOnly && b.Kind == KindAttrsOnly:
		return State{Kind: KindAttrsOnly, AttrsVersion: max(s.AttrsVersion, b.AttrsVersion)}
	}
	// At least one side is KindPartitions.
	r := State{
		Kind:         KindPartitions,
		AttrsVersion: max(s.AttrsVersion, b.AttrsVersion),
		Dirty:        make(map[string]struct{}, len(s.Dirty)+len(b.Dirty)),
		Deleted:      make(map[string]struct{}, len(s.Deleted)+len(b.Deleted)),
	}
	for k := range s.Dirty {
		if _, ok := b.Deleted[k]; !ok {
			r.Dirty[k] = struct{}{}
		}
	}
	for k := range s.Deleted {
		if _, ok := b.Dirty[k]; !ok {
			r.Deleted[k] = struct{}{}
		}
	}
	for k := range b.Dirty {
		r.Dirty[k] = struct{}{}
	}
	for k := range b.Deleted {
		r.Deleted[k] = struct{}{}
	}
	return r
}

// Equal reports whether two states describe the same work.
func (s State) Equal(b State) bool {
	if s.Kind != b.Kind || s.AttrsVersion != b.AttrsVersion {
		return false
	}
	return setEqual(s.Dirty, b.Dirty) && setEqual(s.Deleted, b.Deleted)
}

// SortedDirty returns the dirty partitions in ascending order.
func (s State) SortedDirty() []string { return sortedSet(s.Dirty) }

// SortedDeleted returns the deleted partitions in ascending order.
func (s State) SortedDeleted() []string { return sortedSet(s.Deleted) }

// String implements fmt.Stringer.
func (s State) String() string {
	return redact.StringWithoutMarkers(s)
}

// SafeFormat implements redact.SafeFormatter.
func (s State) SafeFormat(w redact.SafePrinter, _ rune) {
	switch s.Kind {
	case KindNone:
		w.SafeString("none")
		return
	case KindPartitions:
		w.Printf("partitions(v%d dirty=[%s] deleted=[%s])", s.AttrsVersion,
			redact.SafeString(strings.Join(s.SortedDirty(), " ")),
			redact.SafeString(strings.Join(s.SortedDeleted(), " ")))
	default:
		w.Printf("%s(v%d)", s.Kind, s.AttrsVersion)
	}
}

func (s State) clone() State {
	c := s
	c.Dirty = copySet(s.Dirty)
	c.Deleted = copySet(s.Deleted)
	return c
}

func copySet(m map[string]struct{}) map[string]struct{} {
	if len(m) == 0 {
		return nil
	}
	c := make(map[string]struct{}, len(m))
	for k := range m {
		c[k] = struct{}{}
	}
	return c
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedSet(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
