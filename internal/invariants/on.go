// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build invariants || race
// +build invariants race

package invariants

import "fmt"

// Enabled is true if we were built with the "invariants" or "race" build tags.
const Enabled = true

// CheckSortedStrings panics if keys are not strictly ascending. Row and
// partition keys are unique, so equal neighbours are also a violation.
func CheckSortedStrings(keys []string) {
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			panic(fmt.Sprintf("keys out of order at %d: %q >= %q", i, keys[i-1], keys[i]))
		}
	}
}

// CheckDisjoint panics if a and b share a key.
func CheckDisjoint[K comparable, V1, V2 any](a map[K]V1, b map[K]V2) {
	for k := range a {
		if _, ok := b[k]; ok {
			panic(fmt.Sprintf("key %v present in both sets", k))
		}
	}
}
