// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package persist

import (
	"encoding/hex"

	"github.com/minio/highwayhash"
)

// Hash identifies the content of a persisted partition payload.
type Hash [highwayhash.Size128]byte

// hashKey is fixed so hashes are stable across processes.
var hashKey = []byte("tablestore/partition-content/v1\x00")

// HashOf returns the content hash of an encoded partition payload.
func HashOf(payload []byte) Hash {
	return highwayhash.Sum128(payload, hashKey)
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}
