// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package pageblob

import (
	"encoding/base64"
	"encoding/binary"
	"strings"

	"github.com/cockroachdb/errors"
)

// PageSize is the unit blobs are sized in.
const PageSize = 512

// lengthPrefixSize is the size of the little-endian payload length that
// starts every blob.
const lengthPrefixSize = 4

// MetadataBlob is the name of the attributes blob within a table container.
const MetadataBlob = ".metadata"

// ErrCorruptBlob is returned when a blob does not have the page layout.
var ErrCorruptBlob = errors.New("corrupt page blob")

// EncodePages frames payload as a page blob: a 4-byte little-endian length,
// the payload, and zero padding up to the next multiple of PageSize.
func EncodePages(payload []byte) []byte {
	n := lengthPrefixSize + len(payload)
	if rem := n % PageSize; rem != 0 {
		n += PageSize - rem
	}
	buf := make([]byte, n)
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[lengthPrefixSize:], payload)
	return buf
}

// DecodePages recovers the payload of a page blob. The returned slice aliases
// data.
func DecodePages(data []byte) ([]byte, error) {
	if len(data) < lengthPrefixSize {
		return nil, errors.Wrapf(ErrCorruptBlob, "blob of %d bytes has no length prefix", len(data))
	}
	if len(data)%PageSize != 0 {
		return nil, errors.Wrapf(ErrCorruptBlob, "blob size %d is not a multiple of %d", len(data), PageSize)
	}
	n := binary.LittleEndian.Uint32(data)
	if uint64(n) > uint64(len(data)-lengthPrefixSize) {
		return nil, errors.Wrapf(ErrCorruptBlob, "payload length %d exceeds blob size %d", n, len(data))
	}
	return data[lengthPrefixSize : lengthPrefixSize+int(n)], nil
}

// PartitionBlobName returns the blob name of a partition: the standard
// base64 encoding of the partition key.
func PartitionBlobName(partitionKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(partitionKey))
}

// PartitionKeyFromBlobName reverses PartitionBlobName. Unpadded names are
// accepted.
func PartitionKeyFromBlobName(name string) (string, error) {
	enc := base64.StdEncoding
	if !strings.HasSuffix(name, "=") && len(name)%4 != 0 {
		enc = base64.RawStdEncoding
	}
	b, err := enc.DecodeString(name)
	if err != nil {
		return "", errors.Wrapf(ErrCorruptBlob, "blob name %q is not base64: %v", name, err)
	}
	return string(b), nil
}
