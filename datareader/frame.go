// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package datareader

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
)

// FrameType identifies the payload of a frame.
type FrameType uint8

const (
	FrameGreeting      FrameType = 1
	FrameInitTable     FrameType = 2
	FrameInitPartition FrameType = 3
	FrameUpdateRows    FrameType = 4
	FrameDeleteRows    FrameType = 5
	FramePing          FrameType = 6
	FramePong          FrameType = 7
)

// compressedBit is set on the type byte of a frame whose payload is zstd
// compressed.
const compressedBit = 0x80

// MaxFrameSize bounds the length field of a frame.
const MaxFrameSize = 64 << 20

// compressThreshold is the payload size above which frames are compressed.
const compressThreshold = 4 << 10

// ErrFrameTooLarge is returned when a frame length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

func (t FrameType) String() string {
	switch t {
	case FrameGreeting:
		return "Greeting"
	case FrameInitTable:
		return "InitTable"
	case FrameInitPartition:
		return "InitPartition"
	case FrameUpdateRows:
		return "UpdateRows"
	case FrameDeleteRows:
		return "DeleteRows"
	case FramePing:
		return "Ping"
	case FramePong:
		return "Pong"
	}
	return "Unknown"
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
)

// Frame is one protocol message.
//
// On the wire a frame is a 4-byte little-endian length, then the type byte,
// then the payload. The length counts the type byte and the payload.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// WriteFrame writes f to w, compressing large payloads.
func WriteFrame(w io.Writer, f Frame) error {
	typ := byte(f.Type)
	payload := f.Payload
	if len(payload) > compressThreshold {
		payload = encoder.EncodeAll(payload, nil)
		typ |= compressedBit
	}
	if len(payload)+1 > MaxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "%s frame of %d bytes", f.Type, len(payload))
	}
	var hdr [5]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)+1))
	hdr[4] = typ
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := binary.LittleEndian.Uint32(hdr[:4])
	if n == 0 {
		return Frame{}, errors.New("frame without type byte")
	}
	if n > MaxFrameSize {
		return Frame{}, errors.Wrapf(ErrFrameTooLarge, "frame length %d", n)
	}
	payload := make([]byte, n-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, errors.Wrap(err, "reading frame payload")
	}
	typ := hdr[4]
	if typ&compressedBit != 0 {
		var err error
		payload, err = decoder.DecodeAll(payload, nil)
		if err != nil {
			return Frame{}, errors.Wrapf(err, "decompressing %s frame", FrameType(typ&^compressedBit))
		}
	}
	return Frame{Type: FrameType(typ &^ compressedBit), Payload: payload}, nil
}
