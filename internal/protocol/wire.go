// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package protocol implements the controller's TCP control protocol: a
// 10-byte length-framed header multiplexing v1/v2 streaming pixel frames and
// a v3 request/response command plane on one port.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/periphlabs/ledshaderd/internal/outpipe"
)

// headerSize is the fixed header every message begins with: 4-byte magic,
// 1-byte version, 4-byte big-endian length/count, 1-byte type/cmd.
const headerSize = 10

var magic = [4]byte{'L', 'E', 'D', 'S'}

// Version identifies which of the three wire dialects a message uses.
type Version uint8

const (
	VersionFrameV1 Version = 1
	VersionFrameV2 Version = 2
	VersionCommand Version = 3
)

// header is the decoded 10-byte frame header.
type header struct {
	version Version
	// count is pixel_count for v1/v2, payload_len for v3.
	count uint32
	// kind is the trailing byte: pixel format for v1/v2, cmd_id for v3.
	kind uint8
}

// ErrBadMagic and ErrUnsupportedVersion end the session.
var (
	ErrBadMagic           = fmt.Errorf("protocol: bad magic")
	ErrUnsupportedVersion = fmt.Errorf("protocol: unsupported version")
)

func readHeader(r io.Reader) (header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, err
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != magic[3] {
		return header{}, ErrBadMagic
	}
	v := Version(buf[4])
	if v != VersionFrameV1 && v != VersionFrameV2 && v != VersionCommand {
		return header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, buf[4])
	}
	count := binary.BigEndian.Uint32(buf[5:9])
	return header{version: v, count: count, kind: buf[9]}, nil
}

// writeHeader writes a response header: same framing, version 3, count is
// the payload length (including the status byte), kind is cmd_id|0x80.
func writeHeader(w io.Writer, count uint32, kind uint8) error {
	var buf [headerSize]byte
	copy(buf[0:4], magic[:])
	buf[4] = byte(VersionCommand)
	binary.BigEndian.PutUint32(buf[5:9], count)
	buf[9] = kind
	_, err := w.Write(buf[:])
	return err
}

// pixelFormat mirrors the wire pixel-format byte for v1/v2 frames; it maps
// 1:1 onto outpipe.PixelFormat so frame handling never needs its own
// channel-permutation logic.
func pixelFormat(b uint8) (outpipe.PixelFormat, int, bool) {
	pf := outpipe.PixelFormat(b)
	bpp, ok := outpipe.BytesPerPixel(pf)
	return pf, bpp, ok
}
