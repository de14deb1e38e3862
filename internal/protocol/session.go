// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package protocol

import (
	"fmt"
	"io"
	"net"
)

// session is one connected client's await_header -> decode_header ->
// payload -> reply -> await_header loop. Any I/O error, bad magic,
// unsupported version, or truncated body returns from run and the caller
// closes the socket.
type session struct {
	srv  *Server
	conn net.Conn
}

func (sess *session) run() error {
	for {
		h, err := readHeader(sess.conn)
		if err != nil {
			return err
		}
		switch h.version {
		case VersionFrameV1, VersionFrameV2:
			if err := sess.handleFrame(h); err != nil {
				return err
			}
		case VersionCommand:
			if err := sess.handleCommand(h); err != nil {
				return err
			}
		}
	}
}

// handleFrame services a v1/v2 streaming pixel frame: validate the pixel
// count against the layout, optionally remap, push, and ACK for v2.
func (sess *session) handleFrame(h header) error {
	pf, bpp, ok := pixelFormat(h.kind)
	if !ok {
		return fmt.Errorf("protocol: unknown pixel format %d", h.kind)
	}
	payloadLen := int(h.count) * bpp
	if payloadLen > len(sess.srv.state.RecvBuf) {
		return fmt.Errorf("%w: frame payload %d bytes", ErrTooLarge, payloadLen)
	}
	buf := sess.srv.state.RecvBuf[:payloadLen]
	if _, err := io.ReadFull(sess.conn, buf); err != nil {
		return err
	}

	sess.srv.state.Lock()
	total := sess.srv.state.Layout.TotalLEDs()
	if int(h.count) != total {
		sess.srv.state.Unlock()
		return fmt.Errorf("protocol: pixel_count %d != layout total %d", h.count, total)
	}
	frame := buf
	if sess.srv.remapLogical {
		frame = remapLogicalToPhysical(&sess.srv.state.Layout, buf, bpp)
	}
	err := sess.srv.pipeline.PushFrame(frame, pf)
	sess.srv.state.Unlock()
	if err != nil {
		return err
	}

	if h.version == VersionFrameV2 {
		_, err := sess.conn.Write([]byte{0x06})
		return err
	}
	return nil
}

// handleCommand services a v3 command-plane message.
func (sess *session) handleCommand(h header) error {
	payloadLen := int(h.count)
	if h.kind == cmdUploadFirmware {
		return sess.handleUploadFirmware(payloadLen)
	}
	if payloadLen > len(sess.srv.state.RecvBuf) {
		if err := drain(sess.conn, payloadLen); err != nil {
			return err
		}
		return sess.writeResponse(h.kind, StatusTooLarge, nil)
	}
	buf := sess.srv.state.RecvBuf[:payloadLen]
	if _, err := io.ReadFull(sess.conn, buf); err != nil {
		return err
	}
	resp, err := sess.dispatch(h.kind, buf)
	return sess.writeResponse(h.kind, statusFor(err), resp)
}

func (sess *session) writeResponse(cmdID uint8, status Status, payload []byte) error {
	if err := writeHeader(sess.conn, uint32(1+len(payload)), cmdID|0x80); err != nil {
		return err
	}
	if _, err := sess.conn.Write([]byte{byte(status)}); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := sess.conn.Write(payload)
	return err
}

// drain discards n bytes from r, for command payloads this server declines
// to buffer (over the receive buffer's capacity) but must still consume so
// the connection stays framed for the next header.
func drain(r io.Reader, n int) error {
	_, err := io.CopyN(io.Discard, r, int64(n))
	return err
}
