// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/periphlabs/ledshaderd/internal/kv"
	"github.com/periphlabs/ledshaderd/internal/serverstate"
	"github.com/periphlabs/ledshaderd/internal/vm"
)

// v3 command ids.
const (
	cmdUploadBytecode       = 1
	cmdActivateShader       = 2
	cmdSetDefaultHook       = 3
	cmdClearDefaultHook     = 4
	cmdQueryDefaultHook     = 5
	cmdUploadFirmware       = 6
	cmdActivateNativeShader = 7
	cmdStopShader           = 8
)

// ErrUnsupportedCmd is returned for a cmd_id outside {1..8}.
var ErrUnsupportedCmd = errors.New("protocol: unsupported command")

// dispatch routes a v3 command to its handler. handleUploadFirmware is
// handled earlier in handleCommand (it doesn't buffer its payload through
// RecvBuf), so it never reaches here.
func (sess *session) dispatch(cmdID uint8, payload []byte) ([]byte, error) {
	switch cmdID {
	case cmdUploadBytecode:
		return sess.cmdUploadBytecode(payload)
	case cmdActivateShader:
		return sess.cmdActivateShader(payload)
	case cmdSetDefaultHook:
		return sess.cmdSetDefaultHook(payload)
	case cmdClearDefaultHook:
		return sess.cmdClearDefaultHook(payload)
	case cmdQueryDefaultHook:
		return sess.cmdQueryDefaultHook(payload)
	case cmdActivateNativeShader:
		return sess.cmdActivateNativeShader(payload)
	case cmdStopShader:
		return sess.cmdStopShader(payload)
	default:
		return nil, ErrUnsupportedCmd
	}
}

func (sess *session) cmdUploadBytecode(payload []byte) ([]byte, error) {
	prog, err := vm.Load(payload)
	st := sess.srv.state
	st.Lock()
	defer st.Unlock()
	if err != nil {
		st.HasUploadedProgram = false
		st.DeactivateShader()
		return nil, err
	}
	st.Blob = append(st.Blob[:0], payload...)
	st.Program = prog
	st.HasUploadedProgram = true
	st.DefaultShaderFaulted = false
	st.DeactivateShader()
	return nil, nil
}

func (sess *session) cmdActivateShader(payload []byte) ([]byte, error) {
	st := sess.srv.state
	st.Lock()
	defer st.Unlock()
	if !st.HasUploadedProgram || st.Program == nil {
		return nil, ErrNotReady
	}
	st.Runtime = vm.NewRuntime(st.Program, st.Layout.Width, st.Layout.Height)
	st.Source = serverstate.SourceBytecode
	st.Active = true
	st.FrameCounter = 0
	return nil, nil
}

func (sess *session) cmdSetDefaultHook(payload []byte) ([]byte, error) {
	st := sess.srv.state
	st.Lock()
	blob := append([]byte(nil), st.Blob...)
	st.Unlock()
	if len(blob) == 0 {
		return nil, ErrNotReady
	}
	if err := sess.srv.kvStore.Open(kv.DefaultNamespace, true); err != nil {
		return nil, err
	}
	if err := sess.srv.kvStore.SetBlob(kv.DefaultKey, blob); err != nil {
		return nil, err
	}
	if err := sess.srv.kvStore.Commit(); err != nil {
		return nil, err
	}
	st.Lock()
	st.DefaultPersisted = true
	st.DefaultShaderFaulted = false
	st.Unlock()
	return nil, nil
}

func (sess *session) cmdClearDefaultHook(payload []byte) ([]byte, error) {
	if err := sess.srv.kvStore.Open(kv.DefaultNamespace, true); err != nil {
		return nil, err
	}
	if err := sess.srv.kvStore.Erase(kv.DefaultKey); err != nil {
		return nil, err
	}
	st := sess.srv.state
	st.Lock()
	st.DefaultPersisted = false
	st.Unlock()
	return nil, nil
}

// cmdQueryDefaultHook builds the 20-byte status payload: 4 flag bytes then
// 4 big-endian u32 fields.
func (sess *session) cmdQueryDefaultHook(payload []byte) ([]byte, error) {
	st := sess.srv.state
	st.Lock()
	defer st.Unlock()
	resp := make([]byte, 20)
	resp[0] = boolByte(st.DefaultPersisted)
	resp[1] = boolByte(st.HasUploadedProgram)
	resp[2] = boolByte(st.Active)
	resp[3] = boolByte(st.DefaultShaderFaulted)
	binary.BigEndian.PutUint32(resp[4:8], uint32(len(st.Blob)))
	binary.BigEndian.PutUint32(resp[8:12], st.SlowFrameCount)
	binary.BigEndian.PutUint32(resp[12:16], st.LastSlowMS)
	binary.BigEndian.PutUint32(resp[16:20], st.FrameCounter)
	return resp, nil
}

func (sess *session) cmdActivateNativeShader(payload []byte) ([]byte, error) {
	st := sess.srv.state
	st.Lock()
	defer st.Unlock()
	st.Source = serverstate.SourceNative
	st.Active = true
	st.FrameCounter = 0
	return nil, nil
}

func (sess *session) cmdStopShader(payload []byte) ([]byte, error) {
	st := sess.srv.state
	st.Lock()
	defer st.Unlock()
	return nil, sess.srv.orchestrator.StopShader()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// handleUploadFirmware streams cmd 6's payload directly into the OTA
// updater without buffering through RecvBuf, since a firmware image can
// exceed the bytecode-sized receive buffer entirely.
func (sess *session) handleUploadFirmware(size int) error {
	desc, err := sess.srv.ota.NextPartition()
	if err != nil {
		if dErr := drain(sess.conn, size); dErr != nil {
			return dErr
		}
		return sess.writeResponse(cmdUploadFirmware, StatusInternal, nil)
	}
	h, err := sess.srv.ota.Begin(size)
	if err != nil {
		if dErr := drain(sess.conn, size); dErr != nil {
			return dErr
		}
		return sess.writeResponse(cmdUploadFirmware, StatusInternal, nil)
	}

	const chunkSize = 4096
	chunk := make([]byte, chunkSize)
	remaining := size
	for remaining > 0 {
		n := chunkSize
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(sess.conn, chunk[:n]); err != nil {
			sess.srv.ota.Abort(h)
			return err
		}
		remaining -= n
		if err := sess.srv.ota.Write(h, chunk[:n]); err != nil {
			sess.srv.ota.Abort(h)
			if dErr := drain(sess.conn, remaining); dErr != nil {
				return dErr
			}
			return sess.writeResponse(cmdUploadFirmware, StatusInternal, nil)
		}
	}

	if err := sess.srv.ota.End(h); err != nil {
		return sess.writeResponse(cmdUploadFirmware, StatusInternal, nil)
	}
	if err := sess.srv.ota.SetBoot(desc); err != nil {
		return sess.writeResponse(cmdUploadFirmware, StatusInternal, nil)
	}
	if err := sess.writeResponse(cmdUploadFirmware, StatusOK, nil); err != nil {
		return err
	}
	return sess.srv.ota.Reboot()
}
