// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package serverstate holds the controller's one process-wide mutable state
// and the mutex that guards every transition both the protocol server and
// the render orchestrator can touch. Neither package owns a private copy of
// any of this; both take a *State and lock it for the duration of one
// message or one frame tick.
package serverstate

import (
	"sync"
	"time"

	"github.com/periphlabs/ledshaderd/internal/layout"
	"github.com/periphlabs/ledshaderd/internal/vm"
)

// Source identifies which pixel-producing path is currently active.
type Source uint8

const (
	SourceNone Source = iota
	SourceBytecode
	SourceNative
)

// State is the single server-state instance. All fields below the mutex are
// guarded by it; Layout and the buffer capacities are fixed at construction
// and never reallocated.
type State struct {
	Layout layout.Layout

	mu sync.Mutex

	// FrameBuf holds one RGB frame, physical-index order, sized
	// Layout.TotalLEDs()*3.
	FrameBuf []byte
	// RecvBuf is shared scratch for incoming v1/v2 pixel payloads and v3
	// bytecode uploads, sized to the larger of the two maximums.
	RecvBuf []byte

	Blob    []byte
	Program *vm.Program
	Runtime *vm.Runtime

	Source Source
	Active bool

	HasUploadedProgram   bool
	DefaultPersisted     bool
	DefaultShaderFaulted bool

	FrameCounter   uint32
	SlowFrameCount uint32
	LastSlowMS     uint32

	LastUniformColor vm.Color

	Port int
}

// bppMax sizes the pixel share of RecvBuf; bpp=4 covers the widest pixel
// format (RGBW/GRBW) a v1/v2 frame payload can carry.
const bppMax = 4

// New allocates a State for lay, sizing FrameBuf/RecvBuf once up front.
// maxBytecodeBlob is vm.MaxBytecodeBlob, passed in rather than imported
// directly so serverstate doesn't need to know vm's internal constants
// beyond what it's handed.
func New(lay layout.Layout, port int, maxBytecodeBlob int) *State {
	total := lay.TotalLEDs()
	recvSize := total * bppMax
	if maxBytecodeBlob > recvSize {
		recvSize = maxBytecodeBlob
	}
	return &State{
		Layout:   lay,
		FrameBuf: make([]byte, total*3),
		RecvBuf:  make([]byte, recvSize),
		Port:     port,
	}
}

// Lock and Unlock expose the guarding mutex directly; protocol and render
// hold it for exactly one message or one frame tick.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// DeactivateShader clears activation and resets the frame counter. Callers
// must hold the lock.
func (s *State) DeactivateShader() {
	s.Active = false
	s.Source = SourceNone
	s.FrameCounter = 0
}

// RecordSlowFrame updates the slow-frame counters if elapsed exceeds the
// 200ms threshold. Callers must hold the lock.
func (s *State) RecordSlowFrame(elapsed time.Duration) {
	if elapsed <= 200*time.Millisecond {
		return
	}
	s.SlowFrameCount++
	s.LastSlowMS = uint32(elapsed.Milliseconds())
}
