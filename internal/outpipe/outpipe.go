// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package outpipe drives a fully-populated LED frame buffer onto hardware:
// gamma correction, pixel-format packing into the wire color order, and a
// double-buffered transmit so packing the next frame overlaps the previous
// frame's hardware transmission.
package outpipe

import (
	"fmt"
	"sync"

	"github.com/periphlabs/ledshaderd/internal/layout"
)

// Errors returned by the pipeline.
var (
	ErrInvalidArg   = fmt.Errorf("outpipe: invalid argument")
	ErrInvalidState = fmt.Errorf("outpipe: invalid state")
	ErrInvalidSize  = fmt.Errorf("outpipe: invalid size")
)

// Transmitter drives one segment's packed wire buffer onto hardware. Segment
// indices match layout.Layout.Segments order.
type Transmitter interface {
	Transmit(segment int, wire []byte) error
}

type slotState uint8

const (
	stateIdle slotState = iota
	statePacking
	stateInFlight
)

// Pipeline is the LED output pipeline. It is not safe for concurrent
// PushFrame/PushUniformRGB calls; the render orchestrator and the protocol
// server serialize these under the shared server-state lock.
type Pipeline struct {
	driver Transmitter
	layout *layout.Layout
	gamma  [256]byte

	// segBufs[seg][slot] is a led_count*3 wire-order buffer.
	segBufs [][2][]byte
	slot    int
	state   slotState

	pending    sync.WaitGroup
	pendingErr error
	pendingMu  sync.Mutex
}

// Init validates layout and builds a pipeline with a gamma LUT computed from
// gammaX100, the gamma exponent in hundredths (280 for gamma 2.80; 100 is
// the identity curve).
func Init(driver Transmitter, lay *layout.Layout, gammaX100 int) (*Pipeline, error) {
	if driver == nil || lay == nil {
		return nil, ErrInvalidArg
	}
	if err := lay.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArg, err)
	}
	p := &Pipeline{
		driver:  driver,
		layout:  lay,
		gamma:   BuildGammaLUT(gammaX100),
		segBufs: make([][2][]byte, len(lay.Segments)),
	}
	for i, seg := range lay.Segments {
		p.segBufs[i][0] = make([]byte, seg.LEDCount*3)
		p.segBufs[i][1] = make([]byte, seg.LEDCount*3)
	}
	return p, nil
}

// PushFrame packs frame (indexed by global LED position, pixelFormat's
// channel layout, bpp bytes per pixel) through the gamma LUT into the wire
// (GRB) order and transmits it across every segment.
func (p *Pipeline) PushFrame(frame []byte, pf PixelFormat) error {
	bpp, ok := bytesPerPixel(pf)
	if !ok {
		return fmt.Errorf("%w: pixel format %d", ErrInvalidArg, pf)
	}
	total := p.layout.TotalLEDs()
	if len(frame) != total*bpp {
		return fmt.Errorf("%w: frame has %d bytes, want %d", ErrInvalidSize, len(frame), total*bpp)
	}
	if err := p.waitForPriorTransmit(); err != nil {
		return err
	}
	p.state = statePacking
	next := p.slot ^ 1
	for g := 0; g < total; g++ {
		m, err := p.layout.ResolveGlobal(g)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		r, gr, b := readPixel(frame, g, bpp, pf)
		wire := p.segBufs[m.Segment][next][m.Offset*3 : m.Offset*3+3]
		wire[0], wire[1], wire[2] = p.gamma[gr], p.gamma[r], p.gamma[b]
	}
	p.transmitAsync(next)
	return nil
}

// PushUniformRGB fills every pixel with the same gamma-corrected triple,
// the cheap path for shaders whose result doesn't depend on (x, y).
func (p *Pipeline) PushUniformRGB(r, g, b uint8) error {
	if err := p.waitForPriorTransmit(); err != nil {
		return err
	}
	p.state = statePacking
	next := p.slot ^ 1
	gr, gg, gb := p.gamma[g], p.gamma[r], p.gamma[b]
	for seg := range p.layout.Segments {
		buf := p.segBufs[seg][next]
		for i := 0; i+2 < len(buf); i += 3 {
			buf[i], buf[i+1], buf[i+2] = gr, gg, gb
		}
	}
	p.transmitAsync(next)
	return nil
}

// Deinit waits for any in-flight transmission to complete. The caller is
// responsible for tearing down the Transmitter itself.
func (p *Pipeline) Deinit() error {
	return p.waitForPriorTransmit()
}

func (p *Pipeline) waitForPriorTransmit() error {
	p.pending.Wait()
	p.pendingMu.Lock()
	err := p.pendingErr
	p.pendingMu.Unlock()
	p.state = stateIdle
	return err
}

// transmitAsync fires one goroutine per segment so all segments transmit
// concurrently, joined by waitForPriorTransmit before the next pack.
func (p *Pipeline) transmitAsync(next int) {
	p.state = stateInFlight
	p.pendingErr = nil
	p.pending.Add(len(p.layout.Segments))
	for seg := range p.layout.Segments {
		seg := seg
		go func() {
			defer p.pending.Done()
			if err := p.driver.Transmit(seg, p.segBufs[seg][next]); err != nil {
				p.pendingMu.Lock()
				if p.pendingErr == nil {
					p.pendingErr = fmt.Errorf("outpipe: segment %d: %w", seg, err)
				}
				p.pendingMu.Unlock()
			}
		}()
	}
	p.slot = next
}
