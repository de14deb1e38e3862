// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package render is the controller's frame-loop orchestrator: it owns no
// state of its own beyond a logger, instead driving a shared
// serverstate.State and outpipe.Pipeline once per tick.
package render

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/periphlabs/ledshaderd/internal/native"
	"github.com/periphlabs/ledshaderd/internal/outpipe"
	"github.com/periphlabs/ledshaderd/internal/serverstate"
	"github.com/periphlabs/ledshaderd/internal/vm"
)

// FrameInterval is the fixed render cadence.
const FrameInterval = 25 * time.Millisecond

// slowFrameThreshold is the wall-clock bound a render tick must stay under
// before it counts as slow.
const slowFrameThreshold = 200 * time.Millisecond

// Orchestrator drives one render tick at a time. It is not safe for
// concurrent Tick calls; the caller (the render task) invokes Tick
// serially on FrameInterval.
type Orchestrator struct {
	state    *serverstate.State
	pipeline *outpipe.Pipeline
	native   native.Shader
	log      zerolog.Logger
}

// New builds an Orchestrator. nativeShader may be nil; a Tick with the native
// source active then deactivates the shader and returns an error.
func New(state *serverstate.State, pipeline *outpipe.Pipeline, nativeShader native.Shader, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		state:    state,
		pipeline: pipeline,
		native:   nativeShader,
		// Sample(&zerolog.BasicSampler{N: 120}) caps render-loop logging to
		// roughly once every 3 seconds at 40fps, so a pathological shader
		// erroring every tick can't flood stderr.
		log: logger.Sample(&zerolog.BasicSampler{N: 120}),
	}
}

// Tick runs one render iteration: begin_frame, per-pixel (or uniform) eval,
// push to the output pipeline, slow-frame bookkeeping. now is wall-clock
// time used only for slow-frame measurement; timeSec is the shader-visible
// elapsed time passed to begin_frame.
func (o *Orchestrator) Tick(now time.Time, timeSec float32) error {
	o.state.Lock()
	defer o.state.Unlock()

	start := now
	defer func() { o.state.RecordSlowFrame(time.Since(start)) }()

	if !o.state.Active {
		return nil
	}

	switch o.state.Source {
	case serverstate.SourceBytecode:
		return o.tickBytecode(timeSec)
	case serverstate.SourceNative:
		return o.tickNative(timeSec)
	default:
		return nil
	}
}

func (o *Orchestrator) tickBytecode(timeSec float32) error {
	rt := o.state.Runtime
	if rt == nil {
		o.state.DeactivateShader()
		return fmt.Errorf("render: bytecode source active with no runtime")
	}
	if err := rt.BeginFrame(timeSec, o.state.FrameCounter); err != nil {
		o.log.Error().Err(err).Msg("begin_frame failed, deactivating shader")
		o.state.DeactivateShader()
		return err
	}

	if o.state.Program.UniformAcrossXY {
		c, err := rt.EvalPixel(0, 0)
		if err != nil {
			o.log.Error().Err(err).Msg("eval_pixel failed on uniform fast path")
			o.state.DeactivateShader()
			return err
		}
		o.state.LastUniformColor = c
		r, g, b := quantize(c)
		if err := o.pipeline.PushUniformRGB(r, g, b); err != nil {
			return fmt.Errorf("render: push_uniform_rgb: %w", err)
		}
		o.state.FrameCounter++
		return nil
	}

	if err := o.renderFullFrame(func(x, y float32) (vm.Color, error) {
		return rt.EvalPixel(x, y)
	}); err != nil {
		// Only a VM runtime failure deactivates the shader; a driver error
		// from the push leaves it active for the next tick.
		var vmErr *vm.Error
		if errors.As(err, &vmErr) {
			o.log.Error().Err(err).Msg("eval_pixel failed, deactivating shader")
			o.state.DeactivateShader()
		}
		return err
	}
	o.state.FrameCounter++
	return nil
}

func (o *Orchestrator) tickNative(timeSec float32) error {
	if o.native == nil {
		o.state.DeactivateShader()
		return fmt.Errorf("render: native source active with no native shader configured")
	}
	lay := &o.state.Layout
	w, h := float32(lay.Width), float32(lay.Height)
	frameCounter := o.state.FrameCounter
	if err := o.renderFullFrame(func(x, y float32) (vm.Color, error) {
		return o.native.EvalPixel(timeSec, frameCounter, x, y, w, h), nil
	}); err != nil {
		return err
	}
	o.state.FrameCounter++
	return nil
}

// renderFullFrame iterates every logical pixel (y outer, x inner), applies
// the serpentine remap via Layout.MapLogicalXY, quantizes, and writes into
// FrameBuf before a single PushFrame call.
func (o *Orchestrator) renderFullFrame(eval func(x, y float32) (vm.Color, error)) error {
	lay := &o.state.Layout
	for y := 0; y < lay.Height; y++ {
		for x := 0; x < lay.Width; x++ {
			c, err := eval(float32(x), float32(y))
			if err != nil {
				return fmt.Errorf("render: eval_pixel(%d,%d): %w", x, y, err)
			}
			m, err := lay.MapLogicalXY(x, y)
			if err != nil {
				return fmt.Errorf("render: map_logical_xy(%d,%d): %w", x, y, err)
			}
			r, g, b := quantize(c)
			base := m.Global * 3
			o.state.FrameBuf[base], o.state.FrameBuf[base+1], o.state.FrameBuf[base+2] = r, g, b
		}
	}
	return o.pipeline.PushFrame(o.state.FrameBuf, outpipe.FormatRGB)
}

// quantize converts a straight-alpha color's RGB channels to 8-bit values
// via u8 = round(clamp01(v)*255).
func quantize(c vm.Color) (r, g, b byte) {
	return quantizeChannel(c.R()), quantizeChannel(c.G()), quantizeChannel(c.B())
}

func quantizeChannel(v float32) byte {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return byte(math.Round(float64(v) * 255))
}

// StopShader deactivates the current shader and pushes one black frame,
// backing the STOP_SHADER command. Callers must hold state's lock.
func (o *Orchestrator) StopShader() error {
	o.state.DeactivateShader()
	return o.pipeline.PushUniformRGB(0, 0, 0)
}
