// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vm

import (
	"errors"
	"testing"
)

func forBlock(indexSlot, start, end uint32, body []byte) []byte {
	b := newBlob()
	b.u32(1)
	b.u8(4) // FOR
	b.u32(indexSlot).u32(start).u32(end)
	b.rawBlock(body)
	return b.bytes()
}

func TestEvalPixelLoopLimit(t *testing.T) {
	layer := forBlock(0, 0, MaxLoopIterations+1, emptyBlock())
	blob := buildProgram(emptyBlock(), layer)
	prog, err := Load(blob)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rt := NewRuntime(prog, 1, 1)
	if err := rt.BeginFrame(0, 0); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if _, err := rt.EvalPixel(0, 0); !errors.Is(err, ErrLoopLimit) {
		t.Fatalf("EvalPixel() = %v, want ErrLoopLimit", err)
	}
}

func TestEvalPixelForWithinLimitOK(t *testing.T) {
	layer := forBlock(0, 0, 10, emptyBlock())
	blob := buildProgram(emptyBlock(), layer)
	prog, err := Load(blob)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rt := NewRuntime(prog, 1, 1)
	if err := rt.BeginFrame(0, 0); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if _, err := rt.EvalPixel(0, 0); err != nil {
		t.Fatalf("EvalPixel() = %v, want ok", err)
	}
}

// TestFrameLetCopiedIntoLayerLetSlots exercises the "copy frame slots into
// let slots before each layer" rule: a value written by a frame-mode LET
// must be visible to a layer reading the same slot through the LET (not
// FRAME_LET) tag.
func TestFrameLetCopiedIntoLayerLetSlots(t *testing.T) {
	frameIB := newInstrs().pushLiteralScalar(0.75)
	frame := letOnlyBlock(0, 1, frameIB)

	layerIB := newInstrs().
		pushLet(0).
		pushLiteralScalar(0).
		pushLiteralScalar(0).
		pushLiteralScalar(1).
		callBuiltin(bRGBA, 4)
	layer := blendLayerBlock(4, layerIB)

	blob := buildProgram(frame, layer)
	prog, err := Load(blob)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rt := NewRuntime(prog, 1, 1)
	if err := rt.BeginFrame(0, 0); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	c, err := rt.EvalPixel(0, 0)
	if err != nil {
		t.Fatalf("EvalPixel: %v", err)
	}
	if c != (Color{0.75, 0, 0, 1}) {
		t.Fatalf("EvalPixel() = %+v, want {0.75 0 0 1}", c)
	}
}

func TestBlendAcrossTwoLayers(t *testing.T) {
	redIB := newInstrs().
		pushLiteralScalar(1).
		pushLiteralScalar(0).
		pushLiteralScalar(0).
		pushLiteralScalar(1).
		callBuiltin(bRGBA, 4)
	layer0 := blendLayerBlock(4, redIB)

	greenHalfIB := newInstrs().
		pushLiteralScalar(0).
		pushLiteralScalar(1).
		pushLiteralScalar(0).
		pushLiteralScalar(0.5).
		callBuiltin(bRGBA, 4)
	layer1 := blendLayerBlock(4, greenHalfIB)

	blob := buildProgram(emptyBlock(), layer0, layer1)
	prog, err := Load(blob)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rt := NewRuntime(prog, 1, 1)
	if err := rt.BeginFrame(0, 0); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	c, err := rt.EvalPixel(0, 0)
	if err != nil {
		t.Fatalf("EvalPixel: %v", err)
	}
	want := Color{0.5, 0.5, 0, 1}
	if c != want {
		t.Fatalf("EvalPixel() = %+v, want %+v", c, want)
	}
}

func TestEvalPixelInputXY(t *testing.T) {
	// rgba(x/width, y/height, 0, 1): layer result should track the pixel
	// coordinates. The channels are divided down into [0,1] because BlendOver
	// clamps every channel to that range.
	ib := newInstrs().
		pushInput(InputX).
		pushInput(InputWidth).
		op(7). // DIV
		pushInput(InputY).
		pushInput(InputHeight).
		op(7). // DIV
		pushLiteralScalar(0).
		pushLiteralScalar(1).
		callBuiltin(bRGBA, 4)
	layer := blendLayerBlock(4, ib)
	blob := buildProgram(emptyBlock(), layer)
	prog, err := Load(blob)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if prog.UniformAcrossXY {
		t.Fatalf("UniformAcrossXY = true, want false (layer references INPUT x and y)")
	}
	rt := NewRuntime(prog, 8, 8)
	if err := rt.BeginFrame(0, 0); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	c, err := rt.EvalPixel(3, 5)
	if err != nil {
		t.Fatalf("EvalPixel: %v", err)
	}
	if c != (Color{0.375, 0.625, 0, 1}) { // 3/8, 5/8
		t.Fatalf("EvalPixel(3,5) = %+v, want {0.375 0.625 0 1}", c)
	}
}

func TestEvalBuiltinArgCountFormat(t *testing.T) {
	_, err := evalBuiltin(bSin, []Value{ScalarValue(1), ScalarValue(2)})
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("evalBuiltin() = %v, want ErrFormat", err)
	}
}

func TestEvalBuiltinTypeMismatch(t *testing.T) {
	_, err := evalBuiltin(bCircle, []Value{ScalarValue(1), ScalarValue(2)})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("evalBuiltin() = %v, want ErrTypeMismatch", err)
	}
}
