// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package native is the "native shader" external collaborator: a
// compile-time-generated pixel function, as opposed to an uploaded bytecode
// program. The generator itself lives outside this repository; this package
// defines only the interface the render orchestrator calls through to reach
// one, plus a small built-in default so ACTIVATE_NATIVE_SHADER has
// something non-trivial to activate without a code generator in this repo.
package native

import "github.com/periphlabs/ledshaderd/internal/vm"

// Shader evaluates one pixel of a compiled-in pattern. It receives the same
// inputs as vm.Runtime.EvalPixel's dependencies (elapsed time, frame
// counter, pixel position, panel size) and returns straight-alpha RGBA.
type Shader interface {
	EvalPixel(timeSec float32, frameCounter uint32, x, y, width, height float32) vm.Color
}

// ShaderFunc adapts a plain function to Shader.
type ShaderFunc func(timeSec float32, frameCounter uint32, x, y, width, height float32) vm.Color

func (f ShaderFunc) EvalPixel(timeSec float32, frameCounter uint32, x, y, width, height float32) vm.Color {
	return f(timeSec, frameCounter, x, y, width, height)
}

// SolidWhite is the simplest possible native shader: every pixel is opaque
// white, regardless of time or position. It exists so ACTIVATE_NATIVE_SHADER
// is exercisable without a real code-generated shader wired in.
var SolidWhite Shader = ShaderFunc(func(float32, uint32, float32, float32, float32, float32) vm.Color {
	return vm.RGBAValue(1, 1, 1, 1).RGBA
})
