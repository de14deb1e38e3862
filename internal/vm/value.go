// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vm

import "golang.org/x/image/math/f32"

// Tag identifies which of the three value shapes a Value holds.
type Tag uint8

const (
	TagScalar Tag = 1
	TagVec2   Tag = 2
	TagRGBA   Tag = 3
)

// Color is a straight-alpha RGBA value backed by the same four-float shape
// x/image/math/f32 uses for its Vec4, so builtins and BlendOver can use
// ordinary component-wise arithmetic instead of a hand-rolled struct.
type Color f32.Vec4

func (c Color) R() float32 { return c[0] }
func (c Color) G() float32 { return c[1] }
func (c Color) B() float32 { return c[2] }
func (c Color) A() float32 { return c[3] }

// Value is a tagged union of the three runtime value shapes the VM operates
// on: scalar, vec2, and rgba. Only the field matching Tag is meaningful.
type Value struct {
	Tag    Tag
	Scalar float32
	Vec2   f32.Vec2
	RGBA   Color
}

// ScalarValue constructs a scalar Value.
func ScalarValue(v float32) Value { return Value{Tag: TagScalar, Scalar: v} }

// Vec2Value constructs a vec2 Value.
func Vec2Value(x, y float32) Value { return Value{Tag: TagVec2, Vec2: f32.Vec2{x, y}} }

// RGBAValue constructs an rgba Value from straight-alpha components.
func RGBAValue(r, g, b, a float32) Value { return Value{Tag: TagRGBA, RGBA: Color{r, g, b, a}} }

// AsScalar returns v's scalar payload, or ErrTypeMismatch if v is not a scalar.
func (v Value) AsScalar() (float32, error) {
	if v.Tag != TagScalar {
		return 0, ErrTypeMismatch
	}
	return v.Scalar, nil
}

// AsVec2 returns v's vec2 payload, or ErrTypeMismatch if v is not a vec2.
func (v Value) AsVec2() (f32.Vec2, error) {
	if v.Tag != TagVec2 {
		return f32.Vec2{}, ErrTypeMismatch
	}
	return v.Vec2, nil
}

// AsRGBA returns v's rgba payload, or ErrTypeMismatch if v is not an rgba.
func (v Value) AsRGBA() (Color, error) {
	if v.Tag != TagRGBA {
		return Color{}, ErrTypeMismatch
	}
	return v.RGBA, nil
}
