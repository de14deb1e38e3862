// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vm

import "math"

// Builtin ids, in declaration order (0..19).
const (
	bSin = iota
	bCos
	bSqrt
	bLn
	bLog10
	bAbs
	bFloor
	bFract
	bMin
	bMax
	bClamp
	bSmoothstep
	bCircle
	bBox
	bWrapDX
	bHash01
	bHashSigned
	bHashCoords01
	bVec2
	bRGBA

	builtinCount
)

// builtinArity is the number of stack arguments each builtin requires. A
// CALL_BUILTIN instruction whose declared arg_count disagrees with this
// fails format at eval time; the parser only checked generic [1,8] bounds.
var builtinArity = [builtinCount]uint8{
	bSin: 1, bCos: 1, bSqrt: 1, bLn: 1, bLog10: 1, bAbs: 1, bFloor: 1, bFract: 1,
	bMin: 2, bMax: 2,
	bClamp: 3, bSmoothstep: 3,
	bCircle: 2, bBox: 2, bWrapDX: 3,
	bHash01: 1, bHashSigned: 1, bHashCoords01: 3,
	bVec2: 2, bRGBA: 4,
}

func clamp01(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func smoothstepf(e0, e1, x float32) float32 {
	t := clamp01((x - e0) / (e1 - e0))
	return t * t * (3 - 2*t)
}

// hash32 is a lowbias32-style integer hash: cheap, deterministic, and free
// of obvious low-bit correlation, used as the basis for every hash builtin.
func hash32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

// scalarToU32 truncates a scalar toward zero into an int32, then reinterprets
// its bit pattern as a uint32 for hashing. It deliberately does not bit-cast
// the float itself; two scalars that round to the same integer hash
// identically regardless of their fractional part.
func scalarToU32(x float32) uint32 {
	return uint32(int32(x))
}

func hash01(x float32) float32 {
	h := hash32(scalarToU32(x))
	return float32(h) / float32(math.MaxUint32)
}

func hashSigned(x float32) float32 {
	return hash01(x)*2 - 1
}

func hashCoords01(x, y, seed float32) float32 {
	ix := scalarToU32(x)
	iy := scalarToU32(y)
	is := scalarToU32(seed)
	h := ix
	h = hash32(h ^ (iy*0x9e3779b9 + 0x9e3779b9))
	h = hash32(h ^ (is*0x85ebca6b + 0x85ebca6b))
	return float32(h) / float32(math.MaxUint32)
}

func wrapDX(px, cx, w float32) float32 {
	if w <= 0 {
		return 0
	}
	halfW := w / 2
	d := float64(px - cx + halfW)
	m := math.Mod(d, float64(w))
	if m <= 0 {
		m += float64(w)
	}
	return float32(m) - halfW
}

// evalBuiltin dispatches one CALL_BUILTIN invocation. args are popped from
// the expression stack in push order (args[0] pushed first).
func evalBuiltin(id uint8, args []Value) (Value, error) {
	if id >= builtinCount {
		return Value{}, ErrInvalidBuiltin
	}
	if int(builtinArity[id]) != len(args) {
		return Value{}, ErrFormat
	}
	scalars := make([]float32, 0, len(args))
	for i := range args {
		if args[i].Tag == TagScalar {
			scalars = append(scalars, args[i].Scalar)
		}
	}
	needScalars := func(n int) ([]float32, error) {
		if len(scalars) != n {
			return nil, ErrTypeMismatch
		}
		return scalars, nil
	}

	switch id {
	case bSin, bCos, bSqrt, bLn, bLog10, bAbs, bFloor, bFract:
		s, err := needScalars(1)
		if err != nil {
			return Value{}, err
		}
		x := s[0]
		var r float32
		switch id {
		case bSin:
			r = float32(math.Sin(float64(x)))
		case bCos:
			r = float32(math.Cos(float64(x)))
		case bSqrt:
			r = float32(math.Sqrt(float64(x)))
		case bLn:
			r = float32(math.Log(float64(x)))
		case bLog10:
			r = float32(math.Log10(float64(x)))
		case bAbs:
			r = float32(math.Abs(float64(x)))
		case bFloor:
			r = float32(math.Floor(float64(x)))
		case bFract:
			r = x - float32(math.Floor(float64(x)))
		}
		return ScalarValue(r), nil

	case bMin, bMax:
		s, err := needScalars(2)
		if err != nil {
			return Value{}, err
		}
		if id == bMin {
			if s[0] < s[1] {
				return ScalarValue(s[0]), nil
			}
			return ScalarValue(s[1]), nil
		}
		if s[0] > s[1] {
			return ScalarValue(s[0]), nil
		}
		return ScalarValue(s[1]), nil

	case bClamp:
		s, err := needScalars(3)
		if err != nil {
			return Value{}, err
		}
		x, lo, hi := s[0], s[1], s[2]
		if x < lo {
			x = lo
		}
		if x > hi {
			x = hi
		}
		return ScalarValue(x), nil

	case bSmoothstep:
		s, err := needScalars(3)
		if err != nil {
			return Value{}, err
		}
		return ScalarValue(smoothstepf(s[0], s[1], s[2])), nil

	case bCircle:
		if args[0].Tag != TagVec2 || args[1].Tag != TagScalar {
			return Value{}, ErrTypeMismatch
		}
		p := args[0].Vec2
		r := args[1].Scalar
		length := float32(math.Hypot(float64(p[0]), float64(p[1])))
		return ScalarValue(length - r), nil

	case bBox:
		if args[0].Tag != TagVec2 || args[1].Tag != TagVec2 {
			return Value{}, ErrTypeMismatch
		}
		p, b := args[0].Vec2, args[1].Vec2
		dx := float32(math.Abs(float64(p[0]))) - b[0]
		dy := float32(math.Abs(float64(p[1]))) - b[1]
		outsideX, outsideY := dx, dy
		if outsideX < 0 {
			outsideX = 0
		}
		if outsideY < 0 {
			outsideY = 0
		}
		outside := float32(math.Hypot(float64(outsideX), float64(outsideY)))
		inside := dx
		if dy > inside {
			inside = dy
		}
		if inside > 0 {
			inside = 0
		}
		return ScalarValue(outside + inside), nil

	case bWrapDX:
		s, err := needScalars(3)
		if err != nil {
			return Value{}, err
		}
		return ScalarValue(wrapDX(s[0], s[1], s[2])), nil

	case bHash01:
		s, err := needScalars(1)
		if err != nil {
			return Value{}, err
		}
		return ScalarValue(hash01(s[0])), nil

	case bHashSigned:
		s, err := needScalars(1)
		if err != nil {
			return Value{}, err
		}
		return ScalarValue(hashSigned(s[0])), nil

	case bHashCoords01:
		s, err := needScalars(3)
		if err != nil {
			return Value{}, err
		}
		return ScalarValue(hashCoords01(s[0], s[1], s[2])), nil

	case bVec2:
		s, err := needScalars(2)
		if err != nil {
			return Value{}, err
		}
		return Vec2Value(s[0], s[1]), nil

	case bRGBA:
		s, err := needScalars(4)
		if err != nil {
			return Value{}, err
		}
		return RGBAValue(s[0], s[1], s[2], s[3]), nil
	}
	return Value{}, ErrInvalidBuiltin
}
