// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vm

const blendEpsilon = 1e-6

// BlendOver composites src over dst using source-over compositing computed
// from straight-alpha inputs, returning a straight-alpha result. Both colors'
// channels are clamped to [0,1] before use.
func BlendOver(src, dst Color) Color {
	sa := clamp01(src.A())
	da := clamp01(dst.A())
	oa := sa + da*(1-sa)
	if oa <= blendEpsilon {
		return Color{0, 0, 0, 0}
	}
	sr, sg, sb := clamp01(src.R()), clamp01(src.G()), clamp01(src.B())
	dr, dg, db := clamp01(dst.R()), clamp01(dst.G()), clamp01(dst.B())
	or := (sr*sa + dr*da*(1-sa)) / oa
	og := (sg*sa + dg*da*(1-sa)) / oa
	ob := (sb*sa + db*da*(1-sa)) / oa
	return Color{or, og, ob, oa}
}
