// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package protocol

import "github.com/periphlabs/ledshaderd/internal/layout"

// remapLogicalToPhysical reorders a pixel payload given in logical
// row-major order (idx = y*width+x) into physical (global-index) order, for
// the Server's remap-logical mode. Invalid indices
// (which can't occur for a payload already validated against layout's
// pixel count) fall back to leaving that pixel's slot untouched.
func remapLogicalToPhysical(lay *layout.Layout, buf []byte, bpp int) []byte {
	out := make([]byte, len(buf))
	total := len(buf) / bpp
	for idx := 0; idx < total; idx++ {
		m, err := lay.MapLogicalLinear(idx)
		if err != nil {
			continue
		}
		src := buf[idx*bpp : idx*bpp+bpp]
		dst := out[m.Global*bpp : m.Global*bpp+bpp]
		copy(dst, src)
	}
	return out
}
