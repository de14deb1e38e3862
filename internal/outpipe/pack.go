// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package outpipe

// PixelFormat names the channel order and width of an incoming frame buffer.
// The wire order transmitted to hardware is always GRB (WS2812-family),
// regardless of the incoming PixelFormat.
type PixelFormat uint8

const (
	FormatRGB  PixelFormat = 0
	FormatRGBW PixelFormat = 1
	FormatGRB  PixelFormat = 2
	FormatGRBW PixelFormat = 3
	FormatBGR  PixelFormat = 4
)

func bytesPerPixel(pf PixelFormat) (int, bool) {
	switch pf {
	case FormatRGB, FormatGRB, FormatBGR:
		return 3, true
	case FormatRGBW, FormatGRBW:
		return 4, true
	default:
		return 0, false
	}
}

// BytesPerPixel exposes bytesPerPixel for callers outside the package that
// need to size a frame buffer before calling PushFrame.
func BytesPerPixel(pf PixelFormat) (int, bool) {
	return bytesPerPixel(pf)
}

// readPixel extracts the (r, g, b) triple for global pixel index g from
// frame, given its PixelFormat. RGBW/GRBW formats fold the white channel
// into all three color channels with saturating addition, so RGBW strips
// drive through the same 3-channel LUT as everything else.
func readPixel(frame []byte, g, bpp int, pf PixelFormat) (r, gr, b byte) {
	base := g * bpp
	px := frame[base : base+bpp]
	switch pf {
	case FormatRGB:
		r, gr, b = px[0], px[1], px[2]
	case FormatGRB:
		gr, r, b = px[0], px[1], px[2]
	case FormatBGR:
		b, gr, r = px[0], px[1], px[2]
	case FormatRGBW:
		r, gr, b = saturatingAddW(px[0], px[3]), saturatingAddW(px[1], px[3]), saturatingAddW(px[2], px[3])
	case FormatGRBW:
		gr, r, b = saturatingAddW(px[0], px[3]), saturatingAddW(px[1], px[3]), saturatingAddW(px[2], px[3])
	}
	return r, gr, b
}

func saturatingAddW(c, w byte) byte {
	sum := int(c) + int(w)
	if sum > 255 {
		return 255
	}
	return byte(sum)
}
