// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package outpipe

import (
	"image"
	"image/color"
)

// ColorModel and Bounds let Pipeline stand in for a display-style sink, so
// callers that already work in terms of image.Image don't need a second
// representation just to reach the output pipeline.
func (p *Pipeline) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds reports the panel as a single row of TotalLEDs() pixels, indexed by
// global LED position; PushImage does no (x, y) remapping, so a caller must
// already have placed each logical pixel at its global index.
func (p *Pipeline) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.layout.TotalLEDs(), 1)
}

// PushImage packs an *image.NRGBA frame buffer (alpha ignored) through the
// same gamma/packing/transmit path as PushFrame, for callers that already
// hold their frame as an image rather than a raw byte slice. The render
// orchestrator does not use it; it fills a []byte frame buffer and calls
// PushFrame.
func (p *Pipeline) PushImage(img *image.NRGBA) error {
	total := p.layout.TotalLEDs()
	if img.Bounds().Dx()*img.Bounds().Dy() != total {
		return ErrInvalidSize
	}
	frame := make([]byte, total*3)
	i := 0
	for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
		rowStart := img.PixOffset(img.Bounds().Min.X, y)
		row := img.Pix[rowStart : rowStart+img.Bounds().Dx()*4]
		for x := 0; x < img.Bounds().Dx(); x++ {
			px := row[x*4 : x*4+4]
			frame[i], frame[i+1], frame[i+2] = px[0], px[1], px[2]
			i += 3
		}
	}
	return p.PushFrame(frame, FormatRGB)
}
