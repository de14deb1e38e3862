// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package outpipe

import (
	"image"
	"testing"
)

func TestPipelineBoundsAndColorModel(t *testing.T) {
	p, err := Init(newFakeTransmitter(), twoSegmentLayout(), DefaultGammaX100)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Bounds(); got.Dx() != 4 || got.Dy() != 1 {
		t.Errorf("Bounds() = %v, want a 4x1 rect", got)
	}
	if p.ColorModel() == nil {
		t.Error("ColorModel() = nil")
	}
}

func TestPushImageMatchesPushFrame(t *testing.T) {
	tx := newFakeTransmitter()
	p, err := Init(tx, twoSegmentLayout(), 100)
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, 4, 1))
	colors := [][3]byte{{10, 20, 30}, {40, 50, 60}, {70, 80, 90}, {100, 110, 120}}
	for i, c := range colors {
		off := img.PixOffset(i, 0)
		img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c[0], c[1], c[2], 255
	}
	if err := p.PushImage(img); err != nil {
		t.Fatal(err)
	}
	if err := p.Deinit(); err != nil {
		t.Fatal(err)
	}
	want0 := []byte{20, 10, 30, 50, 40, 60}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if string(tx.wires[0]) != string(want0) {
		t.Errorf("segment 0 wire = %v, want %v", tx.wires[0], want0)
	}
}

func TestPushImageRejectsWrongSize(t *testing.T) {
	p, err := Init(newFakeTransmitter(), twoSegmentLayout(), DefaultGammaX100)
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	if err := p.PushImage(img); err != ErrInvalidSize {
		t.Fatalf("PushImage with wrong size = %v, want ErrInvalidSize", err)
	}
}
