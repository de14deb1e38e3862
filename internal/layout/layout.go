// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package layout describes the physical wiring of a multi-segment
// addressable LED panel and maps logical (x, y) pixels onto it.
//
// A Layout is immutable once Validate succeeds; mapping is pure and
// allocation-free so the render loop can call it per-pixel without holding
// a lock.
package layout

import "fmt"

// MaxSegments is the largest number of independently-driven LED chains a
// single Layout may describe.
const MaxSegments = 8

// Segment describes one contiguous chain of LEDs driven from a single GPIO.
type Segment struct {
	GPIO     string
	LEDCount int
}

// Layout describes a panel: its logical dimensions, whether odd columns are
// wired serpentine (bottom-to-top), and the segments that physically carry
// the pixels.
type Layout struct {
	Width             int
	Height            int
	SerpentineColumns bool
	Segments          []Segment
}

// Errors returned by Validate and the mapping functions. These match the
// "Pipeline / layout" taxonomy in the wire protocol's error model.
var (
	ErrInvalidArg  = fmt.Errorf("layout: invalid argument")
	ErrInvalidSize = fmt.Errorf("layout: invalid size")
)

// TotalLEDs returns the sum of every segment's LEDCount.
func (l *Layout) TotalLEDs() int {
	total := 0
	for _, s := range l.Segments {
		total += s.LEDCount
	}
	return total
}

// Validate checks the invariants required by the rest of the system:
// non-zero dimensions, a segment count within [1, MaxSegments], every GPIO
// named, every segment non-empty, and the sum of segment lengths equal to
// width*height.
func (l *Layout) Validate() error {
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("%w: width=%d height=%d", ErrInvalidArg, l.Width, l.Height)
	}
	if len(l.Segments) < 1 || len(l.Segments) > MaxSegments {
		return fmt.Errorf("%w: segment count %d out of [1,%d]", ErrInvalidArg, len(l.Segments), MaxSegments)
	}
	for i, s := range l.Segments {
		if s.GPIO == "" {
			return fmt.Errorf("%w: segment %d has no gpio", ErrInvalidArg, i)
		}
		if s.LEDCount <= 0 {
			return fmt.Errorf("%w: segment %d led_count=%d", ErrInvalidArg, i, s.LEDCount)
		}
	}
	if got, want := l.TotalLEDs(), l.Width*l.Height; got != want {
		return fmt.Errorf("%w: total_leds=%d want %d", ErrInvalidSize, got, want)
	}
	return nil
}

// Mapped is the result of resolving a logical pixel to a physical position:
// which segment carries it, the offset within that segment's wire buffer,
// and the global (column-major) index across the whole panel.
type Mapped struct {
	Segment int
	Offset  int
	Global  int
}

// MapLogicalXY resolves a logical (x, y) pixel to its physical location,
// applying the serpentine remap (odd columns run bottom-to-top) before
// walking the segment prefix sums.
//
// It fails ErrInvalidArg if (x, y) falls outside the panel.
func (l *Layout) MapLogicalXY(x, y int) (Mapped, error) {
	if x < 0 || x >= l.Width || y < 0 || y >= l.Height {
		return Mapped{}, fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrInvalidArg, x, y, l.Width, l.Height)
	}
	yy := y
	if l.SerpentineColumns && x%2 == 1 {
		yy = l.Height - 1 - y
	}
	return l.ResolveGlobal(x*l.Height + yy)
}

// ResolveGlobal walks the segment prefix sums to place an already-computed
// global index. It's the shared tail of MapLogicalXY and is also used
// directly by the output pipeline, which receives frame buffers already
// indexed by global position.
func (l *Layout) ResolveGlobal(global int) (Mapped, error) {
	if global < 0 || global >= l.Width*l.Height {
		return Mapped{}, fmt.Errorf("%w: global index %d out of range", ErrInvalidArg, global)
	}
	offset := global
	for seg, s := range l.Segments {
		if offset < s.LEDCount {
			return Mapped{Segment: seg, Offset: offset, Global: global}, nil
		}
		offset -= s.LEDCount
	}
	// Unreachable when Validate has passed, since global < Width*Height ==
	// sum(LEDCount).
	return Mapped{}, fmt.Errorf("%w: global index %d exceeds segment span", ErrInvalidArg, global)
}

// MapLogicalLinear resolves a linear pixel index (x = idx%width,
// y = idx/width) to the same result as MapLogicalXY.
func (l *Layout) MapLogicalLinear(idx int) (Mapped, error) {
	if idx < 0 || idx >= l.Width*l.Height {
		return Mapped{}, fmt.Errorf("%w: linear index %d out of range", ErrInvalidArg, idx)
	}
	x := idx % l.Width
	y := idx / l.Width
	return l.MapLogicalXY(x, y)
}
