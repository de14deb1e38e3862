// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vm

import "math"

// SlotTag identifies which slot space a slot-ref addresses.
type SlotTag uint8

const (
	SlotInput    SlotTag = 1
	SlotParam    SlotTag = 2
	SlotFrameLet SlotTag = 3
	SlotLet      SlotTag = 4
)

// Input slot indices, fixed regardless of program content.
const (
	InputTime   = 0
	InputFrame  = 1
	InputX      = 2
	InputY      = 3
	InputWidth  = 4
	InputHeight = 5
)

const inputSlotCount = 6

// SlotRef addresses one readable slot: either a fixed input, a parameter, a
// frame-scoped let, or a per-pixel let.
type SlotRef struct {
	Tag   SlotTag
	Index uint32 // slot-space index; for Input, one of the Input* constants
}

// cursor reads little-endian wire values from a byte slice, advancing as it
// goes and reporting ErrTruncated on short reads.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor { return &cursor{buf: buf} }

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) readU8() (uint8, error) {
	if c.remaining() < 1 {
		return 0, ErrTruncated
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) readU16() (uint16, error) {
	if c.remaining() < 2 {
		return 0, ErrTruncated
	}
	v := uint16(c.buf[c.pos]) | uint16(c.buf[c.pos+1])<<8
	c.pos += 2
	return v, nil
}

func (c *cursor) readU32() (uint32, error) {
	if c.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := uint32(c.buf[c.pos]) | uint32(c.buf[c.pos+1])<<8 |
		uint32(c.buf[c.pos+2])<<16 | uint32(c.buf[c.pos+3])<<24
	c.pos += 4
	return v, nil
}

func (c *cursor) readF32() (float32, error) {
	bits, err := c.readU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// readValue decodes a tagged runtime value: u8 tag then 1, 2, or 4 f32 fields.
func (c *cursor) readValue() (Value, error) {
	tag, err := c.readU8()
	if err != nil {
		return Value{}, err
	}
	switch Tag(tag) {
	case TagScalar:
		f, err := c.readF32()
		if err != nil {
			return Value{}, err
		}
		return ScalarValue(f), nil
	case TagVec2:
		x, err := c.readF32()
		if err != nil {
			return Value{}, err
		}
		y, err := c.readF32()
		if err != nil {
			return Value{}, err
		}
		return Vec2Value(x, y), nil
	case TagRGBA:
		var f [4]float32
		for i := range f {
			v, err := c.readF32()
			if err != nil {
				return Value{}, err
			}
			f[i] = v
		}
		return RGBAValue(f[0], f[1], f[2], f[3]), nil
	default:
		return Value{}, ErrInvalidTag
	}
}

// readSlotRef decodes a slot-ref: u8 tag, then either a u8 input index or a
// u32 slot-space index depending on the tag.
func (c *cursor) readSlotRef() (SlotRef, error) {
	tag, err := c.readU8()
	if err != nil {
		return SlotRef{}, err
	}
	switch SlotTag(tag) {
	case SlotInput:
		idx, err := c.readU8()
		if err != nil {
			return SlotRef{}, err
		}
		if idx >= inputSlotCount {
			return SlotRef{}, ErrInvalidSlot
		}
		return SlotRef{Tag: SlotInput, Index: uint32(idx)}, nil
	case SlotParam, SlotFrameLet, SlotLet:
		idx, err := c.readU32()
		if err != nil {
			return SlotRef{}, err
		}
		return SlotRef{Tag: SlotTag(tag), Index: idx}, nil
	default:
		return SlotRef{}, ErrInvalidTag
	}
}
