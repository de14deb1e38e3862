// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vm

import (
	"math"
)

// blobBuilder assembles a DSLB v3 blob by hand, byte by byte, so the parser
// tests exercise the real wire format instead of a round-trip through Load
// itself.
type blobBuilder struct {
	buf []byte
}

func newBlob() *blobBuilder { return &blobBuilder{} }

func (b *blobBuilder) u8(v uint8) *blobBuilder {
	b.buf = append(b.buf, v)
	return b
}

func (b *blobBuilder) u16(v uint16) *blobBuilder {
	b.buf = append(b.buf, byte(v), byte(v>>8))
	return b
}

func (b *blobBuilder) u32(v uint32) *blobBuilder {
	b.buf = append(b.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	return b
}

func (b *blobBuilder) f32(v float32) *blobBuilder {
	return b.u32(math.Float32bits(v))
}

func (b *blobBuilder) header() *blobBuilder {
	b.buf = append(b.buf, 'D', 'S', 'L', 'B')
	return b.u16(3).u16(0)
}

func (b *blobBuilder) bytes() []byte { return b.buf }

// scalarLiteral appends a PUSH_LITERAL scalar instruction.
func (b *blobBuilder) scalarLiteral(v float32) *blobBuilder {
	return b.u8(1).u8(1).f32(v)
}

func (b *blobBuilder) negate() *blobBuilder { return b.u8(3) }
func (b *blobBuilder) add() *blobBuilder    { return b.u8(4) }
func (b *blobBuilder) sub() *blobBuilder    { return b.u8(5) }
func (b *blobBuilder) mul() *blobBuilder    { return b.u8(6) }
func (b *blobBuilder) div() *blobBuilder    { return b.u8(7) }

func (b *blobBuilder) callBuiltin(id uint8, argCount uint8) *blobBuilder {
	return b.u8(8).u8(id).u8(argCount)
}

func (b *blobBuilder) pushInput(idx uint8) *blobBuilder {
	return b.u8(2).u8(1).u8(idx)
}

func (b *blobBuilder) pushParam(idx uint32) *blobBuilder {
	return b.u8(2).u8(2).u32(idx)
}

func (b *blobBuilder) pushFrameLet(idx uint32) *blobBuilder {
	return b.u8(2).u8(3).u32(idx)
}

func (b *blobBuilder) pushLet(idx uint32) *blobBuilder {
	return b.u8(2).u8(4).u32(idx)
}

// expr writes a complete expression header (declared_max_stack,
// instruction_count) followed by the already-built instruction bytes.
func (b *blobBuilder) expr(declaredMaxStack uint32, instructionCount uint32, instrBytes []byte) *blobBuilder {
	b.u32(declaredMaxStack).u32(instructionCount)
	b.buf = append(b.buf, instrBytes...)
	return b
}

// rawBlock appends a raw, already-encoded statement block (u32 count plus
// statement bytes) as-is, used for nested IF/FOR bodies and to splice
// sub-builders together.
func (b *blobBuilder) rawBlock(blockBytes []byte) *blobBuilder {
	b.buf = append(b.buf, blockBytes...)
	return b
}

func emptyBlock() []byte {
	return newBlob().u32(0).bytes()
}

// instrBuilder builds just the instruction bytes of an expression (without
// the declared_max_stack/instruction_count prefix), for use with expr().
type instrBuilder struct {
	buf   []byte
	count uint32
}

func newInstrs() *instrBuilder { return &instrBuilder{} }

func (ib *instrBuilder) pushLiteralScalar(v float32) *instrBuilder {
	ib.buf = append(ib.buf, 1, 1)
	bits := math.Float32bits(v)
	ib.buf = append(ib.buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	ib.count++
	return ib
}

func (ib *instrBuilder) pushInput(idx uint8) *instrBuilder {
	ib.buf = append(ib.buf, 2, 1, idx)
	ib.count++
	return ib
}

func (ib *instrBuilder) pushU32Slot(tag uint8, idx uint32) *instrBuilder {
	ib.buf = append(ib.buf, 2, tag, byte(idx), byte(idx>>8), byte(idx>>16), byte(idx>>24))
	ib.count++
	return ib
}

func (ib *instrBuilder) pushParam(idx uint32) *instrBuilder     { return ib.pushU32Slot(2, idx) }
func (ib *instrBuilder) pushFrameLet(idx uint32) *instrBuilder { return ib.pushU32Slot(3, idx) }
func (ib *instrBuilder) pushLet(idx uint32) *instrBuilder      { return ib.pushU32Slot(4, idx) }

func (ib *instrBuilder) op(code uint8) *instrBuilder {
	ib.buf = append(ib.buf, code)
	ib.count++
	return ib
}

func (ib *instrBuilder) callBuiltin(id, argCount uint8) *instrBuilder {
	ib.buf = append(ib.buf, 8, id, argCount)
	ib.count++
	return ib
}
