// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vm

import "bytes"

// Hard limits enforced at load time.
const (
	MaxExprInstructions    = 256
	MaxExprStack           = 32
	MaxLetSlots            = 128
	MaxStatementDepth      = 16
	MaxLoopIterations      = 1024
	DefaultStatementBudget = 8192
	MaxBytecodeBlob        = 65536

	// MaxExpressionViews and MaxStatementViews bound the parser's intern
	// tables. The wire format does not declare these counts up front, so
	// they're enforced as running totals while parsing.
	MaxExpressionViews = 512
	MaxStatementViews  = 512

	MaxParams = 64
	MaxLayers = 16
)

var magic = [4]byte{'D', 'S', 'L', 'B'}

const wireVersion = 3

type instrOp uint8

const (
	opPushLiteral instrOp = 1
	opPushSlot    instrOp = 2
	opNegate      instrOp = 3
	opAdd         instrOp = 4
	opSub         instrOp = 5
	opMul         instrOp = 6
	opDiv         instrOp = 7
	opCallBuiltin instrOp = 8
)

// instr is one decoded expression instruction, already validated for
// structural stack discipline at parse time.
type instr struct {
	op        instrOp
	literal   Value
	slot      SlotRef
	builtinID uint8
	argCount  uint8
}

// expr is a fully parsed, stack-validated expression: a flat instruction
// sequence that evaluates to exactly one value.
type expr struct {
	instrs   []instr
	maxStack uint32
}

type stmtKind uint8

const (
	stmtLet   stmtKind = 1
	stmtBlend stmtKind = 2
	stmtIf    stmtKind = 3
	stmtFor   stmtKind = 4
)

// stmt is one parsed statement. Only the fields relevant to Kind are set.
type stmt struct {
	kind stmtKind

	letSlot uint32
	letExpr *expr

	blendExpr *expr

	cond       *expr
	thenBlock  []stmt
	elseBlock  []stmt

	indexSlot uint32
	start     uint32
	end       uint32
	body      []stmt
}

// Param is one parsed parameter declaration.
type Param struct {
	DependsOnXY bool
	Expr        *expr
}

// Layer is one parsed per-pixel layer statement block.
type Layer struct {
	Stmts      []stmt
	MaxLetSlot int
}

// Program is a fully parsed and statically validated bytecode program. It is
// immutable; a Runtime executes it against mutable slot state.
type Program struct {
	Params []Param
	Frame  []stmt

	FrameMaxLetSlot int
	Layers          []Layer

	// HasDynamicParams is true when at least one parameter depends on
	// (x, y) and must be re-evaluated every pixel.
	HasDynamicParams bool

	// UniformAcrossXY is true when no layer statement block contains a
	// PUSH_SLOT referencing INPUT x or y and no parameter depends on (x, y),
	// so eval_pixel's result is the same for every (x, y) and the render
	// orchestrator may call it once and push a uniform color instead of
	// iterating every pixel.
	UniformAcrossXY bool
}

// parser holds the shared mutable state threaded through the recursive
// descent: a cursor over the blob, running counts against the intern-table
// limits, and the param count in scope for PUSH_SLOT PARAM validation.
type parser struct {
	c          *cursor
	paramCount int
	exprCount  int
	stmtCount  int
}

// Load parses and statically validates a bytecode blob, returning a Program
// ready for NewRuntime, or an error from the Status taxonomy.
func Load(blob []byte) (*Program, error) {
	if len(blob) > MaxBytecodeBlob {
		return nil, ErrLimit
	}
	c := newCursor(blob)

	var hdr [4]byte
	for i := range hdr {
		b, err := c.readU8()
		if err != nil {
			return nil, err
		}
		hdr[i] = b
	}
	if !bytes.Equal(hdr[:], magic[:]) {
		return nil, ErrBadMagic
	}
	version, err := c.readU16()
	if err != nil {
		return nil, err
	}
	if version != wireVersion {
		return nil, ErrUnsupportedVersion
	}
	if _, err := c.readU16(); err != nil { // reserved
		return nil, err
	}

	paramCount, err := c.readU32()
	if err != nil {
		return nil, err
	}
	if paramCount > MaxParams {
		return nil, ErrLimit
	}

	p := &parser{c: c, paramCount: int(paramCount)}

	params := make([]Param, paramCount)
	for i := range params {
		dep, err := c.readU8()
		if err != nil {
			return nil, err
		}
		if dep > 1 {
			return nil, ErrFormat
		}
		e, err := p.parseExpression(nil)
		if err != nil {
			return nil, err
		}
		params[i] = Param{DependsOnXY: dep == 1, Expr: e}
	}

	frameStmts, frameMaxLet, err := p.parseStatementBlock(true, 0, nil)
	if err != nil {
		return nil, err
	}

	layerCount, err := c.readU32()
	if err != nil {
		return nil, err
	}
	if layerCount > MaxLayers {
		return nil, ErrLimit
	}

	uniform := true
	layers := make([]Layer, layerCount)
	for i := range layers {
		stmts, maxLet, err := p.parseStatementBlock(false, 0, &uniform)
		if err != nil {
			return nil, err
		}
		layers[i] = Layer{Stmts: stmts, MaxLetSlot: maxLet}
	}

	if c.remaining() != 0 {
		return nil, ErrFormat
	}

	hasDynamic := false
	for _, prm := range params {
		if prm.DependsOnXY {
			hasDynamic = true
			break
		}
	}
	// A dynamic parameter's expression is evaluated per pixel, so its result
	// can vary with (x, y) even though no layer reads INPUT x/y directly.
	if hasDynamic {
		uniform = false
	}

	return &Program{
		Params:           params,
		Frame:            frameStmts,
		FrameMaxLetSlot:  frameMaxLet,
		Layers:           layers,
		HasDynamicParams: hasDynamic,
		UniformAcrossXY:  uniform,
	}, nil
}

// parseExpression parses one expression, simulating its stack discipline and
// recording sawXY when a layer's PUSH_SLOT reads INPUT x or y. sawXY is nil
// while parsing parameter expressions and the frame block, where an x/y read
// doesn't affect the render fast path.
func (p *parser) parseExpression(sawXY *bool) (*expr, error) {
	p.exprCount++
	if p.exprCount > MaxExpressionViews {
		return nil, ErrLimit
	}
	declaredMax, err := p.c.readU32()
	if err != nil {
		return nil, err
	}
	if declaredMax < 1 || declaredMax > MaxExprStack {
		return nil, ErrLimit
	}
	count, err := p.c.readU32()
	if err != nil {
		return nil, err
	}
	if count < 1 || count > MaxExprInstructions {
		return nil, ErrLimit
	}

	instrs := make([]instr, 0, count)
	depth := int64(0)
	for i := uint32(0); i < count; i++ {
		opByte, err := p.c.readU8()
		if err != nil {
			return nil, err
		}
		it := instr{op: instrOp(opByte)}
		switch it.op {
		case opPushLiteral:
			v, err := p.c.readValue()
			if err != nil {
				return nil, err
			}
			it.literal = v
			depth++
		case opPushSlot:
			ref, err := p.c.readSlotRef()
			if err != nil {
				return nil, err
			}
			if err := p.validateSlotRef(ref); err != nil {
				return nil, err
			}
			if sawXY != nil && ref.Tag == SlotInput && (ref.Index == InputX || ref.Index == InputY) {
				*sawXY = false
			}
			it.slot = ref
			depth++
		case opNegate:
			if depth < 1 {
				return nil, ErrStackUnderflow
			}
		case opAdd, opSub, opMul, opDiv:
			if depth < 2 {
				return nil, ErrStackUnderflow
			}
			depth--
		case opCallBuiltin:
			id, err := p.c.readU8()
			if err != nil {
				return nil, err
			}
			argCount, err := p.c.readU8()
			if err != nil {
				return nil, err
			}
			if id >= builtinCount {
				return nil, ErrInvalidBuiltin
			}
			if argCount < 1 || argCount > 8 {
				return nil, ErrLimit
			}
			if depth < int64(argCount) {
				return nil, ErrStackUnderflow
			}
			depth -= int64(argCount) - 1
			it.builtinID = id
			it.argCount = argCount
		default:
			return nil, ErrInvalidOpcode
		}
		if depth < 0 || depth > int64(declaredMax) || depth > MaxExprStack {
			return nil, ErrStackOverflow
		}
		instrs = append(instrs, it)
	}
	if depth != 1 {
		return nil, ErrFormat
	}
	return &expr{instrs: instrs, maxStack: declaredMax}, nil
}

// validateSlotRef checks a PUSH_SLOT slot-ref against the slot spaces known
// at parse time. Input refs are already range-checked by readSlotRef.
func (p *parser) validateSlotRef(ref SlotRef) error {
	switch ref.Tag {
	case SlotParam:
		if ref.Index >= uint32(p.paramCount) {
			return ErrInvalidSlot
		}
	case SlotFrameLet, SlotLet:
		if ref.Index >= MaxLetSlots {
			return ErrInvalidSlot
		}
	}
	return nil
}

// parseStatementBlock parses stmt_count statements, recursing into IF/FOR
// bodies. frameMode disallows BLEND. sawXY, when non-nil, is cleared to
// false the first time a layer PUSH_SLOT references INPUT x or y (note: it
// starts true and is set false on a sighting, matching Program.UniformAcrossXY's
// polarity).
func (p *parser) parseStatementBlock(frameMode bool, depth int, sawXY *bool) ([]stmt, int, error) {
	if depth > MaxStatementDepth {
		return nil, 0, ErrLimit
	}
	count, err := p.c.readU32()
	if err != nil {
		return nil, 0, err
	}
	maxLet := 0
	stmts := make([]stmt, 0, count)
	for i := uint32(0); i < count; i++ {
		p.stmtCount++
		if p.stmtCount > MaxStatementViews {
			return nil, 0, ErrLimit
		}
		kindByte, err := p.c.readU8()
		if err != nil {
			return nil, 0, err
		}
		var s stmt
		switch stmtKind(kindByte) {
		case stmtLet:
			slot, err := p.c.readU32()
			if err != nil {
				return nil, 0, err
			}
			if slot >= MaxLetSlots {
				return nil, 0, ErrInvalidSlot
			}
			e, err := p.parseExpression(sawXY)
			if err != nil {
				return nil, 0, err
			}
			if int(slot)+1 > maxLet {
				maxLet = int(slot) + 1
			}
			s = stmt{kind: stmtLet, letSlot: slot, letExpr: e}
		case stmtBlend:
			if frameMode {
				return nil, 0, ErrFormat
			}
			e, err := p.parseExpression(sawXY)
			if err != nil {
				return nil, 0, err
			}
			s = stmt{kind: stmtBlend, blendExpr: e}
		case stmtIf:
			cond, err := p.parseExpression(sawXY)
			if err != nil {
				return nil, 0, err
			}
			thenBlock, thenMax, err := p.parseStatementBlock(frameMode, depth+1, sawXY)
			if err != nil {
				return nil, 0, err
			}
			elseBlock, elseMax, err := p.parseStatementBlock(frameMode, depth+1, sawXY)
			if err != nil {
				return nil, 0, err
			}
			if thenMax > maxLet {
				maxLet = thenMax
			}
			if elseMax > maxLet {
				maxLet = elseMax
			}
			s = stmt{kind: stmtIf, cond: cond, thenBlock: thenBlock, elseBlock: elseBlock}
		case stmtFor:
			indexSlot, err := p.c.readU32()
			if err != nil {
				return nil, 0, err
			}
			if indexSlot >= MaxLetSlots {
				return nil, 0, ErrInvalidSlot
			}
			start, err := p.c.readU32()
			if err != nil {
				return nil, 0, err
			}
			end, err := p.c.readU32()
			if err != nil {
				return nil, 0, err
			}
			if end < start {
				return nil, 0, ErrFormat
			}
			body, bodyMax, err := p.parseStatementBlock(frameMode, depth+1, sawXY)
			if err != nil {
				return nil, 0, err
			}
			if int(indexSlot)+1 > maxLet {
				maxLet = int(indexSlot) + 1
			}
			if bodyMax > maxLet {
				maxLet = bodyMax
			}
			s = stmt{kind: stmtFor, indexSlot: indexSlot, start: start, end: end, body: body}
		default:
			return nil, 0, ErrInvalidOpcode
		}
		stmts = append(stmts, s)
	}
	return stmts, maxLet, nil
}
