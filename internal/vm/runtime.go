// Copyright 2016 The PIO Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vm

// Runtime evaluates a Program against mutable slot state. It is not safe
// for concurrent use; the render orchestrator serializes BeginFrame/EvalPixel
// calls under the server-state lock.
type Runtime struct {
	prog *Program

	paramValues []Value
	frameValues [MaxLetSlots]Value
	letValues   [MaxLetSlots]Value

	timeSec             float32
	frameCounter        uint32
	x, y, width, height float32

	budget      int
	accumulator Color
}

// NewRuntime allocates a Runtime for prog sized to a width x height panel.
// INPUT width/height read back whatever was passed here for the lifetime of
// the Runtime.
func NewRuntime(prog *Program, width, height int) *Runtime {
	return &Runtime{
		prog:        prog,
		paramValues: make([]Value, len(prog.Params)),
		width:       float32(width),
		height:      float32(height),
	}
}

// BeginFrame resets frame and let slots, evaluates the static (non-(x,y))
// parameters, and executes the frame statement block once.
func (r *Runtime) BeginFrame(timeSec float32, frameCounter uint32) error {
	r.timeSec = timeSec
	r.frameCounter = frameCounter
	r.x, r.y = 0, 0
	for i := range r.frameValues {
		r.frameValues[i] = ScalarValue(0)
	}
	for i := range r.letValues {
		r.letValues[i] = ScalarValue(0)
	}
	if err := r.evaluateParams(false); err != nil {
		return err
	}
	r.budget = DefaultStatementBudget
	return r.executeBlock(r.prog.Frame, true, 0)
}

// EvalPixel evaluates every layer at (x, y) in order, compositing each
// layer's BLEND result over the accumulator with source-over blending, and
// returns the final straight-alpha color.
func (r *Runtime) EvalPixel(x, y float32) (Color, error) {
	r.x, r.y = x, y
	if r.prog.HasDynamicParams {
		if err := r.evaluateParams(true); err != nil {
			return Color{}, err
		}
	}
	r.accumulator = Color{0, 0, 0, 1}
	r.budget = DefaultStatementBudget
	for _, layer := range r.prog.Layers {
		// Per-layer let slots start from the frame snapshot: frameValues
		// already holds whatever BeginFrame's LETs wrote over the zeroed
		// baseline, so one copy both resets and seeds every slot.
		r.letValues = r.frameValues
		if err := r.executeBlock(layer.Stmts, false, 0); err != nil {
			return Color{}, err
		}
	}
	return r.accumulator, nil
}

// evaluateParams evaluates every parameter whose DependsOnXY matches want,
// leaving the others untouched.
func (r *Runtime) evaluateParams(want bool) error {
	for i, prm := range r.prog.Params {
		if prm.DependsOnXY != want {
			continue
		}
		v, err := r.evalExpr(prm.Expr)
		if err != nil {
			return err
		}
		sv, err := v.AsScalar()
		if err != nil {
			return err
		}
		r.paramValues[i] = ScalarValue(sv)
	}
	return nil
}

func (r *Runtime) loadSlot(ref SlotRef) (Value, error) {
	switch ref.Tag {
	case SlotInput:
		switch ref.Index {
		case InputTime:
			return ScalarValue(r.timeSec), nil
		case InputFrame:
			return ScalarValue(float32(r.frameCounter)), nil
		case InputX:
			return ScalarValue(r.x), nil
		case InputY:
			return ScalarValue(r.y), nil
		case InputWidth:
			return ScalarValue(r.width), nil
		case InputHeight:
			return ScalarValue(r.height), nil
		}
		return Value{}, ErrInvalidSlot
	case SlotParam:
		if int(ref.Index) >= len(r.paramValues) {
			return Value{}, ErrInvalidSlot
		}
		return r.paramValues[ref.Index], nil
	case SlotFrameLet:
		if ref.Index >= MaxLetSlots {
			return Value{}, ErrInvalidSlot
		}
		return r.frameValues[ref.Index], nil
	case SlotLet:
		if ref.Index >= MaxLetSlots {
			return Value{}, ErrInvalidSlot
		}
		return r.letValues[ref.Index], nil
	}
	return Value{}, ErrInvalidSlot
}

// evalExpr runs e's instruction sequence over a small value stack. The
// parser has already proven the sequence leaves exactly one value on the
// stack and never over/underflows, so this never needs to bounds-check sp.
func (r *Runtime) evalExpr(e *expr) (Value, error) {
	var stack [MaxExprStack]Value
	sp := 0
	for _, in := range e.instrs {
		switch in.op {
		case opPushLiteral:
			stack[sp] = in.literal
			sp++
		case opPushSlot:
			v, err := r.loadSlot(in.slot)
			if err != nil {
				return Value{}, err
			}
			stack[sp] = v
			sp++
		case opNegate:
			sp--
			sv, err := stack[sp].AsScalar()
			if err != nil {
				return Value{}, err
			}
			stack[sp] = ScalarValue(-sv)
			sp++
		case opAdd, opSub, opMul, opDiv:
			sp--
			bv, err := stack[sp].AsScalar()
			if err != nil {
				return Value{}, err
			}
			sp--
			av, err := stack[sp].AsScalar()
			if err != nil {
				return Value{}, err
			}
			var out float32
			switch in.op {
			case opAdd:
				out = av + bv
			case opSub:
				out = av - bv
			case opMul:
				out = av * bv
			case opDiv:
				out = av / bv
			}
			stack[sp] = ScalarValue(out)
			sp++
		case opCallBuiltin:
			n := int(in.argCount)
			sp -= n
			args := stack[sp : sp+n]
			v, err := evalBuiltin(in.builtinID, args)
			if err != nil {
				return Value{}, err
			}
			stack[sp] = v
			sp++
		}
	}
	return stack[0], nil
}

// executeBlock runs stmts in order, decrementing the shared statement budget
// once per statement (including statements inside IF/FOR bodies) and
// enforcing the nesting depth limit.
func (r *Runtime) executeBlock(stmts []stmt, frameMode bool, depth int) error {
	if depth > MaxStatementDepth {
		return ErrLimit
	}
	for _, s := range stmts {
		if r.budget <= 0 {
			return ErrExecBudget
		}
		r.budget--
		switch s.kind {
		case stmtLet:
			v, err := r.evalExpr(s.letExpr)
			if err != nil {
				return err
			}
			r.letValues[s.letSlot] = v
			if frameMode {
				r.frameValues[s.letSlot] = v
			}
		case stmtBlend:
			v, err := r.evalExpr(s.blendExpr)
			if err != nil {
				return err
			}
			c, err := v.AsRGBA()
			if err != nil {
				return err
			}
			r.accumulator = BlendOver(c, r.accumulator)
		case stmtIf:
			cv, err := r.evalExpr(s.cond)
			if err != nil {
				return err
			}
			sv, err := cv.AsScalar()
			if err != nil {
				return err
			}
			if sv > 0 {
				if err := r.executeBlock(s.thenBlock, frameMode, depth+1); err != nil {
					return err
				}
			} else if err := r.executeBlock(s.elseBlock, frameMode, depth+1); err != nil {
				return err
			}
		case stmtFor:
			if s.end-s.start > MaxLoopIterations {
				return ErrLoopLimit
			}
			for idx := s.start; idx < s.end; idx++ {
				r.letValues[s.indexSlot] = ScalarValue(float32(idx))
				if err := r.executeBlock(s.body, frameMode, depth+1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
