// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package selector

import (
	"jasmine/internal/diag"
	"jasmine/internal/ir"
	"jasmine/internal/target"
	"jasmine/internal/types"
	"jasmine/internal/x64"
)

// lowerMov handles the plain `mov dst, src` opcode. A zero immediate
// routed into a register destination becomes `xor dst, dst` instead, spec
// §4.8's zero-immediate peephole applied to mov as well as add; any other
// combination goes through movArgs, which already knows how to split a
// memory-to-memory move and materialize a label-valued source.
func (s *selector) lowerMov(i int, insn *ir.Insn) error {
	sz := kindSize(insn.Type.Kind)
	dest := s.destArg(i, insn, sz)
	src := s.operand(i, insn.Params[1], sz)

	if imm, ok := src.(x64.Imm); ok && imm.Value == 0 {
		if destReg, ok := dest.(x64.Reg); ok {
			return s.put(x64.Xor(destReg, destReg))
		}
	}
	return s.movArgs(dest, src)
}

// lowerXchg swaps two operands' values via a 3-step scratch-register
// rotation: internal/x64 carries no hardware XCHG encoder (the teacher's
// asm_x86.go never needed one), and Jasmine's xchg opcode is rare enough
// that this is simpler than adding a dedicated encoder for it.
func (s *selector) lowerXchg(i int, insn *ir.Insn) error {
	sz := kindSize(insn.Type.Kind)
	a := s.operand(i, insn.Params[0], sz)
	b := s.operand(i, insn.Params[1], sz)
	scratch := x64.Reg{Phys: s.tgt.ScratchRegister(target.ClassInt), Sz: sz}

	if err := s.movArgs(scratch, a); err != nil {
		return err
	}
	if err := s.movArgs(a, b); err != nil {
		return err
	}
	return s.movArgs(b, scratch)
}

func (s *selector) lowerPush(i int, insn *ir.Insn) error {
	sz := kindSize(insn.Type.Kind)
	arg := s.operand(i, insn.Params[0], sz)
	return s.put(x64.Push(arg))
}

func (s *selector) lowerPop(i int, insn *ir.Insn) error {
	sz := kindSize(insn.Type.Kind)
	dest := s.destArg(i, insn, sz)
	return s.put(x64.Pop(dest))
}

// lowerLocal reserves stack space for one `local` declaration and loads
// its address into the destination, bump-allocating downward from the
// bottom of the allocator's spill area exactly as totalLocalsBytes summed
// ahead of time in run().
func (s *selector) lowerLocal(i int, insn *ir.Insn) error {
	size := localSize(s.obj, s.tgt, insn.Type)
	s.localsCursor += size
	offset := -(s.alloc.FrameSize + s.localsCursor)

	// dest always holds the local's address, a pointer, regardless of
	// insn.Type's own size: registerSize accounts for that (kindSize
	// alone would panic for a struct-typed local, and would be the wrong
	// width even for a primitive one — a local i32 still gets an 8-byte
	// address).
	sz := registerSize(insn.Type.Kind)
	dest := s.destArg(i, insn, sz)
	src := x64.Mem{HasBase: true, Base: target.RBP, Disp: int32(offset), Sz: x64.Size64}

	if destReg, ok := dest.(x64.Reg); ok {
		return s.put(x64.Lea(destReg, src))
	}
	scratch := x64.Reg{Phys: s.tgt.ScratchRegister(target.ClassInt), Sz: x64.Size64}
	if err := s.put(x64.Lea(scratch, src)); err != nil {
		return err
	}
	return s.movArgs(dest, scratch)
}

// lowerParam reconciles the calling convention's fixed argument location
// for this function's paramIdx-th parameter with wherever the allocator
// placed that value's live range, only emitting a move when the two
// differ (e.g. a register-passed argument immediately spilled, or an
// incoming stack argument the allocator chose to keep resident in a
// register for the rest of the function). A struct-by-value parameter
// (spec §8 scenario 5's `param Triple %0`) never has a scalar value to
// load at all: it is always memory-class (PlaceParameters), so it is
// handled separately by lowerStructParam before kindSize, which only
// knows primitive kinds, ever sees insn.Type.
func (s *selector) lowerParam(i int, insn *ir.Insn) error {
	imm, ok := insn.Params[1].(ir.ImmParam)
	diag.Assert(ok, "param: ordinal operand must be an immediate")
	paramIdx := int(imm.Value)

	tys, words := s.paramLayout()
	kinds := make([]types.Kind, len(tys))
	for idx, t := range tys {
		kinds[idx] = t.Kind
	}
	locs := s.tgt.PlaceParameters(kinds, words)
	diag.Assert(paramIdx < len(locs), "param: ordinal %d out of range", paramIdx)

	if insn.Type.Kind == types.Struct {
		return s.lowerStructParam(i, insn, locs[paramIdx])
	}

	sz := kindSize(insn.Type.Kind)
	src := s.locArg(locs[paramIdx], sz)
	dest := s.destArg(i, insn, sz)
	return s.movIfDiffer(dest, src)
}

// lowerStructParam binds paramIdx's destination register to the address
// of its struct-by-value argument's backing memory, rather than loading
// a value through it: the caller placed the struct's raw bytes at
// loc (always LocPushedR2L, per PlaceParameters), and every later use of
// this parameter addresses into it via a `[%reg + Type.field]` memory
// operand, exactly like a `local`'s destination register (lowerLocal).
func (s *selector) lowerStructParam(i int, insn *ir.Insn, loc target.Location) error {
	addr := s.locArg(loc, x64.Size64)
	src, ok := addr.(x64.Mem)
	diag.Assert(ok, "lowerStructParam: struct parameter location must be memory, got %T", addr)

	dest := s.destArg(i, insn, x64.Size64)
	if destReg, ok := dest.(x64.Reg); ok {
		return s.put(x64.Lea(destReg, src))
	}
	scratch := x64.Reg{Phys: s.tgt.ScratchRegister(target.ClassInt), Sz: x64.Size64}
	if err := s.put(x64.Lea(scratch, src)); err != nil {
		return err
	}
	return s.movArgs(dest, scratch)
}

// paramLayout recovers the enclosing function's full parameter-type list
// by scanning every `param` instruction in s.fn, plus each struct-by-value
// parameter's word count, so lowerParam can ask the target for the whole
// signature's placement (a parameter's location depends on every
// preceding parameter's kind and width, not just its own kind).
func (s *selector) paramLayout() ([]types.Type, []int) {
	var tys []types.Type
	for _, insn := range s.fn.Insns {
		if insn.Op != types.OpParam {
			continue
		}
		imm, ok := insn.Params[1].(ir.ImmParam)
		diag.Assert(ok, "param: ordinal operand must be an immediate")
		idx := int(imm.Value)
		for len(tys) <= idx {
			tys = append(tys, types.Prim(types.I64))
		}
		tys[idx] = insn.Type
	}
	words := make([]int, len(tys))
	for idx, t := range tys {
		if t.Kind == types.Struct {
			words[idx] = s.structWords(t)
		}
	}
	return tys, words
}

// structWords returns t's size in 8-byte words, rounded up, for a
// struct-by-value parameter's stack footprint.
func (s *selector) structWords(t types.Type) int {
	info := s.obj.Types().Lookup(t)
	size := s.tgt.Sizeof(info)
	return (size + 7) / 8
}
