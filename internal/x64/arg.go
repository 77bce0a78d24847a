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

package x64

import "jasmine/internal/target"

// Arg is the closed operand-kind set of spec §4.7: a register, an
// immediate, a control-transfer target, a 64-bit absolute literal (Abs),
// or a memory reference. Mem covers register+offset,
// scaled-index-base+index*scale+offset and RIP-relative addressing in one
// struct — Mem's fields select among these by which ones are populated,
// generalizing the teacher's asm_x86.go IOperand
// interface-per-addressing-mode split into one struct, since all of
// those forms share a single ModR/M+SIB+disp encoding path.
type Arg interface {
	isArg()
	size() Size
}

// Reg is a bare register operand.
type Reg struct {
	Phys target.PhysReg
	Sz   Size
}

func (Reg) isArg()      {}
func (r Reg) size() Size { return r.Sz }

// Imm is an immediate constant.
type Imm struct {
	Value int64
	Sz    Size
}

func (Imm) isArg()      {}
func (i Imm) size() Size { return i.Sz }

// LabelTarget is a bare control-transfer target: `jmp label` / `call
// label`, encoded as a rel32 displacement (this package emits no rel8
// form) patched once the callee's address is known. It carries no Size of its
// own — control-transfer instructions are always a fixed opcode width.
type LabelTarget struct{}

func (LabelTarget) isArg()      {}
func (LabelTarget) size() Size { return SizeAuto }

// Mem is a memory operand. Exactly one addressing combination applies:
//
//   - HasBase && !HasIndex:  register+offset  [base+disp]
//   - HasBase && HasIndex:   scaled-index     [base+index*scale+disp]
//   - !HasBase:              RIP-relative     [rip+disp32]; with RIPRelative
//     set, encodeMem also returns a RelRIP32 Reloc for the disp32 field
//
// RIPRelative is honoured only without a base: with HasBase set it is
// ignored and Disp is encoded as a plain constant, so there is no
// register+label form. Mem has no typed-field form either: internal/select
// (which has the *types.TypeContext in scope) resolves a field offset into
// a plain Disp before encoding, keeping this package free of a
// types.TypeContext dependency.
type Mem struct {
	HasBase  bool
	Base     target.PhysReg
	HasIndex bool
	Index    target.PhysReg
	Scale    int8 // 1, 2, 4, or 8; meaningful only when HasIndex
	Disp     int32

	// RIPRelative marks Disp as relative to the next instruction's
	// address rather than a literal constant; encodeMem writes Disp into
	// the disp32 field and returns a Reloc for the caller to patch once the
	// symbol's address is known. Honoured only when HasBase is false.
	RIPRelative bool

	Sz Size
}

func (Mem) isArg()      {}
func (m Mem) size() Size { return m.Sz }

// Abs is a 64-bit absolute address loaded as a literal immediate (the
// only Jasmine use: `mov reg, imm64` populated with a not-yet-known
// symbol address, patched via a RelAbs64 Reloc once the object's
// sections are placed). Distinct from Imm so selectors cannot
// accidentally feed a 64-bit immediate to an 8/16/32-bit instruction
// form that has no encoding for it.
type Abs struct {
	Value uint64
}

func (Abs) isArg()      {}
func (Abs) size() Size { return Size64 }

// extIndex reports whether a register index is in the extended block
// (R8-R15, XMM8-XMM15) requiring a REX.R/X/B bit to address.
func extIndex(i int) bool { return i >= 8 }

// lowBits returns the 3-bit field x86-64 encodes in ModR/M/SIB/opcode
// for a register index, ignoring the REX extension bit.
func lowBits(i int) byte { return byte(i & 7) }

// needsRexForByte reports whether an 8-bit operand referencing this
// register requires a REX prefix simply to be encoded as SPL/BPL/SIL/DIL
// rather than the legacy AH/CH/DH/BH encodings that share the same
// 3-bit index (spec §4.7: "byte-register constraints on RBP/RSP/RSI/
// RDI").
func needsRexForByte(p target.PhysReg, sz Size) bool {
	if sz != Size8 {
		return false
	}
	switch p.Index {
	case target.RSP.Index, target.RBP.Index, target.RSI.Index, target.RDI.Index:
		return true
	default:
		return false
	}
}
