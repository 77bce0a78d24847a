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

// Package ir implements the Jasmine virtual-instruction set of spec
// §4.5: opcodes, type descriptors, parameters, a text parser/printer,
// and a binary assembler/disassembler. Generalizes the teacher's
// compile/codegen/lir.go IOperand tagged-interface pattern from falcon's
// LIR (a lowering target fed by SSA) to Jasmine IR (the portable,
// serializable instruction stream this toolchain's core operates on).
package ir

import (
	"fmt"

	"jasmine/internal/symtab"
	"jasmine/internal/types"
)

// Opcode re-exports types.Opcode: the enum lives in package types so the
// leaf Target component can expose per-opcode clobber/hint data without
// importing this package (see internal/types/opcode.go).
type Opcode = types.Opcode

// Kind and Type re-export the types package's primitive-category model.
type Kind = types.Kind
type Type = types.Type

// Register is a Jasmine virtual register before allocation, or a
// physical one after; globals are addressed by symbol rather than by id
// (spec §3).
type Register struct {
	Global bool
	ID     uint64
	// Sym names a global register (e.g. "%main"); only meaningful when
	// Global is true.
	Sym symtab.Symbol
}

func (r Register) String() string {
	if r.Global {
		return fmt.Sprintf("%%%s", r.Sym.Name)
	}
	return fmt.Sprintf("%%%d", r.ID)
}

// MemKind distinguishes the four memory-operand sub-forms of spec §3.
type MemKind int

const (
	MemRegOffset MemKind = iota
	MemLabelOffset
	MemRegField
	MemLabelField
)

// Mem is the memory-operand sub-form of Param. Base is meaningful for
// MemRegOffset/MemRegField; Label is meaningful for MemLabelOffset/
// MemLabelField. For the offset kinds, Offset is a literal byte count;
// for the field kinds, StructType+Field are resolved against the type
// context's layout to produce a byte offset at emit time.
type Mem struct {
	Kind       MemKind
	Base       Register
	Label      symtab.Symbol
	Offset     int64
	StructType Type
	Field      string
}

// Param is the tagged variant of spec §3: Reg | Imm | Label | Mem.
type Param interface {
	isParam()
	String() string
}

type RegParam struct{ Reg Register }
type ImmParam struct{ Value int64 }
type LabelParam struct{ Sym symtab.Symbol }
type MemParam struct{ Mem Mem }

func (RegParam) isParam()   {}
func (ImmParam) isParam()   {}
func (LabelParam) isParam() {}
func (MemParam) isParam()   {}

func (p RegParam) String() string   { return p.Reg.String() }
func (p ImmParam) String() string   { return fmt.Sprintf("%d", p.Value) }
func (p LabelParam) String() string { return p.Sym.Name }
func (p MemParam) String() string {
	switch p.Mem.Kind {
	case MemRegOffset:
		return fmt.Sprintf("[%s + %d]", p.Mem.Base, p.Mem.Offset)
	case MemLabelOffset:
		return fmt.Sprintf("[%s + %d]", p.Mem.Label.Name, p.Mem.Offset)
	case MemRegField:
		return fmt.Sprintf("[%s + %s.%s]", p.Mem.Base, typeName(p.Mem.StructType), p.Mem.Field)
	case MemLabelField:
		return fmt.Sprintf("[%s + %s.%s]", p.Mem.Label.Name, typeName(p.Mem.StructType), p.Mem.Field)
	default:
		return "<bad-mem>"
	}
}

func typeName(t Type) string {
	// Resolved lazily by the printer, which has a *types.TypeContext in
	// scope; the zero-arg String() form here is only a fallback for
	// ad-hoc debugging (e.g. %v in a panic message).
	return fmt.Sprintf("T%d", t.ID)
}

// Insn is one Jasmine instruction: {label?, opcode, type, params[]}. The
// label, if present, names this instruction's position for branch
// targets and for discoverability as a function entry (the `frame`
// opcode, spec §4.6).
type Insn struct {
	Label  *symtab.Symbol
	Op     Opcode
	Type   Type
	Params []Param

	// Comment is a trailing comment the printer emits after the operands
	// (`  ; text`) when it is non-empty. The text parser never fills it:
	// the lexer discards `;` comments. The binary assembler does not
	// encode it either.
	Comment string
}

// Dest returns the instruction's first parameter, i.e. its destination
// for destructive opcodes, or nil if the instruction takes no operands.
func (i *Insn) Dest() Param {
	if len(i.Params) == 0 {
		return nil
	}
	return i.Params[0]
}

// Signature describes one opcode's fixed arity and per-slot parameter
// kind, enforced by both the text parser and the binary disassembler
// (spec §4.5: "a per-opcode component table").
type Signature struct {
	// NumParams is the fixed parameter count; -1 means variadic (used by
	// `call`, whose argument count matches the callee's arity, and by
	// `type`).
	NumParams int
	// HasType reports whether a type keyword follows the opcode mnemonic
	// in text form (e.g. `add i64 ...` vs bare `frame`).
	HasType bool
}

var signatures = map[Opcode]Signature{
	types.OpAdd: {3, true}, types.OpSub: {3, true}, types.OpMul: {3, true},
	types.OpDiv: {3, true}, types.OpRem: {3, true},
	types.OpAnd: {3, true}, types.OpOr: {3, true}, types.OpXor: {3, true},
	types.OpNot: {2, true},
	types.OpICast: {2, true}, types.OpF32Cast: {2, true}, types.OpF64Cast: {2, true},
	types.OpSxt: {2, true}, types.OpZxt: {2, true},
	types.OpSl: {3, true}, types.OpSlr: {3, true}, types.OpSar: {3, true},
	types.OpRol: {3, true}, types.OpRor: {3, true},
	types.OpMov: {2, true}, types.OpXchg: {2, true},
	types.OpLocal: {1, true}, types.OpParam: {2, true},
	types.OpPush: {1, true}, types.OpPop: {1, true},
	types.OpFrame: {0, false}, types.OpRet: {1, true},
	types.OpCall: {-1, true},
	types.OpJeq: {3, true}, types.OpJne: {3, true}, types.OpJl: {3, true},
	types.OpJle: {3, true}, types.OpJg: {3, true}, types.OpJge: {3, true},
	types.OpJump: {1, false}, types.OpNop: {1, false},
	types.OpCeq: {3, true}, types.OpCne: {3, true}, types.OpCl: {3, true},
	types.OpCle: {3, true}, types.OpCg: {3, true}, types.OpCge: {3, true},
	types.OpType: {-1, false}, types.OpGlobal: {1, true},
	types.OpLit: {1, false}, types.OpStat: {1, false},
}

// SignatureOf returns the component table entry for op.
func SignatureOf(op Opcode) (Signature, bool) {
	s, ok := signatures[op]
	return s, ok
}

// Uses collects every register-valued parameter of insn, including base
// registers of memory operands, as used by spec §4.6's liveness uses[i].
func (i *Insn) Uses() []Register {
	var regs []Register
	start := 0
	if i.Op.IsDestructive() {
		start = 1 // the destination (Params[0]) is a def, not a use
	}
	for idx, p := range i.Params {
		if idx < start {
			// still scan base registers of a destination memory operand:
			// writing through [%0+8] uses %0 even though it's Params[0]
			if m, ok := p.(MemParam); ok && (m.Mem.Kind == MemRegOffset || m.Mem.Kind == MemRegField) {
				regs = append(regs, m.Mem.Base)
			}
			continue
		}
		switch v := p.(type) {
		case RegParam:
			regs = append(regs, v.Reg)
		case MemParam:
			if v.Mem.Kind == MemRegOffset || v.Mem.Kind == MemRegField {
				regs = append(regs, v.Mem.Base)
			}
		}
	}
	return regs
}

// Def returns the register defined by insn, if any (only destructive
// opcodes with a register-valued first parameter define anything).
func (i *Insn) Def() (Register, bool) {
	if !i.Op.IsDestructive() || len(i.Params) == 0 {
		return Register{}, false
	}
	if r, ok := i.Params[0].(RegParam); ok {
		return r.Reg, true
	}
	return Register{}, false
}
