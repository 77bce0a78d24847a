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

package types

import "jasmine/internal/diag"

// Opcode enumerates the Jasmine IR instruction vocabulary of spec §4.5.
// It lives in package types (rather than package ir) so that the leaf
// Target component can expose per-opcode clobber/hint data (spec §4.3)
// without depending on the larger ir package, matching the leaves-first
// dependency order of spec §2's component table.
type Opcode int

const (
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpNot
	OpICast
	OpF32Cast
	OpF64Cast
	OpSxt
	OpZxt
	OpSl
	OpSlr
	OpSar
	OpRol
	OpRor
	OpMov
	OpXchg
	OpLocal
	OpParam
	OpPush
	OpPop
	OpFrame
	OpRet
	OpCall
	OpJeq
	OpJne
	OpJl
	OpJle
	OpJg
	OpJge
	OpJump
	OpNop
	OpCeq
	OpCne
	OpCl
	OpCle
	OpCg
	OpCge
	OpType
	OpGlobal
	OpLit
	OpStat
)

var opcodeNames = map[Opcode]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpRem: "rem",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpNot: "not",
	OpICast: "icast", OpF32Cast: "f32cast", OpF64Cast: "f64cast",
	OpSxt: "sxt", OpZxt: "zxt",
	OpSl: "sl", OpSlr: "slr", OpSar: "sar", OpRol: "rol", OpRor: "ror",
	OpMov: "mov", OpXchg: "xchg", OpLocal: "local", OpParam: "param",
	OpPush: "push", OpPop: "pop",
	OpFrame: "frame", OpRet: "ret", OpCall: "call",
	OpJeq: "jeq", OpJne: "jne", OpJl: "jl", OpJle: "jle", OpJg: "jg", OpJge: "jge",
	OpJump: "jump", OpNop: "nop",
	OpCeq: "ceq", OpCne: "cne", OpCl: "cl", OpCle: "cle", OpCg: "cg", OpCge: "cge",
	OpType: "type", OpGlobal: "global", OpLit: "lit", OpStat: "stat",
}

var namesToOpcode = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for k, v := range opcodeNames {
		m[v] = k
	}
	return m
}()

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	diag.Unreachable("unknown opcode %d", int(op))
	return ""
}

// ParseOpcode looks up an Opcode by mnemonic, as used by the text IR
// parser and the class-1 "unknown opcode" diagnostic.
func ParseOpcode(s string) (Opcode, bool) {
	op, ok := namesToOpcode[s]
	return op, ok
}

// IsDestructive reports whether an instruction with this opcode writes
// its first operand in place — the definition spec §4.6's liveness rule
// uses to populate defs[i]. push, not, and ret are explicitly excluded
// per spec: not writes a separate destination (handled as a 2-operand
// form: not dst, src), push only reads, ret only reads its operand.
func (op Opcode) IsDestructive() bool {
	switch op {
	case OpPush, OpNot, OpRet, OpFrame, OpJeq, OpJne, OpJl, OpJle, OpJg, OpJge,
		OpJump, OpNop, OpType, OpGlobal, OpLit, OpStat:
		return false
	default:
		return true
	}
}

// IsTerminator reports whether op ends a basic block (unconditional
// control transfer or function return).
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpJump, OpRet:
		return true
	default:
		return false
	}
}

// IsConditionalJump reports whether op is one of jeq/jne/jl/jle/jg/jge.
func (op Opcode) IsConditionalJump() bool {
	switch op {
	case OpJeq, OpJne, OpJl, OpJle, OpJg, OpJge:
		return true
	default:
		return false
	}
}

// IsComparison reports whether op produces a boolean in a register
// (ceq/cne/cl/cle/cg/cge).
func (op Opcode) IsComparison() bool {
	switch op {
	case OpCeq, OpCne, OpCl, OpCle, OpCg, OpCge:
		return true
	default:
		return false
	}
}
