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

// Package x64 implements the binary x86-64 emitter of spec §4.7: a
// closed set of argument kinds, REX/ModR/M/SIB/displacement/immediate
// encoding, and one encoder per arithmetic/data-movement/control-flow
// opcode. Grounded on the teacher's compile/codegen/asm_x86.go for the
// *operation set* needing encoders (falcon emits GNU-AT&T assembly text
// and shells out to `as`; this package instead produces the raw machine
// bytes `as` would have produced, since spec §4.4's Object stores native
// code directly and spec §4.9 loads it with no external assembler in
// the loop).
package x64

import "jasmine/internal/diag"

// Size is an operand width, spec §4.7's "enumerated by size
// (8/16/32/64/auto)".
type Size int

const (
	SizeAuto Size = iota
	Size8
	Size16
	Size32
	Size64
)

func (s Size) bytes() int {
	switch s {
	case Size8:
		return 1
	case Size16:
		return 2
	case Size32:
		return 4
	case Size64:
		return 8
	default:
		diag.Unreachable("bytes() called on auto/unknown Size %d", int(s))
		return 0
	}
}

// resolveSize implements spec §4.7's size-resolution rule: a concrete
// operand size constrains the instruction; if more than one operand
// carries a concrete size they must agree; auto is inferred from the
// other operand; all-auto is a class-1 error.
func resolveSize(sizes ...Size) (Size, error) {
	resolved := SizeAuto
	for _, s := range sizes {
		if s == SizeAuto {
			continue
		}
		if resolved == SizeAuto {
			resolved = s
			continue
		}
		if resolved != s {
			return SizeAuto, diag.Validationf("conflicting operand sizes: %v vs %v", resolved, s)
		}
	}
	if resolved == SizeAuto {
		return SizeAuto, diag.Validationf("cannot infer operand size: all operands are auto-sized")
	}
	return resolved, nil
}

// Inst is one encoded instruction: its machine-code bytes plus, if it
// references a symbol that is not yet at a known address (a jump/call
// target, or a RIP-relative static/global reference), the Reloc
// internal/select must register with the Object once the bytes have
// been written to a section (internal/object's DefineNative doc comment
// notes Object deliberately does not import this package, so Reloc is
// expressed here in address-kind-agnostic terms rather than as an
// object.Ref).
type Inst struct {
	Bytes []byte
	Reloc *Reloc
}

// RelocKind mirrors object.RefKind's relative/absolute distinction
// without importing package object (spec §2's dependency order: object
// precedes the emitter).
type RelocKind int

const (
	// RelRIP32 is a RIP-relative 32-bit displacement: the patched value
	// is (symbol_address - (site + FieldOffset)), matching x86-64's
	// call/jmp rel32 and `lea reg, [rip+disp32]` forms.
	RelRIP32 RelocKind = iota
	// RelAbs64 is a plain 64-bit absolute address, used by the
	// `mov reg, imm64` form that loads a symbol's address as a literal
	// (spec §4.4's native trampoline, and position-independence is out
	// of scope per spec's non-goals).
	RelAbs64
)

// Reloc names the byte range within Inst.Bytes that must be patched once
// the referenced symbol's address is known, and how to compute the
// patched value.
type Reloc struct {
	// Offset is the byte offset within Inst.Bytes where the field starts.
	Offset int
	Kind   RelocKind
	// Symbol is left to the caller: internal/select knows the
	// symtab.Symbol being referenced and calls Object.Reference itself,
	// since Object.Reference takes a symtab.Symbol and this package does
	// not otherwise need one (it only needs to know a relocation exists,
	// and where).
}
