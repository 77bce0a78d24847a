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

import "jasmine/internal/diag"

// group3Ext is the ModR/M.reg opcode-extension field for the 0xF6/0xF7
// unary/test instruction group.
type group3Ext byte

const (
	group3Test group3Ext = 0
	group3Not  group3Ext = 2
	group3Neg  group3Ext = 3
	group3Mul  group3Ext = 4
	group3IMul group3Ext = 5
	group3Div  group3Ext = 6
	group3IDiv group3Ext = 7
)

func encodeGroup3Unary(ext group3Ext, dst Arg) (Inst, error) {
	sz, err := resolveSize(dst.size())
	if err != nil {
		return Inst{}, err
	}
	e := &encoded{}
	w := sz == Size64
	if needsRex(dst, w, sz) {
		e.emit(rex(w, false, destNeedsX(dst), destNeedsB(dst)))
	}
	if sz == Size8 {
		e.emit(0xF6)
	} else {
		e.emit(0xF7)
	}
	if _, err := encodeGroup1Operand(e, byte(ext), dst, sz); err != nil {
		return Inst{}, err
	}
	return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
}

// Not encodes the in-place bitwise complement of dst (0xF7 /2, or 0xF6 /2
// for a byte). x86-64's NOT has no 2-operand form, so the selector
// arranges dst==src before lowering Jasmine's 2-operand `not dst, src`
// to this one instruction; Not itself emits no move.
func Not(dst Arg) (Inst, error) { return encodeGroup3Unary(group3Not, dst) }

// Neg encodes two's-complement negation (used by internal/select to lower
// a multiplication by -1).
func Neg(dst Arg) (Inst, error) { return encodeGroup3Unary(group3Neg, dst) }

// Push encodes `push src`: register (0x50+rd), memory (0xFF /6), or a
// 32-bit sign-extended immediate (0x68). Push/pop always operate at
// 64-bit width in long mode; no REX.W is needed or permitted for them.
func Push(src Arg) (Inst, error) {
	e := &encoded{}
	switch s := src.(type) {
	case Reg:
		if extIndex(s.Phys.Index) {
			e.emit(rex(false, false, false, true))
		}
		e.emit(0x50 + lowBits(s.Phys.Index))
	case Mem:
		if s.HasBase && extIndex(s.Base.Index) || s.HasIndex && extIndex(s.Index.Index) {
			e.emit(rex(false, false, s.HasIndex && extIndex(s.Index.Index), s.HasBase && extIndex(s.Base.Index)))
		}
		e.emit(0xFF)
		_, _ = encodeMem(e, 6, s)
	case Imm:
		e.emit(0x68)
		e.emitLE32(uint32(s.Value))
	default:
		return Inst{}, diag.Validationf("push: unsupported operand %T", src)
	}
	return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
}

// Pop encodes `pop dst`: register (0x58+rd) or memory (0x8F /0).
func Pop(dst Arg) (Inst, error) {
	e := &encoded{}
	switch d := dst.(type) {
	case Reg:
		if extIndex(d.Phys.Index) {
			e.emit(rex(false, false, false, true))
		}
		e.emit(0x58 + lowBits(d.Phys.Index))
	case Mem:
		if d.HasBase && extIndex(d.Base.Index) || d.HasIndex && extIndex(d.Index.Index) {
			e.emit(rex(false, false, d.HasIndex && extIndex(d.Index.Index), d.HasBase && extIndex(d.Base.Index)))
		}
		e.emit(0x8F)
		_, _ = encodeMem(e, 0, d)
	default:
		return Inst{}, diag.Validationf("pop: unsupported operand %T", dst)
	}
	return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
}
