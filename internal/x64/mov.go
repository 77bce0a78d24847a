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

// Mov encodes `mov dst, src` across all three src shapes Jasmine's
// selector needs: register-to-register/memory (0x88/0x89/0x8A/0x8B,
// same reg/rm grid shape as the arithmetic encoder but its own opcode),
// 32-bit-or-narrower immediate-to-register/memory (0xC6/0xC7, opcode
// extension 0), and 64-bit immediate-to-register (0xB8+rd, the only
// x86-64 form that can hold a full imm64 — used for loading a symbol's
// absolute address into a register per spec §4.4's native trampoline).
func Mov(dst Arg, src Arg) (Inst, error) {
	if abs, ok := src.(Abs); ok {
		return movImm64(dst, abs)
	}

	sz, err := resolveSize(dst.size(), src.size())
	if err != nil {
		return Inst{}, err
	}
	e := &encoded{}
	w := sz == Size64

	if imm, ok := src.(Imm); ok {
		if sz == Size16 {
			e.emit(0x66)
		}
		if needsRex(dst, w, sz) {
			e.emit(rex(w, false, destNeedsX(dst), destNeedsB(dst)))
		}
		if sz == Size8 {
			e.emit(0xC6)
		} else {
			e.emit(0xC7)
		}
		if _, err := encodeGroup1Operand(e, 0, dst, sz); err != nil {
			return Inst{}, err
		}
		immSz := sz
		if sz == Size64 {
			immSz = Size32 // 0xC7's immediate is always imm32, sign-extended
		}
		e.emitImm(imm.Value, immSz)
		return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
	}

	if sz == Size16 {
		e.emit(0x66)
	}
	switch d := dst.(type) {
	case Reg:
		switch s := src.(type) {
		case Reg:
			if needsRex(dst, w, sz) || needsRex(src, w, sz) {
				e.emit(rex(w, extIndex(s.Phys.Index), false, extIndex(d.Phys.Index)))
			}
			if sz == Size8 {
				e.emit(0x8A)
			} else {
				e.emit(0x8B)
			}
			e.emit(modrm(mod11, lowBits(s.Phys.Index), lowBits(d.Phys.Index)))
		case Mem:
			if needsRex(dst, w, sz) || s.HasBase && extIndex(s.Base.Index) || s.HasIndex && extIndex(s.Index.Index) {
				e.emit(rex(w, extIndex(d.Phys.Index), s.HasIndex && extIndex(s.Index.Index), s.HasBase && extIndex(s.Base.Index)))
			}
			if sz == Size8 {
				e.emit(0x8A)
			} else {
				e.emit(0x8B)
			}
			_, _ = encodeMem(e, lowBits(d.Phys.Index), s)
		default:
			return Inst{}, diag.Validationf("mov: unsupported source %T", src)
		}
	case Mem:
		srcReg, ok := src.(Reg)
		if !ok {
			return Inst{}, diag.Validationf("mov: memory-to-memory is not encodable; route through a scratch register")
		}
		if needsRex(srcReg, w, sz) || d.HasBase && extIndex(d.Base.Index) || d.HasIndex && extIndex(d.Index.Index) {
			e.emit(rex(w, extIndex(srcReg.Phys.Index), d.HasIndex && extIndex(d.Index.Index), d.HasBase && extIndex(d.Base.Index)))
		}
		if sz == Size8 {
			e.emit(0x88)
		} else {
			e.emit(0x89)
		}
		_, _ = encodeMem(e, lowBits(srcReg.Phys.Index), d)
	default:
		return Inst{}, diag.Validationf("mov: unsupported destination %T", dst)
	}
	return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
}

func movImm64(dst Arg, abs Abs) (Inst, error) {
	d, ok := dst.(Reg)
	if !ok {
		return Inst{}, diag.Validationf("mov imm64: destination must be a register, got %T", dst)
	}
	e := &encoded{}
	e.emit(rex(true, false, false, extIndex(d.Phys.Index)))
	e.emit(0xB8 + lowBits(d.Phys.Index))
	e.reloc = &Reloc{Offset: len(e.bytes), Kind: RelAbs64}
	e.emitLE64(abs.Value)
	return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
}

// Lea encodes `lea dst, mem`: computes mem's effective address into dst
// without dereferencing it, the idiomatic way to materialize a
// RIP-relative static/global address or a scaled-index address into a
// register (opcode 0x8D, same reg/rm shape as mov's 0x8B).
func Lea(dst Reg, src Mem) (Inst, error) {
	sz, err := resolveSize(dst.Sz, Size64)
	if err != nil {
		return Inst{}, err
	}
	e := &encoded{}
	w := sz == Size64
	if needsRex(dst, w, sz) || src.HasBase && extIndex(src.Base.Index) || src.HasIndex && extIndex(src.Index.Index) {
		e.emit(rex(w, extIndex(dst.Phys.Index), src.HasIndex && extIndex(src.Index.Index), src.HasBase && extIndex(src.Base.Index)))
	}
	e.emit(0x8D)
	_, _ = encodeMem(e, lowBits(dst.Phys.Index), src)
	return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
}
