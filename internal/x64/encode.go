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

import (
	"encoding/binary"

	"jasmine/internal/diag"
)

// rex builds the REX prefix byte: W selects 64-bit operand size, R/X/B
// extend the ModR/M reg field, SIB index field, and ModR/M/SIB rm/base
// field respectively into the R8-R15 range.
func rex(w, r, x, b bool) byte {
	out := byte(0x40)
	if w {
		out |= 0x08
	}
	if r {
		out |= 0x04
	}
	if x {
		out |= 0x02
	}
	if b {
		out |= 0x01
	}
	return out
}

const (
	mod00 = 0
	mod01 = 1
	mod10 = 2
	mod11 = 3
)

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

func sib(scale, index, base byte) byte {
	return scale<<6 | (index&7)<<3 | base&7
}

func scaleBits(scale int8) byte {
	switch scale {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		diag.Panicf("invalid SIB scale %d: must be 1, 2, 4, or 8", scale)
		return 0
	}
}

// encoded accumulates prefix/opcode/modrm/sib/disp/imm bytes for one
// instruction as it is built, plus at most one Reloc against a not-yet
// placed byte range.
type encoded struct {
	bytes []byte
	reloc *Reloc
}

func (e *encoded) emit(b ...byte) { e.bytes = append(e.bytes, b...) }

func (e *encoded) emitLE16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	e.bytes = append(e.bytes, buf[:]...)
}

func (e *encoded) emitLE32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	e.bytes = append(e.bytes, buf[:]...)
}

func (e *encoded) emitLE64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	e.bytes = append(e.bytes, buf[:]...)
}

func (e *encoded) emitImm(v int64, sz Size) {
	switch sz {
	case Size8:
		e.emit(byte(v))
	case Size16:
		e.emitLE16(uint16(v))
	case Size32, Size64:
		// a 64-bit-sized arithmetic immediate is still sign-extended
		// from a 32-bit encoding per spec's 0x80-0x83/0x81 grid; only
		// the dedicated `mov reg, imm64` form (movImm64) emits a full
		// 8-byte immediate, via emitLE64 directly rather than this
		// helper.
		e.emitLE32(uint32(v))
	default:
		diag.Unreachable("emitImm: unresolved Size %d", int(sz))
	}
}

// modrmOperand encodes the ModR/M (and, when required, SIB and
// displacement) bytes for one Reg-or-Mem operand against a given /reg
// field (either another register's low 3 bits, or a fixed opcode
// extension for group-1/group-3 forms), returning the REX.X/REX.B bits
// the caller must fold into the instruction's REX byte before the
// opcode, and any Reloc needed for a RIP-relative or label-anchored
// displacement.
func modrmOperand(e *encoded, regField byte, rm Arg) (needX, needB bool) {
	switch v := rm.(type) {
	case Reg:
		e.emit(modrm(mod11, regField, lowBits(v.Phys.Index)))
		return false, extIndex(v.Phys.Index)
	case Mem:
		return encodeMem(e, regField, v)
	default:
		diag.Panicf("modrmOperand: %T is not a register or memory operand", rm)
		return false, false
	}
}

// encodeMem encodes a Mem operand's ModR/M, optional SIB, and
// displacement/reloc bytes.
func encodeMem(e *encoded, regField byte, m Mem) (needX, needB bool) {
	switch {
	case !m.HasBase:
		// RIP-relative or bare absolute-label addressing: ModR/M.rm=101
		// with mod=00 means [rip+disp32] in 64-bit mode (there is no
		// base-less disp32-only addressing in long mode).
		e.emit(modrm(mod00, regField, 0x5))
		if m.RIPRelative {
			r := &Reloc{Offset: len(e.bytes), Kind: RelRIP32}
			e.reloc = r
		}
		e.emitLE32(uint32(m.Disp))
		return false, false

	case m.HasIndex:
		needX = extIndex(m.Index.Index)
		needB = extIndex(m.Base.Index)
		baseLow := lowBits(m.Base.Index)
		mod := dispMod(m.Disp, baseLow)
		e.emit(modrm(mod, regField, 0x4)) // rm=100 selects SIB
		e.emit(sib(scaleBits(m.Scale), lowBits(m.Index.Index), baseLow))
		emitDisp(e, mod, m.Disp)
		return needX, needB

	default:
		needB = extIndex(m.Base.Index)
		baseLow := lowBits(m.Base.Index)
		if baseLow == 0x4 {
			// RSP/R12 as a plain base still requires a SIB byte with no
			// index (index=100 means "none").
			mod := dispMod(m.Disp, baseLow)
			e.emit(modrm(mod, regField, 0x4))
			e.emit(sib(scaleBits(1), 0x4, baseLow))
			emitDisp(e, mod, m.Disp)
			return false, needB
		}
		mod := dispMod(m.Disp, baseLow)
		e.emit(modrm(mod, regField, baseLow))
		emitDisp(e, mod, m.Disp)
		return false, needB
	}
}

// dispMod picks mod=00 (no displacement), 01 (disp8), or 10 (disp32).
// RBP/R13 as a base can never use mod=00 (that encoding is reserved for
// RIP-relative/SIB-disp32-only forms), so a zero displacement against
// either still needs an explicit disp8 of 0.
func dispMod(disp int32, baseLow byte) byte {
	if disp == 0 && baseLow != 0x5 {
		return mod00
	}
	if disp >= -128 && disp <= 127 {
		return mod01
	}
	return mod10
}

func emitDisp(e *encoded, mod byte, disp int32) {
	switch mod {
	case mod01:
		e.emit(byte(int8(disp)))
	case mod10:
		e.emitLE32(uint32(disp))
	case mod00:
		// disp is implicitly zero; nothing to emit unless the caller
		// forced mod01 above for the RBP/R13 special case.
	}
}
