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

// shiftExt is the group-2 opcode-extension number for the shift/rotate
// family (ModR/M.reg field of 0xC0/0xC1/0xD0-0xD3).
type shiftExt byte

const (
	shiftRol shiftExt = 0
	shiftRor shiftExt = 1
	shiftShl shiftExt = 4 // Jasmine's `sl` (shift left)
	shiftShr shiftExt = 5 // Jasmine's `slr` (shift logical right)
	shiftSar shiftExt = 7 // Jasmine's `sar` (shift arithmetic right)
)

// encodeShift covers both shift forms Jasmine needs: a constant count
// (0xC0/0xC1 + imm8) and a variable count held in CL (0xD2/0xD3) — the
// only register the x86-64 shift-by-register form accepts.
func encodeShift(ext shiftExt, dst Arg, count Arg) (Inst, error) {
	// The shift count's own Size is irrelevant to the instruction's
	// operand width (it is always encoded as a single ib/CL regardless),
	// so only dst's size participates in resolution.
	sz, err := resolveSize(dst.size())
	if err != nil {
		return Inst{}, err
	}
	e := &encoded{}
	w := sz == Size64

	switch c := count.(type) {
	case Imm:
		if needsRex(dst, w, sz) {
			e.emit(rex(w, false, destNeedsX(dst), destNeedsB(dst)))
		}
		if sz == Size8 {
			e.emit(0xC0)
		} else {
			e.emit(0xC1)
		}
		if _, err := encodeGroup1Operand(e, byte(ext), dst, sz); err != nil {
			return Inst{}, err
		}
		e.emit(byte(c.Value))
	case Reg:
		if c.Phys.Index != 1 {
			return Inst{}, diag.Validationf("shift by register requires CL, got %s", c.Phys.Name)
		}
		if needsRex(dst, w, sz) {
			e.emit(rex(w, false, destNeedsX(dst), destNeedsB(dst)))
		}
		if sz == Size8 {
			e.emit(0xD2)
		} else {
			e.emit(0xD3)
		}
		if _, err := encodeGroup1Operand(e, byte(ext), dst, sz); err != nil {
			return Inst{}, err
		}
	default:
		return Inst{}, diag.Validationf("shift count must be an immediate or CL, got %T", count)
	}
	return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
}

// Sal encodes Jasmine's `sl` (shift left, arithmetic and logical left
// shift are the same operation on x86-64).
func Sal(dst, count Arg) (Inst, error) { return encodeShift(shiftShl, dst, count) }

// Slr encodes Jasmine's `slr` (logical right shift, zero-fill).
func Slr(dst, count Arg) (Inst, error) { return encodeShift(shiftShr, dst, count) }

// Sar encodes Jasmine's `sar` (arithmetic right shift, sign-fill).
func Sar(dst, count Arg) (Inst, error) { return encodeShift(shiftSar, dst, count) }

// Rol/Ror encode Jasmine's `rol`/`ror`.
func Rol(dst, count Arg) (Inst, error) { return encodeShift(shiftRol, dst, count) }
func Ror(dst, count Arg) (Inst, error) { return encodeShift(shiftRor, dst, count) }
