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

// Jmp encodes an unconditional near jump with a rel32 displacement
// (0xE9); internal/select always emits the rel32 form rather than
// choosing rel8 at selection time, since the final displacement is not
// known until all instructions ahead of the target are encoded — a
// peephole pass over the final byte stream could shrink eligible jumps
// to rel8, but spec §4.8 does not require it and the teacher's asm_x86.go
// has no such pass either.
func Jmp() Inst {
	e := &encoded{}
	e.emit(0xE9)
	e.reloc = &Reloc{Offset: len(e.bytes), Kind: RelRIP32}
	e.emitLE32(0)
	return Inst{Bytes: e.bytes, Reloc: e.reloc}
}

// Jcc encodes a conditional near jump (0x0F 0x80+cc, rel32).
func Jcc(cc Cond) Inst {
	e := &encoded{}
	e.emit(0x0F, 0x80+byte(cc))
	e.reloc = &Reloc{Offset: len(e.bytes), Kind: RelRIP32}
	e.emitLE32(0)
	return Inst{Bytes: e.bytes, Reloc: e.reloc}
}

// Call encodes a near call with a rel32 displacement (0xE8) to a label
// target resolved later by internal/object's relocation pass.
func Call() Inst {
	e := &encoded{}
	e.emit(0xE8)
	e.reloc = &Reloc{Offset: len(e.bytes), Kind: RelRIP32}
	e.emitLE32(0)
	return Inst{Bytes: e.bytes, Reloc: e.reloc}
}

// CallReg encodes an indirect call through a register (0xFF /2), used
// for the native-function trampoline spec §4.4 describes (load the
// host address into a register via Mov+Abs, then CallReg it).
func CallReg(target Reg) Inst {
	e := &encoded{}
	if extIndex(target.Phys.Index) {
		e.emit(rex(false, false, false, true))
	}
	e.emit(0xFF)
	e.emit(modrm(mod11, 2, lowBits(target.Phys.Index)))
	return Inst{Bytes: e.bytes}
}

// Ret encodes `ret` (0xC3, no stack-cleanup immediate: Jasmine's calling
// convention is callee-independent of argument count at the return
// site, matching System V AMD64).
func Ret() Inst {
	return Inst{Bytes: []byte{0xC3}}
}

// Nop encodes the canonical single-byte `nop` (0x90); spec §8's nop
// 1..9 test scenario exercises the *selector's* nop-count handling
// (internal/select), not a multi-byte NOP encoding, so the emitter only
// needs this one form.
func Nop() Inst {
	return Inst{Bytes: []byte{0x90}}
}

// Setcc encodes `setcc dst` (0x0F 0x90+cc /0), always an 8-bit write
// regardless of the comparison operands' own width, per x86-64's SETcc
// definition.
func Setcc(cc Cond, dst Arg) (Inst, error) {
	e := &encoded{}
	if needsRex(dst, false, Size8) {
		e.emit(rex(false, false, destNeedsX(dst), destNeedsB(dst)))
	}
	e.emit(0x0F, 0x90+byte(cc))
	if _, err := encodeGroup1Operand(e, 0, dst, Size8); err != nil {
		return Inst{}, err
	}
	return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
}

// Movzx encodes a zero-extending move from an 8- or 16-bit source into a
// wider register destination (0x0F B6/B7).
func Movzx(dst Reg, src Arg, srcSize Size) (Inst, error) {
	return encodeExtendingMove(dst, src, srcSize, 0x0F, 0xB6)
}

// Movsx encodes a sign-extending move from an 8- or 16-bit source
// (0x0F BE/BF), or from a 32-bit source into a 64-bit destination
// (0x63, MOVSXD) when srcSize is Size32.
func Movsx(dst Reg, src Arg, srcSize Size) (Inst, error) {
	if srcSize == Size32 {
		e := &encoded{}
		needB := false
		if m, ok := src.(Mem); ok {
			needB = m.HasBase && extIndex(m.Base.Index)
		} else if r, ok := src.(Reg); ok {
			needB = extIndex(r.Phys.Index)
		}
		e.emit(rex(true, extIndex(dst.Phys.Index), destNeedsX(src), needB))
		e.emit(0x63)
		_, _ = modrmOperand(e, lowBits(dst.Phys.Index), src)
		return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
	}
	return encodeExtendingMove(dst, src, srcSize, 0x0F, 0xBE)
}

func encodeExtendingMove(dst Reg, src Arg, srcSize Size, opcodes ...byte) (Inst, error) {
	e := &encoded{}
	w := dst.Sz == Size64
	needX, needB := false, false
	switch s := src.(type) {
	case Reg:
		needB = extIndex(s.Phys.Index)
	case Mem:
		needX, needB = s.HasIndex && extIndex(s.Index.Index), s.HasBase && extIndex(s.Base.Index)
	}
	if w || extIndex(dst.Phys.Index) || needX || needB || needsRexForByte(dst.Phys, srcSize) {
		e.emit(rex(w, extIndex(dst.Phys.Index), needX, needB))
	}
	base := opcodes[len(opcodes)-1]
	if srcSize == Size16 {
		base++ // B6->B7, BE->BF select the word-sized source form
	}
	e.emit(opcodes[0], base)
	_, _ = modrmOperand(e, lowBits(dst.Phys.Index), src)
	return Inst{Bytes: e.bytes, Reloc: e.reloc}, nil
}
