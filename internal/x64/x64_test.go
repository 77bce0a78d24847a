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
	"testing"

	"github.com/stretchr/testify/require"

	"jasmine/internal/target"
	"jasmine/internal/types"
)

func reg64(p target.PhysReg) Reg { return Reg{Phys: p, Sz: Size64} }
func reg32(p target.PhysReg) Reg { return Reg{Phys: p, Sz: Size32} }

// verifyRoundTrip asserts inst.Bytes decodes cleanly as one 64-bit-mode
// instruction consuming every byte this package emitted; a relocation's
// placeholder zero bytes still need to decode as *some* valid rel32/
// imm64, even though the real value is patched in later.
func verifyRoundTrip(t *testing.T, inst Inst) string {
	t.Helper()
	text, length, err := Verify(inst.Bytes)
	require.NoError(t, err, "bytes: % x", inst.Bytes)
	require.Equal(t, len(inst.Bytes), length, "decoded length mismatch for % x -> %s", inst.Bytes, text)
	return text
}

func TestAddRegReg(t *testing.T) {
	inst, err := Add(reg64(target.RAX), reg64(target.RBX))
	require.NoError(t, err)
	text := verifyRoundTrip(t, inst)
	require.Contains(t, text, "add")
}

func TestAddRegImm(t *testing.T) {
	inst, err := Add(reg64(target.RCX), Imm{Value: 5, Sz: SizeAuto})
	require.NoError(t, err)
	text := verifyRoundTrip(t, inst)
	require.Contains(t, text, "add")
}

func TestAddExtendedRegs(t *testing.T) {
	// r8-r15 exercise the REX.R/B extension bits.
	inst, err := Add(reg64(target.R12), reg64(target.R9))
	require.NoError(t, err)
	text := verifyRoundTrip(t, inst)
	require.Contains(t, text, "add")
}

func TestSubMemDisplacement(t *testing.T) {
	mem := Mem{HasBase: true, Base: target.RBP, Disp: -16, Sz: Size64}
	inst, err := Sub(mem, reg64(target.RAX))
	require.NoError(t, err)
	verifyRoundTrip(t, inst)
}

func TestMovRbpZeroDisplacementForcesDisp8(t *testing.T) {
	// RBP/R13 as a base can never use mod=00 (that encoding means
	// RIP-relative/no-base instead), so disp=0 against RBP must still
	// emit an explicit disp8 of 0 rather than omitting it.
	mem := Mem{HasBase: true, Base: target.RBP, Disp: 0, Sz: Size64}
	inst, err := Mov(reg64(target.RAX), mem)
	require.NoError(t, err)
	verifyRoundTrip(t, inst)
}

func TestMovRspBaseNeedsSIB(t *testing.T) {
	mem := Mem{HasBase: true, Base: target.RSP, Disp: 8, Sz: Size64}
	inst, err := Mov(reg64(target.RAX), mem)
	require.NoError(t, err)
	verifyRoundTrip(t, inst)
}

func TestMovScaledIndex(t *testing.T) {
	mem := Mem{HasBase: true, Base: target.RAX, HasIndex: true, Index: target.RCX, Scale: 8, Disp: 0, Sz: Size64}
	inst, err := Mov(reg64(target.RDX), mem)
	require.NoError(t, err)
	verifyRoundTrip(t, inst)
}

func TestMovImm64(t *testing.T) {
	inst, err := Mov(reg64(target.RAX), Abs{Value: 0x1122334455667788})
	require.NoError(t, err)
	require.NotNil(t, inst.Reloc)
	require.Equal(t, RelAbs64, inst.Reloc.Kind)
	verifyRoundTrip(t, inst)
}

func TestMovByteOperandOnRdiRequiresRex(t *testing.T) {
	// A plain 8-bit RBP/RSP/RSI/RDI register reference needs a REX
	// prefix purely to select SPL/BPL/SIL/DIL over AH/CH/DH/BH.
	inst, err := Mov(Reg{Phys: target.RDI, Sz: Size8}, Imm{Value: 1, Sz: Size8})
	require.NoError(t, err)
	require.True(t, len(inst.Bytes) > 0 && inst.Bytes[0] == rex(false, false, false, false))
	verifyRoundTrip(t, inst)
}

func TestCmpAndSetcc(t *testing.T) {
	cmpInst, err := Cmp(reg32(target.RAX), Imm{Value: 4, Sz: Size32})
	require.NoError(t, err)
	verifyRoundTrip(t, cmpInst)

	setInst, err := Setcc(CondL, Reg{Phys: target.RAX, Sz: Size8})
	require.NoError(t, err)
	verifyRoundTrip(t, setInst)
}

func TestShiftByImmediateAndByCL(t *testing.T) {
	inst, err := Sar(reg64(target.RAX), Imm{Value: 3, Sz: Size8})
	require.NoError(t, err)
	verifyRoundTrip(t, inst)

	inst2, err := Sal(reg64(target.RDX), Reg{Phys: target.RCX, Sz: Size8})
	require.NoError(t, err)
	verifyRoundTrip(t, inst2)
}

func TestShiftByNonCLRegisterRejected(t *testing.T) {
	_, err := Slr(reg64(target.RAX), Reg{Phys: target.RDX, Sz: Size8})
	require.Error(t, err)
}

func TestNegAndNot(t *testing.T) {
	inst, err := Neg(reg64(target.RBX))
	require.NoError(t, err)
	verifyRoundTrip(t, inst)

	inst2, err := Not(reg64(target.R11))
	require.NoError(t, err)
	verifyRoundTrip(t, inst2)
}

func TestDivWithSignExtension(t *testing.T) {
	sext := SignExtendAccumulator(Size64)
	verifyRoundTrip(t, sext)

	inst, err := IDiv(reg64(target.RCX))
	require.NoError(t, err)
	verifyRoundTrip(t, inst)
}

func TestPushPopReg(t *testing.T) {
	push, err := Push(reg64(target.R15))
	require.NoError(t, err)
	verifyRoundTrip(t, push)

	pop, err := Pop(reg64(target.RBX))
	require.NoError(t, err)
	verifyRoundTrip(t, pop)
}

func TestCallAndJmpPlaceholdersDecode(t *testing.T) {
	jmp := Jmp()
	require.NotNil(t, jmp.Reloc)
	verifyRoundTrip(t, jmp)

	jcc := Jcc(CondGE)
	require.NotNil(t, jcc.Reloc)
	verifyRoundTrip(t, jcc)

	call := Call()
	require.NotNil(t, call.Reloc)
	verifyRoundTrip(t, call)

	ret := Ret()
	verifyRoundTrip(t, ret)

	nop := Nop()
	verifyRoundTrip(t, nop)
}

func TestLeaRipRelative(t *testing.T) {
	mem := Mem{RIPRelative: true, Disp: 0, Sz: Size64}
	inst, err := Lea(reg64(target.RAX), mem)
	require.NoError(t, err)
	require.NotNil(t, inst.Reloc)
	require.Equal(t, RelRIP32, inst.Reloc.Kind)
	verifyRoundTrip(t, inst)
}

func TestMovzxAndMovsx(t *testing.T) {
	inst, err := Movzx(reg64(target.RAX), Reg{Phys: target.RBX, Sz: Size8}, Size8)
	require.NoError(t, err)
	verifyRoundTrip(t, inst)

	inst2, err := Movsx(reg64(target.RAX), Reg{Phys: target.R9, Sz: Size32}, Size32)
	require.NoError(t, err)
	verifyRoundTrip(t, inst2)
}

func TestConflictingSizesRejected(t *testing.T) {
	_, err := Add(Reg{Phys: target.RAX, Sz: Size32}, Reg{Phys: target.RBX, Sz: Size64})
	require.Error(t, err)
}

func TestAllAutoSizeRejected(t *testing.T) {
	_, err := Add(Reg{Phys: target.RAX, Sz: SizeAuto}, Imm{Value: 1, Sz: SizeAuto})
	require.Error(t, err)
}

func TestCondForMatchesJumpAndCompareOpcodes(t *testing.T) {
	require.Equal(t, CondGE, CondFor(types.OpJge))
	require.Equal(t, CondL, CondFor(types.OpCl))
}
