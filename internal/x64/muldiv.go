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

// Mul/IMul/Div/IDiv are all single-operand group-3 forms: the implicit
// left-hand operand and result live in RAX:RDX (or AX/DX:AX for 16-bit,
// EAX:EDX for 32-bit), matching the teacher's asm_x86.go choice to always
// route division/multiplication through the accumulator pair rather
// than emit the 2- or 3-operand IMUL forms — spec §4.3's Target.Clobbers
// already reserves RAX (mul/sxt/zxt) and RAX+RDX (div/rem) accordingly,
// so the encoder only needs the implicit-operand forms.
func Mul(src Arg) (Inst, error)  { return encodeGroup3Unary(group3Mul, src) }
func IMul(src Arg) (Inst, error) { return encodeGroup3Unary(group3IMul, src) }
func Div(src Arg) (Inst, error)  { return encodeGroup3Unary(group3Div, src) }
func IDiv(src Arg) (Inst, error) { return encodeGroup3Unary(group3IDiv, src) }

// SignExtendAccumulator encodes the CWD/CDQ/CQO family (opcode 0x99):
// sign-extends AX/EAX/RAX into DX:AX/EDX:EAX/RDX:RAX ahead of a signed
// divide, per the teacher's asm_x86.go choice of `cwtd`/`cltd`/`cqto`
// before every `idiv` (division always divides a double-width dividend).
func SignExtendAccumulator(sz Size) Inst {
	e := &encoded{}
	switch sz {
	case Size16:
		e.emit(0x66, 0x99)
	case Size32:
		e.emit(0x99)
	case Size64:
		e.emit(rex(true, false, false, false), 0x99)
	default:
		e.emit(0x99)
	}
	return Inst{Bytes: e.bytes}
}
