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
	"jasmine/internal/diag"
	"jasmine/internal/types"
)

// Cond is an x86 condition code nibble shared by Jcc (0x70+cc/0x0F
// 0x80+cc) and Setcc (0x0F 0x90+cc), generalizing the teacher's
// asm_x86.go getJmpOp-by-LIROp switch into a single table keyed by
// Jasmine's comparison/conditional-jump opcodes.
type Cond byte

const (
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondL  Cond = 0xC
	CondLE Cond = 0xE
	CondG  Cond = 0xF
	CondGE Cond = 0xD
)

// CondFor maps a Jasmine comparison or conditional-jump opcode to its
// x86 condition code; panics on any other opcode, matching the
// teacher's ShouldNotReachHere default case in its own jump-op switches.
func CondFor(op types.Opcode) Cond {
	switch op {
	case types.OpJeq, types.OpCeq:
		return CondE
	case types.OpJne, types.OpCne:
		return CondNE
	case types.OpJl, types.OpCl:
		return CondL
	case types.OpJle, types.OpCle:
		return CondLE
	case types.OpJg, types.OpCg:
		return CondG
	case types.OpJge, types.OpCge:
		return CondGE
	default:
		diag.Unreachable("CondFor called with non-comparison opcode %v", op)
		return 0
	}
}
