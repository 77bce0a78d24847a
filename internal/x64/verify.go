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
	"golang.org/x/arch/x86/x86asm"

	"jasmine/internal/diag"
)

// Verify decodes b as a single 64-bit-mode instruction using an
// independent disassembler (golang.org/x/arch/x86/x86asm), returning its
// canonical GNU-AT&T text form and the byte length it consumed. This is
// the encoder's self-check: every Inst this package produces should
// round-trip through Verify consuming exactly len(b) bytes, catching a
// malformed REX/ModR/M/SIB/disp/imm sequence that this package's own
// hand-written encoders might agree on but that is not actually valid
// x86-64 machine code. Used by this package's tests and by cmd/jasmine's
// disassemble verb, not by internal/select at runtime (spec §4.7 has no
// self-verification requirement in the hot path).
func Verify(b []byte) (text string, length int, err error) {
	inst, decErr := x86asm.Decode(b, 64)
	if decErr != nil {
		return "", 0, diag.Validationf("x64.Verify: %s does not decode as valid x86-64: %v", hexString(b), decErr)
	}
	return x86asm.GNUSyntax(inst, 0, nil), inst.Len, nil
}

func hexString(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0xf])
	}
	return string(out)
}
