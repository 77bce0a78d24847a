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

// Package regalloc implements spec §4.6: function discovery over a flat
// Jasmine IR instruction stream, live-in/live-out fixpoint, pseudo-SSA
// assignment numbering, live-range construction and linear-scan
// allocation onto a target.Target's register pools.
//
// This generalizes the teacher's compile/codegen/lsra.go +
// lsra_interval.go + lsra_moveResolver.go from LIR-level virtual
// registers tied to a fixed x86 register set into Jasmine-IR virtual
// registers allocated against a Target-parameterized pool, so the same
// allocator serves every supported target rather than being hardcoded
// to amd64.
package regalloc

import (
	"jasmine/internal/diag"
	"jasmine/internal/ir"
	"jasmine/internal/symtab"
	"jasmine/internal/types"
)

// Function is one frame..ret span of an instruction stream, per spec
// §4.6's function-discovery rule. Insns is a subslice of the original
// stream; Start is that subslice's offset so instruction ids used by
// liveness/assignment bookkeeping stay stable if callers need to relate
// them back to the original stream (e.g. diagnostics).
type Function struct {
	Name  symtab.Symbol
	Insns []*ir.Insn
	Start int
	End   int // index of the closing `ret`, inclusive
}

// DiscoverFunctions scans insns for frame..ret spans. A `frame` opcode
// begins a function; a `ret` ends it. A second `frame` before the
// matching `ret` is an internal invariant violation (spec §7 class 2).
// Instructions outside any span (top-level `type`/`global`/`lit`/`stat`)
// are not part of any Function and are left to the caller.
func DiscoverFunctions(insns []*ir.Insn) []Function {
	var funcs []Function
	inFunc := false
	start := 0
	for i, insn := range insns {
		switch insn.Op {
		case types.OpFrame:
			if inFunc {
				name := "<anonymous>"
				if insns[start].Label != nil {
					name = insns[start].Label.Name
				}
				diag.Panicf("second frame for %q at instruction %d before matching ret (opened at %d)", name, i, start)
			}
			inFunc = true
			start = i
		case types.OpRet:
			if !inFunc {
				continue
			}
			name := symtab.Symbol{}
			if insns[start].Label != nil {
				name = *insns[start].Label
			}
			funcs = append(funcs, Function{
				Name:  name,
				Insns: insns[start : i+1],
				Start: start,
				End:   i,
			})
			inFunc = false
		}
	}
	return funcs
}
