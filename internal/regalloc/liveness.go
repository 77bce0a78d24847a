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

package regalloc

import (
	"github.com/bits-and-blooms/bitset"

	"jasmine/internal/diag"
	"jasmine/internal/ir"
	"jasmine/internal/symtab"
	"jasmine/internal/types"
)

// cfg holds successor/predecessor edges between instruction indices
// local to one Function, generalizing the teacher's lsra.go
// ra.lir.Edges (a per-block successor map) to per-instruction edges,
// since spec §4.6 states the fixpoint directly in terms of instruction
// positions rather than basic blocks.
type cfg struct {
	succs [][]int
	preds [][]int
}

// branchTarget returns the label operand of a jump/conditional-jump
// instruction. Per the text grammar (spec §6) the target is always the
// first parameter of jeq/jne/.../jump.
func branchTarget(insn *ir.Insn) (symtab.Symbol, bool) {
	for _, p := range insn.Params {
		if l, ok := p.(ir.LabelParam); ok {
			return l.Sym, true
		}
	}
	return symtab.Symbol{}, false
}

func buildCFG(fn *Function) *cfg {
	n := len(fn.Insns)
	labelIndex := make(map[int]int, n) // symtab.Symbol.ID -> local index
	for i, insn := range fn.Insns {
		if insn.Label != nil {
			labelIndex[insn.Label.ID] = i
		}
	}

	c := &cfg{succs: make([][]int, n), preds: make([][]int, n)}
	for i, insn := range fn.Insns {
		op := insn.Op
		if op.IsConditionalJump() || op == types.OpJump {
			if sym, ok := branchTarget(insn); ok {
				idx, ok := labelIndex[sym.ID]
				diag.Assert(ok, "branch to undiscovered label %q", sym.Name)
				c.succs[i] = append(c.succs[i], idx)
			}
		}
		if !op.IsTerminator() && i+1 < n {
			// conditional jumps and every other non-terminating opcode
			// fall through; unconditional jump and ret do not.
			c.succs[i] = append(c.succs[i], i+1)
		}
	}
	for i, ss := range c.succs {
		for _, s := range ss {
			c.preds[s] = append(c.preds[s], i)
		}
	}
	return c
}

// liveness holds the per-instruction live-in/live-out bitsets of spec
// §4.6, indexed by virtual register id. Backed by
// github.com/bits-and-blooms/bitset (ambient stack), replacing the
// teacher's hand-rolled utils.BitMap.
type liveness struct {
	in, out []*bitset.BitSet
}

// maxVRegID returns the highest non-global virtual register id
// referenced in fn, or -1 if none.
func maxVRegID(fn *Function) int {
	max := -1
	upd := func(r ir.Register) {
		if !r.Global && int(r.ID) > max {
			max = int(r.ID)
		}
	}
	for _, insn := range fn.Insns {
		if r, ok := insn.Def(); ok {
			upd(r)
		}
		for _, r := range insn.Uses() {
			upd(r)
		}
	}
	return max
}

func computeLiveness(fn *Function, c *cfg, numVRegs uint) *liveness {
	n := len(fn.Insns)
	lv := &liveness{in: make([]*bitset.BitSet, n), out: make([]*bitset.BitSet, n)}
	defs := make([]*bitset.BitSet, n)
	uses := make([]*bitset.BitSet, n)
	for i, insn := range fn.Insns {
		lv.in[i] = bitset.New(numVRegs)
		lv.out[i] = bitset.New(numVRegs)
		defs[i] = bitset.New(numVRegs)
		uses[i] = bitset.New(numVRegs)
		if r, ok := insn.Def(); ok && !r.Global {
			defs[i].Set(uint(r.ID))
		}
		for _, r := range insn.Uses() {
			if !r.Global {
				uses[i].Set(uint(r.ID))
			}
		}
	}

	changed := true
	for changed {
		changed = false
		for i := n - 1; i >= 0; i-- {
			out := bitset.New(numVRegs)
			for _, s := range c.succs[i] {
				out.InPlaceUnion(lv.in[s])
			}
			if !out.Equal(lv.out[i]) {
				lv.out[i] = out
				changed = true
			}

			in := out.Clone()
			in.InPlaceDifference(defs[i])
			in.InPlaceUnion(uses[i])
			if !in.Equal(lv.in[i]) {
				lv.in[i] = in
				changed = true
			}
		}
	}
	return lv
}
