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
	"jasmine/internal/diag"
	"jasmine/internal/ir"
	"jasmine/internal/target"
	"jasmine/internal/types"
)

// rangeKey identifies one disjoint live range: a virtual register plus
// the assignment number of the value currently occupying it (spec
// §4.6: "this numbering lets one virtual register produce several
// disjoint live ranges when reassigned").
type rangeKey struct {
	RegID uint64
	Num   int
}

// LiveRange is one (register, assignment) interval, generalizing the
// teacher's lsra_interval.go Interval to carry a Kind (so the allocator
// knows which Target pool to draw from) and an Illegal set (physical
// registers clobbered while this range is live across a call, spec
// §4.6 step 1).
type LiveRange struct {
	Key   rangeKey
	Start int
	End   int // inclusive
	Kind  types.Kind

	Illegal map[int]bool // clobbered PhysReg.Index values

	Hint    target.PhysReg
	HasHint bool
}

func (r *LiveRange) markIllegal(p target.PhysReg) {
	if r.Illegal == nil {
		r.Illegal = make(map[int]bool)
	}
	r.Illegal[p.Index] = true
}

// buildLiveRanges groups per-instruction liveness into contiguous
// (register, assignment) intervals. A register occupying i on entry
// (lv.in[i]) needs a physical home for that instruction whether it is
// read there or merely passing through; a register insn defines starts
// a fresh interval at i, unless canonicalization has already folded
// its new number onto the one live-in (a loop header redefinition
// joining back to the same value, spec §4.6's pseudo-SSA unification).
//
// Scanning live-out alone (an earlier draft of this function) misses
// an instruction's own final use: `ret %0` or `add %0,%0,1` would
// close the range one instruction early, leaving that instruction's
// own operand with no recorded location.
func buildLiveRanges(fn *Function, lv *liveness, asn *assignments, numVRegs int) []*LiveRange {
	open := make(map[uint64]*LiveRange) // regID -> its currently open range, if any
	var order []*LiveRange

	openRange := func(regID uint64, num, at int) *LiveRange {
		r := &LiveRange{Key: rangeKey{RegID: regID, Num: num}, Start: at, End: at}
		order = append(order, r)
		open[regID] = r
		return r
	}

	for i, insn := range fn.Insns {
		def, hasDef := insn.Def()
		hasDef = hasDef && !def.Global

		for regID := 0; regID < numVRegs; regID++ {
			if !lv.in[i].Test(uint(regID)) {
				continue
			}
			num, ok := asn.numberIn(i, uint64(regID))
			if !ok {
				diag.Panicf("register %%%d live into instruction %d has no reaching definition", regID, i)
			}
			if r, has := open[uint64(regID)]; has && r.Key.Num == num {
				r.End = i
			} else {
				openRange(uint64(regID), num, i)
			}
		}

		if hasDef {
			num, ok := asn.numberOut(i, def.ID)
			diag.Assert(ok, "instruction %d defines register %%%d but reachOut lost it", i, def.ID)
			if r, has := open[def.ID]; has && r.Key.Num == num {
				r.End = i
			} else {
				openRange(def.ID, num, i)
			}
		}

		for regID := 0; regID < numVRegs; regID++ {
			if lv.in[i].Test(uint(regID)) {
				continue
			}
			if hasDef && def.ID == uint64(regID) {
				continue
			}
			delete(open, uint64(regID))
		}
	}
	return order
}

// paramIndices maps each `param` instruction's position in fn to its
// ordinal among all `param` instructions in fn, used to resolve
// target.Target.Hint's per-argument calling-convention hint.
func paramIndices(fn *Function) map[int]int {
	out := make(map[int]int)
	n := 0
	for i, insn := range fn.Insns {
		if insn.Op == types.OpParam {
			out[i] = n
			n++
		}
	}
	return out
}

// callArgKinds returns the Kind of each argument a `call` instruction
// passes, skipping its destination register and callee label operands.
// The current IR model carries only one Type per instruction (the call's
// result type), so every argument is conservatively assumed to share it;
// per-argument call typing is future work the frontend does not yet
// need (spec's six end-to-end scenarios only call integer functions).
func callArgKinds(insn *ir.Insn) []types.Kind {
	n := len(insn.Params) - 2 // dest register + callee label
	if n <= 0 {
		return nil
	}
	kinds := make([]types.Kind, n)
	for i := range kinds {
		kinds[i] = insn.Type.Kind
	}
	return kinds
}

// attachKindsAndHints fills in each range's Kind (from its defining
// instruction's type, or its entry `param` instruction's type when the
// register is bound by parameter placement rather than a destructive
// write) and Hint (per target.Target.Hint, spec §4.3), and records the
// clobber set accumulated while the range is live across a `call`.
func attachKindsAndHints(fn *Function, ranges []*LiveRange, t target.Target) {
	pIdx := paramIndices(fn)

	for _, r := range ranges {
		kindFound := false
		for i := r.Start; i <= r.End; i++ {
			insn := fn.Insns[i]
			// param is itself destructive (it writes its sole operand),
			// so its own def already surfaces here with no special case.
			if def, ok := insn.Def(); ok && !def.Global && def.ID == r.Key.RegID {
				r.Kind = insn.Type.Kind
				kindFound = true
				idx := -1
				if pi, ok := pIdx[i]; ok {
					idx = pi
				}
				if hint, ok := t.Hint(insn.Op, insn.Type.Kind, idx); ok {
					r.Hint = hint
					r.HasHint = true
				}
				break
			}
		}
		if !kindFound {
			// a plain use with no def/param in this span (e.g. a value
			// live into the range from a predecessor function we don't
			// track separately): fall back to the first instruction's
			// declared type as the closest available signal.
			r.Kind = fn.Insns[r.Start].Type.Kind
		}

		for i := r.Start; i <= r.End; i++ {
			insn := fn.Insns[i]
			if insn.Op != types.OpCall {
				continue
			}
			for _, c := range t.Clobbers(insn.Op, callArgKinds(insn)) {
				r.markIllegal(c)
			}
		}
	}
}
